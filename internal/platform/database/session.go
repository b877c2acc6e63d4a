package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/lib/pq"

	"tenantly/internal/pkg/errors"
)

// Session is a dedicated connection whose search_path has been switched to one
// tenant schema. The schema context is connection-scoped, never process-global:
// a pooled connection must not carry one tenant's search_path into another
// tenant's request, so the switch is pinned to a single *sql.Conn and undone
// before the connection goes back to the pool.
//
// Every Acquire must be paired with exactly one Close, on every exit path.
type Session struct {
	conn   *sql.Conn
	schema string

	mu     sync.Mutex
	closed bool
}

type SessionManager struct {
	db *sql.DB
}

func NewSessionManager(db *sql.DB) *SessionManager {
	return &SessionManager{db: db}
}

// Acquire pins a connection and points its search_path at the named schema.
// The shared schema stays on the path behind the tenant schema so shared
// lookup tables remain reachable.
func (m *SessionManager) Acquire(ctx context.Context, schema string) (*Session, error) {
	if err := CheckSchemaName(schema); err != nil {
		return nil, err
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %v", errors.ErrSchema, err)
	}

	stmt := fmt.Sprintf("SET search_path TO %s, public", pq.QuoteIdentifier(schema))
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: set search_path to %s: %v", errors.ErrSchema, schema, err)
	}

	return &Session{conn: conn, schema: schema}, nil
}

func (s *Session) Schema() string {
	return s.schema
}

func (s *Session) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.conn.ExecContext(ctx, query, args...)
}

func (s *Session) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

func (s *Session) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.conn.QueryRowContext(ctx, query, args...)
}

func (s *Session) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return s.conn.BeginTx(ctx, opts)
}

// Close resets the search_path to the shared schema and releases the
// connection. Safe to call more than once. Even if the reset statement fails
// the connection is still closed, which drops any session state with it.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_, resetErr := s.conn.ExecContext(ctx, "SET search_path TO public")
	closeErr := s.conn.Close()

	if resetErr != nil {
		return fmt.Errorf("%w: reset search_path: %v", errors.ErrSchema, resetErr)
	}
	return closeErr
}
