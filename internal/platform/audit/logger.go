package audit

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Logger writes the two append-only record types the gateway emits per
// request: a tenant_access row and a request_performance row. Writes happen
// off the request path; a failed insert is logged, never surfaced.
type Logger struct {
	db *sql.DB
}

func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

func (l *Logger) LogTenantAccess(tenantID, userID string) {
	entry := struct {
		ID        string
		CreatedAt int64
	}{
		ID:        "audit_" + uuid.New().String(),
		CreatedAt: time.Now().Unix(),
	}

	go func() {
		_, err := l.db.Exec(`
			INSERT INTO audit_logs (id, operation, table_name, record_id, user_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, entry.ID, "tenant_access", "tenants", tenantID, userID, entry.CreatedAt)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to write audit log")
		}
	}()
}

func (l *Logger) LogRequestPerformance(path string, elapsed time.Duration, memoryBytes uint64) {
	id := "perf_" + uuid.New().String()
	createdAt := time.Now().Unix()

	go func() {
		_, err := l.db.Exec(`
			INSERT INTO performance_logs (id, category, table_name, path, elapsed_ms, memory_bytes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, id, "performance", "requests", path, elapsed.Milliseconds(), int64(memoryBytes), createdAt)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to write performance log")
		}
	}()
}
