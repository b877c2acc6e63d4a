package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"tenantly/internal/pkg/errors"
	"tenantly/internal/platform/database"
)

// Postgres error codes surfaced by DDL.
const (
	pgDuplicateSchema = "42P06"
	pgInvalidSchema   = "3F000"
)

// Store owns the low-level DDL/DML primitives for tenant schemas. Every
// schema or table identifier is validated and quoted before it reaches a
// statement; nothing here interpolates caller input directly.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateSchema creates the schema for a tenant id and returns its name.
// A second call for the same tenant fails with ErrAlreadyExists and leaves
// the existing schema untouched.
func (s *Store) CreateSchema(ctx context.Context, tenantID string) (string, error) {
	name := database.SchemaName(tenantID)
	if err := database.CheckSchemaName(name); err != nil {
		return "", err
	}

	exists, err := s.SchemaExists(ctx, name)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("%w: schema %s", errors.ErrAlreadyExists, name)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA "+pq.QuoteIdentifier(name)); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pgDuplicateSchema {
			return "", fmt.Errorf("%w: schema %s", errors.ErrAlreadyExists, name)
		}
		return "", fmt.Errorf("%w: create schema %s: %v", errors.ErrSchema, name, err)
	}

	log.Info().Str("schema", name).Str("tenant_id", tenantID).Msg("schema created")
	return name, nil
}

// DropSchema drops the schema and everything in it.
func (s *Store) DropSchema(ctx context.Context, name string) error {
	if err := database.CheckSchemaName(name); err != nil {
		return err
	}

	exists, err := s.SchemaExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: schema %s", errors.ErrNotFound, name)
	}

	if _, err := s.db.ExecContext(ctx, "DROP SCHEMA "+pq.QuoteIdentifier(name)+" CASCADE"); err != nil {
		return fmt.Errorf("%w: drop schema %s: %v", errors.ErrSchema, name, err)
	}

	log.Info().Str("schema", name).Msg("schema dropped")
	return nil
}

// RunMigrations applies the canonical tenant table set inside the schema.
func (s *Store) RunMigrations(ctx context.Context, name string) error {
	if err := database.CheckSchemaName(name); err != nil {
		return err
	}
	quoted := pq.QuoteIdentifier(name)

	for _, t := range tenantTables {
		stmt := fmt.Sprintf(t.Create, quoted)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: create table %s.%s: %v", errors.ErrSchema, name, t.Name, err)
		}
	}
	return nil
}

// SetupIndexes applies the standard index set. Idempotent.
func (s *Store) SetupIndexes(ctx context.Context, name string) error {
	if err := database.CheckSchemaName(name); err != nil {
		return err
	}
	quoted := pq.QuoteIdentifier(name)

	for _, t := range tenantTables {
		for _, idx := range t.Indexes {
			if _, err := s.db.ExecContext(ctx, fmt.Sprintf(idx, quoted)); err != nil {
				return fmt.Errorf("%w: index on %s.%s: %v", errors.ErrSchema, name, t.Name, err)
			}
		}
	}
	return nil
}

// SetupRowLevelSecurity enables RLS and installs the isolation policy on
// every table of the schema. Idempotent.
func (s *Store) SetupRowLevelSecurity(ctx context.Context, name string) error {
	if err := database.CheckSchemaName(name); err != nil {
		return err
	}
	quoted := pq.QuoteIdentifier(name)

	for _, t := range tenantTables {
		for _, stmt := range rlsStatements(quoted, name, t.Name) {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%w: rls on %s.%s: %v", errors.ErrSchema, name, t.Name, err)
			}
		}
	}
	return nil
}

// StructureReport is the result of a structural validation pass. Missing
// tables and columns are reported individually.
type StructureReport struct {
	Valid  bool     `json:"valid"`
	Tables []string `json:"tables"`
	Errors []string `json:"errors"`
}

// ValidateStructure confirms every required table exists with its expected
// columns.
func (s *Store) ValidateStructure(ctx context.Context, name string) (*StructureReport, error) {
	if err := database.CheckSchemaName(name); err != nil {
		return nil, err
	}

	report := &StructureReport{Valid: true}

	for _, t := range tenantTables {
		var exists bool
		err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = $1 AND table_name = $2
			)
		`, name, t.Name).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if !exists {
			report.Valid = false
			report.Errors = append(report.Errors, fmt.Sprintf("Missing required table: %s", t.Name))
			continue
		}
		report.Tables = append(report.Tables, t.Name)

		missing, err := s.missingColumns(ctx, name, t)
		if err != nil {
			return nil, err
		}
		for _, col := range missing {
			report.Valid = false
			report.Errors = append(report.Errors, fmt.Sprintf("Missing column %s.%s", t.Name, col))
		}
	}

	return report, nil
}

func (s *Store) missingColumns(ctx context.Context, schemaName string, t TableDef) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
	`, schemaName, t.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		present[col] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, col := range t.Columns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	return missing, nil
}

// SchemaExists reports whether a schema of that name exists.
func (s *Store) SchemaExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.schemata WHERE schema_name = $1
		)
	`, name).Scan(&exists)
	return exists, err
}

// ListTenantSchemas returns every schema in the tenant namespace.
func (s *Store) ListTenantSchemas(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT schema_name FROM information_schema.schemata
		WHERE schema_name LIKE 'tenant\_%' ORDER BY schema_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		// The LIKE pattern is broader than the identifier rules; anything
		// that merely shares the prefix is not ours to touch.
		if !database.IsTenantSchema(name) {
			continue
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CheckPermissions reports whether the current role can use and create inside
// the schema.
func (s *Store) CheckPermissions(ctx context.Context, name string) (bool, error) {
	if err := database.CheckSchemaName(name); err != nil {
		return false, err
	}
	var usage, create bool
	err := s.db.QueryRowContext(ctx, `
		SELECT has_schema_privilege(current_user, $1, 'USAGE'),
		       has_schema_privilege(current_user, $1, 'CREATE')
	`, name).Scan(&usage, &create)
	if err != nil {
		return false, err
	}
	return usage && create, nil
}

// TableStats holds per-table statistics.
type TableStats struct {
	Rows      int64 `json:"rows"`
	SizeBytes int64 `json:"size_bytes"`
}

// Statistics summarizes a schema's size.
type Statistics struct {
	SchemaName string                `json:"schema_name"`
	TableCount int                   `json:"table_count"`
	TotalRows  int64                 `json:"total_rows"`
	SizeBytes  int64                 `json:"size_bytes"`
	PerTable   map[string]TableStats `json:"per_table"`
}

// ComputeStatistics counts rows and measures on-disk size per table.
func (s *Store) ComputeStatistics(ctx context.Context, name string) (*Statistics, error) {
	if err := database.CheckSchemaName(name); err != nil {
		return nil, err
	}
	quoted := pq.QuoteIdentifier(name)

	stats := &Statistics{SchemaName: name, PerTable: make(map[string]TableStats)}
	for _, t := range tenantTables {
		qualified := fmt.Sprintf("%s.%s", quoted, t.Name)

		var rows int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+qualified).Scan(&rows); err != nil {
			return nil, fmt.Errorf("%w: count %s: %v", errors.ErrSchema, qualified, err)
		}

		var size int64
		if err := s.db.QueryRowContext(ctx,
			"SELECT pg_total_relation_size($1)", fmt.Sprintf("%s.%s", name, t.Name),
		).Scan(&size); err != nil {
			return nil, fmt.Errorf("%w: size of %s: %v", errors.ErrSchema, qualified, err)
		}

		stats.PerTable[t.Name] = TableStats{Rows: rows, SizeBytes: size}
		stats.TableCount++
		stats.TotalRows += rows
		stats.SizeBytes += size
	}
	return stats, nil
}

// CountRows counts rows in one canonical table of a schema.
func (s *Store) CountRows(ctx context.Context, schemaName, table string) (int64, error) {
	if err := database.CheckSchemaName(schemaName); err != nil {
		return 0, err
	}
	if _, ok := RequiredColumns(table); !ok {
		return 0, fmt.Errorf("%w: unknown table %q", errors.ErrInvalidName, table)
	}
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", pq.QuoteIdentifier(schemaName), table)
	err := s.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
