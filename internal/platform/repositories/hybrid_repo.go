package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"tenantly/internal/pkg/errors"
)

// HybridTables maps the shared hybrid tables to the schema-scoped tables their
// rows migrate into. Order matters: parents before children so foreign keys
// resolve during copy.
var HybridTables = []struct {
	Hybrid string
	Schema string
}{
	{Hybrid: "students", Schema: "users"},
	{Hybrid: "courses", Schema: "courses"},
	{Hybrid: "enrollments", Schema: "enrollments"},
	{Hybrid: "grades", Schema: "grades"},
	{Hybrid: "activity_logs", Schema: "activity_logs"},
}

// HybridRepository reads the shared tables that carry a tenant_id column.
type HybridRepository struct {
	db *sql.DB
}

func NewHybridRepository(db *sql.DB) *HybridRepository {
	return &HybridRepository{db: db}
}

// CountForTenant returns the number of hybrid rows a tenant owns in one table.
// The table name is allow-listed against HybridTables; anything else is an error.
func (r *HybridRepository) CountForTenant(ctx context.Context, table, tenantID string) (int64, error) {
	if !KnownHybridTable(table) {
		return 0, fmt.Errorf("%w: unknown hybrid table %q", errors.ErrInvalidName, table)
	}
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM public.%s WHERE tenant_id = $1", pq.QuoteIdentifier(table))
	if err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountsForTenant returns per-table hybrid row counts for a tenant.
func (r *HybridRepository) CountsForTenant(ctx context.Context, tenantID string) (map[string]int64, error) {
	counts := make(map[string]int64, len(HybridTables))
	for _, t := range HybridTables {
		n, err := r.CountForTenant(ctx, t.Hybrid, tenantID)
		if err != nil {
			return nil, err
		}
		counts[t.Hybrid] = n
	}
	return counts, nil
}

func KnownHybridTable(table string) bool {
	for _, t := range HybridTables {
		if t.Hybrid == table {
			return true
		}
	}
	return false
}

// SchemaTableFor returns the schema-side table a hybrid table maps to.
func SchemaTableFor(hybrid string) (string, bool) {
	for _, t := range HybridTables {
		if t.Hybrid == hybrid {
			return t.Schema, true
		}
	}
	return "", false
}

// HybridTableFor returns the hybrid table a schema-side table maps to.
func HybridTableFor(schema string) (string, bool) {
	for _, t := range HybridTables {
		if t.Schema == schema {
			return t.Hybrid, true
		}
	}
	return "", false
}
