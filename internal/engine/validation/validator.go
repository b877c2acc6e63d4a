package validation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"tenantly/internal/engine/schema"
	"tenantly/internal/pkg/errors"
	"tenantly/internal/platform/database"
	"tenantly/internal/platform/models"
	"tenantly/internal/platform/repositories"
)

const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// CheckResult is one independent sub-check. Validation failures are reports,
// never errors: a failing check carries its reasons and the batch moves on.
type CheckResult struct {
	Name   string   `json:"name"`
	Passed bool     `json:"passed"`
	Errors []string `json:"errors,omitempty"`
}

func (c *CheckResult) fail(format string, args ...interface{}) {
	c.Passed = false
	c.Errors = append(c.Errors, fmt.Sprintf(format, args...))
}

// QueryTiming is one entry of the performance battery.
type QueryTiming struct {
	Name      string        `json:"name"`
	Elapsed   time.Duration `json:"elapsed"`
	Threshold time.Duration `json:"threshold"`
	Passed    bool          `json:"passed"`
}

// Report is the full result for one tenant.
type Report struct {
	TenantID      string        `json:"tenant_id"`
	SchemaName    string        `json:"schema_name"`
	OverallStatus string        `json:"overall_status"`
	Checks        []CheckResult `json:"checks"`
	Timings       []QueryTiming `json:"timings,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// AllErrors returns the union of every sub-check's errors.
func (r *Report) AllErrors() []string {
	var out []string
	for _, c := range r.Checks {
		out = append(out, c.Errors...)
	}
	return out
}

// BatchReport summarizes validation over many tenants.
type BatchReport struct {
	Total       int       `json:"total"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	SuccessRate float64   `json:"successRate"`
	Reports     []*Report `json:"reports"`
}

type Validator struct {
	db             *sql.DB
	store          *schema.Store
	tenants        *repositories.TenantRepository
	hybrid         *repositories.HybridRepository
	queryThreshold time.Duration
}

func NewValidator(db *sql.DB, store *schema.Store, tenants *repositories.TenantRepository, hybrid *repositories.HybridRepository, queryThreshold time.Duration) *Validator {
	if queryThreshold <= 0 {
		queryThreshold = 200 * time.Millisecond
	}
	return &Validator{db: db, store: store, tenants: tenants, hybrid: hybrid, queryThreshold: queryThreshold}
}

// ValidateTenantMigration runs every sub-check against one migrated tenant.
func (v *Validator) ValidateTenantMigration(ctx context.Context, tenantID string) (*Report, error) {
	t, err := v.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: tenant %s", errors.ErrNotFound, tenantID)
	}
	if !t.SchemaName.Valid {
		return nil, fmt.Errorf("%w: tenant %s has no schema to validate", errors.ErrNotFound, tenantID)
	}
	schemaName := t.SchemaName.String
	if err := database.CheckSchemaName(schemaName); err != nil {
		return nil, err
	}

	report := &Report{
		TenantID:   tenantID,
		SchemaName: schemaName,
		StartedAt:  time.Now(),
	}

	structure, err := v.checkStructure(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	report.Checks = append(report.Checks, *structure)

	migration, err := v.checkDataMigration(ctx, tenantID, schemaName)
	if err != nil {
		return nil, err
	}
	report.Checks = append(report.Checks, *migration)

	integrity, err := v.checkDataIntegrity(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	report.Checks = append(report.Checks, *integrity)

	relationships, err := v.checkRelationships(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	report.Checks = append(report.Checks, *relationships)

	isolation, err := v.checkTenantIsolation(ctx, t)
	if err != nil {
		return nil, err
	}
	report.Checks = append(report.Checks, *isolation)

	performance, timings, err := v.checkPerformance(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	report.Checks = append(report.Checks, *performance)
	report.Timings = timings

	report.OverallStatus = StatusPassed
	for _, c := range report.Checks {
		if !c.Passed {
			report.OverallStatus = StatusFailed
			break
		}
	}
	report.CompletedAt = time.Now()
	return report, nil
}

// ValidateBatch validates every completed tenant and aggregates.
func (v *Validator) ValidateBatch(ctx context.Context) (*BatchReport, error) {
	tenants, err := v.tenants.ListByMigrationStatus(ctx, models.MigrationCompleted)
	if err != nil {
		return nil, err
	}

	batch := &BatchReport{}
	for _, t := range tenants {
		report, err := v.ValidateTenantMigration(ctx, t.ID)
		if err != nil {
			log.Error().Err(err).Str("tenant_id", t.ID).Msg("validation run failed")
			report = &Report{TenantID: t.ID, OverallStatus: StatusFailed,
				Checks: []CheckResult{{Name: "run", Passed: false, Errors: []string{err.Error()}}}}
		}
		batch.Reports = append(batch.Reports, report)
		batch.Total++
		if report.OverallStatus == StatusPassed {
			batch.Passed++
		} else {
			batch.Failed++
		}
	}
	if batch.Total > 0 {
		batch.SuccessRate = float64(batch.Passed) / float64(batch.Total) * 100
	}
	return batch, nil
}

func (v *Validator) checkStructure(ctx context.Context, schemaName string) (*CheckResult, error) {
	check := &CheckResult{Name: "schema_structure", Passed: true}
	report, err := v.store.ValidateStructure(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	if !report.Valid {
		check.Passed = false
		check.Errors = report.Errors
	}
	return check, nil
}

// checkDataMigration compares per-table row counts between the schema and the
// hybrid tables filtered by tenant_id. Mismatches are reported per table.
func (v *Validator) checkDataMigration(ctx context.Context, tenantID, schemaName string) (*CheckResult, error) {
	check := &CheckResult{Name: "data_migration", Passed: true}
	for _, pair := range repositories.HybridTables {
		want, err := v.hybrid.CountForTenant(ctx, pair.Hybrid, tenantID)
		if err != nil {
			return nil, err
		}
		got, err := v.store.CountRows(ctx, schemaName, pair.Schema)
		if err != nil {
			return nil, err
		}
		if got != want {
			check.fail("Row count mismatch for %s: hybrid has %d, schema has %d", pair.Hybrid, want, got)
		}
	}
	return check, nil
}

// orphanQueries detect rows whose references point at nothing.
func orphanQueries(quoted string) []struct{ Name, Query string } {
	return []struct{ Name, Query string }{
		{"enrollments without user", fmt.Sprintf(
			`SELECT COUNT(*) FROM %[1]s.enrollments e LEFT JOIN %[1]s.users u ON u.id = e.user_id WHERE u.id IS NULL`, quoted)},
		{"enrollments without course", fmt.Sprintf(
			`SELECT COUNT(*) FROM %[1]s.enrollments e LEFT JOIN %[1]s.courses c ON c.id = e.course_id WHERE c.id IS NULL`, quoted)},
		{"grades without enrollment", fmt.Sprintf(
			`SELECT COUNT(*) FROM %[1]s.grades g LEFT JOIN %[1]s.enrollments e ON e.id = g.enrollment_id WHERE e.id IS NULL`, quoted)},
	}
}

func (v *Validator) checkDataIntegrity(ctx context.Context, schemaName string) (*CheckResult, error) {
	check := &CheckResult{Name: "data_integrity", Passed: true}
	quoted := pq.QuoteIdentifier(schemaName)
	for _, q := range orphanQueries(quoted) {
		var count int64
		if err := v.db.QueryRowContext(ctx, q.Query).Scan(&count); err != nil {
			return nil, err
		}
		if count > 0 {
			check.fail("Orphaned rows: %d %s", count, q.Name)
		}
	}
	return check, nil
}

// checkRelationships proves the foreign keys are enforced by the database, not
// merely consistent: a violating insert must be rejected. The probe runs in a
// transaction that is always rolled back.
func (v *Validator) checkRelationships(ctx context.Context, schemaName string) (*CheckResult, error) {
	check := &CheckResult{Name: "relationships", Passed: true}
	quoted := pq.QuoteIdentifier(schemaName)

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	probe := fmt.Sprintf(`
		INSERT INTO %s.enrollments (external_id, user_id, course_id, status, enrolled_at, updated_at)
		VALUES ('fk_probe', -1, -1, 'probe', 0, 0)`, quoted)
	if _, err := tx.ExecContext(ctx, probe); err == nil {
		check.fail("Foreign key constraint on enrollments not enforced: violating insert was accepted")
	}
	return check, nil
}

// checkTenantIsolation verifies the schema's own counts match its hybrid
// source and that no other tenant's schema shares them structurally: tables in
// a tenant schema must not carry a tenant_id column.
func (v *Validator) checkTenantIsolation(ctx context.Context, t *models.Tenant) (*CheckResult, error) {
	check := &CheckResult{Name: "tenant_isolation", Passed: true}

	var leaked int64
	err := v.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.columns
		WHERE table_schema = $1 AND column_name = 'tenant_id'
	`, t.SchemaName.String).Scan(&leaked)
	if err != nil {
		return nil, err
	}
	if leaked > 0 {
		check.fail("Schema %s carries %d tenant_id columns; isolation must be structural", t.SchemaName.String, leaked)
	}

	// Cross-check against every other migrated tenant: each schema must hold
	// exactly its own hybrid counts, so no tenant can observe another's rows.
	others, err := v.tenants.ListByMigrationStatus(ctx, models.MigrationCompleted)
	if err != nil {
		return nil, err
	}
	for _, other := range others {
		if other.ID == t.ID || !other.SchemaName.Valid {
			continue
		}
		want, err := v.hybrid.CountForTenant(ctx, "students", other.ID)
		if err != nil {
			return nil, err
		}
		got, err := v.store.CountRows(ctx, other.SchemaName.String, "users")
		if err != nil {
			return nil, err
		}
		if got != want {
			check.fail("Tenant %s schema user count %d diverges from its hybrid count %d", other.ID, got, want)
		}
	}
	return check, nil
}

// performanceQueries is the representative battery; each must finish under the
// threshold and is reported per query.
func performanceQueries(quoted string) []struct{ Name, Query string } {
	return []struct{ Name, Query string }{
		{"count_users", fmt.Sprintf("SELECT COUNT(*) FROM %s.users", quoted)},
		{"enrollments_join", fmt.Sprintf(
			`SELECT COUNT(*) FROM %[1]s.enrollments e JOIN %[1]s.users u ON u.id = e.user_id`, quoted)},
		{"grade_average", fmt.Sprintf("SELECT COALESCE(AVG(grade), 0) FROM %s.grades", quoted)},
	}
}

func (v *Validator) checkPerformance(ctx context.Context, schemaName string) (*CheckResult, []QueryTiming, error) {
	check := &CheckResult{Name: "performance", Passed: true}
	quoted := pq.QuoteIdentifier(schemaName)

	var timings []QueryTiming
	for _, q := range performanceQueries(quoted) {
		start := time.Now()
		var scratch float64
		if err := v.db.QueryRowContext(ctx, q.Query).Scan(&scratch); err != nil {
			return nil, nil, err
		}
		elapsed := time.Since(start)

		timing := QueryTiming{Name: q.Name, Elapsed: elapsed, Threshold: v.queryThreshold, Passed: elapsed <= v.queryThreshold}
		timings = append(timings, timing)
		if !timing.Passed {
			check.fail("Query %s took %s, threshold %s", q.Name, elapsed, v.queryThreshold)
		}
	}
	return check, timings, nil
}
