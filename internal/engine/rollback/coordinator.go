package rollback

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"tenantly/internal/engine/schema"
	"tenantly/internal/pkg/errors"
	"tenantly/internal/platform/database"
	"tenantly/internal/platform/models"
	"tenantly/internal/platform/repositories"
)

// StepResult records one checkpointed step of a rollback.
type StepResult struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of one tenant rollback. On failure the tenant is left
// in rolling_back, never guessed forward; RecoverPartialRollback resumes it.
type Result struct {
	TenantID     string           `json:"tenant_id"`
	TenantName   string           `json:"tenant_name"`
	Success      bool             `json:"success"`
	Steps        []StepResult     `json:"steps"`
	Errors       []string         `json:"errors,omitempty"`
	BackupPath   string           `json:"backup_path,omitempty"`
	SchemaCounts map[string]int64 `json:"schema_counts,omitempty"`
	Duration     time.Duration    `json:"duration"`
}

// BatchResult aggregates a batch rollback run.
type BatchResult struct {
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Results    []*Result `json:"results"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type Coordinator struct {
	db        *sql.DB
	store     *schema.Store
	tenants   *repositories.TenantRepository
	hybrid    *repositories.HybridRepository
	backupDir string
}

func NewCoordinator(db *sql.DB, store *schema.Store, tenants *repositories.TenantRepository, hybrid *repositories.HybridRepository, backupDir string) *Coordinator {
	return &Coordinator{db: db, store: store, tenants: tenants, hybrid: hybrid, backupDir: backupDir}
}

// RollbackTenantMigration reverses a completed migration. Each step is run in
// order and recorded; the first failure stops the run with the tenant parked
// in rolling_back.
func (c *Coordinator) RollbackTenantMigration(ctx context.Context, tenantID, reason string) *Result {
	start := time.Now()
	result := &Result{TenantID: tenantID}

	stepStart := time.Now()
	t, err := c.validatePrerequisites(ctx, tenantID)
	if err != nil {
		result.Steps = append(result.Steps, StepResult{Name: "validate_prerequisites", Error: err.Error(), Duration: time.Since(stepStart)})
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result
	}
	result.Steps = append(result.Steps, StepResult{Name: "validate_prerequisites", Success: true, Duration: time.Since(stepStart)})
	result.TenantName = t.Name
	schemaName := t.SchemaName.String

	// From here on the tenant is mid-rollback; park it there before touching
	// data so a crash leaves a recoverable state.
	if err := c.tenants.UpdateMigrationState(ctx, tenantID, models.MigrationRollingBack, nil); err != nil {
		result.fail("mark_rolling_back", err)
		result.Duration = time.Since(start)
		return result
	}
	result.Steps = append(result.Steps, StepResult{Name: "mark_rolling_back", Success: true})

	if !c.runStep(result, "emergency_backup", func() error {
		artifact, err := c.store.Backup(ctx, schemaName)
		if err != nil {
			return err
		}
		artifact.TenantID = tenantID
		artifact.Emergency = true
		result.SchemaCounts = artifact.RowCounts

		path, err := c.writeBackup(artifact)
		if err != nil {
			return err
		}
		result.BackupPath = path
		return nil
	}) {
		result.Duration = time.Since(start)
		return result
	}

	if !c.runStep(result, "copy_data_back", func() error {
		return c.copyDataBack(ctx, tenantID, schemaName)
	}) {
		result.Duration = time.Since(start)
		return result
	}

	if !c.runStep(result, "update_tenant", func() error {
		return c.tenants.FinishRollback(ctx, tenantID, reason, schemaName)
	}) {
		result.Duration = time.Since(start)
		return result
	}

	if !c.runStep(result, "drop_schema", func() error {
		return c.store.DropSchema(ctx, schemaName)
	}) {
		result.Duration = time.Since(start)
		return result
	}

	if !c.runStep(result, "verify", func() error {
		return c.verify(ctx, tenantID, schemaName, result.SchemaCounts)
	}) {
		result.Duration = time.Since(start)
		return result
	}

	result.Success = true
	result.Duration = time.Since(start)
	log.Info().Str("tenant_id", tenantID).Str("schema", schemaName).Msg("rollback completed")
	return result
}

func (c *Coordinator) runStep(result *Result, name string, fn func() error) bool {
	start := time.Now()
	if err := fn(); err != nil {
		result.Steps = append(result.Steps, StepResult{Name: name, Error: err.Error(), Duration: time.Since(start)})
		result.Errors = append(result.Errors, err.Error())
		return false
	}
	result.Steps = append(result.Steps, StepResult{Name: name, Success: true, Duration: time.Since(start)})
	return true
}

func (r *Result) fail(step string, err error) {
	r.Steps = append(r.Steps, StepResult{Name: step, Error: err.Error()})
	r.Errors = append(r.Errors, err.Error())
}

// validatePrerequisites fails fast with a specific reason: tenant exists, is
// completed, has a schema that actually exists, and a backup is obtainable.
func (c *Coordinator) validatePrerequisites(ctx context.Context, tenantID string) (*models.Tenant, error) {
	t, err := c.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: tenant %s", errors.ErrNotFound, tenantID)
	}
	if t.MigrationStatus != models.MigrationCompleted {
		return nil, fmt.Errorf("tenant %s is %s, only completed migrations can be rolled back", tenantID, t.MigrationStatus)
	}
	if !t.SchemaName.Valid {
		return nil, fmt.Errorf("tenant %s has no schema_name recorded", tenantID)
	}
	exists, err := c.store.SchemaExists(ctx, t.SchemaName.String)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: schema %s is recorded but missing", errors.ErrNotFound, t.SchemaName.String)
	}
	if ok, err := c.store.CheckPermissions(ctx, t.SchemaName.String); err != nil || !ok {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: insufficient privileges on schema %s", errors.ErrAccessDenied, t.SchemaName.String)
	}
	return t, nil
}

func (c *Coordinator) writeBackup(artifact *schema.Artifact) (string, error) {
	if err := os.MkdirAll(c.backupDir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("emergency_%s_%d.sql", artifact.SchemaName, artifact.CreatedAt.Unix())
	path := filepath.Join(c.backupDir, name)
	if err := os.WriteFile(path, []byte(artifact.Render()), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// copyBackStatements reverse the migration copy: schema rows go back into the
// hybrid tables re-tagged with tenant_id, schema-local keys re-mapped through
// external_id. ON CONFLICT DO NOTHING keeps re-runs idempotent for partial
// recovery. Rows born inside the schema (no external_id) get fresh ids.
func copyBackStatements(quoted string) []string {
	return []string{
		fmt.Sprintf(`
			INSERT INTO public.students (id, tenant_id, email, full_name, status, created_at, updated_at)
			SELECT COALESCE(u.external_id, gen_random_uuid()::text), $1, u.email, u.full_name, u.status, u.created_at, u.updated_at
			FROM %[1]s.users u
			ON CONFLICT (id) DO NOTHING`, quoted),
		fmt.Sprintf(`
			INSERT INTO public.courses (id, tenant_id, code, title, description, created_at, updated_at)
			SELECT COALESCE(c.external_id, gen_random_uuid()::text), $1, c.code, c.title, c.description, c.created_at, c.updated_at
			FROM %[1]s.courses c
			ON CONFLICT (id) DO NOTHING`, quoted),
		fmt.Sprintf(`
			INSERT INTO public.enrollments (id, tenant_id, student_id, course_id, status, enrolled_at, updated_at)
			SELECT COALESCE(e.external_id, gen_random_uuid()::text), $1, u.external_id, c.external_id, e.status, e.enrolled_at, e.updated_at
			FROM %[1]s.enrollments e
			JOIN %[1]s.users u ON u.id = e.user_id
			JOIN %[1]s.courses c ON c.id = e.course_id
			ON CONFLICT (id) DO NOTHING`, quoted),
		fmt.Sprintf(`
			INSERT INTO public.grades (id, tenant_id, enrollment_id, grade, graded_at, updated_at)
			SELECT COALESCE(g.external_id, gen_random_uuid()::text), $1, en.external_id, g.grade, g.graded_at, g.updated_at
			FROM %[1]s.grades g
			JOIN %[1]s.enrollments en ON en.id = g.enrollment_id
			ON CONFLICT (id) DO NOTHING`, quoted),
		fmt.Sprintf(`
			INSERT INTO public.activity_logs (id, tenant_id, student_id, action, metadata, created_at)
			SELECT COALESCE(a.external_id, gen_random_uuid()::text), $1, u.external_id, a.action, a.metadata, a.created_at
			FROM %[1]s.activity_logs a
			LEFT JOIN %[1]s.users u ON u.id = a.user_id
			ON CONFLICT (id) DO NOTHING`, quoted),
	}
}

func (c *Coordinator) copyDataBack(ctx context.Context, tenantID, schemaName string) error {
	if err := database.CheckSchemaName(schemaName); err != nil {
		return err
	}
	quoted := pq.QuoteIdentifier(schemaName)

	for _, stmt := range copyBackStatements(quoted) {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt, tenantID); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: copy back from %s: %v", errors.ErrSchema, schemaName, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// verify confirms the rollback landed: schema gone, hybrid rows cover what the
// schema held pre-drop, tenant record reset, enrollment references intact.
func (c *Coordinator) verify(ctx context.Context, tenantID, schemaName string, schemaCounts map[string]int64) error {
	exists, err := c.store.SchemaExists(ctx, schemaName)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("schema %s still exists after drop", schemaName)
	}

	for _, pair := range repositories.HybridTables {
		want := schemaCounts[pair.Schema]
		got, err := c.hybrid.CountForTenant(ctx, pair.Hybrid, tenantID)
		if err != nil {
			return err
		}
		if got < want {
			return fmt.Errorf("%w: hybrid %s has %d rows, schema held %d", errors.ErrIntegrityViolation, pair.Hybrid, got, want)
		}
	}

	t, err := c.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if t == nil || t.MigrationStatus != models.MigrationHybrid || t.SchemaName.Valid {
		return fmt.Errorf("tenant %s configuration not reset after rollback", tenantID)
	}

	var orphans int64
	err = c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM public.enrollments e
		LEFT JOIN public.students s ON s.id = e.student_id AND s.tenant_id = e.tenant_id
		WHERE e.tenant_id = $1 AND s.id IS NULL
	`, tenantID).Scan(&orphans)
	if err != nil {
		return err
	}
	if orphans > 0 {
		return fmt.Errorf("%w: %d enrollments reference missing students after rollback", errors.ErrIntegrityViolation, orphans)
	}
	return nil
}

// RecoverPartialRollback resumes a rollback that failed mid-way. Steps are
// idempotent, so it simply re-runs everything still outstanding.
func (c *Coordinator) RecoverPartialRollback(ctx context.Context, tenantID, reason string) *Result {
	start := time.Now()
	result := &Result{TenantID: tenantID}

	t, err := c.tenants.GetByID(ctx, tenantID)
	if err != nil || t == nil {
		result.Errors = append(result.Errors, fmt.Sprintf("tenant %s not found", tenantID))
		result.Duration = time.Since(start)
		return result
	}
	result.TenantName = t.Name
	if t.MigrationStatus != models.MigrationRollingBack {
		result.Errors = append(result.Errors, fmt.Sprintf("tenant %s is %s, nothing to recover", tenantID, t.MigrationStatus))
		result.Duration = time.Since(start)
		return result
	}

	schemaName := database.SchemaName(tenantID)
	if t.SchemaName.Valid {
		schemaName = t.SchemaName.String
	}

	exists, err := c.store.SchemaExists(ctx, schemaName)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.Duration = time.Since(start)
		return result
	}

	if exists {
		if !c.runStep(result, "copy_data_back", func() error {
			return c.copyDataBack(ctx, tenantID, schemaName)
		}) {
			result.Duration = time.Since(start)
			return result
		}
	}

	if !c.runStep(result, "update_tenant", func() error {
		return c.tenants.FinishRollback(ctx, tenantID, reason, schemaName)
	}) {
		result.Duration = time.Since(start)
		return result
	}

	if exists {
		if !c.runStep(result, "drop_schema", func() error {
			return c.store.DropSchema(ctx, schemaName)
		}) {
			result.Duration = time.Since(start)
			return result
		}
	}

	if !c.runStep(result, "verify", func() error {
		return c.verify(ctx, tenantID, schemaName, nil)
	}) {
		result.Duration = time.Since(start)
		return result
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

// RollbackAll rolls back every completed tenant and aggregates the results.
// One tenant failing does not stop the batch.
func (c *Coordinator) RollbackAll(ctx context.Context, reason string) (*BatchResult, error) {
	tenants, err := c.tenants.ListByMigrationStatus(ctx, models.MigrationCompleted)
	if err != nil {
		return nil, err
	}

	batch := &BatchResult{StartedAt: time.Now()}
	for _, t := range tenants {
		result := c.RollbackTenantMigration(ctx, t.ID, reason)
		batch.Results = append(batch.Results, result)
		batch.Total++
		if result.Success {
			batch.Successful++
		} else {
			batch.Failed++
		}
	}
	batch.FinishedAt = time.Now()
	return batch, nil
}

// CleanupOrphanedSchemas drops tenant schemas no tenant row points at.
func (c *Coordinator) CleanupOrphanedSchemas(ctx context.Context) ([]string, error) {
	schemas, err := c.store.ListTenantSchemas(ctx)
	if err != nil {
		return nil, err
	}

	var dropped []string
	for _, name := range schemas {
		var claimed bool
		err := c.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM tenants WHERE schema_name = $1)
		`, name).Scan(&claimed)
		if err != nil {
			return dropped, err
		}
		if claimed {
			continue
		}
		if err := c.store.DropSchema(ctx, name); err != nil {
			log.Error().Err(err).Str("schema", name).Msg("failed to drop orphaned schema")
			continue
		}
		dropped = append(dropped, name)
	}
	return dropped, nil
}
