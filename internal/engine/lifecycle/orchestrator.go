package lifecycle

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"tenantly/internal/engine/schema"
	"tenantly/internal/pkg/errors"
	"tenantly/internal/platform/database"
	"tenantly/internal/platform/models"
	"tenantly/internal/platform/repositories"
)

// Orchestrator composes Schema Store primitives into tenant-level lifecycle
// actions and keeps the tenant record's migration_status in step.
type Orchestrator struct {
	db       *sql.DB
	store    *schema.Store
	tenants  *repositories.TenantRepository
	hybrid   *repositories.HybridRepository
	sessions *database.SessionManager
}

func NewOrchestrator(db *sql.DB, store *schema.Store, tenants *repositories.TenantRepository, hybrid *repositories.HybridRepository) *Orchestrator {
	return &Orchestrator{
		db:       db,
		store:    store,
		tenants:  tenants,
		hybrid:   hybrid,
		sessions: database.NewSessionManager(db),
	}
}

// CreateAndMigrate provisions the tenant schema: create, canonical tables,
// indexes, row-level security. Any failing step aborts and the tenant record
// is not touched; the caller decides whether to clean up the partial schema.
func (o *Orchestrator) CreateAndMigrate(ctx context.Context, tenantID string) (string, error) {
	name, err := o.store.CreateSchema(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if err := o.store.RunMigrations(ctx, name); err != nil {
		return name, err
	}
	if err := o.store.SetupIndexes(ctx, name); err != nil {
		return name, err
	}
	if err := o.store.SetupRowLevelSecurity(ctx, name); err != nil {
		return name, err
	}
	return name, nil
}

// MigrateTenant runs the full hybrid-to-schema migration: mark migrating,
// provision the schema, copy hybrid data in, sanity-check, mark completed.
// A failure leaves the tenant in migrating so the operator can retry or clean
// up; it never lands on completed with missing data.
func (o *Orchestrator) MigrateTenant(ctx context.Context, tenantID string) (string, error) {
	t, err := o.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", fmt.Errorf("%w: tenant %s", errors.ErrNotFound, tenantID)
	}
	if t.MigrationStatus == models.MigrationCompleted {
		return "", fmt.Errorf("%w: tenant %s is already migrated", errors.ErrAlreadyExists, tenantID)
	}
	if t.MigrationStatus == models.MigrationMigrating {
		return "", fmt.Errorf("%w: migration already in progress for tenant %s", errors.ErrAlreadyExists, tenantID)
	}

	if err := o.tenants.UpdateMigrationState(ctx, tenantID, models.MigrationMigrating, nil); err != nil {
		return "", err
	}

	name, err := o.runMigration(ctx, tenantID)
	if err != nil {
		// Put the tenant back in hybrid so the operator can retry. The
		// partial schema stays behind for inspection; re-running tolerates
		// it via the idempotent DDL and ON CONFLICT copies.
		if resetErr := o.tenants.UpdateMigrationState(ctx, tenantID, models.MigrationHybrid, nil); resetErr != nil {
			log.Error().Err(resetErr).Str("tenant_id", tenantID).Msg("failed to reset migration state after failure")
		}
		return "", err
	}

	if err := o.tenants.UpdateMigrationState(ctx, tenantID, models.MigrationCompleted, &name); err != nil {
		return "", err
	}

	log.Info().Str("tenant_id", tenantID).Str("schema", name).Msg("tenant migrated")
	return name, nil
}

func (o *Orchestrator) runMigration(ctx context.Context, tenantID string) (string, error) {
	name, err := o.CreateAndMigrate(ctx, tenantID)
	if err != nil {
		return "", err
	}

	if err := o.migrateData(ctx, tenantID, name); err != nil {
		return "", err
	}

	ok, err := o.Validate(ctx, tenantID, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: post-migration validation failed for %s", errors.ErrIntegrityViolation, name)
	}
	return name, nil
}

// RecoverMigration resumes a tenant stranded in migrating, as after a crash
// mid-run. Every step is idempotent, so the rerun picks up where the dead run
// stopped. The state guard is the inverse of MigrateTenant's.
func (o *Orchestrator) RecoverMigration(ctx context.Context, tenantID string) (string, error) {
	t, err := o.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", fmt.Errorf("%w: tenant %s", errors.ErrNotFound, tenantID)
	}
	if t.MigrationStatus != models.MigrationMigrating {
		return "", fmt.Errorf("%w: tenant %s is not mid-migration (status %s)", errors.ErrSchema, tenantID, t.MigrationStatus)
	}

	name, err := o.resumeMigration(ctx, tenantID)
	if err != nil {
		if resetErr := o.tenants.UpdateMigrationState(ctx, tenantID, models.MigrationHybrid, nil); resetErr != nil {
			log.Error().Err(resetErr).Str("tenant_id", tenantID).Msg("failed to reset migration state after failure")
		}
		return "", err
	}

	if err := o.tenants.UpdateMigrationState(ctx, tenantID, models.MigrationCompleted, &name); err != nil {
		return "", err
	}

	log.Info().Str("tenant_id", tenantID).Str("schema", name).Msg("tenant migration recovered")
	return name, nil
}

// resumeMigration is runMigration minus the create-schema guard: the schema
// may already exist from the interrupted run.
func (o *Orchestrator) resumeMigration(ctx context.Context, tenantID string) (string, error) {
	name := database.SchemaName(tenantID)
	exists, err := o.store.SchemaExists(ctx, name)
	if err != nil {
		return "", err
	}
	if !exists {
		return o.runMigration(ctx, tenantID)
	}

	if err := o.store.RunMigrations(ctx, name); err != nil {
		return "", err
	}
	if err := o.store.SetupIndexes(ctx, name); err != nil {
		return "", err
	}
	if err := o.store.SetupRowLevelSecurity(ctx, name); err != nil {
		return "", err
	}
	if err := o.migrateData(ctx, tenantID, name); err != nil {
		return "", err
	}

	ok, err := o.Validate(ctx, tenantID, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: post-migration validation failed for %s", errors.ErrIntegrityViolation, name)
	}
	return name, nil
}

// copyStatements are the hybrid-to-schema bulk copies, parents first so the
// child joins resolve. Schema-local primary keys are fresh; external_id
// carries the hybrid primary key so rows stay correlated across the boundary.
func copyStatements(quoted string) []string {
	return []string{
		fmt.Sprintf(`
			INSERT INTO %[1]s.users (external_id, email, full_name, status, created_at, updated_at)
			SELECT id, email, full_name, status, created_at, updated_at
			FROM public.students WHERE tenant_id = $1
			ON CONFLICT (external_id) DO NOTHING`, quoted),
		fmt.Sprintf(`
			INSERT INTO %[1]s.courses (external_id, code, title, description, created_at, updated_at)
			SELECT id, code, title, description, created_at, updated_at
			FROM public.courses WHERE tenant_id = $1
			ON CONFLICT (external_id) DO NOTHING`, quoted),
		fmt.Sprintf(`
			INSERT INTO %[1]s.enrollments (external_id, user_id, course_id, status, enrolled_at, updated_at)
			SELECT e.id, u.id, c.id, e.status, e.enrolled_at, e.updated_at
			FROM public.enrollments e
			JOIN %[1]s.users u ON u.external_id = e.student_id
			JOIN %[1]s.courses c ON c.external_id = e.course_id
			WHERE e.tenant_id = $1
			ON CONFLICT (external_id) DO NOTHING`, quoted),
		fmt.Sprintf(`
			INSERT INTO %[1]s.grades (external_id, enrollment_id, grade, graded_at, updated_at)
			SELECT g.id, en.id, g.grade, g.graded_at, g.updated_at
			FROM public.grades g
			JOIN %[1]s.enrollments en ON en.external_id = g.enrollment_id
			WHERE g.tenant_id = $1
			ON CONFLICT (external_id) DO NOTHING`, quoted),
		fmt.Sprintf(`
			INSERT INTO %[1]s.activity_logs (external_id, user_id, action, metadata, created_at)
			SELECT a.id, u.id, a.action, a.metadata, a.created_at
			FROM public.activity_logs a
			LEFT JOIN %[1]s.users u ON u.external_id = a.student_id
			WHERE a.tenant_id = $1
			ON CONFLICT (external_id) DO NOTHING`, quoted),
	}
}

// migrateData copies the tenant's hybrid rows into the schema, one
// transaction per table so a mid-copy failure leaves whole tables, never
// partial ones.
func (o *Orchestrator) migrateData(ctx context.Context, tenantID, schemaName string) error {
	if err := database.CheckSchemaName(schemaName); err != nil {
		return err
	}
	quoted := pq.QuoteIdentifier(schemaName)

	for _, stmt := range copyStatements(quoted) {
		tx, err := o.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, stmt, tenantID); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: bulk copy into %s: %v", errors.ErrSchema, schemaName, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SwitchTo acquires a connection pinned to the tenant's schema. The returned
// session must be released with SwitchToShared on every exit path.
func (o *Orchestrator) SwitchTo(ctx context.Context, t *models.Tenant) (*database.Session, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: no tenant", errors.ErrNotFound)
	}
	if !t.Migrated() {
		return nil, fmt.Errorf("%w: tenant %s has no active schema", errors.ErrSchema, t.ID)
	}
	return o.sessions.Acquire(ctx, t.SchemaName.String)
}

// SwitchToShared releases a session back to the shared schema.
func (o *Orchestrator) SwitchToShared(ctx context.Context, sess *database.Session) error {
	if sess == nil {
		return nil
	}
	return sess.Close(ctx)
}

// Validate runs the structural check plus a cheap row-count sanity check
// against the hybrid side.
func (o *Orchestrator) Validate(ctx context.Context, tenantID, schemaName string) (bool, error) {
	report, err := o.store.ValidateStructure(ctx, schemaName)
	if err != nil {
		return false, err
	}
	if !report.Valid {
		return false, nil
	}

	for _, pair := range repositories.HybridTables {
		want, err := o.hybrid.CountForTenant(ctx, pair.Hybrid, tenantID)
		if err != nil {
			return false, err
		}
		got, err := o.store.CountRows(ctx, schemaName, pair.Schema)
		if err != nil {
			return false, err
		}
		if got < want {
			return false, nil
		}
	}
	return true, nil
}

// Backup snapshots the tenant's schema.
func (o *Orchestrator) Backup(ctx context.Context, tenantID string) (*schema.Artifact, error) {
	t, err := o.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if t == nil || !t.SchemaName.Valid {
		return nil, fmt.Errorf("%w: tenant %s has no schema", errors.ErrNotFound, tenantID)
	}
	artifact, err := o.store.Backup(ctx, t.SchemaName.String)
	if err != nil {
		return nil, err
	}
	artifact.TenantID = tenantID
	return artifact, nil
}

// RestoreBackup replays an artifact for a tenant and restores its completed
// state.
func (o *Orchestrator) RestoreBackup(ctx context.Context, tenantID string, artifact *schema.Artifact) error {
	if err := o.store.Restore(ctx, artifact); err != nil {
		return err
	}
	name := artifact.SchemaName
	return o.tenants.UpdateMigrationState(ctx, tenantID, models.MigrationCompleted, &name)
}
