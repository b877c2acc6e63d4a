package repositories

import (
	"context"
	"database/sql"
	"time"

	"tenantly/internal/platform/models"
)

type TenantRepository struct {
	db *sql.DB
}

func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `id, name, slug, domain, status, schema_name, migration_status, settings, rollback_reason, rollback_completed_at, created_at, updated_at`

func scanTenant(row interface{ Scan(...interface{}) error }) (*models.Tenant, error) {
	t := &models.Tenant{}
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Domain, &t.Status, &t.SchemaName, &t.MigrationStatus,
		&t.Settings, &t.RollbackReason, &t.RollbackAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *TenantRepository) Create(ctx context.Context, t *models.Tenant) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, slug, domain, status, migration_status, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.Name, t.Slug, t.Domain, t.Status, t.MigrationStatus, t.Settings, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *TenantRepository) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	return scanTenant(r.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE id = $1
	`, id))
}

func (r *TenantRepository) GetByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	return scanTenant(r.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE domain = $1
	`, domain))
}

func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	return scanTenant(r.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE slug = $1
	`, slug))
}

func (r *TenantRepository) List(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTenants(rows)
}

func (r *TenantRepository) ListByMigrationStatus(ctx context.Context, status string) ([]*models.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE migration_status = $1 ORDER BY created_at
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTenants(rows)
}

func collectTenants(rows *sql.Rows) ([]*models.Tenant, error) {
	var tenants []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (r *TenantRepository) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tenants SET status = $1, updated_at = $2 WHERE id = $3
	`, status, time.Now().Unix(), id)
	return err
}

// UpdateMigrationState records a lifecycle transition. schemaName is nil for
// every state except completed, which keeps the schema_name iff completed
// invariant in one place.
func (r *TenantRepository) UpdateMigrationState(ctx context.Context, id, migrationStatus string, schemaName *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tenants SET migration_status = $1, schema_name = $2, updated_at = $3 WHERE id = $4
	`, migrationStatus, schemaName, time.Now().Unix(), id)
	return err
}

// FinishRollback resets the tenant to hybrid and preserves the prior schema
// name inside settings for audit.
func (r *TenantRepository) FinishRollback(ctx context.Context, id, reason, priorSchema string) error {
	now := time.Now().Unix()
	_, err := r.db.ExecContext(ctx, `
		UPDATE tenants
		SET migration_status = $1,
		    schema_name = NULL,
		    rollback_reason = $2,
		    rollback_completed_at = $3,
		    settings = jsonb_set(COALESCE(settings, '{}'::jsonb), '{previous_schema}', to_jsonb($4::text)),
		    updated_at = $5
		WHERE id = $6
	`, models.MigrationHybrid, reason, now, priorSchema, now, id)
	return err
}

func (r *TenantRepository) UpdateSettings(ctx context.Context, id string, settings []byte) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tenants SET settings = $1, updated_at = $2 WHERE id = $3
	`, settings, time.Now().Unix(), id)
	return err
}
