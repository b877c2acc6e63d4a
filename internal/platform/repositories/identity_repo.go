package repositories

import (
	"context"
	"database/sql"
	"time"

	"tenantly/internal/platform/models"
)

type IdentityRepository struct {
	db *sql.DB
}

func NewIdentityRepository(db *sql.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) Create(ctx context.Context, id *models.GlobalIdentity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identities (id, email, full_name, password_hash, super_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.ID, id.Email, id.FullName, id.PasswordHash, id.SuperAdmin, id.CreatedAt, id.UpdatedAt)
	return err
}

func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*models.GlobalIdentity, error) {
	identity := &models.GlobalIdentity{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, password_hash, super_admin, created_at, updated_at
		FROM identities WHERE id = $1
	`, id).Scan(&identity.ID, &identity.Email, &identity.FullName, &identity.PasswordHash,
		&identity.SuperAdmin, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return identity, nil
}

func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*models.GlobalIdentity, error) {
	identity := &models.GlobalIdentity{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, password_hash, super_admin, created_at, updated_at
		FROM identities WHERE email = $1
	`, email).Scan(&identity.ID, &identity.Email, &identity.FullName, &identity.PasswordHash,
		&identity.SuperAdmin, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return identity, nil
}

func (r *IdentityRepository) CreateMembership(ctx context.Context, m *models.Membership) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO memberships (id, identity_id, tenant_id, role, permissions, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.IdentityID, m.TenantID, m.Role, m.Permissions, m.Status, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *IdentityRepository) GetMembership(ctx context.Context, identityID, tenantID string) (*models.Membership, error) {
	m := &models.Membership{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, identity_id, tenant_id, role, permissions, status, created_at, updated_at
		FROM memberships WHERE identity_id = $1 AND tenant_id = $2
	`, identityID, tenantID).Scan(&m.ID, &m.IdentityID, &m.TenantID, &m.Role, &m.Permissions,
		&m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (r *IdentityRepository) ListMemberships(ctx context.Context, identityID string) ([]*models.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, identity_id, tenant_id, role, permissions, status, created_at, updated_at
		FROM memberships WHERE identity_id = $1 ORDER BY created_at
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []*models.Membership
	for rows.Next() {
		m := &models.Membership{}
		if err := rows.Scan(&m.ID, &m.IdentityID, &m.TenantID, &m.Role, &m.Permissions,
			&m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

func (r *IdentityRepository) RevokeMembership(ctx context.Context, identityID, tenantID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE memberships SET status = 'revoked', updated_at = $1
		WHERE identity_id = $2 AND tenant_id = $3
	`, time.Now().Unix(), identityID, tenantID)
	return err
}
