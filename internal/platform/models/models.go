package models

import (
	"database/sql"
	"encoding/json"
)

// Tenant statuses.
const (
	TenantActive      = "active"
	TenantInactive    = "inactive"
	TenantMaintenance = "maintenance"
)

// Migration lifecycle states. A tenant starts in Hybrid and only ever holds a
// schema name while Completed; every failure path lands on Migrating or
// RollingBack so recovery can resume from a known point.
const (
	MigrationHybrid      = "hybrid"
	MigrationMigrating   = "migrating"
	MigrationCompleted   = "completed"
	MigrationRollingBack = "rolling_back"
	MigrationFailed      = "failed"
)

type Tenant struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Slug            string          `json:"slug"`
	Domain          string          `json:"domain"`
	Status          string          `json:"status"`
	SchemaName      sql.NullString  `json:"schema_name"`
	MigrationStatus string          `json:"migration_status"`
	Settings        json.RawMessage `json:"settings"`
	RollbackReason  sql.NullString  `json:"rollback_reason,omitempty"`
	RollbackAt      sql.NullInt64   `json:"rollback_completed_at,omitempty"`
	CreatedAt       int64           `json:"created_at"`
	UpdatedAt       int64           `json:"updated_at"`
}

// Migrated reports whether the tenant's data lives in its own schema.
func (t *Tenant) Migrated() bool {
	return t.MigrationStatus == MigrationCompleted && t.SchemaName.Valid
}

type GlobalIdentity struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	PasswordHash string `json:"-"`
	SuperAdmin   bool   `json:"super_admin"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

type Membership struct {
	ID          string `json:"id"`
	IdentityID  string `json:"identity_id"`
	TenantID    string `json:"tenant_id"`
	Role        string `json:"role"`
	Permissions string `json:"permissions"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Sync log statuses.
const (
	SyncRunning   = "running"
	SyncCompleted = "completed"
	SyncFailed    = "failed"
)

type SyncLog struct {
	ID               string         `json:"id"`
	OperationType    string         `json:"operation_type"`
	SourceTenantID   string         `json:"source_tenant_id"`
	TargetTenantID   string         `json:"target_tenant_id"`
	Status           string         `json:"status"`
	RecordsProcessed int64          `json:"records_processed"`
	ExecutionTimeMS  int64          `json:"execution_time"`
	ErrorMessage     sql.NullString `json:"error_message"`
	StartedAt        int64          `json:"started_at"`
	CompletedAt      sql.NullInt64  `json:"completed_at"`
}

type AuditLog struct {
	ID        string `json:"id"`
	Operation string `json:"operation"`
	TableName string `json:"table_name"`
	RecordID  string `json:"record_id"`
	UserID    string `json:"user_id"`
	CreatedAt int64  `json:"created_at"`
}

type PerformanceLog struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	TableName   string `json:"table_name"`
	Path        string `json:"path"`
	ElapsedMS   int64  `json:"elapsed_ms"`
	MemoryBytes uint64 `json:"memory_bytes"`
	CreatedAt   int64  `json:"created_at"`
}
