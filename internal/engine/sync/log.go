package sync

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// LogStore is the durable sync operation log. Entries are append-only: a row
// is inserted as running and only ever touched again to record its terminal
// transition.
type LogStore struct {
	db *sql.DB
}

func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db}
}

func (l *LogStore) Start(ctx context.Context, operationType, sourceTenantID, targetTenantID string) (string, error) {
	id := "sync_" + uuid.New().String()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, operation_type, source_tenant_id, target_tenant_id, status, records_processed, execution_time, started_at)
		VALUES ($1, $2, $3, $4, 'running', 0, 0, $5)
	`, id, operationType, sourceTenantID, targetTenantID, time.Now().Unix())
	return id, err
}

func (l *LogStore) Complete(ctx context.Context, id string, records int64, execution time.Duration) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE sync_logs SET status = 'completed', records_processed = $1, execution_time = $2, completed_at = $3
		WHERE id = $4
	`, records, execution.Milliseconds(), time.Now().Unix(), id)
	return err
}

func (l *LogStore) Fail(ctx context.Context, id string, records int64, execution time.Duration, errMsg string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE sync_logs SET status = 'failed', records_processed = $1, execution_time = $2, error_message = $3, completed_at = $4
		WHERE id = $5
	`, records, execution.Milliseconds(), errMsg, time.Now().Unix(), id)
	return err
}

// Statistics aggregates a tenant's sync history, as source or target.
type Statistics struct {
	TenantID         string  `json:"tenant_id"`
	TotalOperations  int64   `json:"total_operations"`
	Completed        int64   `json:"completed"`
	Failed           int64   `json:"failed"`
	RecordsProcessed int64   `json:"records_processed"`
	AvgExecutionMS   float64 `json:"avg_execution_ms"`
}

func (l *LogStore) GetSyncStatistics(ctx context.Context, tenantID string) (*Statistics, error) {
	stats := &Statistics{TenantID: tenantID}
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COALESCE(SUM(records_processed), 0),
		       COALESCE(AVG(execution_time), 0)
		FROM sync_logs
		WHERE source_tenant_id = $1 OR target_tenant_id = $1
	`, tenantID).Scan(&stats.TotalOperations, &stats.Completed, &stats.Failed,
		&stats.RecordsProcessed, &stats.AvgExecutionMS)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CleanupSyncLogs prunes terminal entries older than the retention window.
// Running entries are never pruned.
func (l *LogStore) CleanupSyncLogs(ctx context.Context, daysToKeep int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -daysToKeep).Unix()
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM sync_logs WHERE started_at < $1 AND status <> 'running'
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
