package sync

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogStore(t *testing.T) (*LogStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLogStore(db), mock
}

func TestLogStoreStart(t *testing.T) {
	logs, mock := newTestLogStore(t)

	mock.ExpectExec("INSERT INTO sync_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := logs.Start(context.Background(), "entity_sync", "tnt_a", "tnt_b")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "sync_"), "id = %q", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStoreComplete(t *testing.T) {
	logs, mock := newTestLogStore(t)

	mock.ExpectExec("UPDATE sync_logs SET status = 'completed'").
		WithArgs(int64(42), int64(1500), sqlmock.AnyArg(), "sync_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := logs.Complete(context.Background(), "sync_1", 42, 1500*time.Millisecond)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStoreFail(t *testing.T) {
	logs, mock := newTestLogStore(t)

	mock.ExpectExec("UPDATE sync_logs SET status = 'failed'").
		WithArgs(int64(7), int64(300), "source row vanished", sqlmock.AnyArg(), "sync_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := logs.Fail(context.Background(), "sync_1", 7, 300*time.Millisecond, "source row vanished")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSyncStatistics(t *testing.T) {
	logs, mock := newTestLogStore(t)

	mock.ExpectQuery("SELECT (.+) FROM sync_logs").
		WithArgs("tnt_a").
		WillReturnRows(sqlmock.NewRows([]string{"count", "completed", "failed", "records", "avg"}).
			AddRow(int64(10), int64(8), int64(2), int64(480), float64(125.5)))

	stats, err := logs.GetSyncStatistics(context.Background(), "tnt_a")
	require.NoError(t, err)
	assert.Equal(t, "tnt_a", stats.TenantID)
	assert.Equal(t, int64(10), stats.TotalOperations)
	assert.Equal(t, int64(8), stats.Completed)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(480), stats.RecordsProcessed)
	assert.InDelta(t, 125.5, stats.AvgExecutionMS, 0.001)
}

func TestCleanupSyncLogs(t *testing.T) {
	logs, mock := newTestLogStore(t)

	mock.ExpectExec("DELETE FROM sync_logs").
		WillReturnResult(sqlmock.NewResult(0, 5))

	pruned, err := logs.CleanupSyncLogs(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(5), pruned)
}
