package sync

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tenantly/internal/pkg/errors"
	"tenantly/internal/platform/repositories"
)

func newTestSyncer(t *testing.T) (*Syncer, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	syncer := NewSyncer(db, repositories.NewTenantRepository(db), NewLogStore(db), 100, 3, time.Millisecond)
	return syncer, mock, func() { db.Close() }
}

func tenantRow(id, schemaName, migrationStatus string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "name", "slug", "domain", "status", "schema_name", "migration_status",
		"settings", "rollback_reason", "rollback_completed_at", "created_at", "updated_at",
	})
	var schema interface{}
	if schemaName != "" {
		schema = schemaName
	}
	rows.AddRow(id, "Tenant "+id, id, "", "active", schema, migrationStatus, []byte(`{}`), nil, nil, int64(1), int64(1))
	return rows
}

func userColumns() []string {
	return []string{"id", "external_id", "email", "full_name", "status", "created_at", "updated_at"}
}

func TestSyncEntityInsertsMissingTarget(t *testing.T) {
	syncer, mock, closeDB := newTestSyncer(t)
	defer closeDB()

	mock.ExpectExec("INSERT INTO sync_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_a").
		WillReturnRows(tenantRow("tnt_a", "tenant_a11", "completed"))
	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_b").
		WillReturnRows(tenantRow("tnt_b", "tenant_b22", "completed"))

	sourceRow := sqlmock.NewRows(userColumns()).
		AddRow(int64(7), "stu_1", "ann@example.com", "Ann", "active", int64(100), int64(200))
	mock.ExpectQuery(`SELECT (.+) FROM "tenant_a11".users WHERE external_id`).
		WithArgs("stu_1").
		WillReturnRows(sourceRow)
	mock.ExpectQuery(`SELECT (.+) FROM "tenant_b22".users WHERE external_id`).
		WithArgs("stu_1").
		WillReturnRows(sqlmock.NewRows(userColumns()))

	mock.ExpectExec(`INSERT INTO "tenant_b22".users`).
		WithArgs("stu_1", "ann@example.com", "Ann", "active", int64(100), int64(200)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec("UPDATE sync_logs SET status = 'completed'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := syncer.SyncEntity(context.Background(), "stu_1", "tnt_a", "tnt_b", Options{})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if result.ConflictsResolved != 0 {
		t.Errorf("conflicts = %d, want 0", result.ConflictsResolved)
	}
	if result.Metrics.RecordsProcessed != 1 {
		t.Errorf("records = %d, want 1", result.Metrics.RecordsProcessed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSyncEntityTargetWinsLeavesTargetUntouched(t *testing.T) {
	syncer, mock, closeDB := newTestSyncer(t)
	defer closeDB()

	mock.ExpectExec("INSERT INTO sync_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_a").
		WillReturnRows(tenantRow("tnt_a", "tenant_a11", "completed"))
	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_b").
		WillReturnRows(tenantRow("tnt_b", "tenant_b22", "completed"))

	mock.ExpectQuery(`SELECT (.+) FROM "tenant_a11".users WHERE external_id`).
		WithArgs("stu_1").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow(int64(7), "stu_1", "source@example.com", "S", "active", int64(100), int64(999)))
	mock.ExpectQuery(`SELECT (.+) FROM "tenant_b22".users WHERE external_id`).
		WithArgs("stu_1").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow(int64(3), "stu_1", "target@example.com", "T", "active", int64(100), int64(100)))

	// No UPDATE expected: the target keeps its copy.
	mock.ExpectExec("UPDATE sync_logs SET status = 'completed'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := syncer.SyncEntity(context.Background(), "stu_1", "tnt_a", "tnt_b", Options{Strategy: TargetWins})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.ConflictsResolved != 1 {
		t.Errorf("conflicts = %d, want 1", result.ConflictsResolved)
	}
	if result.Metrics.RecordsProcessed != 0 {
		t.Errorf("records = %d, want 0", result.Metrics.RecordsProcessed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSyncEntitySourceWinsOverwritesTarget(t *testing.T) {
	syncer, mock, closeDB := newTestSyncer(t)
	defer closeDB()

	mock.ExpectExec("INSERT INTO sync_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_a").
		WillReturnRows(tenantRow("tnt_a", "tenant_a11", "completed"))
	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_b").
		WillReturnRows(tenantRow("tnt_b", "tenant_b22", "completed"))

	mock.ExpectQuery(`SELECT (.+) FROM "tenant_a11".users WHERE external_id`).
		WithArgs("stu_1").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow(int64(7), "stu_1", "source@example.com", "S", "active", int64(100), int64(999)))
	mock.ExpectQuery(`SELECT (.+) FROM "tenant_b22".users WHERE external_id`).
		WithArgs("stu_1").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow(int64(3), "stu_1", "target@example.com", "T", "inactive", int64(100), int64(100)))

	mock.ExpectExec(`UPDATE "tenant_b22".users SET`).
		WithArgs("source@example.com", "S", "active", int64(100), int64(999), "stu_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("UPDATE sync_logs SET status = 'completed'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := syncer.SyncEntity(context.Background(), "stu_1", "tnt_a", "tnt_b", Options{Strategy: SourceWins})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.ConflictsResolved != 1 {
		t.Errorf("conflicts = %d, want 1", result.ConflictsResolved)
	}
	if result.Metrics.RecordsProcessed != 1 {
		t.Errorf("records = %d, want 1", result.Metrics.RecordsProcessed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSyncEntityRejectsUnknownStrategy(t *testing.T) {
	syncer, _, closeDB := newTestSyncer(t)
	defer closeDB()

	_, err := syncer.SyncEntity(context.Background(), "stu_1", "tnt_a", "tnt_b", Options{Strategy: "coin_flip"})
	if !stderrors.Is(err, errors.ErrSyncConflict) {
		t.Fatalf("expected ErrSyncConflict, got %v", err)
	}
}

func TestSyncEntityRejectsUnmigratedTenant(t *testing.T) {
	syncer, mock, closeDB := newTestSyncer(t)
	defer closeDB()

	mock.ExpectExec("INSERT INTO sync_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_a").
		WillReturnRows(tenantRow("tnt_a", "", "hybrid"))
	mock.ExpectExec("UPDATE sync_logs SET status = 'failed'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := syncer.SyncEntity(context.Background(), "stu_1", "tnt_a", "tnt_b", Options{})
	if !stderrors.Is(err, errors.ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestSyncEntityValidatesIntegrityUnderTargetWins(t *testing.T) {
	syncer, mock, closeDB := newTestSyncer(t)
	defer closeDB()

	mock.ExpectExec("INSERT INTO sync_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_a").
		WillReturnRows(tenantRow("tnt_a", "tenant_a11", "completed"))
	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_b").
		WillReturnRows(tenantRow("tnt_b", "tenant_b22", "completed"))

	mock.ExpectQuery(`SELECT (.+) FROM "tenant_a11".users WHERE external_id`).
		WithArgs("stu_1").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow(int64(7), "stu_1", "source@example.com", "S", "active", int64(100), int64(999)))
	mock.ExpectQuery(`SELECT (.+) FROM "tenant_b22".users WHERE external_id`).
		WithArgs("stu_1").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow(int64(3), "stu_1", "target@example.com", "T", "active", int64(100), int64(100)))

	// The target keeps its copy, then the integrity check re-reads both sides
	// and reports the drift it left behind.
	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_a").
		WillReturnRows(tenantRow("tnt_a", "tenant_a11", "completed"))
	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_b").
		WillReturnRows(tenantRow("tnt_b", "tenant_b22", "completed"))
	mock.ExpectQuery(`SELECT (.+) FROM "tenant_a11".users WHERE external_id`).
		WithArgs("stu_1").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow(int64(7), "stu_1", "source@example.com", "S", "active", int64(100), int64(999)))
	mock.ExpectQuery(`SELECT (.+) FROM "tenant_b22".users WHERE external_id`).
		WithArgs("stu_1").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow(int64(3), "stu_1", "target@example.com", "T", "active", int64(100), int64(100)))

	mock.ExpectExec("UPDATE sync_logs SET status = 'failed'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := syncer.SyncEntity(context.Background(), "stu_1", "tnt_a", "tnt_b",
		Options{Strategy: TargetWins, ValidateIntegrity: true})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.Success {
		t.Error("expected the integrity check to fail on divergent rows")
	}
	if len(result.Violations) == 0 {
		t.Error("expected violations to be reported")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIncrementalSyncRefusesAppendOnlyTable(t *testing.T) {
	syncer, _, closeDB := newTestSyncer(t)
	defer closeDB()

	_, err := syncer.IncrementalSync(context.Background(), "tnt_a", "tnt_b",
		time.Unix(1000, 0), Options{Table: "activity_logs", Strategy: SourceWins})
	if !stderrors.Is(err, errors.ErrInvalidName) {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}
}
