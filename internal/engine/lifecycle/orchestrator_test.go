package lifecycle

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"tenantly/internal/engine/schema"
	"tenantly/internal/pkg/errors"
	"tenantly/internal/platform/models"
	"tenantly/internal/platform/repositories"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	orch := NewOrchestrator(db, schema.NewStore(db),
		repositories.NewTenantRepository(db), repositories.NewHybridRepository(db))
	return orch, mock, func() { db.Close() }
}

func tenantRow(id, schemaName, migrationStatus string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "name", "slug", "domain", "status", "schema_name", "migration_status",
		"settings", "rollback_reason", "rollback_completed_at", "created_at", "updated_at",
	})
	var schemaVal interface{}
	if schemaName != "" {
		schemaVal = schemaName
	}
	rows.AddRow(id, "Tenant "+id, id, "", "active", schemaVal, migrationStatus, []byte(`{}`), nil, nil, int64(1), int64(1))
	return rows
}

func TestMigrateTenantNotFound(t *testing.T) {
	orch, mock, closeDB := newTestOrchestrator(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "slug", "domain", "status", "schema_name", "migration_status",
			"settings", "rollback_reason", "rollback_completed_at", "created_at", "updated_at",
		}))

	_, err := orch.MigrateTenant(context.Background(), "tnt_missing")
	if !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrateTenantRefusesCompleted(t *testing.T) {
	orch, mock, closeDB := newTestOrchestrator(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_1").
		WillReturnRows(tenantRow("tnt_1", "tenant_abc", models.MigrationCompleted))

	_, err := orch.MigrateTenant(context.Background(), "tnt_1")
	if !stderrors.Is(err, errors.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMigrateTenantRefusesInProgress(t *testing.T) {
	orch, mock, closeDB := newTestOrchestrator(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_1").
		WillReturnRows(tenantRow("tnt_1", "", models.MigrationMigrating))

	_, err := orch.MigrateTenant(context.Background(), "tnt_1")
	if !stderrors.Is(err, errors.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMigrateTenantResetsStateOnFailure(t *testing.T) {
	orch, mock, closeDB := newTestOrchestrator(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_1").
		WillReturnRows(tenantRow("tnt_1", "", models.MigrationHybrid))
	mock.ExpectExec("UPDATE tenants SET migration_status").
		WithArgs(models.MigrationMigrating, nil, sqlmock.AnyArg(), "tnt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("CREATE SCHEMA").
		WillReturnError(stderrors.New("disk full"))

	// The failure must put the tenant back in hybrid so a retry is possible.
	mock.ExpectExec("UPDATE tenants SET migration_status").
		WithArgs(models.MigrationHybrid, nil, sqlmock.AnyArg(), "tnt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := orch.MigrateTenant(context.Background(), "tnt_1"); err == nil {
		t.Fatal("expected migration to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecoverMigrationRequiresMigratingState(t *testing.T) {
	orch, mock, closeDB := newTestOrchestrator(t)
	defer closeDB()

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WithArgs("tnt_1").
		WillReturnRows(tenantRow("tnt_1", "tenant_abc", models.MigrationCompleted))

	_, err := orch.RecoverMigration(context.Background(), "tnt_1")
	if !stderrors.Is(err, errors.ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestSwitchToRequiresMigratedTenant(t *testing.T) {
	orch, _, closeDB := newTestOrchestrator(t)
	defer closeDB()

	hybrid := &models.Tenant{ID: "tnt_1", MigrationStatus: models.MigrationHybrid}
	if _, err := orch.SwitchTo(context.Background(), hybrid); !stderrors.Is(err, errors.ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
	if _, err := orch.SwitchTo(context.Background(), nil); !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for nil tenant, got %v", err)
	}
}

func expectStructureOK(mock sqlmock.Sqlmock, schemaName string) {
	for _, table := range schema.RequiredTables() {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(schemaName, table).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		cols, _ := schema.RequiredColumns(table)
		colRows := sqlmock.NewRows([]string{"column_name"})
		for _, col := range cols {
			colRows.AddRow(col)
		}
		mock.ExpectQuery("SELECT column_name FROM information_schema.columns").
			WithArgs(schemaName, table).
			WillReturnRows(colRows)
	}
}

func TestValidateCountsHybridAgainstSchema(t *testing.T) {
	orch, mock, closeDB := newTestOrchestrator(t)
	defer closeDB()

	expectStructureOK(mock, "tenant_abc")

	counts := map[string]int64{
		"students":      3,
		"courses":       2,
		"enrollments":   6,
		"grades":        6,
		"activity_logs": 4,
	}
	for _, pair := range repositories.HybridTables {
		mock.ExpectQuery(`SELECT COUNT(.+) FROM public."` + pair.Hybrid + `"`).
			WithArgs("tnt_1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(counts[pair.Hybrid]))
		mock.ExpectQuery(`SELECT COUNT(.+) FROM "tenant_abc".` + pair.Schema).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(counts[pair.Hybrid]))
	}

	ok, err := orch.Validate(context.Background(), "tnt_1", "tenant_abc")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !ok {
		t.Error("expected validation to pass when every count matches")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestValidateFailsOnMissingRows(t *testing.T) {
	orch, mock, closeDB := newTestOrchestrator(t)
	defer closeDB()

	expectStructureOK(mock, "tenant_abc")

	// First pair short-circuits: 3 students in hybrid, 2 in the schema.
	mock.ExpectQuery(`SELECT COUNT(.+) FROM public."students"`).
		WithArgs("tnt_1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(`SELECT COUNT(.+) FROM "tenant_abc".users`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	ok, err := orch.Validate(context.Background(), "tnt_1", "tenant_abc")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if ok {
		t.Error("expected validation to fail when schema rows are missing")
	}
}
