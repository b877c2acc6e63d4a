package schema

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"tenantly/internal/pkg/errors"
)

func TestCreateSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("tenant_abc").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`CREATE SCHEMA "tenant_abc"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewStore(db)
	name, err := store.CreateSchema(context.Background(), "abc")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if name != "tenant_abc" {
		t.Errorf("name = %q, want tenant_abc", name)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateSchemaAlreadyExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("tenant_abc").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	store := NewStore(db)
	_, err = store.CreateSchema(context.Background(), "abc")
	if !stderrors.Is(err, errors.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateSchemaRejectsInvalidTenantID(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	store := NewStore(db)
	_, err = store.CreateSchema(context.Background(), `abc";DROP SCHEMA public;--`)
	if !stderrors.Is(err, errors.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestDropSchemaNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("tenant_gone").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	store := NewStore(db)
	err = store.DropSchema(context.Background(), "tenant_gone")
	if !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestValidateStructureMissingTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	for i, table := range RequiredTables() {
		// First table is reported missing, the rest present with all columns.
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("tenant_abc", table).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(i != 0))
		if i == 0 {
			continue
		}
		cols, _ := RequiredColumns(table)
		rows := sqlmock.NewRows([]string{"column_name"})
		for _, col := range cols {
			rows.AddRow(col)
		}
		mock.ExpectQuery("SELECT column_name FROM information_schema.columns").
			WithArgs("tenant_abc", table).
			WillReturnRows(rows)
	}

	store := NewStore(db)
	report, err := store.ValidateStructure(context.Background(), "tenant_abc")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if report.Valid {
		t.Error("expected invalid report")
	}
	if len(report.Errors) != 1 || report.Errors[0] != "Missing required table: users" {
		t.Errorf("errors = %v, want single missing users table", report.Errors)
	}
	if len(report.Tables) != len(RequiredTables())-1 {
		t.Errorf("tables = %v", report.Tables)
	}
}

func TestValidateStructureMissingColumn(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	for _, table := range RequiredTables() {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("tenant_abc", table).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		cols, _ := RequiredColumns(table)
		rows := sqlmock.NewRows([]string{"column_name"})
		for _, col := range cols {
			if table == "users" && col == "external_id" {
				continue
			}
			rows.AddRow(col)
		}
		mock.ExpectQuery("SELECT column_name FROM information_schema.columns").
			WithArgs("tenant_abc", table).
			WillReturnRows(rows)
	}

	store := NewStore(db)
	report, err := store.ValidateStructure(context.Background(), "tenant_abc")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if report.Valid {
		t.Error("expected invalid report")
	}
	if len(report.Errors) != 1 || report.Errors[0] != "Missing column users.external_id" {
		t.Errorf("errors = %v", report.Errors)
	}
}

func TestCountRowsRejectsUnknownTable(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	store := NewStore(db)
	if _, err := store.CountRows(context.Background(), "tenant_abc", "pg_shadow"); err == nil {
		t.Fatal("expected error for table outside the canonical set")
	}
}

func TestComputeStatistics(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	counts := map[string]int64{"users": 3, "courses": 2, "enrollments": 6, "grades": 6, "activity_logs": 4}
	for _, table := range RequiredTables() {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "tenant_abc"\.` + table).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(counts[table]))
		mock.ExpectQuery("SELECT pg_total_relation_size").
			WithArgs("tenant_abc." + table).
			WillReturnRows(sqlmock.NewRows([]string{"pg_total_relation_size"}).AddRow(int64(8192)))
	}

	store := NewStore(db)
	stats, err := store.ComputeStatistics(context.Background(), "tenant_abc")
	if err != nil {
		t.Fatalf("statistics failed: %v", err)
	}

	if stats.TableCount != len(RequiredTables()) {
		t.Errorf("table count = %d, want %d", stats.TableCount, len(RequiredTables()))
	}
	if stats.TotalRows != 21 {
		t.Errorf("total rows = %d, want 21", stats.TotalRows)
	}
	if stats.SizeBytes != int64(8192*len(RequiredTables())) {
		t.Errorf("size = %d", stats.SizeBytes)
	}
	if stats.PerTable["users"].Rows != 3 {
		t.Errorf("users rows = %d, want 3", stats.PerTable["users"].Rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestComputeStatisticsRejectsInvalidName(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	store := NewStore(db)
	if _, err := store.ComputeStatistics(context.Background(), `bad"name`); err == nil {
		t.Fatal("expected invalid schema name to be rejected")
	}
}
