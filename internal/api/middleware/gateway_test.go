package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	apiContext "tenantly/internal/api/context"
	"tenantly/internal/engine/lifecycle"
	"tenantly/internal/engine/schema"
	apiErrors "tenantly/internal/pkg/errors"
	"tenantly/internal/platform/audit"
	"tenantly/internal/platform/auth"
	"tenantly/internal/platform/repositories"
	"tenantly/internal/platform/tenant"
)

func newTestGateway(t *testing.T) (*Gateway, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}

	tenantRepo := repositories.NewTenantRepository(db)
	resolver := tenant.NewResolver(tenantRepo, repositories.NewIdentityRepository(db), "example.com")
	orch := lifecycle.NewOrchestrator(db, schema.NewStore(db), tenantRepo, repositories.NewHybridRepository(db))
	gw := NewGateway(resolver, orch, nil, nil, audit.NewLogger(db))
	return gw, mock, func() { db.Close() }
}

func emptyTenantRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "slug", "domain", "status", "schema_name", "migration_status",
		"settings", "rollback_reason", "rollback_completed_at", "created_at", "updated_at",
	})
}

func oneTenantRow(id, status, migrationStatus, schemaName string) *sqlmock.Rows {
	var schemaVal interface{}
	if schemaName != "" {
		schemaVal = schemaName
	}
	return emptyTenantRows().
		AddRow(id, "Tenant "+id, id, "", status, schemaVal, migrationStatus, []byte(`{}`), nil, nil, int64(1), int64(1))
}

// expectResolveByHeader mocks the host miss followed by the header id hit.
func expectResolveByHeader(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE domain").
		WithArgs("api.internal").
		WillReturnRows(emptyTenantRows())
	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WillReturnRows(rows)
}

func gatewayRequest(tenantID string, claims *auth.Claims) *http.Request {
	req := httptest.NewRequest("GET", "http://api.internal/api/v1/t/profile", nil)
	req.Host = "api.internal"
	if tenantID != "" {
		req.Header.Set(tenant.HeaderTenantID, tenantID)
	}
	if claims != nil {
		req = req.WithContext(context.WithValue(req.Context(), apiContext.Claims, claims))
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body apiErrors.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	return body.Code, body.Message
}

func TestGatewayUnknownTenant(t *testing.T) {
	gw, mock, closeDB := newTestGateway(t)
	defer closeDB()

	expectResolveByHeader(mock, emptyTenantRows())

	rec := httptest.NewRecorder()
	handler := gw.Handle(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for an unknown tenant")
	})
	handler(rec, gatewayRequest("tnt_missing", &auth.Claims{IdentityID: "idn_1"}))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if _, msg := decodeError(t, rec); msg != "Tenant not found" {
		t.Errorf("message = %q", msg)
	}
}

func TestGatewayInactiveTenant(t *testing.T) {
	gw, mock, closeDB := newTestGateway(t)
	defer closeDB()

	expectResolveByHeader(mock, oneTenantRow("tnt_1", "inactive", "hybrid", ""))

	rec := httptest.NewRecorder()
	handler := gw.Handle(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for an inactive tenant")
	})
	handler(rec, gatewayRequest("tnt_1", &auth.Claims{IdentityID: "idn_1"}))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if _, msg := decodeError(t, rec); msg != "Tenant is not active" {
		t.Errorf("message = %q", msg)
	}
}

func TestGatewayMaintenanceBlocksRegularUser(t *testing.T) {
	gw, mock, closeDB := newTestGateway(t)
	defer closeDB()

	expectResolveByHeader(mock, oneTenantRow("tnt_1", "maintenance", "hybrid", ""))

	rec := httptest.NewRecorder()
	handler := gw.Handle(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run during maintenance")
	})
	handler(rec, gatewayRequest("tnt_1", &auth.Claims{IdentityID: "idn_1"}))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestGatewayMaintenanceAdmitsSuperAdmin(t *testing.T) {
	gw, mock, closeDB := newTestGateway(t)
	defer closeDB()

	expectResolveByHeader(mock, oneTenantRow("tnt_1", "maintenance", "hybrid", ""))

	ran := false
	rec := httptest.NewRecorder()
	handler := gw.Handle(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		if got := tenant.Current(r.Context()); got == nil || got.ID != "tnt_1" {
			t.Errorf("tenant in context = %+v", got)
		}
		w.WriteHeader(http.StatusOK)
	})
	handler(rec, gatewayRequest("tnt_1", &auth.Claims{IdentityID: "idn_1", SuperAdmin: true}))

	if !ran {
		t.Fatal("handler did not run for super admin")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGatewayDeniesNonMember(t *testing.T) {
	gw, mock, closeDB := newTestGateway(t)
	defer closeDB()

	expectResolveByHeader(mock, oneTenantRow("tnt_1", "active", "hybrid", ""))
	mock.ExpectQuery("SELECT (.+) FROM memberships").
		WithArgs("idn_1", "tnt_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "identity_id", "tenant_id", "role", "permissions", "status", "created_at", "updated_at",
		}))

	rec := httptest.NewRecorder()
	handler := gw.Handle(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a membership")
	})
	handler(rec, gatewayRequest("tnt_1", &auth.Claims{IdentityID: "idn_1"}))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if _, msg := decodeError(t, rec); msg != "Access denied" {
		t.Errorf("message = %q", msg)
	}
}

func TestGatewayAdmitsActiveMember(t *testing.T) {
	gw, mock, closeDB := newTestGateway(t)
	defer closeDB()

	expectResolveByHeader(mock, oneTenantRow("tnt_1", "active", "hybrid", ""))
	mock.ExpectQuery("SELECT (.+) FROM memberships").
		WithArgs("idn_1", "tnt_1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "identity_id", "tenant_id", "role", "permissions", "status", "created_at", "updated_at",
		}).AddRow("mbr_1", "idn_1", "tnt_1", "member", []byte(`[]`), "active", int64(1), int64(1)))

	ran := false
	rec := httptest.NewRecorder()
	handler := gw.Handle(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		w.WriteHeader(http.StatusNoContent)
	})
	handler(rec, gatewayRequest("tnt_1", &auth.Claims{IdentityID: "idn_1"}))

	if !ran {
		t.Fatal("handler did not run for an active member")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}
