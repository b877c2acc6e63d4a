package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apiContext "tenantly/internal/api/context"
	"tenantly/internal/platform/auth"
	"tenantly/internal/platform/config"
)

func newTestAuthMiddleware() (*AuthMiddleware, *auth.TokenService) {
	svc := auth.NewTokenService(config.JWTConfig{
		Secret:         "test-secret",
		AccessTokenTTL: time.Hour,
	})
	return NewAuthMiddleware(svc), svc
}

func TestAuthMissingHeader(t *testing.T) {
	m, _ := newTestAuthMiddleware()

	rec := httptest.NewRecorder()
	m.Handle(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a token")
	})(rec, httptest.NewRequest("GET", "/api/v1/tenants", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMalformedHeader(t *testing.T) {
	m, _ := newTestAuthMiddleware()

	for _, header := range []string{"token abc", "Bearer", "Bearer a b"} {
		req := httptest.NewRequest("GET", "/api/v1/tenants", nil)
		req.Header.Set("Authorization", header)

		rec := httptest.NewRecorder()
		m.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("handler must not run for header %q", header)
		})(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestAuthRejectsForgedToken(t *testing.T) {
	m, _ := newTestAuthMiddleware()
	forged := auth.NewTokenService(config.JWTConfig{Secret: "other-secret", AccessTokenTTL: time.Hour})
	token, err := forged.GenerateAccessToken("idn_1", "ann@example.com", false)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	m.Handle(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for a forged token")
	})(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	m, _ := newTestAuthMiddleware()
	expired := auth.NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: -time.Hour})
	token, err := expired.GenerateAccessToken("idn_1", "ann@example.com", false)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	m.Handle(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for an expired token")
	})(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireSuperAdmin(t *testing.T) {
	handler := RequireSuperAdmin(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/tenants", nil)
	handler(rec, req.WithContext(context.WithValue(req.Context(), apiContext.Claims,
		&auth.Claims{IdentityID: "idn_1"})))
	if rec.Code != http.StatusForbidden {
		t.Errorf("regular user: status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, req.WithContext(context.WithValue(req.Context(), apiContext.Claims,
		&auth.Claims{IdentityID: "idn_1", SuperAdmin: true})))
	if rec.Code != http.StatusOK {
		t.Errorf("super admin: status = %d, want 200", rec.Code)
	}
}

func TestAuthInjectsClaims(t *testing.T) {
	m, svc := newTestAuthMiddleware()
	token, err := svc.GenerateAccessToken("idn_1", "ann@example.com", true)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	ran := false
	rec := httptest.NewRecorder()
	m.Handle(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
		if !ok {
			t.Fatal("claims missing from context")
		}
		if claims.IdentityID != "idn_1" {
			t.Errorf("identity = %q", claims.IdentityID)
		}
		if claims.Email != "ann@example.com" {
			t.Errorf("email = %q", claims.Email)
		}
		if !claims.SuperAdmin {
			t.Error("super admin flag lost")
		}
	})(rec, req)

	if !ran {
		t.Fatal("handler did not run for a valid token")
	}
}
