package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "tenantly/internal/api/context"
	"tenantly/internal/api/handlers"
	"tenantly/internal/api/middleware"
	"tenantly/internal/pkg/metrics"
)

type Dependencies struct {
	IdentityHandler   *handlers.IdentityHandler
	TenantHandler     *handlers.TenantHandler
	MigrationHandler  *handlers.MigrationHandler
	RollbackHandler   *handlers.RollbackHandler
	SyncHandler       *handlers.SyncHandler
	ValidationHandler *handlers.ValidationHandler
	HealthHandler     *handlers.HealthHandler
	AuthMiddleware    *middleware.AuthMiddleware
	Gateway           *middleware.Gateway
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	router.GET("/healthz", wrap(deps.HealthHandler.Check))
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())

	// Authentication
	router.POST("/api/v1/auth/register", wrap(deps.IdentityHandler.Register))
	router.POST("/api/v1/auth/login", wrap(deps.IdentityHandler.Login))

	authMid := deps.AuthMiddleware
	gateway := deps.Gateway

	// Tenant administration. Lifecycle operations act ON a tenant from the
	// shared plane, so they pass authentication and super-admin checks but
	// not the gateway.
	router.POST("/api/v1/tenants",
		chain(deps.TenantHandler.Create, authMid.Handle, middleware.RequireSuperAdmin))
	router.GET("/api/v1/tenants",
		chain(deps.TenantHandler.List, authMid.Handle, middleware.RequireSuperAdmin))
	router.GET("/api/v1/tenants/:tenant_id",
		chain(deps.TenantHandler.Get, authMid.Handle, middleware.RequireSuperAdmin))
	router.PATCH("/api/v1/tenants/:tenant_id/status",
		chain(deps.TenantHandler.UpdateStatus, authMid.Handle, middleware.RequireSuperAdmin))
	router.PATCH("/api/v1/tenants/:tenant_id/settings",
		chain(deps.TenantHandler.UpdateSettings, authMid.Handle, middleware.RequireSuperAdmin))

	// Membership management
	router.GET("/api/v1/memberships",
		chain(deps.IdentityHandler.ListMemberships, authMid.Handle))
	router.POST("/api/v1/tenants/:tenant_id/memberships",
		chain(deps.IdentityHandler.GrantMembership, authMid.Handle, middleware.RequireSuperAdmin))
	router.DELETE("/api/v1/tenants/:tenant_id/memberships/:identity_id",
		chain(deps.IdentityHandler.RevokeMembership, authMid.Handle, middleware.RequireSuperAdmin))

	// Migration lifecycle
	router.POST("/api/v1/tenants/:tenant_id/migrate",
		chain(deps.MigrationHandler.Migrate, authMid.Handle, middleware.RequireSuperAdmin))
	router.POST("/api/v1/tenants/:tenant_id/migrate/recover",
		chain(deps.MigrationHandler.Recover, authMid.Handle, middleware.RequireSuperAdmin))
	router.GET("/api/v1/tenants/:tenant_id/migration",
		chain(deps.MigrationHandler.Status, authMid.Handle, middleware.RequireSuperAdmin))
	router.POST("/api/v1/tenants/:tenant_id/validate",
		chain(deps.ValidationHandler.Validate, authMid.Handle, middleware.RequireSuperAdmin))
	router.POST("/api/v1/validate",
		chain(deps.ValidationHandler.ValidateAll, authMid.Handle, middleware.RequireSuperAdmin))

	// Rollback
	router.POST("/api/v1/tenants/:tenant_id/rollback",
		chain(deps.RollbackHandler.Rollback, authMid.Handle, middleware.RequireSuperAdmin))
	router.POST("/api/v1/tenants/:tenant_id/rollback/recover",
		chain(deps.RollbackHandler.Recover, authMid.Handle, middleware.RequireSuperAdmin))
	router.POST("/api/v1/rollback",
		chain(deps.RollbackHandler.RollbackAll, authMid.Handle, middleware.RequireSuperAdmin))
	router.POST("/api/v1/schemas/cleanup",
		chain(deps.RollbackHandler.CleanupOrphans, authMid.Handle, middleware.RequireSuperAdmin))

	// Cross-tenant sync
	router.POST("/api/v1/sync/entity",
		chain(deps.SyncHandler.SyncEntity, authMid.Handle, middleware.RequireSuperAdmin))
	router.POST("/api/v1/sync/batch",
		chain(deps.SyncHandler.BatchSync, authMid.Handle, middleware.RequireSuperAdmin))
	router.GET("/api/v1/sync/jobs/:job_id",
		chain(deps.SyncHandler.JobStatus, authMid.Handle, middleware.RequireSuperAdmin))
	router.GET("/api/v1/tenants/:tenant_id/sync/stats",
		chain(deps.SyncHandler.Statistics, authMid.Handle, middleware.RequireSuperAdmin))
	router.DELETE("/api/v1/sync/logs",
		chain(deps.SyncHandler.CleanupLogs, authMid.Handle, middleware.RequireSuperAdmin))

	// Tenant-scoped data plane. Every request passes the gateway, which
	// resolves the tenant, checks access and pins the schema.
	router.GET("/api/v1/t/:tenant_id/profile",
		chain(deps.TenantHandler.Profile, authMid.Handle, gateway.Handle))

	return router
}

// chain applies middlewares right to left so the first listed runs first.
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// wrap converts an http.HandlerFunc to an httprouter.Handle, stashing the
// path params in the request context.
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
