package tenant

import (
	"context"

	apiContext "tenantly/internal/api/context"
	"tenantly/internal/platform/models"
)

// The active tenant is request-scoped state carried on the context, never a
// package global: concurrent requests in one process must not observe each
// other's tenant.

// WithCurrent returns a child context carrying the active tenant.
func WithCurrent(ctx context.Context, t *models.Tenant) context.Context {
	return context.WithValue(ctx, apiContext.Tenant, t)
}

// Current returns the active tenant, or nil when none is set.
func Current(ctx context.Context) *models.Tenant {
	if t, ok := ctx.Value(apiContext.Tenant).(*models.Tenant); ok {
		return t
	}
	return nil
}

// Clear returns a child context with no active tenant. Used on request exit so
// nothing downstream of the gateway can keep resolving against the old tenant.
func Clear(ctx context.Context) context.Context {
	return context.WithValue(ctx, apiContext.Tenant, (*models.Tenant)(nil))
}
