package tenant

import (
	"context"
	"net"
	"net/http"
	"strings"

	"tenantly/internal/platform/auth"
	"tenantly/internal/platform/models"
	"tenantly/internal/platform/repositories"
)

// HeaderTenantID is the explicit tenant override header.
const HeaderTenantID = "X-Tenant-ID"

type Resolver struct {
	tenants    *repositories.TenantRepository
	identities *repositories.IdentityRepository
	baseDomain string
}

func NewResolver(tenants *repositories.TenantRepository, identities *repositories.IdentityRepository, baseDomain string) *Resolver {
	return &Resolver{tenants: tenants, identities: identities, baseDomain: baseDomain}
}

// Resolve finds the tenant a request is addressed to. Order: host mapping,
// then the X-Tenant-ID header, then the path parameter. Returns nil when
// nothing matches; the caller decides how to report existence vs. active-ness.
func (r *Resolver) Resolve(req *http.Request, pathParam string) (*models.Tenant, error) {
	if t, err := r.resolveHost(req.Context(), req.Host); err != nil || t != nil {
		return t, err
	}

	if id := req.Header.Get(HeaderTenantID); id != "" {
		t, err := r.tenants.GetByID(req.Context(), id)
		if err != nil || t != nil {
			return t, err
		}
	}

	if pathParam != "" {
		t, err := r.tenants.GetByID(req.Context(), pathParam)
		if err != nil || t != nil {
			return t, err
		}
		return r.tenants.GetBySlug(req.Context(), pathParam)
	}

	return nil, nil
}

func (r *Resolver) resolveHost(ctx context.Context, host string) (*models.Tenant, error) {
	if host == "" {
		return nil, nil
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	t, err := r.tenants.GetByDomain(ctx, host)
	if err != nil || t != nil {
		return t, err
	}

	// acme.example.com -> slug "acme" when example.com is ours
	if r.baseDomain != "" && strings.HasSuffix(host, "."+r.baseDomain) {
		slug := strings.TrimSuffix(host, "."+r.baseDomain)
		if slug != "" && !strings.Contains(slug, ".") {
			return r.tenants.GetBySlug(ctx, slug)
		}
	}
	return nil, nil
}

// ValidateUserAccess reports whether the identity may act inside the tenant:
// an active membership, or the super-admin flag. Super-admin is the only way
// in while the tenant is in maintenance.
func (r *Resolver) ValidateUserAccess(ctx context.Context, claims *auth.Claims, t *models.Tenant) (bool, error) {
	if claims == nil || t == nil {
		return false, nil
	}
	if claims.SuperAdmin {
		return true, nil
	}
	if t.Status == models.TenantMaintenance {
		return false, nil
	}

	m, err := r.identities.GetMembership(ctx, claims.IdentityID, t.ID)
	if err != nil {
		return false, err
	}
	return m != nil && m.Status == "active", nil
}
