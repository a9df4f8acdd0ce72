package truth

import (
	"context"

	"github.com/google/uuid"
)

// Tenant is the per-request scope every read and write must be checked
// against. It is supplied by an external auth collaborator (§6) and
// carried on the context.
type Tenant struct {
	CompanyID uuid.UUID
	ActorID   uuid.UUID
	MemberID  uuid.UUID
	Authority string
}

type tenantKey struct{}

// WithTenant attaches t to ctx for the duration of a request.
func WithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

// TenantFromContext retrieves the Tenant attached by WithTenant.
// ok is false when no tenant was attached.
func TenantFromContext(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(tenantKey{}).(Tenant)
	return t, ok
}

// ErrForbidden reports a companyId that does not match the caller's
// tenant. AssertOwned returns it; the truth/postgres store methods do not
// call AssertOwned.
var ErrForbidden = newErr(CodeForbidden, "forbidden: company mismatch")

// ErrNoMembership is returned when the context carries no tenant at all.
var ErrNoMembership = newErr(CodeNoMembership, "no membership: missing tenant context")

// RequireTenant extracts the tenant from ctx or returns ErrNoMembership.
func RequireTenant(ctx context.Context) (Tenant, error) {
	t, ok := TenantFromContext(ctx)
	if !ok {
		return Tenant{}, ErrNoMembership
	}
	return t, nil
}

// AssertOwned fails with ErrForbidden if companyID does not match the
// tenant on ctx, and with ErrNoMembership if ctx carries no tenant. No
// repository method in truth/postgres calls it, so those methods read and
// write rows without a tenant check.
func AssertOwned(ctx context.Context, companyID uuid.UUID) error {
	t, err := RequireTenant(ctx)
	if err != nil {
		return err
	}
	if t.CompanyID != companyID {
		return ErrForbidden
	}
	return nil
}
