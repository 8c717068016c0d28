// Package scope carries multi-tenant execution identity on the context
// and provides fail-closed tenant checks. Every store operation takes a
// tenant identifier; a mismatch between the caller's tenant and the
// resource's tenant always denies, never defaults to allow.
package scope

import (
	"context"

	"github.com/workbenchio/conveyor/fault"
)

type ctxKey struct{}

// Scope identifies the tenant (and optionally the trace) of the current
// operation.
type Scope struct {
	TenantID string
	TraceID  string
}

// WithTenant attaches a tenant scope to the context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return With(ctx, Scope{TenantID: tenantID})
}

// With attaches a full scope to the context.
func With(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// From extracts the scope from the context. The second return value
// reports whether a scope was present.
func From(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	return s, ok
}

// TenantFrom extracts the tenant identifier from the context, or empty
// string if no scope is present.
func TenantFrom(ctx context.Context) string {
	s, _ := From(ctx)
	return s.TenantID
}

// Check verifies that the caller's tenant matches the tenant recorded on
// a resource. Returns a security fault on mismatch or when either side
// is empty — tenancy is never optional on scoped resources.
func Check(callerTenant, resourceTenant string) error {
	if callerTenant == "" || resourceTenant == "" || callerTenant != resourceTenant {
		return fault.Security(fault.CodeTenantMismatch, "resource belongs to a different tenant")
	}
	return nil
}
