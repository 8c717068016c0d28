package middleware

import (
	"context"

	"github.com/workbenchio/conveyor/job"
	"github.com/workbenchio/conveyor/scope"
)

// Scope returns middleware that restores tenant scope from the job's
// TenantID and TraceID into the context. Executors see the same scope
// as the original submit caller.
func Scope() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) job.Outcome {
		ctx = scope.With(ctx, scope.Scope{TenantID: j.TenantID, TraceID: j.TraceID})
		return next(ctx)
	}
}
