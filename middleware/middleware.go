// Package middleware provides composable middleware for job execution.
// Middleware wraps executor calls synchronously and can modify execution
// (recover from panics, inject tenant scope, log, add tracing, etc.).
package middleware

import (
	"context"

	"github.com/workbenchio/conveyor/job"
)

// Handler is the terminal function that executes job logic and returns
// its verdict.
type Handler func(ctx context.Context) job.Outcome

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the job being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on failure).
type Middleware func(ctx context.Context, j *job.Job, next Handler) job.Outcome

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, scope) executes as:
//
//	logging → recover → scope → executor
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) job.Outcome {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) job.Outcome {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}

// Wrap applies a middleware chain around an executor, returning a new
// executor usable anywhere the original was.
func Wrap(exec job.Executor, mws ...Middleware) job.Executor {
	chain := Chain(mws...)
	return job.ExecutorFunc(func(ctx context.Context, j *job.Job) job.Outcome {
		return chain(ctx, j, func(ctx context.Context) job.Outcome {
			return exec.Execute(ctx, j)
		})
	})
}
