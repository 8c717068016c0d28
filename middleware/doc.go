// Package middleware provides composable middleware for job execution.
//
// A [Middleware] is a function that wraps a job executor. Middleware are
// composed into a chain using [Chain] (or applied directly to an executor
// with [Wrap]) and run around each execution attempt. They are applied
// right-to-left: the first middleware in the slice is the outermost
// wrapper.
//
//	// logging → recover → executor
//	exec := middleware.Wrap(exec, middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs job type, tenant, duration, and verdict at each attempt
//   - [Recover] — catches panics and converts them to permanent failures
//   - [Timeout] — cancels the attempt context after a configured duration
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-attempt duration and outcome counters
//   - [Scope] — restores the job's tenant scope into the context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) job.Outcome {
//	        // pre-processing
//	        out := next(ctx)
//	        // post-processing
//	        return out
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
