package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/workbenchio/conveyor/job"
)

// PanicErrorCode classifies executor panics in the fault table. A panic
// never succeeds on retry, so it maps to a permanent failure.
const PanicErrorCode = "EXECUTOR_PANIC"

// Recover returns middleware that recovers from panics in the executor
// chain. Panics are converted to permanent failures and logged with a
// stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (out job.Outcome) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job executor panicked",
					slog.String("job_type", string(j.Type)),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				out = job.PermanentFailure(PanicErrorCode, fmt.Sprintf("panic in %s job: %v", j.Type, r))
			}
		}()
		return next(ctx)
	}
}
