package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/workbenchio/conveyor/job"
)

// TimeoutErrorCode classifies executions cut off by the deadline. The
// default fault table treats unknown codes as transient, so a timed-out
// attempt is retried.
const TimeoutErrorCode = "EXECUTOR_TIMEOUT"

// Timeout returns middleware that enforces a per-attempt execution
// deadline. The executor runs with a context that is cancelled at the
// deadline; an attempt that outlives it is reported as a transient
// failure even if the executor later returns.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) job.Outcome {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		done := make(chan job.Outcome, 1)
		go func() { done <- next(ctx) }()

		select {
		case out := <-done:
			return out
		case <-ctx.Done():
			return job.TransientFailure(TimeoutErrorCode, fmt.Sprintf("%s job exceeded %s deadline", j.Type, d))
		}
	}
}
