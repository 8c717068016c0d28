// Package hook defines the lifecycle extension system for Conveyor.
// Extensions are notified of lifecycle events (job submitted, started,
// retrying, dead-lettered, etc.) and can react to them — logging,
// metrics, audit trails, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/workbenchio/conveyor/dlq"
	"github.com/workbenchio/conveyor/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job and its outbox event are persisted.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobStarted is called when the state machine begins an execution attempt.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobSucceeded is called after a job reaches the succeeded terminal state.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when an attempt fails transiently and a retry is
// scheduled.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, retryAfter time.Duration) error
}

// JobFailed is called when a job reaches the failed terminal state.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, errorCode string) error
}

// JobDLQ is called when a job is recorded in the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, item *dlq.Item) error
}

// JobInterrupted is called when execution pauses for a human decision.
type JobInterrupted interface {
	OnJobInterrupted(ctx context.Context, j *job.Job, reasons []string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
