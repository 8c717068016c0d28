package workflow

import (
	"time"

	"github.com/workbenchio/conveyor/id"
)

// Kind distinguishes the two checkpoint formats that share one
// per-thread sequence.
type Kind string

const (
	// KindAudit is a lightweight step-outcome record written by the job
	// state machine.
	KindAudit Kind = "audit"
	// KindRuntime is the richer format consumed by an external
	// graph-execution runtime: serialized state snapshot, parent
	// pointer, pending writes.
	KindRuntime Kind = "runtime"
)

// Checkpoint statuses.
const (
	StatusOK          = "ok"
	StatusError       = "error"
	StatusInterrupted = "interrupted"
)

// Node names the state machine checkpoints under.
const (
	NodeJobStarted   = "job_started"
	NodeJobRetrying  = "job_retrying"
	NodeDLQPending   = "dlq_pending"
	NodeDLQRecorded  = "dlq_recorded"
	NodeJobFailed    = "job_failed"
	NodeJobSucceeded = "job_succeeded"
	NodeInterrupt    = "interrupt"
)

// PendingWrite is one buffered write attached to a runtime checkpoint
// before the next checkpoint supersedes it.
type PendingWrite struct {
	TaskID  string `json:"task_id"`
	Channel string `json:"channel"`
	Value   []byte `json:"value"`
}

// Checkpoint is one append-only row in a thread's history. Seq is
// strictly increasing and unique within a thread; rows are never
// mutated after append, with the single exception of merging pending
// writes into a runtime checkpoint.
type Checkpoint struct {
	ID       id.ID  `json:"id"`
	ThreadID id.ID  `json:"thread_id"`
	JobID    id.ID  `json:"job_id"`
	TenantID string `json:"tenant_id"`

	Seq    int64  `json:"seq"`
	Node   string `json:"node"`
	Status string `json:"status"`
	Kind   Kind   `json:"kind"`

	// Payload is the step outcome or, for interrupts, the review
	// payload. Opaque to the kernel.
	Payload []byte `json:"payload,omitempty"`

	// Runtime-kind fields.
	Snapshot      []byte         `json:"snapshot,omitempty"`
	ParentID      id.ID          `json:"parent_id,omitempty"`
	PendingWrites []PendingWrite `json:"pending_writes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
