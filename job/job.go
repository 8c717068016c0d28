package job

import (
	"time"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/id"
)

// Type enumerates the kinds of work the kernel schedules.
type Type string

const (
	TypeUpload             Type = "upload"
	TypeParse              Type = "parse"
	TypeEvaluation         Type = "evaluation"
	TypeResume             Type = "resume"
	TypeRequeue            Type = "requeue"
	TypeReplayVerification Type = "replay_verification"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusQueued means the job is waiting to be picked up by a worker.
	StatusQueued Status = "queued"
	// StatusRunning means a worker is currently executing the job.
	StatusRunning Status = "running"
	// StatusRetrying means the job failed transiently and is scheduled
	// for another attempt.
	StatusRetrying Status = "retrying"
	// StatusDLQPending means retries are exhausted and a dead-letter
	// item is about to be recorded.
	StatusDLQPending Status = "dlq_pending"
	// StatusDLQRecorded means the dead-letter item exists.
	StatusDLQRecorded Status = "dlq_recorded"
	// StatusFailed is terminal: the job will never run again.
	StatusFailed Status = "failed"
	// StatusSucceeded is terminal: the job finished successfully.
	StatusSucceeded Status = "succeeded"
	// StatusNeedsManualDecision means the job is paused waiting for a
	// human decision, resumable via a resume token.
	StatusNeedsManualDecision Status = "needs_manual_decision"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Runnable reports whether a job in this status may be picked up for
// execution.
func (s Status) Runnable() bool {
	return s == StatusQueued || s == StatusRetrying || s == StatusNeedsManualDecision
}

// ResourceRef identifies the business object a job acts on.
type ResourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ErrorRecord is one entry in a job's append-only error history.
type ErrorRecord struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Attempt    int       `json:"attempt"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Job represents one schedulable unit of work with a lifecycle status
// and retry history. Jobs are mutated only through state-machine
// transitions and are never deleted; terminal states are final rows.
type Job struct {
	conveyor.Entity

	ID       id.ID  `json:"id"`
	TenantID string `json:"tenant_id"`
	Type     Type   `json:"type"`
	Status   Status `json:"status"`

	// ThreadID correlates the job to its checkpoint log thread.
	ThreadID id.ID `json:"thread_id"`
	// TraceID propagates into checkpoints and audit entries.
	TraceID string `json:"trace_id,omitempty"`

	Resource ResourceRef `json:"resource"`
	Payload  Payload     `json:"payload"`

	MaxRetries int `json:"max_retries"`
	RetryCount int `json:"retry_count"`

	LastError string        `json:"last_error,omitempty"`
	Errors    []ErrorRecord `json:"errors,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RecordError appends to the job's ordered error history and updates
// LastError. Older entries are preserved, never overwritten.
func (j *Job) RecordError(code, message string) {
	j.LastError = message
	j.Errors = append(j.Errors, ErrorRecord{
		Code:       code,
		Message:    message,
		Attempt:    j.RetryCount,
		OccurredAt: time.Now().UTC(),
	})
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Errors != nil {
		cp.Errors = make([]ErrorRecord, len(j.Errors))
		copy(cp.Errors, j.Errors)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
