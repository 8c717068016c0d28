package job

import (
	"context"
	"testing"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/fault"
	"github.com/workbenchio/conveyor/id"
)

func newJob(status Status) *Job {
	return &Job{
		Entity:     conveyor.NewEntity(),
		ID:         id.NewJobID(),
		TenantID:   "tenant-a",
		Type:       TypeEvaluation,
		Status:     status,
		ThreadID:   id.NewThreadID(),
		MaxRetries: 3,
	}
}

func TestTransitionEdgeTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusRunning, StatusSucceeded, true},
		{StatusRunning, StatusRetrying, true},
		{StatusRunning, StatusDLQPending, true},
		{StatusRunning, StatusNeedsManualDecision, true},
		{StatusRetrying, StatusRunning, true},
		{StatusRetrying, StatusDLQPending, true},
		{StatusDLQPending, StatusDLQRecorded, true},
		{StatusDLQRecorded, StatusFailed, true},
		{StatusNeedsManualDecision, StatusRunning, true},

		// Edges absent from the table.
		{StatusQueued, StatusSucceeded, false},
		{StatusQueued, StatusFailed, false},
		{StatusSucceeded, StatusRunning, false},
		{StatusFailed, StatusRunning, false},
		{StatusRetrying, StatusSucceeded, false},
		{StatusDLQPending, StatusRunning, false},
		{StatusNeedsManualDecision, StatusSucceeded, false},
		{StatusRunning, StatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			j := newJob(tt.from)
			err := Transition(j, tt.to)

			if tt.allowed {
				if err != nil {
					t.Fatalf("Transition: %v", err)
				}
				if j.Status != tt.to {
					t.Fatalf("status = %q, want %q", j.Status, tt.to)
				}
				return
			}

			if !fault.IsCode(err, fault.CodeStateTransitionInvalid) {
				t.Fatalf("want WF_STATE_TRANSITION_INVALID, got %v", err)
			}
			// Status must be unchanged on rejection.
			if j.Status != tt.from {
				t.Fatalf("status changed on invalid transition: %q", j.Status)
			}
		})
	}
}

func TestTransitionSameStatusIsNoOp(t *testing.T) {
	t.Parallel()

	j := newJob(StatusRunning)
	if err := Transition(j, StatusRunning); err != nil {
		t.Fatalf("same-status transition should be a no-op, got %v", err)
	}
	if j.RetryCount != 0 {
		t.Fatal("no-op transition must not mutate the job")
	}
}

func TestTransitionToRetryingIncrementsRetryCount(t *testing.T) {
	t.Parallel()

	j := newJob(StatusRunning)
	for want := 1; want <= 3; want++ {
		if err := Transition(j, StatusRetrying); err != nil {
			t.Fatalf("to retrying: %v", err)
		}
		if j.RetryCount != want {
			t.Fatalf("RetryCount = %d, want %d", j.RetryCount, want)
		}
		if err := Transition(j, StatusRunning); err != nil {
			t.Fatalf("back to running: %v", err)
		}
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   Status
		wantCode string
	}{
		{"queued", StatusQueued, ""},
		{"running", StatusRunning, ""},
		{"retrying", StatusRetrying, ""},
		{"needs manual decision", StatusNeedsManualDecision, ""},
		{"already succeeded", StatusSucceeded, fault.CodeJobCancelConflict},
		{"already failed", StatusFailed, fault.CodeJobCancelConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := newJob(tt.status)
			err := Cancel(j)

			if tt.wantCode != "" {
				if !fault.IsCode(err, tt.wantCode) {
					t.Fatalf("want %s, got %v", tt.wantCode, err)
				}
				if j.Status != tt.status {
					t.Fatal("cancel conflict must not change status")
				}
				return
			}

			if err != nil {
				t.Fatalf("Cancel: %v", err)
			}
			if j.Status != StatusFailed {
				t.Fatalf("status = %q, want failed", j.Status)
			}
			if j.LastError == "" {
				t.Fatal("cancelled job must carry a non-empty last_error")
			}
			if len(j.Errors) != 1 || j.Errors[0].Code != fault.CodeJobCancelled {
				t.Fatalf("error history = %+v, want one JOB_CANCELLED record", j.Errors)
			}
		})
	}
}

func TestRecordErrorPreservesHistory(t *testing.T) {
	t.Parallel()

	j := newJob(StatusRunning)
	j.RecordError("UPSTREAM_TIMEOUT", "first")
	j.RecordError("UPSTREAM_TIMEOUT", "second")

	if j.LastError != "second" {
		t.Fatalf("LastError = %q, want %q", j.LastError, "second")
	}
	if len(j.Errors) != 2 || j.Errors[0].Message != "first" {
		t.Fatalf("errors = %+v, want ordered history of 2", j.Errors)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(TypeParse, ExecutorFunc(func(_ context.Context, _ *Job) Outcome {
		return Succeeded(nil)
	}))

	if _, ok := r.Get(TypeParse); !ok {
		t.Fatal("expected parse executor")
	}
	if _, ok := r.Get(TypeEvaluation); ok {
		t.Fatal("unexpected evaluation executor")
	}
	if got := r.Types(); len(got) != 1 || got[0] != TypeParse {
		t.Fatalf("Types() = %v", got)
	}
}
