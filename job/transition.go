package job

import (
	"fmt"

	"github.com/workbenchio/conveyor/fault"
)

// edges is the allowed transition table. Any edge not listed here is
// rejected with WF_STATE_TRANSITION_INVALID and leaves the job unchanged.
var edges = map[Status][]Status{
	StatusQueued:              {StatusRunning},
	StatusRunning:             {StatusSucceeded, StatusRetrying, StatusDLQPending, StatusNeedsManualDecision},
	StatusRetrying:            {StatusRunning, StatusDLQPending},
	StatusDLQPending:          {StatusDLQRecorded},
	StatusDLQRecorded:         {StatusFailed},
	StatusNeedsManualDecision: {StatusRunning},
}

// CanTransition reports whether the edge from → to is in the table.
// A same-status transition is not an edge; callers treat it as a no-op.
func CanTransition(from, to Status) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition applies the edge from the job's current status to the
// target status, mutating the job in place. A transition to the current
// status is a no-op. Transitioning to StatusRetrying increments
// RetryCount as a side effect of the transition itself.
func Transition(j *Job, to Status) error {
	if j.Status == to {
		return nil
	}
	if !CanTransition(j.Status, to) {
		return fault.BusinessRule(
			fault.CodeStateTransitionInvalid,
			fmt.Sprintf("cannot transition job from %q to %q", j.Status, to),
		)
	}

	j.Status = to
	if to == StatusRetrying {
		j.RetryCount++
	}
	j.Touch()
	return nil
}

// Cancel force-sets a non-terminal job to failed, bypassing the edge
// table. Jobs that already reached a terminal status cannot be
// cancelled.
func Cancel(j *Job) error {
	if j.Status.Terminal() {
		return fault.BusinessRule(
			fault.CodeJobCancelConflict,
			fmt.Sprintf("job is already terminal (%q)", j.Status),
		)
	}

	j.Status = StatusFailed
	j.RecordError(fault.CodeJobCancelled, "job cancelled by caller")
	j.Touch()
	return nil
}
