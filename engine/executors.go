package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/fault"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/job"
)

// Error codes raised by the built-in executors.
const (
	// ErrResumeTargetInvalid means the resume job does not reference a
	// resumable original job.
	ErrResumeTargetInvalid = "RESUME_TARGET_INVALID"
	// ErrResumeTargetRetrying means the original job's attempt failed
	// transiently; the resume job retries with it.
	ErrResumeTargetRetrying = "RESUME_TARGET_RETRYING"
	// ErrRequeueTargetInvalid means the requeue job does not reference
	// a re-runnable original job.
	ErrRequeueTargetInvalid = "REQUEUE_TARGET_INVALID"
	// ErrTargetUnavailable means the store could not serve the original
	// job; unknown to the classification table, so retried.
	ErrTargetUnavailable = "TARGET_UNAVAILABLE"
)

// resumeExecutor drives a paused original job forward. The resume job
// succeeds once the original reaches a terminal state (even a failed
// one whose dead-letter item was already recorded on the original); a
// retrying original keeps the resume job alive as a transient failure
// so the runtime re-polls it with backoff.
func (e *Engine) resumeExecutor() job.ExecutorFunc {
	return func(ctx context.Context, rj *job.Job) job.Outcome {
		origID, err := id.ParseJobID(rj.Resource.ID)
		if err != nil {
			return job.PermanentFailure(ErrResumeTargetInvalid, fmt.Sprintf("resource %q is not a job id", rj.Resource.ID))
		}

		res, err := e.RunOnce(ctx, rj.TenantID, origID)
		if err != nil {
			if errors.Is(err, conveyor.ErrJobNotFound) || fault.IsCode(err, fault.CodeStateTransitionInvalid) {
				return job.PermanentFailure(ErrResumeTargetInvalid, err.Error())
			}
			return job.TransientFailure(ErrTargetUnavailable, err.Error())
		}

		switch res.Status {
		case job.StatusRetrying:
			return job.TransientFailure(ErrResumeTargetRetrying, "resumed job is retrying")
		default:
			summary, _ := json.Marshal(map[string]string{
				"resumed_job_id": origID.String(),
				"final_status":   string(res.Status),
			})
			return job.Succeeded(summary)
		}
	}
}

// requeueExecutor re-runs the work of a dead-lettered job under the
// requeue job's own fresh lifecycle. The original row stays terminal;
// only its payload and executor are reused.
func (e *Engine) requeueExecutor() job.ExecutorFunc {
	return func(ctx context.Context, rj *job.Job) job.Outcome {
		if rj.Payload.Requeue == nil {
			return job.PermanentFailure(ErrRequeueTargetInvalid, "requeue job carries no requeue payload")
		}
		origID, err := id.ParseJobID(rj.Payload.Requeue.OriginalJobID)
		if err != nil {
			return job.PermanentFailure(ErrRequeueTargetInvalid, fmt.Sprintf("original job id %q is invalid", rj.Payload.Requeue.OriginalJobID))
		}

		orig, err := e.store.GetJob(ctx, rj.TenantID, origID)
		if errors.Is(err, conveyor.ErrJobNotFound) {
			return job.PermanentFailure(ErrRequeueTargetInvalid, err.Error())
		}
		if err != nil {
			return job.TransientFailure(ErrTargetUnavailable, err.Error())
		}
		exec, ok := e.registry.Get(orig.Type)
		if !ok {
			return job.PermanentFailure(ErrNotRegistered, fmt.Sprintf("no executor registered for job type %q", orig.Type))
		}

		// Execute against a copy carrying the original's payload but the
		// requeue job's identity, so the verdict lands on this lifecycle.
		work := rj.Clone()
		work.Payload = orig.Payload
		work.Resource = orig.Resource
		return exec.Execute(ctx, work)
	}
}
