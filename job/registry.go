package job

import (
	"context"
	"sync"
)

// OutcomeKind is the executor's terminal verdict for one execution attempt.
type OutcomeKind string

const (
	// OutcomeSucceeded means the job finished successfully.
	OutcomeSucceeded OutcomeKind = "succeeded"
	// OutcomeTransient means the attempt failed but may succeed on retry.
	OutcomeTransient OutcomeKind = "transient_failure"
	// OutcomePermanent means the attempt failed and will never succeed.
	OutcomePermanent OutcomeKind = "permanent_failure"
	// OutcomeInterrupt means execution paused for a human decision.
	OutcomeInterrupt OutcomeKind = "interrupt"
)

// Outcome is what an executor reports back to the state machine. The
// kernel never inspects business results beyond this verdict.
type Outcome struct {
	Kind OutcomeKind

	// ErrorCode classifies failures via the fault table. Required for
	// transient and permanent outcomes.
	ErrorCode string
	// ErrorMessage is the human-readable failure description.
	ErrorMessage string

	// ReviewPayload is recorded on the interrupt checkpoint for human
	// review. Opaque to the kernel.
	ReviewPayload []byte
	// Reasons explain why the interrupt was raised (e.g. "force_hitl").
	Reasons []string

	// Result is an optional terminal payload checkpointed on success.
	Result []byte
}

// Succeeded builds a success outcome.
func Succeeded(result []byte) Outcome {
	return Outcome{Kind: OutcomeSucceeded, Result: result}
}

// TransientFailure builds a retryable failure outcome.
func TransientFailure(code, message string) Outcome {
	return Outcome{Kind: OutcomeTransient, ErrorCode: code, ErrorMessage: message}
}

// PermanentFailure builds an unretryable failure outcome.
func PermanentFailure(code, message string) Outcome {
	return Outcome{Kind: OutcomePermanent, ErrorCode: code, ErrorMessage: message}
}

// Interrupt builds a human-review interrupt outcome.
func Interrupt(reviewPayload []byte, reasons ...string) Outcome {
	return Outcome{Kind: OutcomeInterrupt, ReviewPayload: reviewPayload, Reasons: reasons}
}

// Executor runs the business body of a job and reports a verdict. An
// executor that must wait on external I/O does so internally — the
// runtime only ever sees the returned Outcome.
type Executor interface {
	Execute(ctx context.Context, j *Job) Outcome
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, j *Job) Outcome

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, j *Job) Outcome {
	return f(ctx, j)
}

// Registry maps job types to executors. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[Type]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[Type]Executor)}
}

// Register binds an executor to a job type, replacing any previous
// binding.
func (r *Registry) Register(t Type, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[t] = e
}

// Get returns the executor for the given job type.
// Returns false if none is registered.
func (r *Registry) Get(t Type) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[t]
	return e, ok
}

// Types returns all registered job types.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	return out
}
