package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/audit"
	"github.com/workbenchio/conveyor/backoff"
	"github.com/workbenchio/conveyor/dlq"
	"github.com/workbenchio/conveyor/fault"
	"github.com/workbenchio/conveyor/hook"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/job"
	mw "github.com/workbenchio/conveyor/middleware"
	"github.com/workbenchio/conveyor/outbox"
	"github.com/workbenchio/conveyor/workflow"
)

// ErrNotRegistered classifies attempts to run a job type with no bound
// executor. Permanent: re-running cannot conjure an executor.
const ErrNotRegistered = "EXECUTOR_NOT_REGISTERED"

// Store is the persistence surface the state machine needs: tenant-
// scoped job reads and compare-and-swap writes, plus the atomic
// job-with-outbox-event submit.
type Store interface {
	job.Store

	// SubmitJob persists a new job and its announcing outbox event in
	// one transaction boundary.
	SubmitJob(ctx context.Context, j *job.Job, evt *outbox.Event) error
}

// Result is what one RunOnce call reports back to the worker runtime.
type Result struct {
	Status job.Status `json:"status"`

	// RetryAfterMS is the computed backoff delay when Status is
	// retrying. The runtime encodes it into the queue nack.
	RetryAfterMS int64 `json:"retry_after_ms,omitempty"`

	// DLQID identifies the dead-letter item when Status is failed via
	// the DLQ path.
	DLQID id.ID `json:"dlq_id,omitempty"`

	// Token is the freshly issued resume token when Status is
	// needs_manual_decision.
	Token string `json:"token,omitempty"`
}

// Engine is the job state machine. All status changes flow through it;
// callers never write job rows directly.
type Engine struct {
	store    Store
	registry *job.Registry
	log      *workflow.Log
	tokens   *workflow.TokenRegistry
	dlq      *dlq.Service

	table  *fault.Table
	bo     backoff.Strategy
	hooks  *hook.Registry
	sink   audit.Sink
	mws    []mw.Middleware
	logger *slog.Logger

	defaultMaxRetries int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBackoff sets the retry backoff strategy. If not set,
// backoff.DefaultStrategy() (capped exponential) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithTable sets the error classification table.
func WithTable(t *fault.Table) Option {
	return func(e *Engine) { e.table = t }
}

// WithHooks sets the lifecycle hook registry.
func WithHooks(r *hook.Registry) Option {
	return func(e *Engine) { e.hooks = r }
}

// WithAuditSink sets the audit sink for cancel and resume records.
func WithAuditSink(s audit.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithMiddleware appends executor middleware, outermost first.
func WithMiddleware(m ...mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m...) }
}

// WithDefaultMaxRetries sets the retry budget applied to submitted jobs
// that do not carry their own.
func WithDefaultMaxRetries(n int) Option {
	return func(e *Engine) { e.defaultMaxRetries = n }
}

// New creates an Engine and registers the kernel's built-in resume and
// requeue executors on the given registry.
func New(store Store, registry *job.Registry, log *workflow.Log, tokens *workflow.TokenRegistry, dlqSvc *dlq.Service, opts ...Option) *Engine {
	e := &Engine{
		store:             store,
		registry:          registry,
		log:               log,
		tokens:            tokens,
		dlq:               dlqSvc,
		table:             fault.DefaultTable(),
		bo:                backoff.DefaultStrategy(),
		sink:              audit.NewSlogSink(nil),
		logger:            slog.Default(),
		defaultMaxRetries: conveyor.DefaultConfig().MaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.hooks == nil {
		e.hooks = hook.NewRegistry(e.logger)
	}

	registry.Register(job.TypeResume, e.resumeExecutor())
	registry.Register(job.TypeRequeue, e.requeueExecutor())
	return e
}

// ──────────────────────────────────────────────────
// Submission
// ──────────────────────────────────────────────────

// Submit persists a new job in the queued status along with an outbox
// event announcing it, in one transaction boundary. Missing identity
// fields are filled in.
func (e *Engine) Submit(ctx context.Context, j *job.Job) (*job.Job, error) {
	if j.TenantID == "" {
		return nil, fault.Validation(fault.CodeTenantMismatch, "job is missing a tenant")
	}
	if j.ID.IsNil() {
		j.ID = id.NewJobID()
	}
	if j.ThreadID.IsNil() {
		j.ThreadID = id.NewThreadID()
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = e.defaultMaxRetries
	}
	j.Status = job.StatusQueued
	j.Entity = conveyor.NewEntity()

	evt := outbox.NewEvent(j.TenantID, "job.submitted", "job", j.ID.String(), j.ID)
	evt.TraceID = j.TraceID

	if err := e.store.SubmitJob(ctx, j, evt); err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}

	e.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("tenant_id", j.TenantID),
		slog.String("job_type", string(j.Type)))
	e.hooks.EmitJobSubmitted(ctx, j)
	return j, nil
}

// Get returns a job within the tenant's scope.
func (e *Engine) Get(ctx context.Context, tenantID string, jobID id.ID) (*job.Job, error) {
	return e.store.GetJob(ctx, tenantID, jobID)
}

// ──────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────

// Transition applies one edge of the lifecycle table to a job and
// persists the result. Invalid edges fail with no state change.
func (e *Engine) Transition(ctx context.Context, tenantID string, jobID id.ID, to job.Status) (*job.Job, error) {
	j, err := e.store.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if err := e.advance(ctx, j, to); err != nil {
		return nil, err
	}
	return j, nil
}

// Cancel force-fails a non-terminal job, bypassing the edge table. It
// does not interrupt an executor attempt already in flight; it only
// prevents future transitions.
func (e *Engine) Cancel(ctx context.Context, tenantID string, jobID id.ID) (*job.Job, error) {
	j, err := e.store.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}

	prev := j.Status
	if err := job.Cancel(j); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	j.CompletedAt = &now
	if err := e.casUpdate(ctx, j, prev); err != nil {
		return nil, err
	}

	_ = e.sink.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		Action:     audit.ActionJobCancelled,
		TraceID:    j.TraceID,
		ResourceID: j.ID.String(),
		OccurredAt: now,
	})
	e.hooks.EmitJobFailed(ctx, j, fault.CodeJobCancelled)
	return j, nil
}

// ──────────────────────────────────────────────────
// Execution
// ──────────────────────────────────────────────────

// RunOnce performs one execution attempt of a runnable job: transition
// to running, invoke the executor, and route its verdict — retry with
// backoff, dead-letter, interrupt for review, or succeed.
func (e *Engine) RunOnce(ctx context.Context, tenantID string, jobID id.ID) (*Result, error) {
	j, err := e.store.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}

	// Same-status transitions are no-ops in the edge table, so an
	// already-running job must be rejected here, not in advance.
	if !job.CanTransition(j.Status, job.StatusRunning) {
		return nil, fault.BusinessRule(
			fault.CodeStateTransitionInvalid,
			fmt.Sprintf("job %s is not runnable from %q", j.ID, j.Status),
		)
	}
	if err := e.advance(ctx, j, job.StatusRunning); err != nil {
		return nil, err
	}
	if j.StartedAt == nil {
		now := time.Now().UTC()
		j.StartedAt = &now
	}
	if _, err := e.log.Append(ctx, tenantID, j.ThreadID, j.ID, workflow.NodeJobStarted, workflow.StatusOK, nil); err != nil {
		return nil, err
	}
	e.hooks.EmitJobStarted(ctx, j)

	start := time.Now()
	out := e.execute(ctx, j)

	switch out.Kind {
	case job.OutcomeSucceeded:
		return e.finishSucceeded(ctx, j, out, time.Since(start))
	case job.OutcomeInterrupt:
		return e.finishInterrupted(ctx, j, out)
	default:
		return e.finishFailed(ctx, j, out)
	}
}

// execute resolves the job's executor, applies the middleware chain and
// returns its verdict. A missing executor is a permanent failure.
func (e *Engine) execute(ctx context.Context, j *job.Job) job.Outcome {
	exec, ok := e.registry.Get(j.Type)
	if !ok {
		return job.PermanentFailure(ErrNotRegistered, fmt.Sprintf("no executor registered for job type %q", j.Type))
	}
	if len(e.mws) > 0 {
		exec = mw.Wrap(exec, e.mws...)
	}
	return exec.Execute(ctx, j)
}

func (e *Engine) finishSucceeded(ctx context.Context, j *job.Job, out job.Outcome, elapsed time.Duration) (*Result, error) {
	now := time.Now().UTC()
	j.CompletedAt = &now
	if err := e.advance(ctx, j, job.StatusSucceeded); err != nil {
		return nil, err
	}
	if _, err := e.log.Append(ctx, j.TenantID, j.ThreadID, j.ID, workflow.NodeJobSucceeded, workflow.StatusOK, out.Result); err != nil {
		return nil, err
	}
	e.hooks.EmitJobSucceeded(ctx, j, elapsed)
	return &Result{Status: job.StatusSucceeded}, nil
}

func (e *Engine) finishFailed(ctx context.Context, j *job.Job, out job.Outcome) (*Result, error) {
	cls := e.classify(out)
	j.RecordError(out.ErrorCode, out.ErrorMessage)

	if cls.Retryable && j.RetryCount < j.MaxRetries {
		// Transition to retrying increments the retry count; the delay
		// is computed from the attempt number it lands on.
		if err := e.advance(ctx, j, job.StatusRetrying); err != nil {
			return nil, err
		}
		delay := e.bo.Delay(j.RetryCount)
		if _, err := e.log.Append(ctx, j.TenantID, j.ThreadID, j.ID, workflow.NodeJobRetrying, workflow.StatusError, errorPayload(out)); err != nil {
			return nil, err
		}
		e.logger.Warn("job attempt failed, retrying",
			slog.String("job_id", j.ID.String()),
			slog.Int("retry_count", j.RetryCount),
			slog.Duration("retry_after", delay),
			slog.String("error_code", out.ErrorCode))
		e.hooks.EmitJobRetrying(ctx, j, j.RetryCount, delay)
		return &Result{Status: job.StatusRetrying, RetryAfterMS: delay.Milliseconds()}, nil
	}

	// Exhausted or permanent: running→dlq_pending→dlq_recorded→failed,
	// each sub-step checkpointed.
	if err := e.advance(ctx, j, job.StatusDLQPending); err != nil {
		return nil, err
	}
	if _, err := e.log.Append(ctx, j.TenantID, j.ThreadID, j.ID, workflow.NodeDLQPending, workflow.StatusError, errorPayload(out)); err != nil {
		return nil, err
	}

	item, err := e.dlq.Seed(ctx, j, string(cls.Class), out.ErrorCode)
	if err != nil {
		return nil, fmt.Errorf("seed dlq item: %w", err)
	}
	if err := e.advance(ctx, j, job.StatusDLQRecorded); err != nil {
		return nil, err
	}
	if _, err := e.log.Append(ctx, j.TenantID, j.ThreadID, j.ID, workflow.NodeDLQRecorded, workflow.StatusError, []byte(item.ID.String())); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j.CompletedAt = &now
	if err := e.advance(ctx, j, job.StatusFailed); err != nil {
		return nil, err
	}
	if _, err := e.log.Append(ctx, j.TenantID, j.ThreadID, j.ID, workflow.NodeJobFailed, workflow.StatusError, errorPayload(out)); err != nil {
		return nil, err
	}

	e.logger.Error("job dead-lettered",
		slog.String("job_id", j.ID.String()),
		slog.String("dlq_id", item.ID.String()),
		slog.String("error_code", out.ErrorCode),
		slog.Int("retry_count", j.RetryCount))
	e.hooks.EmitJobDLQ(ctx, j, item)
	e.hooks.EmitJobFailed(ctx, j, out.ErrorCode)
	return &Result{Status: job.StatusFailed, DLQID: item.ID}, nil
}

func (e *Engine) finishInterrupted(ctx context.Context, j *job.Job, out job.Outcome) (*Result, error) {
	rec, err := e.tokens.Issue(ctx, j.TenantID, j.ThreadID, out.Reasons)
	if err != nil {
		return nil, fmt.Errorf("issue resume token: %w", err)
	}

	payload, err := interruptPayload(rec.Token, out)
	if err != nil {
		return nil, err
	}
	if _, err := e.log.Append(ctx, j.TenantID, j.ThreadID, j.ID, workflow.NodeInterrupt, workflow.StatusInterrupted, payload); err != nil {
		return nil, err
	}
	if err := e.advance(ctx, j, job.StatusNeedsManualDecision); err != nil {
		return nil, err
	}

	e.logger.Info("job interrupted for manual decision",
		slog.String("job_id", j.ID.String()),
		slog.Any("reasons", out.Reasons))
	e.hooks.EmitJobInterrupted(ctx, j, out.Reasons)
	return &Result{Status: job.StatusNeedsManualDecision, Token: rec.Token}, nil
}

// ──────────────────────────────────────────────────
// Resume
// ──────────────────────────────────────────────────

// Resume redeems a resume token for a paused job and submits a new
// resume-type job that will drive the original forward. The token is
// consumed atomically; a second submission with it fails validation.
func (e *Engine) Resume(ctx context.Context, tenantID string, jobID id.ID, token, decision string) (*job.Job, error) {
	orig, err := e.store.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if orig.Status != job.StatusNeedsManualDecision {
		return nil, fault.BusinessRule(
			fault.CodeStateTransitionInvalid,
			fmt.Sprintf("job %s is %q, not awaiting a manual decision", orig.ID, orig.Status),
		)
	}

	rec, err := e.tokens.Consume(ctx, tenantID, orig.ThreadID, token)
	if err != nil {
		return nil, err
	}

	resume := &job.Job{
		TenantID: tenantID,
		Type:     job.TypeResume,
		ThreadID: orig.ThreadID,
		TraceID:  orig.TraceID,
		Resource: job.ResourceRef{Type: "job", ID: orig.ID.String()},
		Payload: job.Payload{Resume: &job.ResumePayload{
			EvaluationID: orig.Resource.ID,
			Token:        token,
			Decision:     decision,
		}},
		MaxRetries: orig.MaxRetries,
	}
	if _, err := e.Submit(ctx, resume); err != nil {
		// The token was consumed but the resume job never landed; put
		// the token back so the caller can retry with it.
		if rerr := e.tokens.Reinstate(ctx, rec); rerr != nil {
			e.logger.Error("resume token reinstate failed",
				slog.String("tenant_id", tenantID),
				slog.String("thread_id", orig.ThreadID.String()),
				slog.String("error", rerr.Error()))
		}
		return nil, err
	}

	_ = e.sink.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		Action:     audit.ActionResumeSubmitted,
		TraceID:    orig.TraceID,
		ResourceID: orig.ID.String(),
		Detail:     map[string]any{"resume_job_id": resume.ID.String(), "decision": decision},
		OccurredAt: time.Now().UTC(),
	})
	return resume, nil
}

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

// advance applies one edge in memory and persists via compare-and-swap.
// A writer that loses the swap observes the concurrent transition as an
// invalid-edge failure, per the shared-store discipline.
func (e *Engine) advance(ctx context.Context, j *job.Job, to job.Status) error {
	prev := j.Status
	if err := job.Transition(j, to); err != nil {
		return err
	}
	return e.casUpdate(ctx, j, prev)
}

func (e *Engine) casUpdate(ctx context.Context, j *job.Job, expect job.Status) error {
	err := e.store.UpdateJob(ctx, j, expect)
	if errors.Is(err, conveyor.ErrStatusConflict) {
		return fault.BusinessRule(
			fault.CodeStateTransitionInvalid,
			fmt.Sprintf("job %s was transitioned concurrently", j.ID),
		).WithCause(err)
	}
	return err
}

// classify re-interprets an executor failure through the classification
// table. The table is authoritative for codes it knows; for unknown
// codes the executor's own verdict decides, defaulting to transient.
func (e *Engine) classify(out job.Outcome) fault.Classification {
	if e.table.Known(out.ErrorCode) {
		return e.table.Lookup(out.ErrorCode)
	}
	if out.Kind == job.OutcomePermanent {
		return fault.Classification{Class: fault.ClassPermanent, Retryable: false, Message: out.ErrorMessage}
	}
	return e.table.Lookup(out.ErrorCode)
}

func errorPayload(out job.Outcome) []byte {
	b, _ := json.Marshal(map[string]string{
		"error_code": out.ErrorCode,
		"error":      out.ErrorMessage,
	})
	return b
}

func interruptPayload(token string, out job.Outcome) ([]byte, error) {
	review := json.RawMessage(out.ReviewPayload)
	if len(review) > 0 && !json.Valid(review) {
		quoted, err := json.Marshal(string(out.ReviewPayload))
		if err != nil {
			return nil, err
		}
		review = quoted
	}
	return json.Marshal(struct {
		Token   string          `json:"token"`
		Reasons []string        `json:"reasons,omitempty"`
		Review  json.RawMessage `json:"review,omitempty"`
	}{Token: token, Reasons: out.Reasons, Review: review})
}
