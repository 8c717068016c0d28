package dlq

import (
	"context"
	"log/slog"
	"time"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/audit"
	"github.com/workbenchio/conveyor/fault"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/job"
	"github.com/workbenchio/conveyor/outbox"
)

// JobStore is the job surface the service needs: reading the original
// dead-lettered job and submitting its replacement together with an
// announcing outbox event in one transaction boundary. Satisfied by
// store.Store.
type JobStore interface {
	GetJob(ctx context.Context, tenantID string, jobID id.ID) (*job.Job, error)
	SubmitJob(ctx context.Context, j *job.Job, e *outbox.Event) error
}

// Service provides the dead-letter lifecycle: seed on terminal failure,
// then exactly one human decision — requeue or discard.
type Service struct {
	store  Store
	jobs   JobStore
	audit  audit.Sink
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithAuditSink sets the audit sink for requeue/discard entries.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) { s.audit = sink }
}

// NewService creates a DLQ service.
func NewService(store Store, jobs JobStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		jobs:   jobs,
		audit:  audit.NewSlogSink(nil),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed creates an open dead-letter item for a job whose retries are
// exhausted or whose failure is permanent.
func (s *Service) Seed(ctx context.Context, j *job.Job, errorClass, errorCode string) (*Item, error) {
	item := &Item{
		ID:         id.NewDLQID(),
		JobID:      j.ID,
		TenantID:   j.TenantID,
		ErrorClass: errorClass,
		ErrorCode:  errorCode,
		Status:     ItemOpen,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.PushDLQ(ctx, item); err != nil {
		return nil, err
	}

	s.logger.Warn("job dead-lettered",
		slog.String("tenant_id", j.TenantID),
		slog.String("job_id", j.ID.String()),
		slog.String("dlq_id", item.ID.String()),
		slog.String("error_code", errorCode),
	)
	return item, nil
}

// Requeue creates a brand-new job of type requeue referencing the
// original job as its resource, submits it with an outbox event, and
// sets the item to requeued. Only valid from the open status; any other
// status fails with DLQ_REQUEUE_CONFLICT.
func (s *Service) Requeue(ctx context.Context, tenantID string, itemID id.ID) (*job.Job, error) {
	item, err := s.store.GetDLQ(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != ItemOpen {
		return nil, fault.BusinessRule(
			fault.CodeDLQRequeueConflict,
			"dlq item is not open",
		)
	}

	// The replacement inherits the original's retry budget; it starts
	// with a fresh retry count.
	orig, err := s.jobs.GetJob(ctx, tenantID, item.JobID)
	if err != nil {
		return nil, err
	}

	j := &job.Job{
		Entity:   conveyor.NewEntity(),
		ID:       id.NewJobID(),
		TenantID: tenantID,
		Type:     job.TypeRequeue,
		Status:   job.StatusQueued,
		ThreadID: id.NewThreadID(),
		TraceID:  id.NewTraceID().String(),
		Resource: job.ResourceRef{Type: "job", ID: item.JobID.String()},
		Payload: job.Payload{Requeue: &job.RequeuePayload{
			OriginalJobID: item.JobID.String(),
			DLQID:         item.ID.String(),
		}},
		MaxRetries: orig.MaxRetries,
	}
	evt := outbox.NewEvent(tenantID, "job.requeued", "dlq_item", item.ID.String(), j.ID)
	evt.TraceID = j.TraceID
	if err := s.jobs.SubmitJob(ctx, j, evt); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	item.Status = ItemRequeued
	item.ResolvedAt = &now
	if err := s.store.UpdateDLQ(ctx, item, ItemOpen); err != nil {
		// The replacement job is already submitted. Surface the error;
		// the item stays open for the operator.
		return j, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		Action:     audit.ActionDLQRequeued,
		TraceID:    j.TraceID,
		ResourceID: item.ID.String(),
		Detail:     map[string]any{"new_job_id": j.ID.String(), "original_job_id": item.JobID.String()},
		OccurredAt: now,
	}); err != nil {
		s.logger.Error("audit record failed",
			slog.String("action", audit.ActionDLQRequeued),
			slog.String("error", err.Error()),
		)
	}

	return j, nil
}

// Discard drops an open item for good. It requires a non-empty reason
// and two distinct reviewer identities; anything less fails with
// APPROVAL_REQUIRED. Both reviewers are recorded for audit.
func (s *Service) Discard(ctx context.Context, tenantID string, itemID id.ID, reason, reviewerA, reviewerB string) (*Item, error) {
	if reason == "" || reviewerA == "" || reviewerB == "" || reviewerA == reviewerB {
		return nil, fault.Validation(
			fault.CodeApprovalRequired,
			"discard requires a reason and two distinct reviewers",
		)
	}

	item, err := s.store.GetDLQ(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != ItemOpen {
		return nil, fault.BusinessRule(
			fault.CodeDLQDiscardConflict,
			"dlq item is not open",
		)
	}

	now := time.Now().UTC()
	item.Status = ItemDiscarded
	item.DiscardReason = reason
	item.ReviewerA = reviewerA
	item.ReviewerB = reviewerB
	item.ResolvedAt = &now
	if err := s.store.UpdateDLQ(ctx, item, ItemOpen); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		Action:     audit.ActionDLQDiscarded,
		ResourceID: item.ID.String(),
		Actor:      reviewerA,
		Detail: map[string]any{
			"reason":     reason,
			"reviewer_a": reviewerA,
			"reviewer_b": reviewerB,
			"job_id":     item.JobID.String(),
		},
		OccurredAt: now,
	}); err != nil {
		s.logger.Error("audit record failed",
			slog.String("action", audit.ActionDLQDiscarded),
			slog.String("error", err.Error()),
		)
	}

	return item, nil
}
