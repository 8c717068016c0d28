package dlq_test

import (
	"context"
	"errors"
	"testing"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/audit"
	"github.com/workbenchio/conveyor/dlq"
	"github.com/workbenchio/conveyor/fault"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/job"
	"github.com/workbenchio/conveyor/store/memory"
)

func seedItem(t *testing.T, s *memory.Store, svc *dlq.Service, tenantID string) *dlq.Item {
	t.Helper()
	return seedItemWithBudget(t, s, svc, tenantID, 3)
}

func seedItemWithBudget(t *testing.T, s *memory.Store, svc *dlq.Service, tenantID string, maxRetries int) *dlq.Item {
	t.Helper()
	j := &job.Job{
		Entity:     conveyor.NewEntity(),
		ID:         id.NewJobID(),
		TenantID:   tenantID,
		Type:       job.TypeEvaluation,
		Status:     job.StatusFailed,
		ThreadID:   id.NewThreadID(),
		MaxRetries: maxRetries,
	}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	item, err := svc.Seed(context.Background(), j, string(fault.ClassTransient), "UPSTREAM_TIMEOUT")
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	return item
}

func TestSeedCreatesOpenItem(t *testing.T) {
	t.Parallel()

	s := memory.New()
	svc := dlq.NewService(s, s)
	item := seedItem(t, s, svc, "tenant-a")

	if item.Status != dlq.ItemOpen {
		t.Fatalf("Status = %s, want open", item.Status)
	}
	got, err := s.GetDLQ(context.Background(), "tenant-a", item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ErrorCode != "UPSTREAM_TIMEOUT" || got.ErrorClass != string(fault.ClassTransient) {
		t.Fatalf("stored item = %+v", got)
	}
}

func TestRequeueCreatesFreshJobAndResolvesItem(t *testing.T) {
	t.Parallel()

	s := memory.New()
	sink := audit.NewMemorySink()
	svc := dlq.NewService(s, s, dlq.WithAuditSink(sink))
	ctx := context.Background()
	item := seedItem(t, s, svc, "tenant-a")

	j, err := svc.Requeue(ctx, "tenant-a", item.ID)
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if j.Type != job.TypeRequeue || j.Status != job.StatusQueued {
		t.Fatalf("requeue job = %+v", j)
	}
	if j.Payload.Requeue == nil || j.Payload.Requeue.OriginalJobID != item.JobID.String() {
		t.Fatalf("requeue payload = %+v", j.Payload.Requeue)
	}
	if j.ID == item.JobID {
		t.Fatal("requeue reused the original job ID")
	}

	// The replacement is announced durably.
	pending, err := s.ListPendingEvents(ctx, "tenant-a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Type != "job.requeued" || pending[0].JobID != j.ID {
		t.Fatalf("pending events = %+v", pending)
	}

	got, _ := s.GetDLQ(ctx, "tenant-a", item.ID)
	if got.Status != dlq.ItemRequeued || got.ResolvedAt == nil {
		t.Fatalf("item after requeue = %+v", got)
	}
	if entries := sink.ByAction(audit.ActionDLQRequeued); len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
}

func TestRequeueInheritsRetryBudget(t *testing.T) {
	t.Parallel()

	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()
	item := seedItemWithBudget(t, s, svc, "tenant-a", 7)

	j, err := svc.Requeue(ctx, "tenant-a", item.ID)
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if j.MaxRetries != 7 {
		t.Fatalf("MaxRetries = %d, want 7 (inherited from the original)", j.MaxRetries)
	}
	if j.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0", j.RetryCount)
	}
}

func TestRequeueOnlyValidFromOpen(t *testing.T) {
	t.Parallel()

	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()
	item := seedItem(t, s, svc, "tenant-a")

	if _, err := svc.Requeue(ctx, "tenant-a", item.ID); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Requeue(ctx, "tenant-a", item.ID)
	if !fault.IsCode(err, fault.CodeDLQRequeueConflict) {
		t.Fatalf("second Requeue() = %v, want %s", err, fault.CodeDLQRequeueConflict)
	}
}

func TestDiscardRequiresReasonAndTwoReviewers(t *testing.T) {
	t.Parallel()

	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()
	item := seedItem(t, s, svc, "tenant-a")

	tests := []struct {
		name               string
		reason, revA, revB string
	}{
		{"empty reason", "", "alice", "bob"},
		{"missing reviewer", "obsolete tenant", "alice", ""},
		{"same reviewer twice", "obsolete tenant", "alice", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Discard(ctx, "tenant-a", item.ID, tt.reason, tt.revA, tt.revB)
			if !fault.IsCode(err, fault.CodeApprovalRequired) {
				t.Fatalf("Discard() = %v, want %s", err, fault.CodeApprovalRequired)
			}
		})
	}

	// The item is untouched by the rejected attempts.
	got, _ := s.GetDLQ(ctx, "tenant-a", item.ID)
	if got.Status != dlq.ItemOpen {
		t.Fatalf("Status = %s after rejected discards, want open", got.Status)
	}
}

func TestDiscardRecordsReviewers(t *testing.T) {
	t.Parallel()

	s := memory.New()
	sink := audit.NewMemorySink()
	svc := dlq.NewService(s, s, dlq.WithAuditSink(sink))
	ctx := context.Background()
	item := seedItem(t, s, svc, "tenant-a")

	got, err := svc.Discard(ctx, "tenant-a", item.ID, "tenant offboarded", "alice", "bob")
	if err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if got.Status != dlq.ItemDiscarded || got.DiscardReason != "tenant offboarded" {
		t.Fatalf("discarded item = %+v", got)
	}
	if got.ReviewerA != "alice" || got.ReviewerB != "bob" || got.ResolvedAt == nil {
		t.Fatalf("reviewer metadata = %+v", got)
	}

	entries := sink.ByAction(audit.ActionDLQDiscarded)
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if entries[0].Detail["reviewer_b"] != "bob" {
		t.Fatalf("audit detail = %+v", entries[0].Detail)
	}

	// Terminal both ways: no requeue after discard.
	if _, err := svc.Requeue(ctx, "tenant-a", item.ID); !fault.IsCode(err, fault.CodeDLQRequeueConflict) {
		t.Fatalf("Requeue() after discard = %v, want %s", err, fault.CodeDLQRequeueConflict)
	}
	if _, err := svc.Discard(ctx, "tenant-a", item.ID, "again", "alice", "bob"); !fault.IsCode(err, fault.CodeDLQDiscardConflict) {
		t.Fatalf("second Discard() = %v, want %s", err, fault.CodeDLQDiscardConflict)
	}
}

func TestItemsAreTenantScoped(t *testing.T) {
	t.Parallel()

	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()
	item := seedItem(t, s, svc, "tenant-a")

	if _, err := svc.Requeue(ctx, "tenant-b", item.ID); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Fatalf("cross-tenant Requeue() = %v, want ErrDLQNotFound", err)
	}
	if _, err := svc.Discard(ctx, "tenant-b", item.ID, "reason", "alice", "bob"); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Fatalf("cross-tenant Discard() = %v, want ErrDLQNotFound", err)
	}
}
