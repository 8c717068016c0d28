package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/dlq"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/job"
	"github.com/workbenchio/conveyor/outbox"
	"github.com/workbenchio/conveyor/queue"
	"github.com/workbenchio/conveyor/workflow"
)

func newJob(tenant string) *job.Job {
	return &job.Job{
		Entity:     conveyor.NewEntity(),
		ID:         id.NewJobID(),
		TenantID:   tenant,
		Type:       job.TypeParse,
		Status:     job.StatusQueued,
		ThreadID:   id.NewThreadID(),
		MaxRetries: 3,
	}
}

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

func TestJobCreateGetRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	j := newJob("tenant-a")

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, conveyor.ErrJobAlreadyExists) {
		t.Fatalf("duplicate CreateJob() = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, "tenant-a", j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.ID != j.ID || got.Status != job.StatusQueued {
		t.Fatalf("GetJob() = %+v", got)
	}

	// Mutating the returned copy must not leak into the store.
	got.Status = job.StatusFailed
	again, _ := s.GetJob(ctx, "tenant-a", j.ID)
	if again.Status != job.StatusQueued {
		t.Fatal("stored job mutated through returned copy")
	}
}

func TestJobTenantIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	j := newJob("tenant-a")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetJob(ctx, "tenant-b", j.ID); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatalf("cross-tenant GetJob() = %v, want ErrJobNotFound", err)
	}

	stolen := j.Clone()
	stolen.TenantID = "tenant-b"
	if err := s.UpdateJob(ctx, stolen, job.StatusQueued); !errors.Is(err, conveyor.ErrTenantMismatch) {
		t.Fatalf("cross-tenant UpdateJob() = %v, want ErrTenantMismatch", err)
	}
}

func TestJobUpdateCompareAndSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	j := newJob("tenant-a")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	j.Status = job.StatusRunning
	if err := s.UpdateJob(ctx, j, job.StatusQueued); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}

	// A writer still holding the old status loses the swap.
	stale := j.Clone()
	stale.Status = job.StatusRunning
	if err := s.UpdateJob(ctx, stale, job.StatusQueued); !errors.Is(err, conveyor.ErrStatusConflict) {
		t.Fatalf("stale UpdateJob() = %v, want ErrStatusConflict", err)
	}
}

func TestSubmitJobAtomicity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	j := newJob("tenant-a")
	evt := outbox.NewEvent("tenant-a", "job.submitted", "job", j.ID.String(), j.ID)

	if err := s.SubmitJob(ctx, j, evt); err != nil {
		t.Fatalf("SubmitJob() error = %v", err)
	}
	if _, err := s.GetJob(ctx, "tenant-a", j.ID); err != nil {
		t.Fatalf("job missing after SubmitJob: %v", err)
	}
	if _, err := s.GetEvent(ctx, "tenant-a", evt.ID); err != nil {
		t.Fatalf("event missing after SubmitJob: %v", err)
	}

	// A duplicate event must roll the job back out.
	j2 := newJob("tenant-a")
	if err := s.SubmitJob(ctx, j2, evt); !errors.Is(err, conveyor.ErrEventAlreadyExists) {
		t.Fatalf("SubmitJob() with duplicate event = %v", err)
	}
	if _, err := s.GetJob(ctx, "tenant-a", j2.ID); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Fatal("job persisted although event append failed")
	}
}

// ──────────────────────────────────────────────────
// Queue store
// ──────────────────────────────────────────────────

func TestQueueFIFOPerTenant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	first := queue.New("tenant-a", "evaluations", id.NewJobID())
	second := queue.New("tenant-a", "evaluations", id.NewJobID())
	other := queue.New("tenant-b", "evaluations", id.NewJobID())
	for _, msg := range []*queue.Message{first, second, other} {
		if err := s.EnqueueMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.DequeueMessage(ctx, "tenant-a", "evaluations")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != first.ID {
		t.Fatalf("dequeued %s, want head %s", got.ID, first.ID)
	}

	got, _ = s.DequeueMessage(ctx, "tenant-a", "evaluations")
	if got.ID != second.ID {
		t.Fatalf("dequeued %s, want %s", got.ID, second.ID)
	}

	// Queue drained for tenant-a; tenant-b unaffected.
	got, err = s.DequeueMessage(ctx, "tenant-a", "evaluations")
	if err != nil || got != nil {
		t.Fatalf("empty dequeue = (%v, %v), want (nil, nil)", got, err)
	}
	if got, _ := s.DequeueMessage(ctx, "tenant-b", "evaluations"); got == nil || got.ID != other.ID {
		t.Fatal("tenant-b message lost")
	}
}

func TestQueueAckNackTenantMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	msg := queue.New("tenant-a", "evaluations", id.NewJobID())
	if err := s.EnqueueMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DequeueMessage(ctx, "tenant-a", "evaluations"); err != nil {
		t.Fatal(err)
	}

	if err := s.AckMessage(ctx, "tenant-b", msg.ID.String()); !errors.Is(err, conveyor.ErrTenantMismatch) {
		t.Fatalf("cross-tenant AckMessage() = %v, want ErrTenantMismatch", err)
	}
	if err := s.NackMessage(ctx, "tenant-b", msg.ID.String(), true, 0); !errors.Is(err, conveyor.ErrTenantMismatch) {
		t.Fatalf("cross-tenant NackMessage() = %v, want ErrTenantMismatch", err)
	}

	// The rightful tenant can still ack.
	if err := s.AckMessage(ctx, "tenant-a", msg.ID.String()); err != nil {
		t.Fatalf("AckMessage() error = %v", err)
	}
	if err := s.AckMessage(ctx, "tenant-a", msg.ID.String()); !errors.Is(err, conveyor.ErrMessageNotFound) {
		t.Fatalf("double AckMessage() = %v, want ErrMessageNotFound", err)
	}
}

func TestQueueNackRequeuesAtHead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	first := queue.New("tenant-a", "evaluations", id.NewJobID())
	second := queue.New("tenant-a", "evaluations", id.NewJobID())
	for _, msg := range []*queue.Message{first, second} {
		if err := s.EnqueueMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	got, _ := s.DequeueMessage(ctx, "tenant-a", "evaluations")
	if err := s.NackMessage(ctx, "tenant-a", got.ID.String(), true, 0); err != nil {
		t.Fatal(err)
	}

	// Immediate requeue lands back at the head, preserving order.
	redelivered, _ := s.DequeueMessage(ctx, "tenant-a", "evaluations")
	if redelivered.ID != first.ID {
		t.Fatalf("redelivered %s, want %s at head", redelivered.ID, first.ID)
	}
	if redelivered.Attempt != 1 {
		t.Fatalf("Attempt = %d, want 1", redelivered.Attempt)
	}
}

func TestQueueNackWithDelayHolds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	msg := queue.New("tenant-a", "evaluations", id.NewJobID())
	if err := s.EnqueueMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	got, _ := s.DequeueMessage(ctx, "tenant-a", "evaluations")
	if err := s.NackMessage(ctx, "tenant-a", got.ID.String(), true, 50); err != nil {
		t.Fatal(err)
	}

	// Not visible before the delay elapses.
	if again, _ := s.DequeueMessage(ctx, "tenant-a", "evaluations"); again != nil {
		t.Fatal("delayed message surfaced early")
	}

	time.Sleep(60 * time.Millisecond)
	again, _ := s.DequeueMessage(ctx, "tenant-a", "evaluations")
	if again == nil || again.ID != msg.ID {
		t.Fatal("delayed message not promoted after delay")
	}
}

func TestQueueNackDropWithoutRequeue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	msg := queue.New("tenant-a", "evaluations", id.NewJobID())
	if err := s.EnqueueMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	got, _ := s.DequeueMessage(ctx, "tenant-a", "evaluations")
	if err := s.NackMessage(ctx, "tenant-a", got.ID.String(), false, 0); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.CountMessages(ctx, "tenant-a", "evaluations"); n != 0 {
		t.Fatalf("CountMessages = %d after drop, want 0", n)
	}
}

func TestListQueueTenants(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	for _, tenant := range []string{"tenant-b", "tenant-a"} {
		if err := s.EnqueueMessage(ctx, queue.New(tenant, "evaluations", id.NewJobID())); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.EnqueueMessage(ctx, queue.New("tenant-c", "uploads", id.NewJobID())); err != nil {
		t.Fatal(err)
	}

	tenants, err := s.ListQueueTenants(ctx, "evaluations")
	if err != nil {
		t.Fatal(err)
	}
	if len(tenants) != 2 || tenants[0] != "tenant-a" || tenants[1] != "tenant-b" {
		t.Fatalf("ListQueueTenants = %v, want [tenant-a tenant-b]", tenants)
	}
}

// ──────────────────────────────────────────────────
// Outbox store
// ──────────────────────────────────────────────────

func TestEventPublishedIsMonotonic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	evt := outbox.NewEvent("tenant-a", "job.submitted", "job", "doc-1", id.NewJobID())
	if err := s.AppendEvent(ctx, evt); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkEventPublished(ctx, "tenant-a", evt.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetEvent(ctx, "tenant-a", evt.ID)
	firstPublish := got.PublishedAt

	// Re-marking is a no-op and keeps the original publish time.
	if err := s.MarkEventPublished(ctx, "tenant-a", evt.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetEvent(ctx, "tenant-a", evt.ID)
	if got.Status != outbox.EventPublished || !got.PublishedAt.Equal(*firstPublish) {
		t.Fatalf("re-mark changed event: %+v", got)
	}

	pending, _ := s.ListPendingEvents(ctx, "tenant-a", 0)
	if len(pending) != 0 {
		t.Fatalf("published event still listed as pending")
	}
}

func TestDeliveryRecordIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	eventID := id.NewEventID()

	ok, err := s.HasDelivery(ctx, "tenant-a", eventID, "worker")
	if err != nil || ok {
		t.Fatalf("HasDelivery() before record = (%v, %v)", ok, err)
	}

	rec := &outbox.DeliveryRecord{ID: id.NewDeliveryID(), TenantID: "tenant-a", EventID: eventID, Consumer: "worker", CreatedAt: time.Now().UTC()}
	if err := s.RecordDelivery(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordDelivery(ctx, rec); err != nil {
		t.Fatalf("duplicate RecordDelivery() = %v, want nil", err)
	}

	ok, _ = s.HasDelivery(ctx, "tenant-a", eventID, "worker")
	if !ok {
		t.Fatal("delivery record not found")
	}
	// Another consumer is a distinct pair.
	ok, _ = s.HasDelivery(ctx, "tenant-a", eventID, "reporter")
	if ok {
		t.Fatal("delivery leaked across consumers")
	}
}

// ──────────────────────────────────────────────────
// DLQ store
// ──────────────────────────────────────────────────

func TestDLQCompareAndSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	item := &dlq.Item{ID: id.NewDLQID(), JobID: id.NewJobID(), TenantID: "tenant-a", Status: dlq.ItemOpen, CreatedAt: time.Now().UTC()}
	if err := s.PushDLQ(ctx, item); err != nil {
		t.Fatal(err)
	}

	item.Status = dlq.ItemRequeued
	if err := s.UpdateDLQ(ctx, item, dlq.ItemOpen); err != nil {
		t.Fatal(err)
	}

	stale := *item
	stale.Status = dlq.ItemDiscarded
	if err := s.UpdateDLQ(ctx, &stale, dlq.ItemOpen); !errors.Is(err, conveyor.ErrStatusConflict) {
		t.Fatalf("stale UpdateDLQ() = %v, want ErrStatusConflict", err)
	}

	if _, err := s.GetDLQ(ctx, "tenant-b", item.ID); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Fatalf("cross-tenant GetDLQ() = %v, want ErrDLQNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Checkpoint store
// ──────────────────────────────────────────────────

func TestCheckpointSeqPerThread(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	threadA := id.NewThreadID()
	threadB := id.NewThreadID()

	for i := 0; i < 3; i++ {
		cp := &workflow.Checkpoint{ID: id.NewCheckpointID(), ThreadID: threadA, TenantID: "tenant-a", Kind: workflow.KindAudit, CreatedAt: time.Now().UTC()}
		if err := s.AppendCheckpoint(ctx, cp); err != nil {
			t.Fatal(err)
		}
		if cp.Seq != int64(i+1) {
			t.Fatalf("thread A seq = %d, want %d", cp.Seq, i+1)
		}
	}

	cp := &workflow.Checkpoint{ID: id.NewCheckpointID(), ThreadID: threadB, TenantID: "tenant-a", Kind: workflow.KindAudit}
	if err := s.AppendCheckpoint(ctx, cp); err != nil {
		t.Fatal(err)
	}
	if cp.Seq != 1 {
		t.Fatalf("fresh thread seq = %d, want 1", cp.Seq)
	}

	cps, err := s.ListCheckpoints(ctx, "tenant-a", threadA, workflow.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 3 || cps[0].Seq != 3 {
		t.Fatalf("ListCheckpoints = %d rows, head seq %d", len(cps), cps[0].Seq)
	}

	// Tenant filter.
	none, _ := s.ListCheckpoints(ctx, "tenant-b", threadA, workflow.ListOpts{})
	if len(none) != 0 {
		t.Fatal("checkpoints leaked across tenants")
	}
}

func TestAppendWritesMergesIntoRuntimeCheckpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	thread := id.NewThreadID()
	cp := &workflow.Checkpoint{ID: id.NewCheckpointID(), ThreadID: thread, TenantID: "tenant-a", Kind: workflow.KindRuntime}
	if err := s.AppendCheckpoint(ctx, cp); err != nil {
		t.Fatal(err)
	}

	writes := []workflow.PendingWrite{{TaskID: "t1", Channel: "out", Value: []byte("x")}}
	if err := s.AppendWrites(ctx, "tenant-a", cp.ID, writes); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendWrites(ctx, "tenant-a", id.NewCheckpointID(), writes); err != nil {
		t.Fatalf("AppendWrites() on missing checkpoint = %v, want nil", err)
	}

	got, err := s.LatestCheckpoint(ctx, "tenant-a", thread, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.PendingWrites) != 1 || got.PendingWrites[0].TaskID != "t1" {
		t.Fatalf("PendingWrites = %+v", got.PendingWrites)
	}
}

// ──────────────────────────────────────────────────
// Token store
// ──────────────────────────────────────────────────

func TestConsumeTokenSingleUse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	wf := id.NewThreadID()
	rec := &workflow.TokenRecord{WorkflowID: wf, TenantID: "tenant-a", Token: "tok-1", IssuedAt: time.Now().UTC()}
	if err := s.PutToken(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if err := s.ConsumeToken(ctx, "tenant-a", wf, "tok-1"); err != nil {
		t.Fatalf("ConsumeToken() error = %v", err)
	}
	if err := s.ConsumeToken(ctx, "tenant-a", wf, "tok-1"); !errors.Is(err, conveyor.ErrStatusConflict) {
		t.Fatalf("second ConsumeToken() = %v, want ErrStatusConflict", err)
	}
	if err := s.ConsumeToken(ctx, "tenant-a", wf, "wrong"); !errors.Is(err, conveyor.ErrTokenNotFound) {
		t.Fatalf("wrong token ConsumeToken() = %v, want ErrTokenNotFound", err)
	}
}
