package outbox_test

import (
	"context"
	"testing"

	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/outbox"
	"github.com/workbenchio/conveyor/store/memory"
)

func appendEvent(t *testing.T, s *memory.Store, tenantID string) *outbox.Event {
	t.Helper()
	e := outbox.NewEvent(tenantID, "job.submitted", "job", "eval-1", id.NewJobID())
	if err := s.AppendEvent(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestRelayEnqueuesPendingEvents(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	r := outbox.NewRelay(s, s)

	e1 := appendEvent(t, s, "tenant-a")
	e2 := appendEvent(t, s, "tenant-a")

	n, err := r.Relay(ctx, "tenant-a", "evaluations", "worker", 10)
	if err != nil {
		t.Fatalf("Relay() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Relay() enqueued %d, want 2", n)
	}

	// FIFO: messages carry the job IDs in append order.
	for i, want := range []id.ID{e1.JobID, e2.JobID} {
		m, err := s.DequeueMessage(ctx, "tenant-a", "evaluations")
		if err != nil || m == nil {
			t.Fatalf("message %d: DequeueMessage() = %v, %v", i, m, err)
		}
		if m.JobID != want {
			t.Fatalf("message %d: JobID = %s, want %s", i, m.JobID, want)
		}
	}

	// Both events are marked published.
	pending, err := s.ListPendingEvents(ctx, "tenant-a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after relay = %d, want 0", len(pending))
	}
	got, err := s.GetEvent(ctx, "tenant-a", e1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != outbox.EventPublished || got.PublishedAt == nil {
		t.Fatalf("event after relay = %+v", got)
	}
}

func TestRelayReplayDoesNotDoubleEnqueue(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	r := outbox.NewRelay(s, s)
	appendEvent(t, s, "tenant-a")

	if _, err := r.Relay(ctx, "tenant-a", "evaluations", "worker", 10); err != nil {
		t.Fatal(err)
	}
	n, err := r.Relay(ctx, "tenant-a", "evaluations", "worker", 10)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("replay enqueued %d, want 0", n)
	}
	if count, _ := s.CountMessages(ctx, "tenant-a", "evaluations"); count != 1 {
		t.Fatalf("queue depth = %d, want 1", count)
	}
}

func TestRelaySkipsDeliveredEvenWhenResetToPending(t *testing.T) {
	t.Parallel()

	// An event externally reset to pending after delivery must not be
	// re-enqueued for the same consumer; the delivery record wins.
	s := memory.New()
	ctx := context.Background()
	r := outbox.NewRelay(s, s)
	e := appendEvent(t, s, "tenant-a")

	if _, err := r.Relay(ctx, "tenant-a", "evaluations", "worker", 10); err != nil {
		t.Fatal(err)
	}
	delivered, err := s.HasDelivery(ctx, "tenant-a", e.ID, "worker")
	if err != nil {
		t.Fatal(err)
	}
	if !delivered {
		t.Fatal("no delivery record after relay")
	}

	// Drain the queue, then relay again pretending the event is pending.
	if _, err := s.DequeueMessage(ctx, "tenant-a", "evaluations"); err != nil {
		t.Fatal(err)
	}
	n, err := r.Relay(ctx, "tenant-a", "evaluations", "worker", 10)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("relay after reset enqueued %d, want 0", n)
	}
}

func TestRelayPublishedEventsStayPublished(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	r := outbox.NewRelay(s, s)
	appendEvent(t, s, "tenant-a")

	if _, err := r.Relay(ctx, "tenant-a", "evaluations", "worker", 10); err != nil {
		t.Fatal(err)
	}

	// A second consumer sees nothing pending: publish is global, the
	// dedup record is per consumer but the pending list gates both.
	n, err := r.Relay(ctx, "tenant-a", "replay", "verifier", 10)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("second consumer enqueued %d, want 0 after publish", n)
	}
}

func TestRelayHonorsLimit(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	r := outbox.NewRelay(s, s)
	for range 5 {
		appendEvent(t, s, "tenant-a")
	}

	n, err := r.Relay(ctx, "tenant-a", "evaluations", "worker", 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("Relay(limit=2) enqueued %d, want 2", n)
	}
	pending, _ := s.ListPendingEvents(ctx, "tenant-a", 0)
	if len(pending) != 3 {
		t.Fatalf("pending after limited relay = %d, want 3", len(pending))
	}
}

func TestRelayIsTenantScoped(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	r := outbox.NewRelay(s, s)
	appendEvent(t, s, "tenant-a")
	appendEvent(t, s, "tenant-b")

	n, err := r.Relay(ctx, "tenant-a", "evaluations", "worker", 10)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Relay() enqueued %d, want 1", n)
	}
	if count, _ := s.CountMessages(ctx, "tenant-b", "evaluations"); count != 0 {
		t.Fatal("relay leaked into another tenant's queue")
	}
	pending, _ := s.ListPendingEvents(ctx, "tenant-b", 0)
	if len(pending) != 1 {
		t.Fatalf("tenant-b pending = %d, want 1 untouched", len(pending))
	}
}
