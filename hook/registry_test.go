package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/workbenchio/conveyor/audit"
	"github.com/workbenchio/conveyor/dlq"
	"github.com/workbenchio/conveyor/hook"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/job"
)

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobSubmitted")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobSucceeded(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobSucceeded")
	return nil
}

func (e *allHooksExt) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobRetrying")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.Job, _ string) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnJobDLQ(_ context.Context, _ *job.Job, _ *dlq.Item) error {
	e.calls = append(e.calls, "OnJobDLQ")
	return nil
}

func (e *allHooksExt) OnJobInterrupted(_ context.Context, _ *job.Job, _ []string) error {
	e.calls = append(e.calls, "OnJobInterrupted")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// startedOnlyExt only implements JobStarted.
type startedOnlyExt struct {
	calls int
}

func (e *startedOnlyExt) Name() string { return "started-only" }

func (e *startedOnlyExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.calls++
	return nil
}

// failingExt returns an error from every hook it implements.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	return errors.New("hook exploded")
}

func newHookJob() *job.Job {
	return &job.Job{ID: id.NewJobID(), TenantID: "tenant-a", Type: job.TypeParse}
}

func TestRegistry_EmitsAllHooks(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	e := &allHooksExt{}
	reg.Register(e)

	ctx := context.Background()
	j := newHookJob()

	reg.EmitJobSubmitted(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobSucceeded(ctx, j, time.Second)
	reg.EmitJobRetrying(ctx, j, 1, time.Second)
	reg.EmitJobFailed(ctx, j, "UPSTREAM_TIMEOUT")
	reg.EmitJobDLQ(ctx, j, &dlq.Item{ID: id.NewDLQID()})
	reg.EmitJobInterrupted(ctx, j, []string{"force_hitl"})
	reg.EmitShutdown(ctx)

	want := []string{
		"OnJobSubmitted", "OnJobStarted", "OnJobSucceeded", "OnJobRetrying",
		"OnJobFailed", "OnJobDLQ", "OnJobInterrupted", "OnShutdown",
	}
	if len(e.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", e.calls, want)
	}
	for i := range want {
		if e.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, e.calls[i], want[i])
		}
	}
}

func TestRegistry_OptInOnly(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	e := &startedOnlyExt{}
	reg.Register(e)

	ctx := context.Background()
	j := newHookJob()

	// No panic or calls for hooks the extension does not implement.
	reg.EmitJobSubmitted(ctx, j)
	reg.EmitJobSucceeded(ctx, j, time.Second)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobStarted(ctx, j)

	if e.calls != 2 {
		t.Fatalf("OnJobStarted calls = %d, want 2", e.calls)
	}
}

func TestRegistry_HookErrorDoesNotBlock(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	failing := &failingExt{}
	counting := &startedOnlyExt{}
	reg.Register(failing)
	reg.Register(counting)

	// The failing hook must not prevent later extensions from running.
	reg.EmitJobStarted(context.Background(), newHookJob())

	if counting.calls != 1 {
		t.Fatalf("extension after failing hook not notified")
	}
}

func TestRegistry_Extensions(t *testing.T) {
	reg := hook.NewRegistry(nil)
	reg.Register(&allHooksExt{})
	reg.Register(&startedOnlyExt{})

	if got := len(reg.Extensions()); got != 2 {
		t.Fatalf("Extensions() len = %d, want 2", got)
	}
}

func TestAuditExtension(t *testing.T) {
	sink := audit.NewMemorySink()
	reg := hook.NewRegistry(slog.Default())
	reg.Register(hook.NewAuditExtension(sink))

	ctx := context.Background()
	j := newHookJob()
	j.TraceID = "trace-9"

	reg.EmitJobFailed(ctx, j, "DOCUMENT_CORRUPT")
	reg.EmitJobDLQ(ctx, j, &dlq.Item{ID: id.NewDLQID(), ErrorCode: "DOCUMENT_CORRUPT", ErrorClass: "permanent"})
	reg.EmitJobInterrupted(ctx, j, []string{"force_hitl"})
	reg.EmitJobSucceeded(ctx, j, time.Second) // not audited

	entries := sink.Entries()
	if len(entries) != 3 {
		t.Fatalf("audit entries = %d, want 3", len(entries))
	}
	if got := sink.ByAction(audit.ActionJobDLQ); len(got) != 1 {
		t.Fatalf("ByAction(job.dlq) = %d entries, want 1", len(got))
	}
	for _, e := range entries {
		if e.TenantID != "tenant-a" || e.TraceID != "trace-9" || e.OccurredAt.IsZero() {
			t.Errorf("entry missing tenant/trace/time: %+v", e)
		}
	}
}
