package middleware_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/job"
	"github.com/workbenchio/conveyor/middleware"
	"github.com/workbenchio/conveyor/scope"
)

func newTestJob() *job.Job {
	return &job.Job{
		ID:         id.NewJobID(),
		TenantID:   "tenant-a",
		Type:       job.TypeEvaluation,
		RetryCount: 2,
		TraceID:    "trace-123",
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) job.Outcome {
		order = append(order, "mw1-before")
		out := next(ctx)
		order = append(order, "mw1-after")
		return out
	}

	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) job.Outcome {
		order = append(order, "mw2-before")
		out := next(ctx)
		order = append(order, "mw2-after")
		return out
	}

	chain := middleware.Chain(mw1, mw2)
	out := chain(context.Background(), newTestJob(), func(_ context.Context) job.Outcome {
		order = append(order, "executor")
		return job.Succeeded(nil)
	})
	if out.Kind != job.OutcomeSucceeded {
		t.Fatalf("Kind = %s, want succeeded", out.Kind)
	}

	expected := []string{"mw1-before", "mw2-before", "executor", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	out := chain(context.Background(), newTestJob(), func(_ context.Context) job.Outcome {
		called = true
		return job.Succeeded(nil)
	})
	if out.Kind != job.OutcomeSucceeded {
		t.Fatalf("Kind = %s, want succeeded", out.Kind)
	}
	if !called {
		t.Fatal("executor not called with empty chain")
	}
}

func TestChain_PropagatesOutcome(t *testing.T) {
	mw := func(ctx context.Context, _ *job.Job, next middleware.Handler) job.Outcome {
		return next(ctx)
	}
	chain := middleware.Chain(mw)

	out := chain(context.Background(), newTestJob(), func(_ context.Context) job.Outcome {
		return job.TransientFailure("UPSTREAM_TIMEOUT", "scoring backend timed out")
	})
	if out.Kind != job.OutcomeTransient || out.ErrorCode != "UPSTREAM_TIMEOUT" {
		t.Fatalf("outcome = %+v, want transient UPSTREAM_TIMEOUT", out)
	}
}

func TestWrap(t *testing.T) {
	var sawScope bool
	exec := job.ExecutorFunc(func(ctx context.Context, _ *job.Job) job.Outcome {
		_, sawScope = scope.From(ctx)
		return job.Succeeded(nil)
	})

	wrapped := middleware.Wrap(exec, middleware.Scope())
	out := wrapped.Execute(context.Background(), newTestJob())
	if out.Kind != job.OutcomeSucceeded {
		t.Fatalf("Kind = %s, want succeeded", out.Kind)
	}
	if !sawScope {
		t.Fatal("scope not visible inside wrapped executor")
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	out := mw(context.Background(), newTestJob(), func(_ context.Context) job.Outcome {
		panic("test panic")
	})
	if out.Kind != job.OutcomePermanent {
		t.Fatalf("Kind = %s, want permanent_failure", out.Kind)
	}
	if out.ErrorCode != middleware.PanicErrorCode {
		t.Fatalf("ErrorCode = %q, want %q", out.ErrorCode, middleware.PanicErrorCode)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	called := false
	out := mw(context.Background(), newTestJob(), func(_ context.Context) job.Outcome {
		called = true
		return job.Succeeded(nil)
	})
	if out.Kind != job.OutcomeSucceeded {
		t.Fatalf("Kind = %s, want succeeded", out.Kind)
	}
	if !called {
		t.Fatal("executor not called")
	}
}

func TestTimeout_CutsOffSlowExecutor(t *testing.T) {
	mw := middleware.Timeout(10 * time.Millisecond)

	out := mw(context.Background(), newTestJob(), func(ctx context.Context) job.Outcome {
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		return job.Succeeded(nil)
	})
	if out.Kind != job.OutcomeTransient || out.ErrorCode != middleware.TimeoutErrorCode {
		t.Fatalf("outcome = %+v, want transient %s", out, middleware.TimeoutErrorCode)
	}
}

func TestTimeout_ZeroIsPassThrough(t *testing.T) {
	mw := middleware.Timeout(0)

	out := mw(context.Background(), newTestJob(), func(_ context.Context) job.Outcome {
		return job.Succeeded(nil)
	})
	if out.Kind != job.OutcomeSucceeded {
		t.Fatalf("Kind = %s, want succeeded", out.Kind)
	}
}

func TestScope_RestoresTenant(t *testing.T) {
	mw := middleware.Scope()
	j := newTestJob()

	out := mw(context.Background(), j, func(ctx context.Context) job.Outcome {
		s, ok := scope.From(ctx)
		if !ok {
			t.Fatal("no scope in executor context")
		}
		if s.TenantID != j.TenantID || s.TraceID != j.TraceID {
			t.Fatalf("scope = %+v, want tenant %s trace %s", s, j.TenantID, j.TraceID)
		}
		return job.Succeeded(nil)
	})
	if out.Kind != job.OutcomeSucceeded {
		t.Fatalf("Kind = %s, want succeeded", out.Kind)
	}
}
