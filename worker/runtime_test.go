package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/engine"
	"github.com/workbenchio/conveyor/fault"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/job"
	"github.com/workbenchio/conveyor/queue"
	"github.com/workbenchio/conveyor/store/memory"
)

// stubRunner records the tenants it ran for and returns a canned result.
type stubRunner struct {
	mu      sync.Mutex
	tenants []string
	res     *engine.Result
	err     error
}

func (s *stubRunner) RunOnce(_ context.Context, tenantID string, _ id.ID) (*engine.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants = append(s.tenants, tenantID)
	if s.err != nil {
		return nil, s.err
	}
	if s.res != nil {
		return s.res, nil
	}
	return &engine.Result{Status: job.StatusSucceeded}, nil
}

func (s *stubRunner) ran() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tenants...)
}

func enqueue(t *testing.T, s *memory.Store, tenantID, queueName string, n int) {
	t.Helper()
	for range n {
		if err := s.EnqueueMessage(context.Background(), queue.New(tenantID, queueName, id.NewJobID())); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSweepRoundRobinsTenants(t *testing.T) {
	t.Parallel()

	s := memory.New()
	enqueue(t, s, "tenant-a", "evaluations", 2)
	enqueue(t, s, "tenant-b", "evaluations", 1)

	runner := &stubRunner{}
	rt := NewRuntime(runner, s,
		WithQueues([]string{"evaluations"}),
		WithTenantBurst(1),
	)

	// First sweep takes one message from each tenant; the second drains
	// tenant-a's remainder.
	if got := rt.sweep(context.Background()); got != 2 {
		t.Fatalf("first sweep handled %d, want 2", got)
	}
	if got := rt.sweep(context.Background()); got != 1 {
		t.Fatalf("second sweep handled %d, want 1", got)
	}

	want := []string{"tenant-a", "tenant-b", "tenant-a"}
	got := runner.ran()
	if len(got) != len(want) {
		t.Fatalf("ran tenants = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ran[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSweepRespectsMaxPerIteration(t *testing.T) {
	t.Parallel()

	s := memory.New()
	enqueue(t, s, "tenant-a", "evaluations", 5)

	runner := &stubRunner{}
	rt := NewRuntime(runner, s,
		WithQueues([]string{"evaluations"}),
		WithTenantBurst(10),
		WithMaxPerIteration(2),
	)

	if got := rt.sweep(context.Background()); got != 2 {
		t.Fatalf("sweep handled %d, want 2", got)
	}
	if n, _ := s.CountMessages(context.Background(), "tenant-a", "evaluations"); n != 3 {
		t.Fatalf("remaining messages = %d, want 3", n)
	}
}

func TestHandleAcksTerminalOutcome(t *testing.T) {
	t.Parallel()

	s := memory.New()
	enqueue(t, s, "tenant-a", "evaluations", 1)

	rt := NewRuntime(&stubRunner{res: &engine.Result{Status: job.StatusFailed}}, s,
		WithQueues([]string{"evaluations"}),
	)
	if got := rt.sweep(context.Background()); got != 1 {
		t.Fatalf("sweep handled %d, want 1", got)
	}

	// Acked: neither visible nor redeliverable.
	m, err := s.DequeueMessage(context.Background(), "tenant-a", "evaluations")
	if err != nil || m != nil {
		t.Fatalf("DequeueMessage() = %v, %v, want nil, nil", m, err)
	}
}

func TestHandleNacksRetryingAtHead(t *testing.T) {
	t.Parallel()

	s := memory.New()
	enqueue(t, s, "tenant-a", "evaluations", 1)

	// RetryAfterMS of zero re-inserts at the head immediately.
	rt := NewRuntime(&stubRunner{res: &engine.Result{Status: job.StatusRetrying}}, s,
		WithQueues([]string{"evaluations"}),
		WithTenantBurst(1),
		WithMaxPerIteration(1),
	)
	if got := rt.sweep(context.Background()); got != 1 {
		t.Fatalf("sweep handled %d, want 1", got)
	}

	m, err := s.DequeueMessage(context.Background(), "tenant-a", "evaluations")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Attempt != 1 {
		t.Fatalf("redelivered message = %+v, want Attempt 1", m)
	}
}

func TestHandleNacksRetryingWithBackoffDelay(t *testing.T) {
	t.Parallel()

	s := memory.New()
	enqueue(t, s, "tenant-a", "evaluations", 1)

	rt := NewRuntime(&stubRunner{res: &engine.Result{Status: job.StatusRetrying, RetryAfterMS: 60_000}}, s,
		WithQueues([]string{"evaluations"}),
	)
	if got := rt.sweep(context.Background()); got != 1 {
		t.Fatalf("sweep handled %d, want 1", got)
	}

	// Held in the delayed area: not visible until the backoff elapses.
	m, err := s.DequeueMessage(context.Background(), "tenant-a", "evaluations")
	if err != nil || m != nil {
		t.Fatalf("DequeueMessage() = %v, %v, want delayed message held", m, err)
	}
}

func TestHandleAcksStaleMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"job deleted", conveyor.ErrJobNotFound},
		{"job already terminal", fault.BusinessRule(fault.CodeStateTransitionInvalid, "not runnable")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := memory.New()
			enqueue(t, s, "tenant-a", "evaluations", 1)

			rt := NewRuntime(&stubRunner{err: tt.err}, s,
				WithQueues([]string{"evaluations"}),
			)
			rt.sweep(context.Background())

			m, err := s.DequeueMessage(context.Background(), "tenant-a", "evaluations")
			if err != nil || m != nil {
				t.Fatalf("stale message not dropped: %v, %v", m, err)
			}
		})
	}
}

func TestHandleNacksOnTransientRunnerError(t *testing.T) {
	t.Parallel()

	s := memory.New()
	enqueue(t, s, "tenant-a", "evaluations", 1)

	rt := NewRuntime(&stubRunner{err: errors.New("store unavailable")}, s,
		WithQueues([]string{"evaluations"}),
		WithPollInterval(time.Minute),
	)
	rt.sweep(context.Background())

	// Requeued into the delayed area for the poll interval, not dropped.
	tenants, err := s.ListQueueTenants(context.Background(), "evaluations")
	if err != nil {
		t.Fatal(err)
	}
	if len(tenants) != 0 {
		t.Fatalf("message visible immediately after runner error, tenants = %v", tenants)
	}
}

type denyingManager struct{}

func (denyingManager) Acquire(_, _ string) bool { return false }
func (denyingManager) Release(_, _ string)      {}

func TestSweepSkipsRateLimitedTenant(t *testing.T) {
	t.Parallel()

	s := memory.New()
	enqueue(t, s, "tenant-a", "evaluations", 1)

	runner := &stubRunner{}
	rt := NewRuntime(runner, s,
		WithQueues([]string{"evaluations"}),
		WithQueueManager(denyingManager{}),
	)
	if got := rt.sweep(context.Background()); got != 0 {
		t.Fatalf("sweep handled %d, want 0", got)
	}
	if n, _ := s.CountMessages(context.Background(), "tenant-a", "evaluations"); n != 1 {
		t.Fatalf("message count = %d, want 1 (untouched)", n)
	}
}

func TestQueueManagerLimitsAdmission(t *testing.T) {
	t.Parallel()

	s := memory.New()
	enqueue(t, s, "tenant-a", "evaluations", 3)

	m := queue.NewManager(queue.Limits{Name: "evaluations", TenantID: "tenant-a", RatePerSecond: 0.001, Burst: 2})
	rt := NewRuntime(&stubRunner{}, s,
		WithQueues([]string{"evaluations"}),
		WithTenantBurst(10),
		WithQueueManager(m),
	)

	// The token bucket admits the burst of 2, then throttles.
	if got := rt.sweep(context.Background()); got != 2 {
		t.Fatalf("sweep handled %d, want 2", got)
	}
}

func TestRuntimeStartStop(t *testing.T) {
	t.Parallel()

	s := memory.New()
	enqueue(t, s, "tenant-a", "evaluations", 3)

	runner := &stubRunner{}
	rt := NewRuntime(runner, s,
		WithQueues([]string{"evaluations"}),
		WithConcurrency(2),
		WithPollInterval(5*time.Millisecond),
	)

	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Idempotent.
	if err := rt.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool {
		n, _ := s.CountMessages(context.Background(), "tenant-a", "evaluations")
		return n == 0 && len(runner.ran()) == 3
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rt.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	// Stopping twice is a no-op.
	if err := rt.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
