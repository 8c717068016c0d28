// Package worker runs the polling runtime: a set of goroutines that
// sweep the configured queues, visit every tenant with pending messages
// in round-robin order, and route each dequeued message through the
// execution engine. Fairness is burst-based — at most TenantBurst
// messages per tenant per sweep — so one noisy tenant cannot starve the
// rest of a shared queue.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/engine"
	"github.com/workbenchio/conveyor/fault"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/job"
	"github.com/workbenchio/conveyor/queue"
)

// Runner executes one attempt of a job. Satisfied by *engine.Engine.
type Runner interface {
	RunOnce(ctx context.Context, tenantID string, jobID id.ID) (*engine.Result, error)
}

// QueueManager controls per-queue and per-tenant rate limiting and
// concurrency. The runtime calls Acquire before executing a dequeued
// message and Release after execution completes.
type QueueManager interface {
	// Acquire checks rate limits and concurrency for the queue/tenant
	// combination. Returns true if the message may proceed.
	Acquire(queueName, tenantID string) bool
	// Release decrements the active count for the queue/tenant pair.
	Release(queueName, tenantID string)
}

// Runtime polls queues and drives dequeued messages through the Runner.
type Runtime struct {
	runner Runner
	queues queue.Store

	names        []string
	concurrency  int
	pollInterval time.Duration
	tenantBurst  int
	maxPerIter   int
	manager      QueueManager
	workerID     id.ID
	logger       *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithQueues sets the queue names the runtime polls.
func WithQueues(names []string) Option {
	return func(r *Runtime) { r.names = names }
}

// WithConcurrency sets the number of polling goroutines.
func WithConcurrency(n int) Option {
	return func(r *Runtime) { r.concurrency = n }
}

// WithPollInterval sets how long a goroutine sleeps after an idle sweep.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runtime) { r.pollInterval = d }
}

// WithTenantBurst caps consecutive messages taken from one tenant
// before moving to the next.
func WithTenantBurst(n int) Option {
	return func(r *Runtime) { r.tenantBurst = n }
}

// WithMaxPerIteration caps total messages handled in one sweep across
// all queues and tenants.
func WithMaxPerIteration(n int) Option {
	return func(r *Runtime) { r.maxPerIter = n }
}

// WithQueueManager sets the manager for rate limiting and concurrency
// control.
func WithQueueManager(m QueueManager) Option {
	return func(r *Runtime) { r.manager = m }
}

// WithLogger sets the runtime's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// NewRuntime creates a polling runtime over the given runner and queue
// backend. Defaults come from conveyor.DefaultConfig.
func NewRuntime(runner Runner, queues queue.Store, opts ...Option) *Runtime {
	cfg := conveyor.DefaultConfig()
	r := &Runtime{
		runner:       runner,
		queues:       queues,
		names:        cfg.Queues,
		concurrency:  1,
		pollInterval: cfg.PollInterval,
		tenantBurst:  cfg.TenantBurst,
		maxPerIter:   cfg.MaxMessagesPerIteration,
		workerID:     id.NewWorkerID(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WorkerID returns the runtime's unique worker identifier.
func (r *Runtime) WorkerID() id.ID { return r.workerID }

// Start launches the polling goroutines. It returns immediately.
func (r *Runtime) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.logger.Info("worker runtime starting",
		slog.String("worker_id", r.workerID.String()),
		slog.Int("concurrency", r.concurrency),
		slog.Any("queues", r.names),
	)

	for range r.concurrency {
		r.wg.Add(1)
		go r.pollLoop()
	}
	return nil
}

// Stop signals the polling goroutines and waits for them to finish, or
// until ctx expires.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("worker runtime stopped", slog.String("worker_id", r.workerID.String()))
		return nil
	case <-ctx.Done():
		r.logger.Warn("worker runtime shutdown timed out")
		return ctx.Err()
	}
}

func (r *Runtime) pollLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		handled := r.sweep(context.Background())
		if handled == 0 {
			r.sleep()
		}
	}
}

// sweep performs one fairness iteration: every queue, every tenant with
// pending work, up to tenantBurst messages each, bounded overall by
// maxPerIter. Returns the number of messages handled.
func (r *Runtime) sweep(ctx context.Context) int {
	handled := 0
	for _, name := range r.names {
		tenants, err := r.queues.ListQueueTenants(ctx, name)
		if err != nil {
			r.logger.Error("list queue tenants failed",
				slog.String("queue", name),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, tenant := range tenants {
			for burst := 0; burst < r.tenantBurst; burst++ {
				if r.maxPerIter > 0 && handled >= r.maxPerIter {
					return handled
				}
				select {
				case <-r.stopCh:
					return handled
				default:
				}

				if r.manager != nil && !r.manager.Acquire(name, tenant) {
					// Rate limited; the message stays queued and the
					// next sweep picks it up.
					break
				}
				m, err := r.queues.DequeueMessage(ctx, tenant, name)
				if err != nil || m == nil {
					if r.manager != nil {
						r.manager.Release(name, tenant)
					}
					if err != nil {
						r.logger.Error("dequeue failed",
							slog.String("queue", name),
							slog.String("tenant_id", tenant),
							slog.String("error", err.Error()),
						)
					}
					break
				}

				r.handle(ctx, m)
				if r.manager != nil {
					r.manager.Release(name, tenant)
				}
				handled++
			}
		}
	}
	return handled
}

// handle runs one attempt and settles the message. Terminal and paused
// outcomes ack; a retrying outcome nacks back into the delayed holding
// area with the engine's backoff. Messages pointing at jobs that no
// longer exist or are no longer runnable are acked as stale — the job
// row, not the queue, is the source of truth.
func (r *Runtime) handle(ctx context.Context, m *queue.Message) {
	res, err := r.runner.RunOnce(ctx, m.TenantID, m.JobID)
	if err != nil {
		if errors.Is(err, conveyor.ErrJobNotFound) || fault.IsCode(err, fault.CodeStateTransitionInvalid) {
			r.logger.Warn("dropping stale queue message",
				slog.String("message_id", m.ID.String()),
				slog.String("job_id", m.JobID.String()),
				slog.String("error", err.Error()),
			)
			r.settle(ctx, m, func() error {
				return r.queues.AckMessage(ctx, m.TenantID, m.ID.String())
			})
			return
		}

		r.logger.Error("job execution failed",
			slog.String("job_id", m.JobID.String()),
			slog.String("error", err.Error()),
		)
		r.settle(ctx, m, func() error {
			return r.queues.NackMessage(ctx, m.TenantID, m.ID.String(), true, r.pollInterval.Milliseconds())
		})
		return
	}

	if res.Status == job.StatusRetrying {
		r.settle(ctx, m, func() error {
			return r.queues.NackMessage(ctx, m.TenantID, m.ID.String(), true, res.RetryAfterMS)
		})
		return
	}
	r.settle(ctx, m, func() error {
		return r.queues.AckMessage(ctx, m.TenantID, m.ID.String())
	})
}

func (r *Runtime) settle(_ context.Context, m *queue.Message, fn func() error) {
	if err := fn(); err != nil {
		r.logger.Error("message settle failed",
			slog.String("message_id", m.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Runtime) sleep() {
	select {
	case <-time.After(r.pollInterval):
	case <-r.stopCh:
	}
}
