// Package redis implements the kernel's hot-path stores on Redis: the
// tenant-scoped FIFO queues (Lists plus a delayed Sorted Set), the
// single-use resume tokens, and the idempotency ledger. The durable
// system of record — jobs, outbox, DLQ, checkpoints — stays in a SQL
// backend; pair this store with one of those via the composite Store
// when low queue latency matters.
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/workbenchio/conveyor/idempotency"
	"github.com/workbenchio/conveyor/queue"
	"github.com/workbenchio/conveyor/workflow"
)

// Compile-time interface checks.
var (
	_ queue.Store         = (*Store)(nil)
	_ workflow.TokenStore = (*Store)(nil)
	_ idempotency.Store   = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the queue, resume-token, and idempotency contracts
// backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// New creates a Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
