// Package outbox implements the transactional outbox pattern: durable
// pending events appended alongside the business writes that produced
// them, and a relay that moves undelivered events into the queue backend
// with per-(event, consumer) delivery dedup, so replays never
// double-enqueue for the same consumer.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/queue"
)

// Relay moves pending outbox events into the queue backend.
type Relay struct {
	store  Store
	queues queue.Store
	logger *slog.Logger
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithLogger sets the relay's logger.
func WithLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = l }
}

// NewRelay creates a Relay.
func NewRelay(store Store, queues queue.Store, opts ...RelayOption) *Relay {
	r := &Relay{store: store, queues: queues, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Relay enqueues up to limit of the tenant's pending events onto the
// named queue for the given consumer, then marks them published. An
// event that already has a delivery record for this consumer is skipped
// — even if it was externally reset to pending — which makes
// at-least-once relay effectively once-per-consumer at the kernel
// boundary. Returns the number of messages enqueued.
func (r *Relay) Relay(ctx context.Context, tenantID, queueName, consumer string, limit int) (int, error) {
	events, err := r.store.ListPendingEvents(ctx, tenantID, limit)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, e := range events {
		delivered, err := r.store.HasDelivery(ctx, tenantID, e.ID, consumer)
		if err != nil {
			return enqueued, err
		}

		if !delivered {
			m := queue.New(tenantID, queueName, e.JobID)
			m.TraceID = e.TraceID
			m.Payload = e.Payload
			if err := r.queues.EnqueueMessage(ctx, m); err != nil {
				return enqueued, err
			}

			rec := &DeliveryRecord{
				ID:        id.NewDeliveryID(),
				TenantID:  tenantID,
				EventID:   e.ID,
				Consumer:  consumer,
				CreatedAt: time.Now().UTC(),
			}
			if err := r.store.RecordDelivery(ctx, rec); err != nil {
				return enqueued, err
			}
			enqueued++

			r.logger.Debug("relayed outbox event",
				slog.String("tenant_id", tenantID),
				slog.String("event_id", e.ID.String()),
				slog.String("consumer", consumer),
				slog.String("queue", queueName),
			)
		}

		// Mark published regardless: a skipped event was already handed
		// to this consumer and must not stay pending forever.
		if err := r.store.MarkEventPublished(ctx, tenantID, e.ID); err != nil {
			return enqueued, err
		}
	}

	return enqueued, nil
}
