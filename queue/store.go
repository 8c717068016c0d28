package queue

import "context"

// Store defines the persistence contract for tenant-scoped FIFO queues
// with an in-flight set and a delayed holding area.
//
// Ack and nack verify that the message belongs to the calling tenant; a
// mismatch fails with ErrTenantMismatch, never silently succeeds.
type Store interface {
	// EnqueueMessage appends m to the tail of its (tenant, queue) FIFO.
	// A non-zero VisibleAt in the future places it in the delayed
	// holding area instead.
	EnqueueMessage(ctx context.Context, m *Message) error

	// DequeueMessage pops the head of the tenant's queue into the
	// in-flight set. Returns (nil, nil) when the queue is empty — a
	// non-blocking poll, not a blocking wait. Delayed messages whose
	// VisibleAt has passed are promoted ahead of the pop.
	DequeueMessage(ctx context.Context, tenantID, queueName string) (*Message, error)

	// AckMessage removes an in-flight message permanently.
	AckMessage(ctx context.Context, tenantID string, messageID string) error

	// NackMessage removes the message from the in-flight set and
	// increments its attempt counter. If requeue is true the message is
	// re-inserted at the head, or into the delayed holding area when
	// delay > 0 (the worker runtime encodes retry backoff here).
	// Otherwise the message is dropped.
	NackMessage(ctx context.Context, tenantID string, messageID string, requeue bool, delayMS int64) error

	// ListQueueTenants returns the tenants that currently have pending
	// (visible or delayed-due) messages on the named queue.
	ListQueueTenants(ctx context.Context, queueName string) ([]string, error)

	// CountMessages returns the number of pending messages for the
	// tenant's queue, excluding in-flight ones.
	CountMessages(ctx context.Context, tenantID, queueName string) (int64, error)
}
