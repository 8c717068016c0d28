package outbox

import (
	"context"

	"github.com/workbenchio/conveyor/id"
)

// Store defines the persistence contract for the outbox and its
// per-consumer delivery records.
type Store interface {
	// AppendEvent inserts a pending event. Callers needing atomicity
	// with a business write use the composite store's SubmitJob, which
	// appends the event in the same transaction boundary.
	AppendEvent(ctx context.Context, e *Event) error

	// GetEvent retrieves an event by ID within the tenant's scope.
	GetEvent(ctx context.Context, tenantID string, eventID id.ID) (*Event, error)

	// ListPendingEvents returns up to limit of the tenant's pending
	// events in append order. Zero limit means no limit.
	ListPendingEvents(ctx context.Context, tenantID string, limit int) ([]*Event, error)

	// MarkEventPublished flips the event to published. Monotonic: once
	// published the flag never reverts (re-marking is a no-op).
	MarkEventPublished(ctx context.Context, tenantID string, eventID id.ID) error

	// HasDelivery reports whether a delivery record exists for
	// (tenant, event, consumer).
	HasDelivery(ctx context.Context, tenantID string, eventID id.ID, consumer string) (bool, error)

	// RecordDelivery creates the delivery record for
	// (tenant, event, consumer). Idempotent: recording an existing pair
	// is a no-op.
	RecordDelivery(ctx context.Context, rec *DeliveryRecord) error
}
