package dlq

import (
	"context"

	"github.com/workbenchio/conveyor/id"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of items to return. Zero means no limit.
	Limit int
	// Offset is the number of items to skip.
	Offset int
	// Status filters by item status. Empty means all statuses.
	Status ItemStatus
}

// Store defines the persistence contract for the dead-letter queue.
type Store interface {
	// PushDLQ adds an item to the dead-letter queue.
	PushDLQ(ctx context.Context, item *Item) error

	// GetDLQ retrieves an item by ID within the tenant's scope.
	GetDLQ(ctx context.Context, tenantID string, itemID id.ID) (*Item, error)

	// UpdateDLQ persists changes to an item, but only if the stored
	// status still equals expect (compare-and-swap, same discipline as
	// job.Store.UpdateJob).
	UpdateDLQ(ctx context.Context, item *Item, expect ItemStatus) error

	// ListDLQ returns the tenant's items matching the given options.
	ListDLQ(ctx context.Context, tenantID string, opts ListOpts) ([]*Item, error)

	// CountDLQ returns the number of the tenant's items in the given
	// status. Empty status counts all.
	CountDLQ(ctx context.Context, tenantID string, status ItemStatus) (int64, error)
}
