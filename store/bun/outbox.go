package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/outbox"
)

// AppendEvent inserts a pending event.
func (s *Store) AppendEvent(ctx context.Context, e *outbox.Event) error {
	return s.insertEvent(ctx, s.db, e)
}

func (s *Store) insertEvent(ctx context.Context, db bun.IDB, e *outbox.Event) error {
	_, err := db.NewInsert().Model(toEventModel(e)).Exec(ctx)
	if isDuplicateKey(err) {
		return conveyor.ErrEventAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("conveyor/bun: append event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID within the tenant's scope.
func (s *Store) GetEvent(ctx context.Context, tenantID string, eventID id.ID) (*outbox.Event, error) {
	m := new(eventModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", eventID.String()).
		Where("tenant_id = ?", tenantID).
		Scan(ctx)
	if isNoRows(err) {
		return nil, conveyor.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: get event: %w", err)
	}
	return fromEventModel(m)
}

// ListPendingEvents returns up to limit of the tenant's pending events
// in append order. Zero limit means no limit.
func (s *Store) ListPendingEvents(ctx context.Context, tenantID string, limit int) ([]*outbox.Event, error) {
	var models []*eventModel
	q := s.db.NewSelect().Model(&models).
		Where("tenant_id = ?", tenantID).
		Where("status = 'pending'").
		Order("created_at", "id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/bun: list pending events: %w", err)
	}

	events := make([]*outbox.Event, 0, len(models))
	for _, m := range models {
		e, err := fromEventModel(m)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// MarkEventPublished flips the event to published. Monotonic: re-marking
// a published event is a no-op.
func (s *Store) MarkEventPublished(ctx context.Context, tenantID string, eventID id.ID) error {
	res, err := s.db.NewUpdate().Model((*eventModel)(nil)).
		Set("status = 'published'").
		Set("published_at = NOW()").
		Where("id = ?", eventID.String()).
		Where("tenant_id = ?", tenantID).
		Where("status = 'pending'").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: mark event published: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/bun: mark event published: %w", err)
	}
	if affected == 0 {
		// Already published, or missing. A missing event is an error;
		// a published one is not.
		exists, err := s.db.NewSelect().Model((*eventModel)(nil)).
			Where("id = ?", eventID.String()).
			Where("tenant_id = ?", tenantID).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("conveyor/bun: mark event published: %w", err)
		}
		if !exists {
			return conveyor.ErrEventNotFound
		}
	}
	return nil
}

// HasDelivery reports whether a delivery record exists for
// (tenant, event, consumer).
func (s *Store) HasDelivery(ctx context.Context, tenantID string, eventID id.ID, consumer string) (bool, error) {
	exists, err := s.db.NewSelect().Model((*deliveryModel)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("event_id = ?", eventID.String()).
		Where("consumer = ?", consumer).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("conveyor/bun: has delivery: %w", err)
	}
	return exists, nil
}

// RecordDelivery creates the delivery record for
// (tenant, event, consumer). Idempotent.
func (s *Store) RecordDelivery(ctx context.Context, rec *outbox.DeliveryRecord) error {
	m := &deliveryModel{
		ID:        rec.ID.String(),
		TenantID:  rec.TenantID,
		EventID:   rec.EventID.String(),
		Consumer:  rec.Consumer,
		CreatedAt: rec.CreatedAt,
	}
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (tenant_id, event_id, consumer) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: record delivery: %w", err)
	}
	return nil
}
