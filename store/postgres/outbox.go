package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/outbox"
)

const eventColumns = `id, tenant_id, type, aggregate_type, aggregate_id,
	job_id, trace_id, payload, status, published_at, created_at`

// AppendEvent inserts a pending event.
func (s *Store) AppendEvent(ctx context.Context, e *outbox.Event) error {
	return s.insertEvent(ctx, s.pool, e)
}

func (s *Store) insertEvent(ctx context.Context, db execer, e *outbox.Event) error {
	_, err := db.Exec(ctx, `
		INSERT INTO conveyor_outbox_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.TenantID, e.Type, e.AggregateType, e.AggregateID,
		e.JobID, e.TraceID, e.Payload, e.Status, e.PublishedAt, e.CreatedAt,
	)
	if isUniqueViolation(err) {
		return conveyor.ErrEventAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("conveyor/postgres: append event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID within the tenant's scope.
func (s *Store) GetEvent(ctx context.Context, tenantID string, eventID id.ID) (*outbox.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM conveyor_outbox_events
		WHERE id = $1 AND tenant_id = $2`,
		eventID, tenantID,
	)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conveyor.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: get event: %w", err)
	}
	return e, nil
}

// ListPendingEvents returns up to limit of the tenant's pending events
// in append order. Zero limit means no limit.
func (s *Store) ListPendingEvents(ctx context.Context, tenantID string, limit int) ([]*outbox.Event, error) {
	q := `SELECT ` + eventColumns + `
		FROM conveyor_outbox_events
		WHERE tenant_id = $1 AND status = 'pending'
		ORDER BY created_at, id`
	args := []any{tenantID}
	if limit > 0 {
		args = append(args, limit)
		q += " LIMIT $2"
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list pending events: %w", err)
	}
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		e, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/postgres: list pending events: %w", scanErr)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventPublished flips the event to published. Monotonic: re-marking
// a published event is a no-op.
func (s *Store) MarkEventPublished(ctx context.Context, tenantID string, eventID id.ID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_outbox_events
		SET status = 'published', published_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND status = 'pending'`,
		eventID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: mark event published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already published, or missing. A missing event is an error;
		// a published one is not.
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM conveyor_outbox_events WHERE id = $1 AND tenant_id = $2)`,
			eventID, tenantID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("conveyor/postgres: mark event published: %w", err)
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
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conveyor_deliveries
			WHERE tenant_id = $1 AND event_id = $2 AND consumer = $3
		)`,
		tenantID, eventID, consumer,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("conveyor/postgres: has delivery: %w", err)
	}
	return exists, nil
}

// RecordDelivery creates the delivery record for
// (tenant, event, consumer). Idempotent.
func (s *Store) RecordDelivery(ctx context.Context, rec *outbox.DeliveryRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_deliveries (id, tenant_id, event_id, consumer, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, event_id, consumer) DO NOTHING`,
		rec.ID, rec.TenantID, rec.EventID, rec.Consumer, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: record delivery: %w", err)
	}
	return nil
}

func scanEvent(row pgx.Row) (*outbox.Event, error) {
	var e outbox.Event
	err := row.Scan(
		&e.ID, &e.TenantID, &e.Type, &e.AggregateType, &e.AggregateID,
		&e.JobID, &e.TraceID, &e.Payload, &e.Status, &e.PublishedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
