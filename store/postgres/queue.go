package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/queue"
)

// EnqueueMessage appends m to the tail of its (tenant, queue) FIFO. A
// future VisibleAt holds it in the delayed area — same table, gated by
// the visibility filter at dequeue time.
func (s *Store) EnqueueMessage(ctx context.Context, m *queue.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_queue_messages
			(id, tenant_id, queue, job_id, trace_id, payload, attempt, enqueued_at, visible_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.TenantID, m.Queue, m.JobID, m.TraceID, m.Payload, m.Attempt, m.EnqueuedAt, m.VisibleAt,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: enqueue message: %w", err)
	}
	return nil
}

// DequeueMessage pops the head of the tenant's queue into the in-flight
// set. SKIP LOCKED keeps concurrent workers from double-claiming a row;
// FIFO order is enqueue order among visible messages. Returns (nil, nil)
// when the queue is empty.
func (s *Store) DequeueMessage(ctx context.Context, tenantID, queueName string) (*queue.Message, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE conveyor_queue_messages SET in_flight = TRUE
		WHERE id = (
			SELECT id FROM conveyor_queue_messages
			WHERE tenant_id = $1 AND queue = $2
			  AND in_flight = FALSE AND visible_at <= NOW()
			ORDER BY enqueued_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, queue, job_id, trace_id, payload, attempt, enqueued_at, visible_at`,
		tenantID, queueName,
	)

	var m queue.Message
	err := row.Scan(&m.ID, &m.TenantID, &m.Queue, &m.JobID, &m.TraceID, &m.Payload, &m.Attempt, &m.EnqueuedAt, &m.VisibleAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: dequeue message: %w", err)
	}
	return &m, nil
}

// AckMessage removes an in-flight message permanently.
func (s *Store) AckMessage(ctx context.Context, tenantID string, messageID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM conveyor_queue_messages
		WHERE id = $1 AND tenant_id = $2 AND in_flight = TRUE`,
		messageID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: ack message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMessageMiss(ctx, tenantID, messageID)
	}
	return nil
}

// NackMessage returns an in-flight message to the queue (immediately, or
// into the delayed area when delayMS > 0) with its attempt counter
// incremented, or drops it when requeue is false.
func (s *Store) NackMessage(ctx context.Context, tenantID string, messageID string, requeue bool, delayMS int64) error {
	if !requeue {
		return s.AckMessage(ctx, tenantID, messageID)
	}

	visibleAt := time.Now().UTC().Add(time.Duration(delayMS) * time.Millisecond)
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_queue_messages
		SET in_flight = FALSE, attempt = attempt + 1, visible_at = $3
		WHERE id = $1 AND tenant_id = $2 AND in_flight = TRUE`,
		messageID, tenantID, visibleAt,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: nack message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMessageMiss(ctx, tenantID, messageID)
	}
	return nil
}

func (s *Store) explainMessageMiss(ctx context.Context, tenantID, messageID string) error {
	var storedTenant string
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id FROM conveyor_queue_messages WHERE id = $1 AND in_flight = TRUE`,
		messageID,
	).Scan(&storedTenant)
	if errors.Is(err, pgx.ErrNoRows) {
		return conveyor.ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("conveyor/postgres: settle message: %w", err)
	}
	if storedTenant != tenantID {
		return conveyor.ErrTenantMismatch
	}
	return conveyor.ErrMessageNotFound
}

// ListQueueTenants returns the tenants that currently have visible
// messages on the named queue, sorted for deterministic sweeps.
func (s *Store) ListQueueTenants(ctx context.Context, queueName string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT tenant_id FROM conveyor_queue_messages
		WHERE queue = $1 AND in_flight = FALSE AND visible_at <= NOW()
		ORDER BY tenant_id`,
		queueName,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list queue tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("conveyor/postgres: list queue tenants: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// CountMessages returns the number of visible messages for the tenant's
// queue, excluding in-flight and still-delayed ones.
func (s *Store) CountMessages(ctx context.Context, tenantID, queueName string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM conveyor_queue_messages
		WHERE tenant_id = $1 AND queue = $2
		  AND in_flight = FALSE AND visible_at <= NOW()`,
		tenantID, queueName,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count messages: %w", err)
	}
	return n, nil
}
