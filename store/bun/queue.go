package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/queue"
)

// EnqueueMessage appends m to the tail of its (tenant, queue) FIFO. A
// future VisibleAt holds it in the delayed area via the visibility
// filter at dequeue time.
func (s *Store) EnqueueMessage(ctx context.Context, m *queue.Message) error {
	if _, err := s.db.NewInsert().Model(toMessageModel(m)).Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/bun: enqueue message: %w", err)
	}
	return nil
}

// DequeueMessage pops the head of the tenant's queue into the in-flight
// set, claiming the row with FOR UPDATE SKIP LOCKED inside a
// transaction. Returns (nil, nil) when the queue is empty.
func (s *Store) DequeueMessage(ctx context.Context, tenantID, queueName string) (*queue.Message, error) {
	var claimed *messageModel
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := new(messageModel)
		err := tx.NewSelect().Model(m).
			Where("tenant_id = ?", tenantID).
			Where("queue = ?", queueName).
			Where("in_flight = FALSE").
			Where("visible_at <= NOW()").
			Order("enqueued_at", "id").
			Limit(1).
			For("UPDATE SKIP LOCKED").
			Scan(ctx)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.NewUpdate().Model(m).
			Set("in_flight = TRUE").
			Where("id = ?", m.ID).
			Exec(ctx); err != nil {
			return err
		}
		claimed = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: dequeue message: %w", err)
	}
	if claimed == nil {
		return nil, nil
	}
	return fromMessageModel(claimed)
}

// AckMessage removes an in-flight message permanently.
func (s *Store) AckMessage(ctx context.Context, tenantID string, messageID string) error {
	res, err := s.db.NewDelete().Model((*messageModel)(nil)).
		Where("id = ?", messageID).
		Where("tenant_id = ?", tenantID).
		Where("in_flight = TRUE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: ack message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/bun: ack message: %w", err)
	}
	if affected == 0 {
		return s.explainMessageMiss(ctx, tenantID, messageID)
	}
	return nil
}

// NackMessage returns an in-flight message to the queue (immediately, or
// delayed when delayMS > 0) with its attempt counter incremented, or
// drops it when requeue is false.
func (s *Store) NackMessage(ctx context.Context, tenantID string, messageID string, requeue bool, delayMS int64) error {
	if !requeue {
		return s.AckMessage(ctx, tenantID, messageID)
	}

	visibleAt := time.Now().UTC().Add(time.Duration(delayMS) * time.Millisecond)
	res, err := s.db.NewUpdate().Model((*messageModel)(nil)).
		Set("in_flight = FALSE").
		Set("attempt = attempt + 1").
		Set("visible_at = ?", visibleAt).
		Where("id = ?", messageID).
		Where("tenant_id = ?", tenantID).
		Where("in_flight = TRUE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: nack message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/bun: nack message: %w", err)
	}
	if affected == 0 {
		return s.explainMessageMiss(ctx, tenantID, messageID)
	}
	return nil
}

func (s *Store) explainMessageMiss(ctx context.Context, tenantID, messageID string) error {
	var storedTenant string
	err := s.db.NewSelect().Model((*messageModel)(nil)).
		Column("tenant_id").
		Where("id = ?", messageID).
		Where("in_flight = TRUE").
		Scan(ctx, &storedTenant)
	if isNoRows(err) {
		return conveyor.ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("conveyor/bun: settle message: %w", err)
	}
	if storedTenant != tenantID {
		return conveyor.ErrTenantMismatch
	}
	return conveyor.ErrMessageNotFound
}

// ListQueueTenants returns the tenants that currently have visible
// messages on the named queue, sorted for deterministic sweeps.
func (s *Store) ListQueueTenants(ctx context.Context, queueName string) ([]string, error) {
	var tenants []string
	err := s.db.NewSelect().Model((*messageModel)(nil)).
		ColumnExpr("DISTINCT tenant_id").
		Where("queue = ?", queueName).
		Where("in_flight = FALSE").
		Where("visible_at <= NOW()").
		OrderExpr("tenant_id").
		Scan(ctx, &tenants)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: list queue tenants: %w", err)
	}
	return tenants, nil
}

// CountMessages returns the number of visible messages for the tenant's
// queue, excluding in-flight and still-delayed ones.
func (s *Store) CountMessages(ctx context.Context, tenantID, queueName string) (int64, error) {
	n, err := s.db.NewSelect().Model((*messageModel)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("queue = ?", queueName).
		Where("in_flight = FALSE").
		Where("visible_at <= NOW()").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("conveyor/bun: count messages: %w", err)
	}
	return int64(n), nil
}
