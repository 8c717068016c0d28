package bunstore

import (
	"context"
	"fmt"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/dlq"
	"github.com/workbenchio/conveyor/id"
)

// PushDLQ adds an item to the dead-letter queue.
func (s *Store) PushDLQ(ctx context.Context, item *dlq.Item) error {
	if _, err := s.db.NewInsert().Model(toDLQModel(item)).Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/bun: push dlq: %w", err)
	}
	return nil
}

// GetDLQ retrieves an item by ID within the tenant's scope.
func (s *Store) GetDLQ(ctx context.Context, tenantID string, itemID id.ID) (*dlq.Item, error) {
	m := new(dlqModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", itemID.String()).
		Where("tenant_id = ?", tenantID).
		Scan(ctx)
	if isNoRows(err) {
		return nil, conveyor.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: get dlq: %w", err)
	}
	return fromDLQModel(m)
}

// UpdateDLQ persists changes to an item only if the stored status still
// equals expect.
func (s *Store) UpdateDLQ(ctx context.Context, item *dlq.Item, expect dlq.ItemStatus) error {
	res, err := s.db.NewUpdate().Model(toDLQModel(item)).
		Column("status", "discard_reason", "reviewer_a", "reviewer_b", "resolved_at").
		Where("id = ?", item.ID.String()).
		Where("tenant_id = ?", item.TenantID).
		Where("status = ?", string(expect)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: update dlq: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/bun: update dlq: %w", err)
	}
	if affected == 0 {
		return s.explainDLQMiss(ctx, item)
	}
	return nil
}

func (s *Store) explainDLQMiss(ctx context.Context, item *dlq.Item) error {
	var storedTenant string
	err := s.db.NewSelect().Model((*dlqModel)(nil)).
		Column("tenant_id").
		Where("id = ?", item.ID.String()).
		Scan(ctx, &storedTenant)
	if isNoRows(err) {
		return conveyor.ErrDLQNotFound
	}
	if err != nil {
		return fmt.Errorf("conveyor/bun: update dlq: %w", err)
	}
	if storedTenant != item.TenantID {
		return conveyor.ErrTenantMismatch
	}
	return conveyor.ErrStatusConflict
}

// ListDLQ returns the tenant's items matching opts, newest first.
func (s *Store) ListDLQ(ctx context.Context, tenantID string, opts dlq.ListOpts) ([]*dlq.Item, error) {
	var models []*dlqModel
	q := s.db.NewSelect().Model(&models).
		Where("tenant_id = ?", tenantID).
		OrderExpr("created_at DESC, id")
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/bun: list dlq: %w", err)
	}

	items := make([]*dlq.Item, 0, len(models))
	for _, m := range models {
		item, err := fromDLQModel(m)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// CountDLQ returns the number of the tenant's items in the given status.
// Empty status counts all.
func (s *Store) CountDLQ(ctx context.Context, tenantID string, status dlq.ItemStatus) (int64, error) {
	q := s.db.NewSelect().Model((*dlqModel)(nil)).
		Where("tenant_id = ?", tenantID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("conveyor/bun: count dlq: %w", err)
	}
	return int64(n), nil
}
