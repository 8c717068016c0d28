package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/dlq"
	"github.com/workbenchio/conveyor/id"
)

const dlqColumns = `id, job_id, tenant_id, error_class, error_code,
	status, discard_reason, reviewer_a, reviewer_b, created_at, resolved_at`

// PushDLQ adds an item to the dead-letter queue.
func (s *Store) PushDLQ(ctx context.Context, item *dlq.Item) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_dlq_items (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		item.ID, item.JobID, item.TenantID, item.ErrorClass, item.ErrorCode,
		item.Status, item.DiscardReason, item.ReviewerA, item.ReviewerB,
		item.CreatedAt, item.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: push dlq: %w", err)
	}
	return nil
}

// GetDLQ retrieves an item by ID within the tenant's scope.
func (s *Store) GetDLQ(ctx context.Context, tenantID string, itemID id.ID) (*dlq.Item, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+dlqColumns+`
		FROM conveyor_dlq_items
		WHERE id = $1 AND tenant_id = $2`,
		itemID, tenantID,
	)
	item, err := scanDLQItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conveyor.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: get dlq: %w", err)
	}
	return item, nil
}

// UpdateDLQ persists changes to an item only if the stored status still
// equals expect.
func (s *Store) UpdateDLQ(ctx context.Context, item *dlq.Item, expect dlq.ItemStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_dlq_items SET
			status = $3, discard_reason = $4, reviewer_a = $5, reviewer_b = $6,
			resolved_at = $7
		WHERE id = $1 AND tenant_id = $2 AND status = $8`,
		item.ID, item.TenantID, item.Status, item.DiscardReason,
		item.ReviewerA, item.ReviewerB, item.ResolvedAt, expect,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: update dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var storedTenant string
		err := s.pool.QueryRow(ctx,
			`SELECT tenant_id FROM conveyor_dlq_items WHERE id = $1`, item.ID,
		).Scan(&storedTenant)
		if errors.Is(err, pgx.ErrNoRows) {
			return conveyor.ErrDLQNotFound
		}
		if err != nil {
			return fmt.Errorf("conveyor/postgres: update dlq: %w", err)
		}
		if storedTenant != item.TenantID {
			return conveyor.ErrTenantMismatch
		}
		return conveyor.ErrStatusConflict
	}
	return nil
}

// ListDLQ returns the tenant's items matching opts, newest first.
func (s *Store) ListDLQ(ctx context.Context, tenantID string, opts dlq.ListOpts) ([]*dlq.Item, error) {
	q := `SELECT ` + dlqColumns + ` FROM conveyor_dlq_items WHERE tenant_id = $1`
	args := []any{tenantID}
	if opts.Status != "" {
		args = append(args, opts.Status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	q += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var items []*dlq.Item
	for rows.Next() {
		item, scanErr := scanDLQItem(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/postgres: list dlq: %w", scanErr)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountDLQ returns the number of the tenant's items in the given status.
// Empty status counts all.
func (s *Store) CountDLQ(ctx context.Context, tenantID string, status dlq.ItemStatus) (int64, error) {
	q := `SELECT COUNT(*) FROM conveyor_dlq_items WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		q += " AND status = $2"
	}

	var n int64
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count dlq: %w", err)
	}
	return n, nil
}

func scanDLQItem(row pgx.Row) (*dlq.Item, error) {
	var item dlq.Item
	err := row.Scan(
		&item.ID, &item.JobID, &item.TenantID, &item.ErrorClass, &item.ErrorCode,
		&item.Status, &item.DiscardReason, &item.ReviewerA, &item.ReviewerB,
		&item.CreatedAt, &item.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
