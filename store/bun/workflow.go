package bunstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/workflow"
)

// AppendCheckpoint assigns the next sequence number for the checkpoint's
// thread and appends. A transaction-scoped advisory lock on the thread
// serializes concurrent appends so seq stays unique and strictly
// increasing.
func (s *Store) AppendCheckpoint(ctx context.Context, cp *workflow.Checkpoint) error {
	m, err := toCheckpointModel(cp)
	if err != nil {
		return err
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"SELECT pg_advisory_xact_lock(hashtext(?))", m.ThreadID,
		); err != nil {
			return err
		}

		var parentID any
		if m.ParentID != "" {
			parentID = m.ParentID
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO conveyor_checkpoints (id, thread_id, job_id, tenant_id, seq, node,
				status, kind, payload, snapshot, parent_id, pending_writes, created_at)
			SELECT ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?, ?::jsonb, ?
			FROM conveyor_checkpoints WHERE thread_id = ?
			RETURNING seq`,
			m.ID, m.ThreadID, m.JobID, m.TenantID, m.Node,
			m.Status, m.Kind, m.Payload, m.Snapshot, parentID, string(m.PendingWrites), m.CreatedAt,
			m.ThreadID,
		).Scan(&cp.Seq)
	})
	if err != nil {
		return fmt.Errorf("conveyor/bun: append checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints returns the tenant's checkpoints for a thread in
// descending seq order.
func (s *Store) ListCheckpoints(ctx context.Context, tenantID string, threadID id.ID, opts workflow.ListOpts) ([]*workflow.Checkpoint, error) {
	var models []*checkpointModel
	q := s.db.NewSelect().Model(&models).
		Where("tenant_id = ?", tenantID).
		Where("thread_id = ?", threadID.String()).
		OrderExpr("seq DESC")
	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/bun: list checkpoints: %w", err)
	}

	cps := make([]*workflow.Checkpoint, 0, len(models))
	for _, m := range models {
		cp, err := fromCheckpointModel(m)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, nil
}

// LatestCheckpoint returns the highest-seq runtime checkpoint of a
// thread, or the exact runtime checkpoint when checkpointID is non-nil.
func (s *Store) LatestCheckpoint(ctx context.Context, tenantID string, threadID id.ID, checkpointID *id.ID) (*workflow.Checkpoint, error) {
	m := new(checkpointModel)
	q := s.db.NewSelect().Model(m).
		Where("tenant_id = ?", tenantID).
		Where("thread_id = ?", threadID.String()).
		Where("kind = ?", string(workflow.KindRuntime))
	if checkpointID != nil {
		q = q.Where("id = ?", checkpointID.String())
	} else {
		q = q.OrderExpr("seq DESC").Limit(1)
	}

	err := q.Scan(ctx)
	if isNoRows(err) {
		return nil, conveyor.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: latest checkpoint: %w", err)
	}
	return fromCheckpointModel(m)
}

// AppendWrites merges pending writes into the existing runtime
// checkpoint with the given ID. A no-op if the checkpoint does not
// exist.
func (s *Store) AppendWrites(ctx context.Context, tenantID string, checkpointID id.ID, writes []workflow.PendingWrite) error {
	if len(writes) == 0 {
		return nil
	}
	blob, err := json.Marshal(writes)
	if err != nil {
		return fmt.Errorf("conveyor/bun: marshal pending writes: %w", err)
	}

	_, err = s.db.NewUpdate().Model((*checkpointModel)(nil)).
		Set("pending_writes = pending_writes || ?::jsonb", string(blob)).
		Where("id = ?", checkpointID.String()).
		Where("tenant_id = ?", tenantID).
		Where("kind = ?", string(workflow.KindRuntime)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: append writes: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Resume tokens
// ──────────────────────────────────────────────────

// PutToken stores a token record, replacing any prior record for the
// same (tenant, workflow) pair.
func (s *Store) PutToken(ctx context.Context, rec *workflow.TokenRecord) error {
	m, err := toTokenModel(rec)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(m).
		On("CONFLICT (tenant_id, workflow_id) DO UPDATE").
		Set("token = EXCLUDED.token").
		Set("reasons = EXCLUDED.reasons").
		Set("issued_at = EXCLUDED.issued_at").
		Set("used = EXCLUDED.used").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: put token: %w", err)
	}
	return nil
}

// GetToken retrieves the record for (tenant, workflow).
func (s *Store) GetToken(ctx context.Context, tenantID string, workflowID id.ID) (*workflow.TokenRecord, error) {
	m := new(tokenModel)
	err := s.db.NewSelect().Model(m).
		Where("tenant_id = ?", tenantID).
		Where("workflow_id = ?", workflowID.String()).
		Scan(ctx)
	if isNoRows(err) {
		return nil, conveyor.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: get token: %w", err)
	}
	return fromTokenModel(m)
}

// ConsumeToken atomically flips the record's Used flag from false to
// true, provided the stored token matches.
func (s *Store) ConsumeToken(ctx context.Context, tenantID string, workflowID id.ID, token string) error {
	res, err := s.db.NewUpdate().Model((*tokenModel)(nil)).
		Set("used = TRUE").
		Where("tenant_id = ?", tenantID).
		Where("workflow_id = ?", workflowID.String()).
		Where("token = ?", token).
		Where("used = FALSE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: consume token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/bun: consume token: %w", err)
	}
	if affected == 0 {
		exists, err := s.db.NewSelect().Model((*tokenModel)(nil)).
			Where("tenant_id = ?", tenantID).
			Where("workflow_id = ?", workflowID.String()).
			Where("token = ?", token).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("conveyor/bun: consume token: %w", err)
		}
		if !exists {
			return conveyor.ErrTokenNotFound
		}
		return conveyor.ErrStatusConflict
	}
	return nil
}
