package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/workflow"
)

const checkpointColumns = `id, thread_id, job_id, tenant_id, seq, node,
	status, kind, payload, snapshot, parent_id, pending_writes, created_at`

// AppendCheckpoint assigns the next sequence number for the checkpoint's
// thread and appends. A transaction-scoped advisory lock on the thread
// serializes concurrent appends so seq stays unique and strictly
// increasing.
func (s *Store) AppendCheckpoint(ctx context.Context, cp *workflow.Checkpoint) error {
	writes, err := marshalWrites(cp.PendingWrites)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: append checkpoint: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, cp.ThreadID.String(),
	); err != nil {
		return fmt.Errorf("conveyor/postgres: append checkpoint: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO conveyor_checkpoints (`+checkpointColumns+`)
		SELECT $1, $2, $3, $4, COALESCE(MAX(seq), 0) + 1, $5, $6, $7, $8, $9, $10, $11::jsonb, $12
		FROM conveyor_checkpoints WHERE thread_id = $2
		RETURNING seq`,
		cp.ID, cp.ThreadID, cp.JobID, cp.TenantID, cp.Node,
		cp.Status, cp.Kind, cp.Payload, cp.Snapshot, cp.ParentID, string(writes), cp.CreatedAt,
	).Scan(&cp.Seq)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: append checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conveyor/postgres: append checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints returns the tenant's checkpoints for a thread in
// descending seq order.
func (s *Store) ListCheckpoints(ctx context.Context, tenantID string, threadID id.ID, opts workflow.ListOpts) ([]*workflow.Checkpoint, error) {
	q := `SELECT ` + checkpointColumns + `
		FROM conveyor_checkpoints
		WHERE tenant_id = $1 AND thread_id = $2`
	args := []any{tenantID, threadID}
	if opts.Kind != "" {
		args = append(args, opts.Kind)
		q += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	q += " ORDER BY seq DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []*workflow.Checkpoint
	for rows.Next() {
		cp, scanErr := scanCheckpoint(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/postgres: list checkpoints: %w", scanErr)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// LatestCheckpoint returns the highest-seq runtime checkpoint of a
// thread, or the exact runtime checkpoint when checkpointID is non-nil.
func (s *Store) LatestCheckpoint(ctx context.Context, tenantID string, threadID id.ID, checkpointID *id.ID) (*workflow.Checkpoint, error) {
	var row pgx.Row
	if checkpointID != nil {
		row = s.pool.QueryRow(ctx, `
			SELECT `+checkpointColumns+`
			FROM conveyor_checkpoints
			WHERE tenant_id = $1 AND thread_id = $2 AND id = $3 AND kind = $4`,
			tenantID, threadID, *checkpointID, workflow.KindRuntime,
		)
	} else {
		row = s.pool.QueryRow(ctx, `
			SELECT `+checkpointColumns+`
			FROM conveyor_checkpoints
			WHERE tenant_id = $1 AND thread_id = $2 AND kind = $3
			ORDER BY seq DESC
			LIMIT 1`,
			tenantID, threadID, workflow.KindRuntime,
		)
	}

	cp, err := scanCheckpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conveyor.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: latest checkpoint: %w", err)
	}
	return cp, nil
}

// AppendWrites merges pending writes into the existing runtime
// checkpoint with the given ID. A no-op if the checkpoint does not
// exist.
func (s *Store) AppendWrites(ctx context.Context, tenantID string, checkpointID id.ID, writes []workflow.PendingWrite) error {
	if len(writes) == 0 {
		return nil
	}
	blob, err := marshalWrites(writes)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE conveyor_checkpoints
		SET pending_writes = pending_writes || $3::jsonb
		WHERE id = $1 AND tenant_id = $2 AND kind = $4`,
		checkpointID, tenantID, string(blob), workflow.KindRuntime,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: append writes: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Resume tokens
// ──────────────────────────────────────────────────

// PutToken stores a token record, replacing any prior record for the
// same (tenant, workflow) pair.
func (s *Store) PutToken(ctx context.Context, rec *workflow.TokenRecord) error {
	reasons, err := json.Marshal(rec.Reasons)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: marshal reasons: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conveyor_resume_tokens (tenant_id, workflow_id, token, reasons, issued_at, used)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		ON CONFLICT (tenant_id, workflow_id) DO UPDATE
		SET token = EXCLUDED.token, reasons = EXCLUDED.reasons,
		    issued_at = EXCLUDED.issued_at, used = EXCLUDED.used`,
		rec.TenantID, rec.WorkflowID, rec.Token, string(reasons), rec.IssuedAt, rec.Used,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: put token: %w", err)
	}
	return nil
}

// GetToken retrieves the record for (tenant, workflow).
func (s *Store) GetToken(ctx context.Context, tenantID string, workflowID id.ID) (*workflow.TokenRecord, error) {
	var (
		rec     workflow.TokenRecord
		reasons []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, workflow_id, token, reasons, issued_at, used
		FROM conveyor_resume_tokens
		WHERE tenant_id = $1 AND workflow_id = $2`,
		tenantID, workflowID,
	).Scan(&rec.TenantID, &rec.WorkflowID, &rec.Token, &reasons, &rec.IssuedAt, &rec.Used)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conveyor.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: get token: %w", err)
	}
	if err := json.Unmarshal(reasons, &rec.Reasons); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: unmarshal reasons: %w", err)
	}
	return &rec, nil
}

// ConsumeToken atomically flips the record's Used flag from false to
// true, provided the stored token matches.
func (s *Store) ConsumeToken(ctx context.Context, tenantID string, workflowID id.ID, token string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_resume_tokens SET used = TRUE
		WHERE tenant_id = $1 AND workflow_id = $2 AND token = $3 AND used = FALSE`,
		tenantID, workflowID, token,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: consume token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var used bool
		err := s.pool.QueryRow(ctx, `
			SELECT used FROM conveyor_resume_tokens
			WHERE tenant_id = $1 AND workflow_id = $2 AND token = $3`,
			tenantID, workflowID, token,
		).Scan(&used)
		if errors.Is(err, pgx.ErrNoRows) {
			return conveyor.ErrTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("conveyor/postgres: consume token: %w", err)
		}
		return conveyor.ErrStatusConflict
	}
	return nil
}

// ──────────────────────────────────────────────────
// Row mapping
// ──────────────────────────────────────────────────

func marshalWrites(writes []workflow.PendingWrite) ([]byte, error) {
	if writes == nil {
		return []byte("[]"), nil
	}
	blob, err := json.Marshal(writes)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: marshal pending writes: %w", err)
	}
	return blob, nil
}

func scanCheckpoint(row pgx.Row) (*workflow.Checkpoint, error) {
	var (
		cp     workflow.Checkpoint
		writes []byte
	)
	err := row.Scan(
		&cp.ID, &cp.ThreadID, &cp.JobID, &cp.TenantID, &cp.Seq, &cp.Node,
		&cp.Status, &cp.Kind, &cp.Payload, &cp.Snapshot, &cp.ParentID, &writes, &cp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(writes, &cp.PendingWrites); err != nil {
		return nil, fmt.Errorf("unmarshal pending writes: %w", err)
	}
	return &cp, nil
}
