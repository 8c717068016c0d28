package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/job"
	"github.com/workbenchio/conveyor/outbox"
)

const jobColumns = `id, tenant_id, type, status, thread_id, trace_id,
	resource, payload, max_retries, retry_count, last_error, errors,
	started_at, completed_at, created_at, updated_at`

// CreateJob persists a new job. Fails with ErrJobAlreadyExists if the ID
// is taken.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	return s.insertJob(ctx, s.pool, j)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) insertJob(ctx context.Context, db execer, j *job.Job) error {
	resource, payload, errHistory, err := marshalJobFields(j)
	if err != nil {
		return err
	}

	_, err = db.Exec(ctx, `
		INSERT INTO conveyor_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10, $11, $12::jsonb, $13, $14, $15, $16)`,
		j.ID, j.TenantID, j.Type, j.Status, j.ThreadID, j.TraceID,
		string(resource), string(payload), j.MaxRetries, j.RetryCount, j.LastError, string(errHistory),
		j.StartedAt, j.CompletedAt, j.CreatedAt, j.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return conveyor.ErrJobAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("conveyor/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID within the tenant's scope. Cross-tenant
// lookups fail closed with ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, tenantID string, jobID id.ID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM conveyor_jobs
		WHERE id = $1 AND tenant_id = $2`,
		jobID, tenantID,
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conveyor.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job only if the stored
// status still equals expect. A losing writer gets ErrStatusConflict.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job, expect job.Status) error {
	resource, payload, errHistory, err := marshalJobFields(j)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET
			status = $3, thread_id = $4, trace_id = $5,
			resource = $6::jsonb, payload = $7::jsonb,
			max_retries = $8, retry_count = $9,
			last_error = $10, errors = $11::jsonb,
			started_at = $12, completed_at = $13, updated_at = $14
		WHERE id = $1 AND tenant_id = $2 AND status = $15`,
		j.ID, j.TenantID, j.Status, j.ThreadID, j.TraceID,
		string(resource), string(payload), j.MaxRetries, j.RetryCount,
		j.LastError, string(errHistory), j.StartedAt, j.CompletedAt, j.UpdatedAt,
		expect,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainJobMiss(ctx, j.TenantID, j.ID)
	}
	return nil
}

// explainJobMiss disambiguates a zero-row CAS update: missing row,
// foreign tenant, or a concurrent status change.
func (s *Store) explainJobMiss(ctx context.Context, tenantID string, jobID id.ID) error {
	var storedTenant string
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id FROM conveyor_jobs WHERE id = $1`, jobID,
	).Scan(&storedTenant)
	if errors.Is(err, pgx.ErrNoRows) {
		return conveyor.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("conveyor/postgres: update job: %w", err)
	}
	if storedTenant != tenantID {
		return conveyor.ErrTenantMismatch
	}
	return conveyor.ErrStatusConflict
}

// ListJobs returns the tenant's jobs matching opts, ordered by creation
// time.
func (s *Store) ListJobs(ctx context.Context, tenantID string, opts job.ListOpts) ([]*job.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM conveyor_jobs WHERE tenant_id = $1`
	args := []any{tenantID}
	if opts.Status != "" {
		args = append(args, opts.Status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if opts.Type != "" {
		args = append(args, opts.Type)
		q += fmt.Sprintf(" AND type = $%d", len(args))
	}
	q += " ORDER BY created_at, id"
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
		return nil, fmt.Errorf("conveyor/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/postgres: list jobs: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountJobs returns the number of the tenant's jobs in the given status.
// Empty status counts all.
func (s *Store) CountJobs(ctx context.Context, tenantID string, status job.Status) (int64, error) {
	q := `SELECT COUNT(*) FROM conveyor_jobs WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		args = append(args, status)
		q += " AND status = $2"
	}

	var n int64
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count jobs: %w", err)
	}
	return n, nil
}

// SubmitJob creates the job and appends its announcing outbox event in
// one transaction: either both land or neither does.
func (s *Store) SubmitJob(ctx context.Context, j *job.Job, e *outbox.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: submit job: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := s.insertJob(ctx, tx, j); err != nil {
		return err
	}
	if err := s.insertEvent(ctx, tx, e); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("conveyor/postgres: submit job: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Row mapping
// ──────────────────────────────────────────────────

func marshalJobFields(j *job.Job) (resource, payload, errHistory []byte, err error) {
	if resource, err = json.Marshal(j.Resource); err != nil {
		return nil, nil, nil, fmt.Errorf("conveyor/postgres: marshal resource: %w", err)
	}
	if payload, err = json.Marshal(j.Payload); err != nil {
		return nil, nil, nil, fmt.Errorf("conveyor/postgres: marshal payload: %w", err)
	}
	if j.Errors == nil {
		errHistory = []byte("[]")
		return resource, payload, errHistory, nil
	}
	if errHistory, err = json.Marshal(j.Errors); err != nil {
		return nil, nil, nil, fmt.Errorf("conveyor/postgres: marshal errors: %w", err)
	}
	return resource, payload, errHistory, nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                          job.Job
		resource, payload, errBlob []byte
	)
	err := row.Scan(
		&j.ID, &j.TenantID, &j.Type, &j.Status, &j.ThreadID, &j.TraceID,
		&resource, &payload, &j.MaxRetries, &j.RetryCount, &j.LastError, &errBlob,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resource, &j.Resource); err != nil {
		return nil, fmt.Errorf("unmarshal resource: %w", err)
	}
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := json.Unmarshal(errBlob, &j.Errors); err != nil {
		return nil, fmt.Errorf("unmarshal errors: %w", err)
	}
	return &j, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
