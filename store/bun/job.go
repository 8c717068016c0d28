package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/job"
	"github.com/workbenchio/conveyor/outbox"
)

// CreateJob persists a new job. Fails with ErrJobAlreadyExists if the ID
// is taken.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	return s.insertJob(ctx, s.db, j)
}

func (s *Store) insertJob(ctx context.Context, db bun.IDB, j *job.Job) error {
	m, err := toJobModel(j)
	if err != nil {
		return err
	}
	if _, err := db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/bun: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID within the tenant's scope. Cross-tenant
// lookups fail closed with ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, tenantID string, jobID id.ID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Where("tenant_id = ?", tenantID).
		Scan(ctx)
	if isNoRows(err) {
		return nil, conveyor.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// UpdateJob persists changes to an existing job only if the stored
// status still equals expect. A losing writer gets ErrStatusConflict.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job, expect job.Status) error {
	m, err := toJobModel(j)
	if err != nil {
		return err
	}

	res, err := s.db.NewUpdate().Model(m).
		Column("status", "thread_id", "trace_id", "resource", "payload",
			"max_retries", "retry_count", "last_error", "errors",
			"started_at", "completed_at", "updated_at").
		Where("id = ?", m.ID).
		Where("tenant_id = ?", m.TenantID).
		Where("status = ?", string(expect)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/bun: update job: %w", err)
	}
	if affected == 0 {
		return s.explainJobMiss(ctx, j.TenantID, m.ID)
	}
	return nil
}

func (s *Store) explainJobMiss(ctx context.Context, tenantID, jobID string) error {
	var storedTenant string
	err := s.db.NewSelect().Model((*jobModel)(nil)).
		Column("tenant_id").
		Where("id = ?", jobID).
		Scan(ctx, &storedTenant)
	if isNoRows(err) {
		return conveyor.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("conveyor/bun: update job: %w", err)
	}
	if storedTenant != tenantID {
		return conveyor.ErrTenantMismatch
	}
	return conveyor.ErrStatusConflict
}

// ListJobs returns the tenant's jobs matching opts, ordered by creation
// time.
func (s *Store) ListJobs(ctx context.Context, tenantID string, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("tenant_id = ?", tenantID).
		Order("created_at", "id")
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/bun: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of the tenant's jobs in the given status.
// Empty status counts all.
func (s *Store) CountJobs(ctx context.Context, tenantID string, status job.Status) (int64, error) {
	q := s.db.NewSelect().Model((*jobModel)(nil)).
		Where("tenant_id = ?", tenantID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}

	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("conveyor/bun: count jobs: %w", err)
	}
	return int64(n), nil
}

// SubmitJob creates the job and appends its announcing outbox event in
// one transaction: either both land or neither does.
func (s *Store) SubmitJob(ctx context.Context, j *job.Job, e *outbox.Event) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.insertJob(ctx, tx, j); err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, e)
	})
}
