package job

import (
	"context"

	"github.com/workbenchio/conveyor/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Status filters by job status. Empty means all statuses.
	Status Status
	// Type filters by job type. Empty means all types.
	Type Type
}

// Store defines the persistence contract for jobs. Every read and write
// is tenant-scoped; implementations must fail closed on tenant mismatch.
type Store interface {
	// CreateJob persists a new job. Fails with ErrJobAlreadyExists if
	// the ID is taken.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID within the tenant's scope.
	GetJob(ctx context.Context, tenantID string, jobID id.ID) (*Job, error)

	// UpdateJob persists changes to an existing job, but only if the
	// stored status still equals expect — a compare-and-swap that makes
	// concurrent transitions on the same job linearizable. A losing
	// writer gets ErrStatusConflict and must re-read.
	UpdateJob(ctx context.Context, j *Job, expect Status) error

	// ListJobs returns the tenant's jobs matching the given options,
	// ordered by creation time.
	ListJobs(ctx context.Context, tenantID string, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of the tenant's jobs in the given
	// status. Empty status counts all.
	CountJobs(ctx context.Context, tenantID string, status Status) (int64, error)
}
