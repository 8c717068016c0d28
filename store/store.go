// Package store defines the aggregate persistence interface. Each
// subsystem (job, queue, outbox, dlq, workflow, idempotency) defines its
// own store interface; the composite Store composes them all. Backends:
// Postgres, Bun, Redis, and Memory.
package store

import (
	"context"

	"github.com/workbenchio/conveyor/dlq"
	"github.com/workbenchio/conveyor/idempotency"
	"github.com/workbenchio/conveyor/job"
	"github.com/workbenchio/conveyor/outbox"
	"github.com/workbenchio/conveyor/queue"
	"github.com/workbenchio/conveyor/workflow"
)

// Store is the aggregate persistence interface. Each subsystem store is
// a composable interface; a single backend implements all of them.
type Store interface {
	job.Store
	queue.Store
	outbox.Store
	dlq.Store
	workflow.Store
	workflow.TokenStore
	idempotency.Store

	// SubmitJob persists a new job and its announcing outbox event in
	// one transaction boundary, so the event exists iff the job does.
	SubmitJob(ctx context.Context, j *job.Job, evt *outbox.Event) error

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
