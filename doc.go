// Package conveyor provides a multi-tenant asynchronous job-processing
// kernel: a job lifecycle state machine, tenant-scoped FIFO queues, a
// transactional outbox with replay-safe relay, a dead-letter lifecycle
// with two-person discard approval, an idempotent write ledger, and an
// append-only per-thread checkpoint log with pause/resume semantics.
//
// Conveyor is a library, not a service. Import it, configure a store,
// register an executor per job type, and start the worker runtime:
//
//	k, err := conveyor.New(
//	    conveyor.WithStore(memory.New()),
//	    conveyor.WithQueues([]string{"evaluation"}),
//	)
//
// # Architecture
//
// Conveyor follows a composable store pattern where each subsystem (job,
// queue, outbox, dlq, workflow, idempotency) defines its own narrow store
// interface. A single backend implements all of them; store.Store is the
// composite. Backends: memory, postgres (pgx), bun, and a redis hot-path
// subset.
//
// All entity IDs are TypeIDs — type-prefixed, K-sortable, UUIDv7-based
// identifiers such as "job_01h2xcejqtf2nbrexx3vqjhp41".
//
// Every entity carries a tenant identifier, and every store operation is
// tenant-scoped. Cross-tenant access fails closed.
package conveyor
