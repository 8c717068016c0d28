// Package workflow provides the append-only checkpoint log and the
// interrupt resume-token registry.
//
// Every job execution is anchored to a thread. Checkpoints appended to
// a thread carry a per-thread monotonically increasing sequence number
// assigned by the store, never by the caller. Two kinds of checkpoint
// share the log: audit rows written by the state machine at each
// lifecycle step, and runtime rows written by an external graph
// runtime, which additionally carry a state snapshot, a parent
// pointer, and buffered pending writes. Listings filter by kind so
// audit consumers never see runtime internals.
//
// When an execution interrupts for manual review, the TokenRegistry
// mints a single-use token bound to the workflow and tenant. Resuming
// requires presenting the exact token before its TTL elapses; a
// consumed token cannot be replayed.
package workflow
