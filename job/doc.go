// Package job defines the Job entity — one schedulable unit of work —
// its lifecycle status enum, the allowed-transition edge table, and the
// tenant-scoped persistence contract.
//
// # Lifecycle
//
//	queued → running → succeeded
//	                 → retrying → running (retry loop)
//	                 → dlq_pending → dlq_recorded → failed
//	                 → needs_manual_decision → running (via resume job)
//
// succeeded and failed are terminal. Any edge not in the table fails
// with WF_STATE_TRANSITION_INVALID and leaves the job unchanged. Cancel
// bypasses the table but only from non-terminal states.
package job
