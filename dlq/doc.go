// Package dlq implements the dead-letter lifecycle. An item is seeded
// when a job exhausts its retries or fails permanently, and then takes
// exactly one of two human-decided paths:
//
//	open → requeued   (a new requeue job re-runs the work)
//	open → discarded  (requires a reason and two distinct reviewers)
//
// Both paths append an audit entry. Items never leave a terminal status.
package dlq
