// Package queue defines the tenant-scoped FIFO message store and the
// dequeue-time limit manager.
//
// Queues are named channels keyed by (tenant, queue name). Within one
// pair, delivery is FIFO modulo nack-requeue: an immediate nack returns
// the message to the head, a delayed nack parks it in a holding area and
// re-ordering after the delay is accepted. Ack deletes the message; it
// exists only while enqueued or in flight.
//
// # Manager
//
// [Manager] layers optional token-bucket rate limits
// (golang.org/x/time/rate) and concurrency caps over the worker
// runtime's burst-based tenant fairness:
//
//	m := queue.NewManager(
//	    queue.Limits{Name: "evaluation", MaxConcurrency: 20},
//	    queue.Limits{Name: "evaluation", TenantID: "tenant-a", RatePerSecond: 5, Burst: 10},
//	)
//	if m.Acquire(queueName, tenantID) {
//	    defer m.Release(queueName, tenantID)
//	    // process the message
//	}
package queue
