package queue

import (
	"time"

	"github.com/workbenchio/conveyor/id"
)

// Message is one unit in a per-(tenant, queue) FIFO. It lives only while
// enqueued or in flight: ack deletes it, nack either re-enqueues it
// (possibly delayed) or drops it.
type Message struct {
	ID       id.ID  `json:"id"`
	TenantID string `json:"tenant_id"`
	Queue    string `json:"queue"`

	// JobID is the job this message schedules. Every payload must
	// reference a job.
	JobID   id.ID  `json:"job_id"`
	TraceID string `json:"trace_id,omitempty"`
	Payload []byte `json:"payload,omitempty"`

	// Attempt counts deliveries; zero on first enqueue, incremented on
	// every nack.
	Attempt int `json:"attempt"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	// VisibleAt defers delivery; messages in the delayed holding area
	// surface once VisibleAt has passed.
	VisibleAt time.Time `json:"visible_at"`
}

// New builds a message for the given tenant, queue, and job.
func New(tenantID, queueName string, jobID id.ID) *Message {
	now := time.Now().UTC()
	return &Message{
		ID:         id.NewMessageID(),
		TenantID:   tenantID,
		Queue:      queueName,
		JobID:      jobID,
		EnqueuedAt: now,
		VisibleAt:  now,
	}
}
