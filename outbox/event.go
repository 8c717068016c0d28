package outbox

import (
	"time"

	"github.com/workbenchio/conveyor/id"
)

// EventStatus is the delivery status of an outbox event.
type EventStatus string

const (
	// EventPending means the relay has not yet published the event.
	EventPending EventStatus = "pending"
	// EventPublished means the relay moved the event into the queue.
	// The flag is monotonic — a published event never reverts.
	EventPublished EventStatus = "published"
)

// Event is a durable "this happened" record, appended in the same
// transaction as the business write it announces. Events are never
// deleted; they remain the source of truth independent of queue
// delivery.
type Event struct {
	ID       id.ID  `json:"id"`
	TenantID string `json:"tenant_id"`
	Type     string `json:"type"`

	AggregateType string `json:"aggregate_type"`
	AggregateID   string `json:"aggregate_id"`

	// JobID is the job the event schedules, carried into the queue
	// message on relay.
	JobID   id.ID  `json:"job_id"`
	TraceID string `json:"trace_id,omitempty"`
	Payload []byte `json:"payload,omitempty"`

	Status      EventStatus `json:"status"`
	PublishedAt *time.Time  `json:"published_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewEvent builds a pending event.
func NewEvent(tenantID, eventType, aggregateType, aggregateID string, jobID id.ID) *Event {
	return &Event{
		ID:            id.NewEventID(),
		TenantID:      tenantID,
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		JobID:         jobID,
		Status:        EventPending,
		CreatedAt:     time.Now().UTC(),
	}
}

// DeliveryRecord marks that a consumer has already been handed a queue
// message for an event. Keyed by (tenant, event, consumer); created once
// and never updated. Its existence is what makes relay replays safe.
type DeliveryRecord struct {
	ID        id.ID     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	EventID   id.ID     `json:"event_id"`
	Consumer  string    `json:"consumer"`
	CreatedAt time.Time `json:"created_at"`
}
