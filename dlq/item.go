package dlq

import (
	"time"

	"github.com/workbenchio/conveyor/id"
)

// ItemStatus is the lifecycle status of a dead-letter item.
type ItemStatus string

const (
	// ItemOpen means the item awaits a human decision.
	ItemOpen ItemStatus = "open"
	// ItemRequeued means a new requeue job was created for it.
	ItemRequeued ItemStatus = "requeued"
	// ItemDiscarded means two reviewers approved dropping it.
	ItemDiscarded ItemStatus = "discarded"
)

// Terminal reports whether the status is final.
func (s ItemStatus) Terminal() bool {
	return s == ItemRequeued || s == ItemDiscarded
}

// Item holds a job whose retries were exhausted or whose failure was
// permanent, pending human requeue or discard. Items are mutated exactly
// once, to a terminal status.
type Item struct {
	ID       id.ID  `json:"id"`
	JobID    id.ID  `json:"job_id"`
	TenantID string `json:"tenant_id"`

	ErrorClass string `json:"error_class"`
	ErrorCode  string `json:"error_code"`

	Status ItemStatus `json:"status"`

	// Discard audit trail: a non-empty reason and two distinct reviewer
	// identities are required before an item may be discarded.
	DiscardReason string `json:"discard_reason,omitempty"`
	ReviewerA     string `json:"reviewer_a,omitempty"`
	ReviewerB     string `json:"reviewer_b,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
