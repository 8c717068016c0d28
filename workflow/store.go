package workflow

import (
	"context"
	"time"

	"github.com/workbenchio/conveyor/id"
)

// ListOpts controls filtering for checkpoint list queries.
type ListOpts struct {
	// Kind filters by checkpoint kind. Empty returns all kinds.
	Kind Kind
	// Limit is the maximum number of checkpoints to return. Zero means
	// no limit.
	Limit int
}

// Store defines the persistence contract for the per-thread checkpoint
// log. The backend assigns sequence numbers and must serialize appends
// per thread so Seq stays unique and strictly increasing.
type Store interface {
	// AppendCheckpoint assigns the next sequence number for the
	// checkpoint's thread (max existing + 1, or 1) and appends. Prior
	// rows are never mutated.
	AppendCheckpoint(ctx context.Context, cp *Checkpoint) error

	// ListCheckpoints returns the tenant's checkpoints for a thread in
	// descending seq order.
	ListCheckpoints(ctx context.Context, tenantID string, threadID id.ID, opts ListOpts) ([]*Checkpoint, error)

	// LatestCheckpoint returns the highest-seq runtime checkpoint of a
	// thread, or — when checkpointID is non-nil — that exact runtime
	// checkpoint. Returns ErrCheckpointNotFound if absent.
	LatestCheckpoint(ctx context.Context, tenantID string, threadID id.ID, checkpointID *id.ID) (*Checkpoint, error)

	// AppendWrites merges pending writes into the existing runtime
	// checkpoint with the given ID. A no-op if the checkpoint does not
	// exist.
	AppendWrites(ctx context.Context, tenantID string, checkpointID id.ID, writes []PendingWrite) error
}

// TokenStore defines the persistence contract for resume tokens, keyed
// by the workflow (evaluation) identifier.
type TokenStore interface {
	// PutToken stores a token record, replacing any prior record for
	// the same (tenant, workflow) pair.
	PutToken(ctx context.Context, rec *TokenRecord) error

	// GetToken retrieves the record for (tenant, workflow). Returns
	// ErrTokenNotFound if absent.
	GetToken(ctx context.Context, tenantID string, workflowID id.ID) (*TokenRecord, error)

	// ConsumeToken atomically flips the record's Used flag from false
	// to true, provided the stored token matches. Returns
	// ErrStatusConflict if the record was already used — concurrency
	// losers must observe the flip.
	ConsumeToken(ctx context.Context, tenantID string, workflowID id.ID, token string) error
}

// TokenRecord gates resumption of a paused workflow. Single-use, tenant
// scoped, and valid only until IssuedAt + TTL.
type TokenRecord struct {
	WorkflowID id.ID     `json:"workflow_id"`
	TenantID   string    `json:"tenant_id"`
	Token      string    `json:"token"`
	Reasons    []string  `json:"reasons,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
	Used       bool      `json:"used"`
}
