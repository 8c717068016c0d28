package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/id"
)

// Log is the append-only per-thread checkpoint log. It wraps a Store
// with the conveniences the state machine and the external graph
// runtime need: plain audit appends, runtime put with parent chaining,
// and kind-filtered listing so audit listings never surface internal
// runtime rows.
type Log struct {
	store  Store
	logger *slog.Logger
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithLogger sets the log's logger.
func WithLogger(l *slog.Logger) LogOption {
	return func(lg *Log) { lg.logger = l }
}

// NewLog creates a checkpoint Log.
func NewLog(store Store, opts ...LogOption) *Log {
	lg := &Log{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(lg)
	}
	return lg
}

// Append writes a plain audit checkpoint recording one step outcome.
func (l *Log) Append(ctx context.Context, tenantID string, threadID, jobID id.ID, node, status string, payload []byte) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:        id.NewCheckpointID(),
		ThreadID:  threadID,
		JobID:     jobID,
		TenantID:  tenantID,
		Node:      node,
		Status:    status,
		Kind:      KindAudit,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.AppendCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// List returns a thread's audit checkpoints in descending seq order.
// Runtime rows are excluded; use ListRuntime for those.
func (l *Log) List(ctx context.Context, tenantID string, threadID id.ID) ([]*Checkpoint, error) {
	return l.store.ListCheckpoints(ctx, tenantID, threadID, ListOpts{Kind: KindAudit})
}

// ──────────────────────────────────────────────────
// External graph-runtime contract
// ──────────────────────────────────────────────────

// GetLatest returns the newest runtime checkpoint of a thread, or the
// exact one when checkpointID is non-nil.
func (l *Log) GetLatest(ctx context.Context, tenantID string, threadID id.ID, checkpointID *id.ID) (*Checkpoint, error) {
	return l.store.LatestCheckpoint(ctx, tenantID, threadID, checkpointID)
}

// ListRuntime returns a thread's runtime checkpoints in descending seq
// order.
func (l *Log) ListRuntime(ctx context.Context, tenantID string, threadID id.ID, opts ListOpts) ([]*Checkpoint, error) {
	opts.Kind = KindRuntime
	return l.store.ListCheckpoints(ctx, tenantID, threadID, opts)
}

// Put appends a runtime checkpoint carrying a serialized state
// snapshot. The parent pointer is set to the thread's previous runtime
// checkpoint, forming a chain the graph runtime can walk backwards.
func (l *Log) Put(ctx context.Context, cp *Checkpoint) (*Checkpoint, error) {
	cp.Kind = KindRuntime
	if cp.ID.IsNil() {
		cp.ID = id.NewCheckpointID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	prev, err := l.store.LatestCheckpoint(ctx, cp.TenantID, cp.ThreadID, nil)
	switch {
	case err == nil:
		cp.ParentID = prev.ID
	case errors.Is(err, conveyor.ErrCheckpointNotFound):
		// First checkpoint on the thread; no parent.
	default:
		return nil, err
	}

	if err := l.store.AppendCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// AppendWrites merges pending writes into an existing runtime
// checkpoint. A no-op if the checkpoint does not exist.
func (l *Log) AppendWrites(ctx context.Context, tenantID string, checkpointID id.ID, writes []PendingWrite) error {
	return l.store.AppendWrites(ctx, tenantID, checkpointID, writes)
}
