// Package audit defines the append-only audit sink the kernel writes to
// for human-reviewed and administrative actions: DLQ requeue, DLQ
// discard, resume submission. Every entry carries tenant, action, trace,
// and occurrence time.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Actions the kernel records.
const (
	ActionDLQRequeued     = "dlq.requeued"
	ActionDLQDiscarded    = "dlq.discarded"
	ActionResumeSubmitted = "resume.submitted"
	ActionJobCancelled    = "job.cancelled"
	ActionJobFailed       = "job.failed"
	ActionJobDLQ          = "job.dlq"
	ActionJobInterrupted  = "job.interrupted"
)

// Entry is one audit record.
type Entry struct {
	TenantID   string         `json:"tenant_id"`
	Action     string         `json:"action"`
	TraceID    string         `json:"trace_id,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Sink receives audit entries. Implementations must be append-only.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, e Entry) error

// Record implements Sink.
func (f SinkFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

// ──────────────────────────────────────────────────
// Slog sink
// ──────────────────────────────────────────────────

// SlogSink writes audit entries as structured log records.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a SlogSink.
func NewSlogSink(l *slog.Logger) *SlogSink {
	if l == nil {
		l = slog.Default()
	}
	return &SlogSink{logger: l}
}

// Record implements Sink.
func (s *SlogSink) Record(ctx context.Context, e Entry) error {
	s.logger.InfoContext(ctx, "audit",
		slog.String("tenant_id", e.TenantID),
		slog.String("action", e.Action),
		slog.String("trace_id", e.TraceID),
		slog.String("resource_id", e.ResourceID),
		slog.String("actor", e.Actor),
		slog.Time("occurred_at", e.OccurredAt),
		slog.Any("detail", e.Detail),
	)
	return nil
}

// ──────────────────────────────────────────────────
// Memory sink
// ──────────────────────────────────────────────────

// MemorySink buffers entries in memory, for tests and development.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Record implements Sink.
func (s *MemorySink) Record(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of all recorded entries in order.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByAction returns recorded entries with the given action.
func (s *MemorySink) ByAction(action string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
