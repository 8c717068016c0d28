package hook

import (
	"context"
	"time"

	"github.com/workbenchio/conveyor/audit"
	"github.com/workbenchio/conveyor/dlq"
	"github.com/workbenchio/conveyor/job"
)

// Compile-time interface checks.
var (
	_ Extension      = (*AuditExtension)(nil)
	_ JobFailed      = (*AuditExtension)(nil)
	_ JobDLQ         = (*AuditExtension)(nil)
	_ JobInterrupted = (*AuditExtension)(nil)
)

// AuditExtension bridges lifecycle events to the audit sink. Normal
// completions are not audited; only events an operator reviews later
// (terminal failures, DLQ entries, interrupts) produce entries.
type AuditExtension struct {
	sink audit.Sink
}

// NewAuditExtension creates the audit bridge over a sink.
func NewAuditExtension(sink audit.Sink) *AuditExtension {
	return &AuditExtension{sink: sink}
}

// Name implements Extension.
func (a *AuditExtension) Name() string { return "audit-bridge" }

// OnJobFailed implements JobFailed.
func (a *AuditExtension) OnJobFailed(ctx context.Context, j *job.Job, errorCode string) error {
	return a.sink.Record(ctx, audit.Entry{
		TenantID:   j.TenantID,
		Action:     audit.ActionJobFailed,
		TraceID:    j.TraceID,
		ResourceID: j.ID.String(),
		Detail:     map[string]any{"error_code": errorCode},
		OccurredAt: time.Now().UTC(),
	})
}

// OnJobDLQ implements JobDLQ.
func (a *AuditExtension) OnJobDLQ(ctx context.Context, j *job.Job, item *dlq.Item) error {
	return a.sink.Record(ctx, audit.Entry{
		TenantID:   j.TenantID,
		Action:     audit.ActionJobDLQ,
		TraceID:    j.TraceID,
		ResourceID: item.ID.String(),
		Detail:     map[string]any{"error_code": item.ErrorCode, "error_class": item.ErrorClass},
		OccurredAt: time.Now().UTC(),
	})
}

// OnJobInterrupted implements JobInterrupted.
func (a *AuditExtension) OnJobInterrupted(ctx context.Context, j *job.Job, reasons []string) error {
	return a.sink.Record(ctx, audit.Entry{
		TenantID:   j.TenantID,
		Action:     audit.ActionJobInterrupted,
		TraceID:    j.TraceID,
		ResourceID: j.ID.String(),
		Detail:     map[string]any{"reasons": reasons},
		OccurredAt: time.Now().UTC(),
	})
}
