package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/dlq"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/idempotency"
	"github.com/workbenchio/conveyor/job"
	"github.com/workbenchio/conveyor/outbox"
	"github.com/workbenchio/conveyor/queue"
	"github.com/workbenchio/conveyor/workflow"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:conveyor_jobs"`

	ID          string          `bun:"id,pk"`
	TenantID    string          `bun:"tenant_id,notnull"`
	Type        string          `bun:"type,notnull"`
	Status      string          `bun:"status,notnull,default:'queued'"`
	ThreadID    string          `bun:"thread_id,notnull"`
	TraceID     string          `bun:"trace_id"`
	Resource    json.RawMessage `bun:"resource,notnull,type:jsonb"`
	Payload     json.RawMessage `bun:"payload,notnull,type:jsonb"`
	MaxRetries  int             `bun:"max_retries,notnull,default:3"`
	RetryCount  int             `bun:"retry_count,notnull,default:0"`
	LastError   string          `bun:"last_error"`
	Errors      json.RawMessage `bun:"errors,notnull,type:jsonb"`
	StartedAt   *time.Time      `bun:"started_at"`
	CompletedAt *time.Time      `bun:"completed_at"`
	CreatedAt   time.Time       `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time       `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) (*jobModel, error) {
	resource, err := json.Marshal(j.Resource)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: marshal resource: %w", err)
	}
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: marshal payload: %w", err)
	}
	errHistory := json.RawMessage("[]")
	if j.Errors != nil {
		if errHistory, err = json.Marshal(j.Errors); err != nil {
			return nil, fmt.Errorf("conveyor/bun: marshal errors: %w", err)
		}
	}

	return &jobModel{
		ID:          j.ID.String(),
		TenantID:    j.TenantID,
		Type:        string(j.Type),
		Status:      string(j.Status),
		ThreadID:    j.ThreadID.String(),
		TraceID:     j.TraceID,
		Resource:    resource,
		Payload:     payload,
		MaxRetries:  j.MaxRetries,
		RetryCount:  j.RetryCount,
		LastError:   j.LastError,
		Errors:      errHistory,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}, nil
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse job id %q: %w", m.ID, err)
	}
	threadID, err := id.ParseThreadID(m.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse thread id %q: %w", m.ThreadID, err)
	}

	j := &job.Job{
		Entity: conveyor.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		TenantID:    m.TenantID,
		Type:        job.Type(m.Type),
		Status:      job.Status(m.Status),
		ThreadID:    threadID,
		TraceID:     m.TraceID,
		MaxRetries:  m.MaxRetries,
		RetryCount:  m.RetryCount,
		LastError:   m.LastError,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}
	if err := json.Unmarshal(m.Resource, &j.Resource); err != nil {
		return nil, fmt.Errorf("conveyor/bun: unmarshal resource: %w", err)
	}
	if err := json.Unmarshal(m.Payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("conveyor/bun: unmarshal payload: %w", err)
	}
	if err := json.Unmarshal(m.Errors, &j.Errors); err != nil {
		return nil, fmt.Errorf("conveyor/bun: unmarshal errors: %w", err)
	}
	return j, nil
}

// ── Queue message model ───────────────────────────────────────────

type messageModel struct {
	bun.BaseModel `bun:"table:conveyor_queue_messages"`

	ID         string    `bun:"id,pk"`
	TenantID   string    `bun:"tenant_id,notnull"`
	Queue      string    `bun:"queue,notnull"`
	JobID      string    `bun:"job_id,notnull"`
	TraceID    string    `bun:"trace_id"`
	Payload    []byte    `bun:"payload,type:bytea"`
	Attempt    int       `bun:"attempt,notnull,default:0"`
	InFlight   bool      `bun:"in_flight,notnull,default:false"`
	EnqueuedAt time.Time `bun:"enqueued_at,notnull,default:current_timestamp"`
	VisibleAt  time.Time `bun:"visible_at,notnull,default:current_timestamp"`
}

func toMessageModel(m *queue.Message) *messageModel {
	return &messageModel{
		ID:         m.ID.String(),
		TenantID:   m.TenantID,
		Queue:      m.Queue,
		JobID:      m.JobID.String(),
		TraceID:    m.TraceID,
		Payload:    m.Payload,
		Attempt:    m.Attempt,
		EnqueuedAt: m.EnqueuedAt,
		VisibleAt:  m.VisibleAt,
	}
}

func fromMessageModel(m *messageModel) (*queue.Message, error) {
	parsedID, err := id.ParseMessageID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse message id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse job id %q: %w", m.JobID, err)
	}

	return &queue.Message{
		ID:         parsedID,
		TenantID:   m.TenantID,
		Queue:      m.Queue,
		JobID:      jobID,
		TraceID:    m.TraceID,
		Payload:    m.Payload,
		Attempt:    m.Attempt,
		EnqueuedAt: m.EnqueuedAt,
		VisibleAt:  m.VisibleAt,
	}, nil
}

// ── Outbox event model ────────────────────────────────────────────

type eventModel struct {
	bun.BaseModel `bun:"table:conveyor_outbox_events"`

	ID            string     `bun:"id,pk"`
	TenantID      string     `bun:"tenant_id,notnull"`
	Type          string     `bun:"type,notnull"`
	AggregateType string     `bun:"aggregate_type,notnull"`
	AggregateID   string     `bun:"aggregate_id,notnull"`
	JobID         string     `bun:"job_id,notnull"`
	TraceID       string     `bun:"trace_id"`
	Payload       []byte     `bun:"payload,type:bytea"`
	Status        string     `bun:"status,notnull,default:'pending'"`
	PublishedAt   *time.Time `bun:"published_at"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

func toEventModel(e *outbox.Event) *eventModel {
	return &eventModel{
		ID:            e.ID.String(),
		TenantID:      e.TenantID,
		Type:          e.Type,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		JobID:         e.JobID.String(),
		TraceID:       e.TraceID,
		Payload:       e.Payload,
		Status:        string(e.Status),
		PublishedAt:   e.PublishedAt,
		CreatedAt:     e.CreatedAt,
	}
}

func fromEventModel(m *eventModel) (*outbox.Event, error) {
	parsedID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse event id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse job id %q: %w", m.JobID, err)
	}

	return &outbox.Event{
		ID:            parsedID,
		TenantID:      m.TenantID,
		Type:          m.Type,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		JobID:         jobID,
		TraceID:       m.TraceID,
		Payload:       m.Payload,
		Status:        outbox.EventStatus(m.Status),
		PublishedAt:   m.PublishedAt,
		CreatedAt:     m.CreatedAt,
	}, nil
}

// ── Delivery record model ─────────────────────────────────────────

type deliveryModel struct {
	bun.BaseModel `bun:"table:conveyor_deliveries"`

	ID        string    `bun:"id,pk"`
	TenantID  string    `bun:"tenant_id,notnull"`
	EventID   string    `bun:"event_id,notnull"`
	Consumer  string    `bun:"consumer,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// ── DLQ item model ────────────────────────────────────────────────

type dlqModel struct {
	bun.BaseModel `bun:"table:conveyor_dlq_items"`

	ID            string     `bun:"id,pk"`
	JobID         string     `bun:"job_id,notnull"`
	TenantID      string     `bun:"tenant_id,notnull"`
	ErrorClass    string     `bun:"error_class,notnull"`
	ErrorCode     string     `bun:"error_code,notnull"`
	Status        string     `bun:"status,notnull,default:'open'"`
	DiscardReason string     `bun:"discard_reason"`
	ReviewerA     string     `bun:"reviewer_a"`
	ReviewerB     string     `bun:"reviewer_b"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	ResolvedAt    *time.Time `bun:"resolved_at"`
}

func toDLQModel(item *dlq.Item) *dlqModel {
	return &dlqModel{
		ID:            item.ID.String(),
		JobID:         item.JobID.String(),
		TenantID:      item.TenantID,
		ErrorClass:    item.ErrorClass,
		ErrorCode:     item.ErrorCode,
		Status:        string(item.Status),
		DiscardReason: item.DiscardReason,
		ReviewerA:     item.ReviewerA,
		ReviewerB:     item.ReviewerB,
		CreatedAt:     item.CreatedAt,
		ResolvedAt:    item.ResolvedAt,
	}
}

func fromDLQModel(m *dlqModel) (*dlq.Item, error) {
	parsedID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse dlq id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse job id %q: %w", m.JobID, err)
	}

	return &dlq.Item{
		ID:            parsedID,
		JobID:         jobID,
		TenantID:      m.TenantID,
		ErrorClass:    m.ErrorClass,
		ErrorCode:     m.ErrorCode,
		Status:        dlq.ItemStatus(m.Status),
		DiscardReason: m.DiscardReason,
		ReviewerA:     m.ReviewerA,
		ReviewerB:     m.ReviewerB,
		CreatedAt:     m.CreatedAt,
		ResolvedAt:    m.ResolvedAt,
	}, nil
}

// ── Checkpoint model ──────────────────────────────────────────────

type checkpointModel struct {
	bun.BaseModel `bun:"table:conveyor_checkpoints"`

	ID            string          `bun:"id,pk"`
	ThreadID      string          `bun:"thread_id,notnull"`
	JobID         string          `bun:"job_id,notnull"`
	TenantID      string          `bun:"tenant_id,notnull"`
	Seq           int64           `bun:"seq,notnull"`
	Node          string          `bun:"node,notnull"`
	Status        string          `bun:"status,notnull"`
	Kind          string          `bun:"kind,notnull"`
	Payload       []byte          `bun:"payload,type:bytea"`
	Snapshot      []byte          `bun:"snapshot,type:bytea"`
	ParentID      string          `bun:"parent_id,nullzero"`
	PendingWrites json.RawMessage `bun:"pending_writes,notnull,type:jsonb"`
	CreatedAt     time.Time       `bun:"created_at,notnull,default:current_timestamp"`
}

func toCheckpointModel(cp *workflow.Checkpoint) (*checkpointModel, error) {
	writes := json.RawMessage("[]")
	if cp.PendingWrites != nil {
		var err error
		if writes, err = json.Marshal(cp.PendingWrites); err != nil {
			return nil, fmt.Errorf("conveyor/bun: marshal pending writes: %w", err)
		}
	}

	return &checkpointModel{
		ID:            cp.ID.String(),
		ThreadID:      cp.ThreadID.String(),
		JobID:         cp.JobID.String(),
		TenantID:      cp.TenantID,
		Seq:           cp.Seq,
		Node:          cp.Node,
		Status:        cp.Status,
		Kind:          string(cp.Kind),
		Payload:       cp.Payload,
		Snapshot:      cp.Snapshot,
		ParentID:      cp.ParentID.String(),
		PendingWrites: writes,
		CreatedAt:     cp.CreatedAt,
	}, nil
}

func fromCheckpointModel(m *checkpointModel) (*workflow.Checkpoint, error) {
	parsedID, err := id.ParseCheckpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse checkpoint id %q: %w", m.ID, err)
	}
	threadID, err := id.ParseThreadID(m.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse thread id %q: %w", m.ThreadID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse job id %q: %w", m.JobID, err)
	}

	cp := &workflow.Checkpoint{
		ID:        parsedID,
		ThreadID:  threadID,
		JobID:     jobID,
		TenantID:  m.TenantID,
		Seq:       m.Seq,
		Node:      m.Node,
		Status:    m.Status,
		Kind:      workflow.Kind(m.Kind),
		Payload:   m.Payload,
		Snapshot:  m.Snapshot,
		CreatedAt: m.CreatedAt,
	}
	if m.ParentID != "" {
		if cp.ParentID, err = id.ParseCheckpointID(m.ParentID); err != nil {
			return nil, fmt.Errorf("conveyor/bun: parse parent id %q: %w", m.ParentID, err)
		}
	}
	if err := json.Unmarshal(m.PendingWrites, &cp.PendingWrites); err != nil {
		return nil, fmt.Errorf("conveyor/bun: unmarshal pending writes: %w", err)
	}
	return cp, nil
}

// ── Resume token model ────────────────────────────────────────────

type tokenModel struct {
	bun.BaseModel `bun:"table:conveyor_resume_tokens"`

	TenantID   string          `bun:"tenant_id,pk"`
	WorkflowID string          `bun:"workflow_id,pk"`
	Token      string          `bun:"token,notnull"`
	Reasons    json.RawMessage `bun:"reasons,notnull,type:jsonb"`
	IssuedAt   time.Time       `bun:"issued_at,notnull,default:current_timestamp"`
	Used       bool            `bun:"used,notnull,default:false"`
}

func toTokenModel(rec *workflow.TokenRecord) (*tokenModel, error) {
	reasons := json.RawMessage("[]")
	if rec.Reasons != nil {
		var err error
		if reasons, err = json.Marshal(rec.Reasons); err != nil {
			return nil, fmt.Errorf("conveyor/bun: marshal reasons: %w", err)
		}
	}

	return &tokenModel{
		TenantID:   rec.TenantID,
		WorkflowID: rec.WorkflowID.String(),
		Token:      rec.Token,
		Reasons:    reasons,
		IssuedAt:   rec.IssuedAt,
		Used:       rec.Used,
	}, nil
}

func fromTokenModel(m *tokenModel) (*workflow.TokenRecord, error) {
	workflowID, err := id.ParseAny(m.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: parse workflow id %q: %w", m.WorkflowID, err)
	}

	rec := &workflow.TokenRecord{
		TenantID:   m.TenantID,
		WorkflowID: workflowID,
		Token:      m.Token,
		IssuedAt:   m.IssuedAt,
		Used:       m.Used,
	}
	if err := json.Unmarshal(m.Reasons, &rec.Reasons); err != nil {
		return nil, fmt.Errorf("conveyor/bun: unmarshal reasons: %w", err)
	}
	return rec, nil
}

// ── Idempotency entry model ───────────────────────────────────────

type entryModel struct {
	bun.BaseModel `bun:"table:conveyor_idempotency_entries"`

	TenantID    string    `bun:"tenant_id,pk"`
	Endpoint    string    `bun:"endpoint,pk"`
	Key         string    `bun:"key,pk"`
	Fingerprint string    `bun:"fingerprint,notnull"`
	Result      []byte    `bun:"result,type:bytea"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func toEntryModel(e *idempotency.Entry) *entryModel {
	return &entryModel{
		TenantID:    e.TenantID,
		Endpoint:    e.Endpoint,
		Key:         e.Key,
		Fingerprint: e.Fingerprint,
		Result:      e.Result,
		CreatedAt:   e.CreatedAt,
	}
}

func fromEntryModel(m *entryModel) *idempotency.Entry {
	return &idempotency.Entry{
		TenantID:    m.TenantID,
		Endpoint:    m.Endpoint,
		Key:         m.Key,
		Fingerprint: m.Fingerprint,
		Result:      m.Result,
		CreatedAt:   m.CreatedAt,
	}
}
