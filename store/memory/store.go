// Package memory provides a fully in-memory store backend. Safe for
// concurrent access; intended for unit testing and development. All
// reads return copies so callers can never mutate stored state except
// through store methods.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	conveyor "github.com/workbenchio/conveyor"
	"github.com/workbenchio/conveyor/dlq"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/idempotency"
	"github.com/workbenchio/conveyor/job"
	"github.com/workbenchio/conveyor/outbox"
	"github.com/workbenchio/conveyor/queue"
	"github.com/workbenchio/conveyor/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store           = (*Store)(nil)
	_ queue.Store         = (*Store)(nil)
	_ outbox.Store        = (*Store)(nil)
	_ dlq.Store           = (*Store)(nil)
	_ workflow.Store      = (*Store)(nil)
	_ workflow.TokenStore = (*Store)(nil)
	_ idempotency.Store   = (*Store)(nil)
)

type queueKey struct {
	tenant string
	name   string
}

// Store is an in-memory implementation of every subsystem store. A
// single mutex serializes all mutations, which satisfies the per-key
// linearizability discipline trivially.
type Store struct {
	mu sync.RWMutex

	jobs map[string]*job.Job

	queues   map[queueKey][]*queue.Message
	delayed  map[queueKey][]*queue.Message
	inflight map[string]*queue.Message

	events     map[string]*outbox.Event
	eventOrder []string
	deliveries map[string]*outbox.DeliveryRecord

	dlqs     map[string]*dlq.Item
	dlqOrder []string

	checkpoints map[string][]*workflow.Checkpoint // key: thread ID
	cpByID      map[string]*workflow.Checkpoint

	tokens  map[string]*workflow.TokenRecord // key: tenant + workflow ID
	entries map[string]*idempotency.Entry    // key: tenant + endpoint + key
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*job.Job),
		queues:      make(map[queueKey][]*queue.Message),
		delayed:     make(map[queueKey][]*queue.Message),
		inflight:    make(map[string]*queue.Message),
		events:      make(map[string]*outbox.Event),
		deliveries:  make(map[string]*outbox.DeliveryRecord),
		dlqs:        make(map[string]*dlq.Item),
		checkpoints: make(map[string][]*workflow.Checkpoint),
		cpByID:      make(map[string]*workflow.Checkpoint),
		tokens:      make(map[string]*workflow.TokenRecord),
		entries:     make(map[string]*idempotency.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createJobLocked(j)
}

func (m *Store) createJobLocked(j *job.Job) error {
	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return conveyor.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job within the tenant's scope. Cross-tenant reads
// fail closed as not-found.
func (m *Store) GetJob(_ context.Context, tenantID string, jobID id.ID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok || j.TenantID != tenantID {
		return nil, conveyor.ErrJobNotFound
	}
	return j.Clone(), nil
}

// UpdateJob persists changes if the stored status still equals expect.
func (m *Store) UpdateJob(_ context.Context, j *job.Job, expect job.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[j.ID.String()]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	if stored.TenantID != j.TenantID {
		return conveyor.ErrTenantMismatch
	}
	if stored.Status != expect {
		return conveyor.ErrStatusConflict
	}
	m.jobs[j.ID.String()] = j.Clone()
	return nil
}

// ListJobs returns the tenant's jobs matching opts, oldest first.
func (m *Store) ListJobs(_ context.Context, tenantID string, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.Job
	for _, j := range m.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// CountJobs returns the number of the tenant's jobs in the given status.
func (m *Store) CountJobs(_ context.Context, tenantID string, status job.Status) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		n++
	}
	return n, nil
}

// SubmitJob persists a job and its outbox event under one lock
// acquisition, so the event exists iff the job does.
func (m *Store) SubmitJob(_ context.Context, j *job.Job, evt *outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.createJobLocked(j); err != nil {
		return err
	}
	if err := m.appendEventLocked(evt); err != nil {
		delete(m.jobs, j.ID.String())
		return err
	}
	return nil
}

// ──────────────────────────────────────────────────
// Queue Store
// ──────────────────────────────────────────────────

// promoteLocked moves delayed messages whose VisibleAt has passed to
// the tail of the visible queue, oldest due first.
func (m *Store) promoteLocked(k queueKey, now time.Time) {
	held := m.delayed[k]
	if len(held) == 0 {
		return
	}
	var due, still []*queue.Message
	for _, msg := range held {
		if !msg.VisibleAt.After(now) {
			due = append(due, msg)
		} else {
			still = append(still, msg)
		}
	}
	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(a, b int) bool { return due[a].VisibleAt.Before(due[b].VisibleAt) })
	m.queues[k] = append(m.queues[k], due...)
	m.delayed[k] = still
}

// EnqueueMessage appends to the (tenant, queue) FIFO, or to the delayed
// holding area when VisibleAt is in the future.
func (m *Store) EnqueueMessage(_ context.Context, msg *queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := queueKey{tenant: msg.TenantID, name: msg.Queue}
	cp := *msg
	if !cp.VisibleAt.IsZero() && cp.VisibleAt.After(time.Now().UTC()) {
		m.delayed[k] = append(m.delayed[k], &cp)
		return nil
	}
	m.queues[k] = append(m.queues[k], &cp)
	return nil
}

// DequeueMessage pops the queue head into the in-flight set.
func (m *Store) DequeueMessage(_ context.Context, tenantID, queueName string) (*queue.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := queueKey{tenant: tenantID, name: queueName}
	m.promoteLocked(k, time.Now().UTC())

	q := m.queues[k]
	if len(q) == 0 {
		return nil, nil
	}
	head := q[0]
	m.queues[k] = q[1:]
	m.inflight[head.ID.String()] = head

	cp := *head
	return &cp, nil
}

// AckMessage removes an in-flight message permanently.
func (m *Store) AckMessage(_ context.Context, tenantID string, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.inflight[messageID]
	if !ok {
		return conveyor.ErrMessageNotFound
	}
	if msg.TenantID != tenantID {
		return conveyor.ErrTenantMismatch
	}
	delete(m.inflight, messageID)
	return nil
}

// NackMessage removes the message from the in-flight set, increments
// its attempt counter, and re-inserts at the head (or into the delayed
// holding area when delayMS > 0) if requeue is true.
func (m *Store) NackMessage(_ context.Context, tenantID string, messageID string, requeue bool, delayMS int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.inflight[messageID]
	if !ok {
		return conveyor.ErrMessageNotFound
	}
	if msg.TenantID != tenantID {
		return conveyor.ErrTenantMismatch
	}
	delete(m.inflight, messageID)

	if !requeue {
		return nil
	}
	msg.Attempt++

	k := queueKey{tenant: msg.TenantID, name: msg.Queue}
	if delayMS > 0 {
		msg.VisibleAt = time.Now().UTC().Add(time.Duration(delayMS) * time.Millisecond)
		m.delayed[k] = append(m.delayed[k], msg)
		return nil
	}
	msg.VisibleAt = time.Time{}
	m.queues[k] = append([]*queue.Message{msg}, m.queues[k]...)
	return nil
}

// ListQueueTenants returns tenants with pending messages on the queue.
func (m *Store) ListQueueTenants(_ context.Context, queueName string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	seen := make(map[string]struct{})
	for k := range m.queues {
		if k.name == queueName && len(m.queues[k]) > 0 {
			seen[k.tenant] = struct{}{}
		}
	}
	for k, held := range m.delayed {
		if k.name != queueName {
			continue
		}
		for _, msg := range held {
			if !msg.VisibleAt.After(now) {
				seen[k.tenant] = struct{}{}
				break
			}
		}
	}

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// CountMessages returns pending (visible or delayed-due) messages for
// the tenant's queue, excluding in-flight ones.
func (m *Store) CountMessages(_ context.Context, tenantID, queueName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := queueKey{tenant: tenantID, name: queueName}
	m.promoteLocked(k, time.Now().UTC())
	return int64(len(m.queues[k])), nil
}

// ──────────────────────────────────────────────────
// Outbox Store
// ──────────────────────────────────────────────────

// AppendEvent inserts a pending event.
func (m *Store) AppendEvent(_ context.Context, e *outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEventLocked(e)
}

func (m *Store) appendEventLocked(e *outbox.Event) error {
	key := e.ID.String()
	if _, exists := m.events[key]; exists {
		return conveyor.ErrEventAlreadyExists
	}
	cp := *e
	m.events[key] = &cp
	m.eventOrder = append(m.eventOrder, key)
	return nil
}

// GetEvent retrieves an event within the tenant's scope.
func (m *Store) GetEvent(_ context.Context, tenantID string, eventID id.ID) (*outbox.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[eventID.String()]
	if !ok || e.TenantID != tenantID {
		return nil, conveyor.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

// ListPendingEvents returns up to limit pending events in append order.
func (m *Store) ListPendingEvents(_ context.Context, tenantID string, limit int) ([]*outbox.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*outbox.Event
	for _, key := range m.eventOrder {
		e := m.events[key]
		if e.TenantID != tenantID || e.Status != outbox.EventPending {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkEventPublished flips the event to published. Monotonic.
func (m *Store) MarkEventPublished(_ context.Context, tenantID string, eventID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[eventID.String()]
	if !ok || e.TenantID != tenantID {
		return conveyor.ErrEventNotFound
	}
	if e.Status == outbox.EventPublished {
		return nil
	}
	now := time.Now().UTC()
	e.Status = outbox.EventPublished
	e.PublishedAt = &now
	return nil
}

func deliveryKey(tenantID string, eventID id.ID, consumer string) string {
	return tenantID + "\x00" + eventID.String() + "\x00" + consumer
}

// HasDelivery reports whether (tenant, event, consumer) was delivered.
func (m *Store) HasDelivery(_ context.Context, tenantID string, eventID id.ID, consumer string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.deliveries[deliveryKey(tenantID, eventID, consumer)]
	return ok, nil
}

// RecordDelivery creates the delivery record. Idempotent.
func (m *Store) RecordDelivery(_ context.Context, rec *outbox.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := deliveryKey(rec.TenantID, rec.EventID, rec.Consumer)
	if _, exists := m.deliveries[key]; exists {
		return nil
	}
	cp := *rec
	m.deliveries[key] = &cp
	return nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds an item to the dead-letter queue.
func (m *Store) PushDLQ(_ context.Context, item *dlq.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := item.ID.String()
	if _, exists := m.dlqs[key]; exists {
		return conveyor.ErrDLQNotFound
	}
	cp := *item
	m.dlqs[key] = &cp
	m.dlqOrder = append(m.dlqOrder, key)
	return nil
}

// GetDLQ retrieves an item within the tenant's scope.
func (m *Store) GetDLQ(_ context.Context, tenantID string, itemID id.ID) (*dlq.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.dlqs[itemID.String()]
	if !ok || item.TenantID != tenantID {
		return nil, conveyor.ErrDLQNotFound
	}
	cp := *item
	return &cp, nil
}

// UpdateDLQ persists changes if the stored status still equals expect.
func (m *Store) UpdateDLQ(_ context.Context, item *dlq.Item, expect dlq.ItemStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.dlqs[item.ID.String()]
	if !ok {
		return conveyor.ErrDLQNotFound
	}
	if stored.TenantID != item.TenantID {
		return conveyor.ErrTenantMismatch
	}
	if stored.Status != expect {
		return conveyor.ErrStatusConflict
	}
	cp := *item
	m.dlqs[item.ID.String()] = &cp
	return nil
}

// ListDLQ returns the tenant's items matching opts in push order.
func (m *Store) ListDLQ(_ context.Context, tenantID string, opts dlq.ListOpts) ([]*dlq.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*dlq.Item
	for _, key := range m.dlqOrder {
		item := m.dlqs[key]
		if item.TenantID != tenantID {
			continue
		}
		if opts.Status != "" && item.Status != opts.Status {
			continue
		}
		cp := *item
		out = append(out, &cp)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// CountDLQ returns the number of the tenant's items in the given status.
func (m *Store) CountDLQ(_ context.Context, tenantID string, status dlq.ItemStatus) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, item := range m.dlqs {
		if item.TenantID != tenantID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		n++
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Workflow Checkpoint Store
// ──────────────────────────────────────────────────

// AppendCheckpoint assigns the thread's next sequence number and appends.
func (m *Store) AppendCheckpoint(_ context.Context, cp *workflow.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread := cp.ThreadID.String()
	var max int64
	for _, existing := range m.checkpoints[thread] {
		if existing.Seq > max {
			max = existing.Seq
		}
	}
	cp.Seq = max + 1

	stored := *cp
	if cp.PendingWrites != nil {
		stored.PendingWrites = append([]workflow.PendingWrite(nil), cp.PendingWrites...)
	}
	m.checkpoints[thread] = append(m.checkpoints[thread], &stored)
	m.cpByID[cp.ID.String()] = &stored
	return nil
}

// ListCheckpoints returns the tenant's checkpoints for a thread,
// descending by seq.
func (m *Store) ListCheckpoints(_ context.Context, tenantID string, threadID id.ID, opts workflow.ListOpts) ([]*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*workflow.Checkpoint
	for _, cp := range m.checkpoints[threadID.String()] {
		if cp.TenantID != tenantID {
			continue
		}
		if opts.Kind != "" && cp.Kind != opts.Kind {
			continue
		}
		c := *cp
		out = append(out, &c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Seq > out[k].Seq })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// LatestCheckpoint returns the highest-seq runtime checkpoint of the
// thread, or the exact one when checkpointID is non-nil.
func (m *Store) LatestCheckpoint(_ context.Context, tenantID string, threadID id.ID, checkpointID *id.ID) (*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *workflow.Checkpoint
	for _, cp := range m.checkpoints[threadID.String()] {
		if cp.TenantID != tenantID || cp.Kind != workflow.KindRuntime {
			continue
		}
		if checkpointID != nil {
			if cp.ID == *checkpointID {
				c := *cp
				return &c, nil
			}
			continue
		}
		if latest == nil || cp.Seq > latest.Seq {
			latest = cp
		}
	}
	if latest == nil {
		return nil, conveyor.ErrCheckpointNotFound
	}
	c := *latest
	return &c, nil
}

// AppendWrites merges pending writes into an existing runtime
// checkpoint. A no-op if the checkpoint does not exist.
func (m *Store) AppendWrites(_ context.Context, tenantID string, checkpointID id.ID, writes []workflow.PendingWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.cpByID[checkpointID.String()]
	if !ok || cp.TenantID != tenantID || cp.Kind != workflow.KindRuntime {
		return nil
	}
	cp.PendingWrites = append(cp.PendingWrites, writes...)
	return nil
}

// ──────────────────────────────────────────────────
// Resume Token Store
// ──────────────────────────────────────────────────

func tokenKey(tenantID string, workflowID id.ID) string {
	return tenantID + "\x00" + workflowID.String()
}

// PutToken stores a token record, replacing any prior record for the
// same (tenant, workflow) pair.
func (m *Store) PutToken(_ context.Context, rec *workflow.TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.tokens[tokenKey(rec.TenantID, rec.WorkflowID)] = &cp
	return nil
}

// GetToken retrieves the record for (tenant, workflow).
func (m *Store) GetToken(_ context.Context, tenantID string, workflowID id.ID) (*workflow.TokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tokens[tokenKey(tenantID, workflowID)]
	if !ok {
		return nil, conveyor.ErrTokenNotFound
	}
	cp := *rec
	return &cp, nil
}

// ConsumeToken atomically flips Used from false to true.
func (m *Store) ConsumeToken(_ context.Context, tenantID string, workflowID id.ID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tokens[tokenKey(tenantID, workflowID)]
	if !ok || rec.Token != token {
		return conveyor.ErrTokenNotFound
	}
	if rec.Used {
		return conveyor.ErrStatusConflict
	}
	rec.Used = true
	return nil
}

// ──────────────────────────────────────────────────
// Idempotency Store
// ──────────────────────────────────────────────────

func entryKey(tenantID, endpoint, key string) string {
	return tenantID + "\x00" + endpoint + "\x00" + key
}

// GetEntry retrieves the ledger entry for (tenant, endpoint, key).
func (m *Store) GetEntry(_ context.Context, tenantID, endpoint, key string) (*idempotency.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[entryKey(tenantID, endpoint, key)]
	if !ok {
		return nil, conveyor.ErrEntryNotFound
	}
	cp := *e
	cp.Result = append([]byte(nil), e.Result...)
	return &cp, nil
}

// PutEntry persists a new ledger entry.
func (m *Store) PutEntry(_ context.Context, e *idempotency.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	cp.Result = append([]byte(nil), e.Result...)
	m.entries[entryKey(e.TenantID, e.Endpoint, e.Key)] = &cp
	return nil
}
