// Package verify cross-checks two store backends holding the same
// tenant's data: a durable system of record against a hot-path replica,
// or an old backend against its migration target. It loads both
// snapshots in parallel and reports field-level differences per
// section, so operators can audit a cutover before trusting it.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/workbenchio/conveyor/dlq"
	"github.com/workbenchio/conveyor/id"
	"github.com/workbenchio/conveyor/job"
	"github.com/workbenchio/conveyor/outbox"
	"github.com/workbenchio/conveyor/store"
	"github.com/workbenchio/conveyor/workflow"
)

// Diff is one field-level disagreement between the two backends.
type Diff struct {
	Key     string `json:"key"`
	Field   string `json:"field"`
	Primary string `json:"primary"`
	Replica string `json:"replica"`
}

// Section groups the diffs of one data family.
type Section struct {
	Name  string `json:"name"`
	Diffs []Diff `json:"diffs,omitempty"`
}

// Report is the outcome of one tenant check.
type Report struct {
	TenantID string    `json:"tenant_id"`
	Sections []Section `json:"sections"`
}

// Clean reports whether the backends agreed on every section.
func (r *Report) Clean() bool {
	for _, s := range r.Sections {
		if len(s.Diffs) > 0 {
			return false
		}
	}
	return true
}

// DiffCount returns the total number of disagreements.
func (r *Report) DiffCount() int {
	var n int
	for _, s := range r.Sections {
		n += len(s.Diffs)
	}
	return n
}

// Checker compares a primary backend against a replica.
type Checker struct {
	primary store.Store
	replica store.Store
	queues  []string
	logger  *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithQueues sets the queue names whose message counts are compared.
func WithQueues(queues []string) Option {
	return func(c *Checker) { c.queues = queues }
}

// WithLogger sets the checker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// NewChecker creates a Checker over two backends.
func NewChecker(primary, replica store.Store, opts ...Option) *Checker {
	c := &Checker{
		primary: primary,
		replica: replica,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check loads both backends' snapshots for the tenant in parallel and
// diffs them section by section. The report is keyed on the primary:
// rows only the replica holds surface as missing-from-primary diffs.
func (c *Checker) Check(ctx context.Context, tenantID string) (*Report, error) {
	var prim, repl *snapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := loadSnapshot(gctx, c.primary, tenantID, c.queues)
		if err != nil {
			return fmt.Errorf("verify: load primary: %w", err)
		}
		prim = s
		return nil
	})
	g.Go(func() error {
		s, err := loadSnapshot(gctx, c.replica, tenantID, c.queues)
		if err != nil {
			return fmt.Errorf("verify: load replica: %w", err)
		}
		repl = s
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		TenantID: tenantID,
		Sections: []Section{
			{Name: "jobs", Diffs: diffJobs(prim.jobs, repl.jobs)},
			{Name: "dlq", Diffs: diffDLQ(prim.dlqItems, repl.dlqItems)},
			{Name: "outbox", Diffs: diffEvents(prim.pending, repl.pending)},
			{Name: "checkpoints", Diffs: diffCheckpoints(prim.checkpoints, repl.checkpoints)},
			{Name: "queues", Diffs: diffCounts(prim.queueCounts, repl.queueCounts)},
		},
	}

	if !report.Clean() {
		c.logger.Warn("backend verification found differences",
			slog.String("tenant_id", tenantID),
			slog.Int("diff_count", report.DiffCount()))
	}
	return report, nil
}

// ──────────────────────────────────────────────────
// Snapshot loading
// ──────────────────────────────────────────────────

type snapshot struct {
	jobs        map[string]*job.Job
	dlqItems    map[string]*dlq.Item
	pending     map[string]*outbox.Event
	checkpoints map[string][]*workflow.Checkpoint
	queueCounts map[string]int64
}

func loadSnapshot(ctx context.Context, s store.Store, tenantID string, queues []string) (*snapshot, error) {
	snap := &snapshot{
		jobs:        make(map[string]*job.Job),
		dlqItems:    make(map[string]*dlq.Item),
		pending:     make(map[string]*outbox.Event),
		checkpoints: make(map[string][]*workflow.Checkpoint),
		queueCounts: make(map[string]int64),
	}

	jobs, err := s.ListJobs(ctx, tenantID, job.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	threads := make(map[id.ID]struct{})
	for _, j := range jobs {
		snap.jobs[j.ID.String()] = j
		threads[j.ThreadID] = struct{}{}
	}

	items, err := s.ListDLQ(ctx, tenantID, dlq.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("list dlq: %w", err)
	}
	for _, item := range items {
		snap.dlqItems[item.ID.String()] = item
	}

	pending, err := s.ListPendingEvents(ctx, tenantID, 0)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	for _, e := range pending {
		snap.pending[e.ID.String()] = e
	}

	for threadID := range threads {
		cps, err := s.ListCheckpoints(ctx, tenantID, threadID, workflow.ListOpts{})
		if err != nil {
			return nil, fmt.Errorf("list checkpoints for %s: %w", threadID, err)
		}
		// ListCheckpoints returns descending seq; keep ascending for
		// positional comparison.
		sort.Slice(cps, func(i, j int) bool { return cps[i].Seq < cps[j].Seq })
		snap.checkpoints[threadID.String()] = cps
	}

	for _, q := range queues {
		n, err := s.CountMessages(ctx, tenantID, q)
		if err != nil {
			return nil, fmt.Errorf("count messages on %s: %w", q, err)
		}
		snap.queueCounts[q] = n
	}
	return snap, nil
}

// ──────────────────────────────────────────────────
// Section diffing
// ──────────────────────────────────────────────────

func diffJobs(prim, repl map[string]*job.Job) []Diff {
	var diffs []Diff
	for _, key := range sortedKeys(prim) {
		p := prim[key]
		r, ok := repl[key]
		if !ok {
			diffs = append(diffs, missing(key))
			continue
		}
		diffs = appendField(diffs, key, "status", string(p.Status), string(r.Status))
		diffs = appendField(diffs, key, "type", string(p.Type), string(r.Type))
		diffs = appendField(diffs, key, "thread_id", p.ThreadID.String(), r.ThreadID.String())
		diffs = appendField(diffs, key, "retry_count", strconv.Itoa(p.RetryCount), strconv.Itoa(r.RetryCount))
		diffs = appendField(diffs, key, "last_error", p.LastError, r.LastError)
	}
	return append(diffs, extras(prim, repl)...)
}

func diffDLQ(prim, repl map[string]*dlq.Item) []Diff {
	var diffs []Diff
	for _, key := range sortedKeys(prim) {
		p := prim[key]
		r, ok := repl[key]
		if !ok {
			diffs = append(diffs, missing(key))
			continue
		}
		diffs = appendField(diffs, key, "status", string(p.Status), string(r.Status))
		diffs = appendField(diffs, key, "job_id", p.JobID.String(), r.JobID.String())
		diffs = appendField(diffs, key, "error_code", p.ErrorCode, r.ErrorCode)
	}
	return append(diffs, extras(prim, repl)...)
}

func diffEvents(prim, repl map[string]*outbox.Event) []Diff {
	var diffs []Diff
	for _, key := range sortedKeys(prim) {
		p := prim[key]
		r, ok := repl[key]
		if !ok {
			diffs = append(diffs, missing(key))
			continue
		}
		diffs = appendField(diffs, key, "type", p.Type, r.Type)
		diffs = appendField(diffs, key, "job_id", p.JobID.String(), r.JobID.String())
	}
	return append(diffs, extras(prim, repl)...)
}

func diffCheckpoints(prim, repl map[string][]*workflow.Checkpoint) []Diff {
	var diffs []Diff
	for _, thread := range sortedKeys(prim) {
		p := prim[thread]
		r, ok := repl[thread]
		if !ok {
			diffs = append(diffs, missing(thread))
			continue
		}
		if len(p) != len(r) {
			diffs = append(diffs, Diff{
				Key: thread, Field: "length",
				Primary: strconv.Itoa(len(p)), Replica: strconv.Itoa(len(r)),
			})
			continue
		}
		for i := range p {
			key := fmt.Sprintf("%s[%d]", thread, p[i].Seq)
			diffs = appendField(diffs, key, "node", p[i].Node, r[i].Node)
			diffs = appendField(diffs, key, "status", p[i].Status, r[i].Status)
		}
	}
	return append(diffs, extras(prim, repl)...)
}

func diffCounts(prim, repl map[string]int64) []Diff {
	var diffs []Diff
	for _, q := range sortedKeys(prim) {
		diffs = appendField(diffs, q, "count",
			strconv.FormatInt(prim[q], 10), strconv.FormatInt(repl[q], 10))
	}
	return diffs
}

func appendField(diffs []Diff, key, field, prim, repl string) []Diff {
	if prim == repl {
		return diffs
	}
	return append(diffs, Diff{Key: key, Field: field, Primary: prim, Replica: repl})
}

func missing(key string) Diff {
	return Diff{Key: key, Field: "presence", Primary: "present", Replica: "missing"}
}

// extras reports keys the replica holds that the primary does not.
func extras[V any](prim, repl map[string]V) []Diff {
	var diffs []Diff
	for _, key := range sortedKeys(repl) {
		if _, ok := prim[key]; !ok {
			diffs = append(diffs, Diff{Key: key, Field: "presence", Primary: "missing", Replica: "present"})
		}
	}
	return diffs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
