package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limits defines optional rate limiting and concurrency caps for a queue
// or a (queue, tenant) pair on top of the runtime's burst-based fairness.
type Limits struct {
	// Name is the queue identifier.
	Name string

	// TenantID scopes the limits to one tenant on the queue. Empty
	// applies the limits to the queue as a whole.
	TenantID string

	// MaxConcurrency bounds simultaneous in-process executions. Zero
	// means no cap.
	MaxConcurrency int

	// RatePerSecond is the sustained dequeue rate. Zero disables rate
	// limiting.
	RatePerSecond float64

	// Burst is the token-bucket burst size. Defaults to 1 when
	// RatePerSecond is set.
	Burst int
}

// slot tracks runtime state for one queue or queue+tenant pair.
type slot struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newSlot(l Limits) *slot {
	s := &slot{maxConcurrency: l.MaxConcurrency}
	if l.RatePerSecond > 0 {
		burst := l.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(l.RatePerSecond), burst)
	}
	return s
}

func (s *slot) admit() bool {
	if s.limiter != nil && !s.limiter.Allow() {
		return false
	}
	if s.maxConcurrency > 0 && s.active >= s.maxConcurrency {
		return false
	}
	return true
}

// Manager enforces per-queue and per-tenant rate limits and concurrency
// caps at dequeue time. Queues and tenants without configured Limits are
// unrestricted. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*slot
	tenants map[string]*slot
}

// NewManager creates a Manager with the given limit configurations.
func NewManager(limits ...Limits) *Manager {
	m := &Manager{
		queues:  make(map[string]*slot),
		tenants: make(map[string]*slot),
	}
	for _, l := range limits {
		m.SetLimits(l)
	}
	return m
}

func tenantKey(queueName, tenantID string) string {
	return queueName + ":" + tenantID
}

// SetLimits configures (or replaces) limits for a queue or a
// queue+tenant pair. The current active count is preserved when
// reconfiguring.
func (m *Manager) SetLimits(l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := newSlot(l)
	if l.TenantID != "" {
		key := tenantKey(l.Name, l.TenantID)
		if existing := m.tenants[key]; existing != nil {
			s.active = existing.active
		}
		m.tenants[key] = s
		return
	}
	if existing := m.queues[l.Name]; existing != nil {
		s.active = existing.active
	}
	m.queues[l.Name] = s
}

// Acquire checks rate limits and concurrency for the queue/tenant
// combination. If the message may proceed it increments the active
// counters and returns true. The caller MUST call Release when the
// execution completes.
func (m *Manager) Acquire(queueName, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queueName]
	if qs != nil && !qs.admit() {
		return false
	}

	var ts *slot
	if tenantID != "" {
		ts = m.tenants[tenantKey(queueName, tenantID)]
		if ts != nil && !ts.admit() {
			return false
		}
	}

	if qs != nil {
		qs.active++
	}
	if ts != nil {
		ts.active++
	}
	return true
}

// Release decrements the active counts for the queue and tenant.
func (m *Manager) Release(queueName, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queueName]; qs != nil && qs.active > 0 {
		qs.active--
	}
	if tenantID != "" {
		if ts := m.tenants[tenantKey(queueName, tenantID)]; ts != nil && ts.active > 0 {
			ts.active--
		}
	}
}

// ActiveCount returns the current number of active executions for a
// queue.
func (m *Manager) ActiveCount(queueName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queueName]; qs != nil {
		return qs.active
	}
	return 0
}

// TenantActiveCount returns the current number of active executions for
// a queue+tenant pair.
func (m *Manager) TenantActiveCount(queueName, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tenants[tenantKey(queueName, tenantID)]; ts != nil {
		return ts.active
	}
	return 0
}
