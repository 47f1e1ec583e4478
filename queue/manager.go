package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue behaviour such as rate limiting and concurrency.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously across the local worker pool. Zero means no
	// queue-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second that may be
	// claimed from this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// SourceConfig defines rate limits and concurrency for a specific upstream
// source on a specific queue, identified by the job's Source field. It
// keeps one slow or fragile upstream from starving the queue's budget for
// everything else.
type SourceConfig struct {
	// Queue is the queue this config applies to.
	Queue string

	// Source is the upstream identifier (the job's Source field).
	Source string

	// RateLimit is the sustained jobs per second for this source.
	RateLimit float64

	// RateBurst is the burst size for the source's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this source on this
	// queue. Zero means no source-specific concurrency limit.
	MaxConcurrency int
}

// gate is one claim budget scope: an optional token bucket plus an optional
// concurrency ceiling, with the live count of jobs admitted through it.
type gate struct {
	limiter *rate.Limiter
	ceiling int
	active  int
}

func newGate(perSecond float64, burst, ceiling int) *gate {
	g := &gate{ceiling: ceiling}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return g
}

// full reports whether the concurrency ceiling leaves no room.
func (g *gate) full() bool {
	return g.ceiling > 0 && g.active >= g.ceiling
}

// Manager controls per-queue and per-source claim budgets. The worker pool
// calls Acquire before executing a claimed job and Release after execution
// completes. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*gate
	sources map[string]*gate
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:  make(map[string]*gate, len(configs)),
		sources: make(map[string]*gate),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	}
	return m
}

func sourceKey(queue, source string) string {
	return queue + ":" + source
}

// gatesFor returns the configured gates that apply to one claim, queue
// level first. Unconfigured scopes contribute no gate. Callers hold m.mu.
func (m *Manager) gatesFor(queue, source string) []*gate {
	gates := make([]*gate, 0, 2)
	if g := m.queues[queue]; g != nil {
		gates = append(gates, g)
	}
	if source != "" {
		if g := m.sources[sourceKey(queue, source)]; g != nil {
			gates = append(gates, g)
		}
	}
	return gates
}

// Acquire admits one claim through every gate that applies to the queue and
// source, or denies it without spending any budget: concurrency ceilings
// are checked before any token is taken, and rate reservations are
// cancelled when a later gate refuses, so a denied claim never burns
// another gate's tokens. The caller MUST pair a true return with Release.
func (m *Manager) Acquire(queue, source string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	gates := m.gatesFor(queue, source)
	for _, g := range gates {
		if g.full() {
			return false
		}
	}

	held := make([]*rate.Reservation, 0, len(gates))
	for _, g := range gates {
		if g.limiter == nil {
			continue
		}
		r := g.limiter.Reserve()
		if !r.OK() || r.Delay() > 0 {
			r.Cancel()
			for _, h := range held {
				h.Cancel()
			}
			return false
		}
		held = append(held, r)
	}

	for _, g := range gates {
		g.active++
	}
	return true
}

// Release returns the claim's slot on every gate it was admitted through.
func (m *Manager) Release(queue, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, g := range m.gatesFor(queue, source) {
		if g.active > 0 {
			g.active--
		}
	}
}

// SetQueueConfig dynamically updates (or creates) a queue's budget. The
// live count of admitted jobs carries over.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if old := m.queues[cfg.Name]; old != nil {
		g.active = old.active
	}
	m.queues[cfg.Name] = g
}

// SetSourceConfig configures rate limits and concurrency for a specific
// upstream source on a specific queue. Calling this multiple times for the
// same queue+source replaces the previous budget; the live count of
// admitted jobs carries over.
func (m *Manager) SetSourceConfig(cfg SourceConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sourceKey(cfg.Queue, cfg.Source)
	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if old := m.sources[key]; old != nil {
		g.active = old.active
	}
	m.sources[key] = g
}

// ActiveCount returns the current number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g := m.queues[queue]; g != nil {
		return g.active
	}
	return 0
}

// SourceActiveCount returns the current number of active jobs for a
// queue+source pair.
func (m *Manager) SourceActiveCount(queue, source string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g := m.sources[sourceKey(queue, source)]; g != nil {
		return g.active
	}
	return 0
}
