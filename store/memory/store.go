// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/dlq"
	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/job"
	"github.com/syncwell/pulse/ratelimit"
	"github.com/syncwell/pulse/sched"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store       = (*Store)(nil)
	_ sched.Store     = (*Store)(nil)
	_ dlq.Store       = (*Store)(nil)
	_ ratelimit.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs      map[string]*job.Job
	templates map[string]*sched.Template
	dlqs      map[string]*dlq.Entry
	paused    map[string]bool

	// windows holds admitted-request timestamps per rate limit identifier,
	// oldest first.
	windows map[string][]time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*job.Job),
		templates: make(map[string]*sched.Template),
		dlqs:      make(map[string]*dlq.Entry),
		paused:    make(map[string]bool),
		windows:   make(map[string][]time.Time),
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

// EnqueueJob persists a new job. When the job carries a dedup key, the
// conflict check and the insert happen under the same lock acquisition, so
// concurrent enqueues for one key cannot both land.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return pulse.ErrJobAlreadyExists
	}
	if j.DedupKey != "" {
		for _, existing := range m.jobs {
			if existing.Queue == j.Queue && existing.DedupKey == j.DedupKey && !existing.State.Terminal() {
				return pulse.ErrDuplicateJob
			}
		}
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// ClaimJobs atomically claims up to limit claimable jobs from the given
// queues, sets them active, and returns them. Paused queues are skipped.
func (m *Store) ClaimJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if !j.Claimable(now) {
			continue
		}
		if m.paused[j.Queue] {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, j)
	}

	// Sort: priority DESC, RunAt ASC.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateActive
		n := now
		j.HeartbeatAt = &n
		// Return a copy so callers can mutate without racing with the store.
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, pulse.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// FindByDedupKey returns the non-terminal job carrying the dedup key on the
// given queue.
func (m *Store) FindByDedupKey(_ context.Context, queue, dedupKey string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, j := range m.jobs {
		if j.DedupKey != dedupKey || j.Queue != queue {
			continue
		}
		if j.State.Terminal() {
			continue
		}
		cp := *j
		return &cp, nil
	}
	return nil, pulse.ErrJobNotFound
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return pulse.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return pulse.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// HeartbeatJob refreshes the liveness timestamp of an active job and
// records its progress.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, _ id.WorkerID, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return pulse.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	j.Progress = progress
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than the
// given threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateActive {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// DeleteJobsBefore removes jobs in the given terminal state whose
// completion predates cutoff.
func (m *Store) DeleteJobsBefore(_ context.Context, queue string, state job.State, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, j := range m.jobs {
		if j.State != state {
			continue
		}
		if queue != "" && j.Queue != queue {
			continue
		}
		if j.CompletedAt == nil || j.CompletedAt.After(cutoff) {
			continue
		}
		delete(m.jobs, key)
		count++
	}
	return count, nil
}

// PurgeTerminal removes the oldest jobs in the given terminal state beyond
// keep.
func (m *Store) PurgeTerminal(_ context.Context, state job.State, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matching := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.State == state {
			matching = append(matching, j)
		}
	}
	if len(matching) <= keep {
		return 0, nil
	}

	// Oldest completion first.
	sort.Slice(matching, func(i, k int) bool {
		ti, tk := matching[i].CompletedAt, matching[k].CompletedAt
		switch {
		case ti == nil:
			return true
		case tk == nil:
			return false
		default:
			return ti.Before(*tk)
		}
	})

	var count int64
	for _, j := range matching[:len(matching)-keep] {
		delete(m.jobs, j.ID.String())
		count++
	}
	return count, nil
}

// SetQueuePaused pauses or resumes claiming for one queue.
func (m *Store) SetQueuePaused(_ context.Context, queue string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if paused {
		m.paused[queue] = true
	} else {
		delete(m.paused, queue)
	}
	return nil
}

// QueuePaused reports whether the queue is paused.
func (m *Store) QueuePaused(_ context.Context, queue string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.paused[queue], nil
}

// ──────────────────────────────────────────────────
// Sched Store
// ──────────────────────────────────────────────────

// RegisterTemplate persists a new schedule template. Template names are
// unique.
func (m *Store) RegisterTemplate(_ context.Context, t *sched.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.templates {
		if existing.Name == t.Name {
			return pulse.ErrDuplicateName
		}
	}

	cp := *t
	m.templates[t.ID.String()] = &cp
	return nil
}

// GetTemplate retrieves a template by ID.
func (m *Store) GetTemplate(_ context.Context, templateID id.TemplateID) (*sched.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[templateID.String()]
	if !ok {
		return nil, pulse.ErrTemplateNotFound
	}
	cp := *t
	return &cp, nil
}

// GetTemplateByName retrieves a template by its unique name.
func (m *Store) GetTemplateByName(_ context.Context, name string) (*sched.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.templates {
		if t.Name == name {
			cp := *t
			return &cp, nil
		}
	}
	return nil, pulse.ErrTemplateNotFound
}

// ListTemplates returns all templates.
func (m *Store) ListTemplates(_ context.Context) ([]*sched.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*sched.Template, 0, len(m.templates))
	for _, t := range m.templates {
		cp := *t
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// UpdateTemplate persists changes to an existing template.
func (m *Store) UpdateTemplate(_ context.Context, t *sched.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, ok := m.templates[key]; !ok {
		return pulse.ErrTemplateNotFound
	}
	cp := *t
	cp.UpdatedAt = time.Now().UTC()
	m.templates[key] = &cp
	return nil
}

// DeleteTemplate removes a template by ID.
func (m *Store) DeleteTemplate(_ context.Context, templateID id.TemplateID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := templateID.String()
	if _, ok := m.templates[key]; !ok {
		return pulse.ErrTemplateNotFound
	}
	delete(m.templates, key)
	return nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed job entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries matching the given options.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.Before(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, pulse.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return pulse.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Rate Window Store
// ──────────────────────────────────────────────────

// pruneWindow drops entries older than now-window. Callers hold m.mu.
func (m *Store) pruneWindow(identifier string, window time.Duration, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	kept := m.windows[identifier][:0]
	for _, ts := range m.windows[identifier] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.windows[identifier] = kept
	return kept
}

// Consume prunes the identifier's window, then inserts an entry for now if
// fewer than limit survive. Prune and insert happen under one lock, so two
// concurrent calls at the limit boundary never both get admitted.
func (m *Store) Consume(_ context.Context, identifier string, limit int, window time.Duration, now time.Time) (ratelimit.Window, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.pruneWindow(identifier, window, now)
	w := ratelimit.Window{Count: len(kept)}
	if len(kept) > 0 {
		w.Oldest = kept[0]
	}

	if len(kept) >= limit {
		return w, false, nil
	}

	m.windows[identifier] = append(kept, now)
	return w, true, nil
}

// Peek prunes and returns the window state without inserting.
func (m *Store) Peek(_ context.Context, identifier string, window time.Duration, now time.Time) (ratelimit.Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.pruneWindow(identifier, window, now)
	w := ratelimit.Window{Count: len(kept)}
	if len(kept) > 0 {
		w.Oldest = kept[0]
	}
	return w, nil
}
