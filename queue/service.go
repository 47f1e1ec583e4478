package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/hook"
	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/job"
)

// Service is the durable job queue: it validates, dedups, and persists
// incoming jobs, answers status queries, and performs administrative
// operations. A single Service fronts all named queues of one store.
type Service struct {
	store       job.Store
	registry    *job.Registry
	hooks       *hook.Registry
	logger      *slog.Logger
	retention   int
	maxAttempts int
	now         func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRetention caps how many terminal jobs are kept per state before the
// oldest are purged. Zero disables retention-driven purging.
func WithRetention(n int) ServiceOption {
	return func(s *Service) { s.retention = n }
}

// WithDefaultMaxAttempts sets the attempt budget applied to jobs whose
// definition and call options leave MaxAttempts unset. Non-positive values
// keep the built-in default.
func WithDefaultMaxAttempts(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithNow overrides the clock. Used by tests.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a queue Service.
func NewService(
	store job.Store,
	registry *job.Registry,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:       store,
		registry:    registry,
		hooks:       hooks,
		logger:      logger,
		retention:   1000,
		maxAttempts: 3,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add validates and persists a new job. Options are layered: the
// registered definition's defaults first, then the per-call options.
//
// A DedupKey matching an existing non-terminal job short-circuits: the
// existing job is returned together with pulse.ErrDuplicateJob and no new
// job is created. The lookup here is a fast path; the store's EnqueueJob
// is the atomic arbiter, so concurrent Adds racing on one key still
// produce exactly one job. Store failures are returned to the caller —
// silently losing a job is worse than a visible error.
func (s *Service) Add(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	if err := s.registry.Validate(name, payload); err != nil {
		return nil, err
	}

	options, ok := s.registry.Defaults(name)
	if !ok {
		options = job.DefaultOptions()
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = s.maxAttempts
	}

	if options.DedupKey != "" {
		existing, err := s.store.FindByDedupKey(ctx, options.Queue, options.DedupKey)
		switch {
		case err == nil:
			s.logger.Debug("dedup key collision, returning existing job",
				slog.String("job_name", name),
				slog.String("dedup_key", options.DedupKey),
				slog.String("existing_id", existing.ID.String()),
			)
			return existing, pulse.ErrDuplicateJob
		case !errors.Is(err, pulse.ErrJobNotFound):
			return nil, fmt.Errorf("dedup lookup for %q: %w", options.DedupKey, err)
		}
	}

	now := s.now().UTC()
	j := &job.Job{
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       options.Queue,
		Source:      options.Source,
		Payload:     payload,
		State:       job.StateWaiting,
		Priority:    options.Priority,
		MaxAttempts: options.MaxAttempts,
		DedupKey:    options.DedupKey,
		RunAt:       now,
		Timeout:     options.Timeout,
	}
	j.Touch(now)

	if options.Delay > 0 {
		j.State = job.StateDelayed
		j.RunAt = now.Add(options.Delay)
	}

	if err := s.store.EnqueueJob(ctx, j); err != nil {
		if errors.Is(err, pulse.ErrDuplicateJob) {
			// Lost a dedup race after the lookup above; surface the winner.
			if existing, findErr := s.store.FindByDedupKey(ctx, options.Queue, options.DedupKey); findErr == nil {
				return existing, pulse.ErrDuplicateJob
			}
			return nil, pulse.ErrDuplicateJob
		}
		return nil, err
	}

	if s.hooks != nil {
		s.hooks.EmitJobEnqueued(ctx, j)
	}

	s.enforceRetention(ctx)

	return j, nil
}

// Status retrieves a job by ID.
func (s *Service) Status(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// Clean removes terminal jobs in the given state older than olderThan.
// Calling it twice in a row is a no-op the second time. Only terminal
// states may be cleaned: removing waiting or active jobs would lose work.
func (s *Service) Clean(ctx context.Context, queue string, state job.State, olderThan time.Duration) (int64, error) {
	if !state.Terminal() {
		return 0, fmt.Errorf("%w: clean only applies to terminal states, got %q", pulse.ErrInvalidState, state)
	}
	cutoff := s.now().UTC().Add(-olderThan)
	return s.store.DeleteJobsBefore(ctx, queue, state, cutoff)
}

// Pause stops the queue from handing out jobs. Already-claimed jobs run to
// completion; waiting jobs stay queued.
func (s *Service) Pause(ctx context.Context, queue string) error {
	if err := s.store.SetQueuePaused(ctx, queue, true); err != nil {
		return err
	}
	s.logger.Info("queue paused", slog.String("queue", queue))
	return nil
}

// Resume re-enables claiming for the queue.
func (s *Service) Resume(ctx context.Context, queue string) error {
	if err := s.store.SetQueuePaused(ctx, queue, false); err != nil {
		return err
	}
	s.logger.Info("queue resumed", slog.String("queue", queue))
	return nil
}

// Paused reports whether the queue is paused.
func (s *Service) Paused(ctx context.Context, queue string) (bool, error) {
	return s.store.QueuePaused(ctx, queue)
}

// Stats is the per-queue state breakdown exported to health surfaces.
type Stats struct {
	Queue     string `json:"queue"`
	Waiting   int64  `json:"waiting"`
	Delayed   int64  `json:"delayed"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Paused    bool   `json:"paused"`
}

// QueueStats returns the state breakdown for one queue.
func (s *Service) QueueStats(ctx context.Context, queue string) (Stats, error) {
	st := Stats{Queue: queue}
	counts := []struct {
		state job.State
		dst   *int64
	}{
		{job.StateWaiting, &st.Waiting},
		{job.StateDelayed, &st.Delayed},
		{job.StateActive, &st.Active},
		{job.StateCompleted, &st.Completed},
		{job.StateFailed, &st.Failed},
	}
	for _, c := range counts {
		n, err := s.store.CountJobs(ctx, job.CountOpts{Queue: queue, State: c.state})
		if err != nil {
			return Stats{}, err
		}
		*c.dst = n
	}
	paused, err := s.store.QueuePaused(ctx, queue)
	if err != nil {
		return Stats{}, err
	}
	st.Paused = paused
	return st, nil
}

// enforceRetention purges the oldest terminal jobs beyond the configured
// retention. Failures are logged, not returned: retention is bookkeeping,
// the caller's job is already safely enqueued.
func (s *Service) enforceRetention(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	for _, state := range []job.State{job.StateCompleted, job.StateFailed} {
		n, err := s.store.PurgeTerminal(ctx, state, s.retention)
		if err != nil {
			s.logger.Warn("terminal job purge failed",
				slog.String("state", string(state)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			s.logger.Debug("purged terminal jobs",
				slog.String("state", string(state)),
				slog.Int64("count", n),
			)
		}
	}
}
