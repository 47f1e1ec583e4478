package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/hook"
	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/job"
)

// cronParser accepts standard five-field cron expressions and descriptors
// (@hourly, @daily, @every 5m).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// EnqueueFunc submits one job on behalf of a fired template. It matches
// the durable queue's Add signature.
type EnqueueFunc func(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error)

// Scheduler fires enabled templates on their cron cadence. It is safe for
// concurrent use; the tick loop runs on one goroutine.
type Scheduler struct {
	store   Store
	enqueue EnqueueFunc
	hooks   *hook.Registry
	logger  *slog.Logger

	tickInterval time.Duration
	now          func() time.Time

	mu      sync.Mutex
	started bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often due templates are evaluated.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithHooks sets the extension registry for template lifecycle events.
func WithHooks(h *hook.Registry) Option {
	return func(s *Scheduler) { s.hooks = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithNow overrides the clock. Used by tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a Scheduler over the given template store and
// enqueue path.
func NewScheduler(store Store, enqueue EnqueueFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		enqueue:      enqueue,
		logger:       slog.Default(),
		tickInterval: 15 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates and persists a new template. The template starts
// enabled unless t.Enabled is explicitly false by the caller having built
// it so; NextRunAt is computed from the schedule.
func (s *Scheduler) Register(ctx context.Context, t *Template) error {
	sched, err := cronParser.Parse(t.Schedule)
	if err != nil {
		return fmt.Errorf("pulse: invalid schedule %q: %w", t.Schedule, err)
	}
	if t.Window != nil {
		if err := t.Window.Validate(); err != nil {
			return err
		}
	}
	if t.ID.IsNil() {
		t.ID = id.NewTemplateID()
	}
	t.Entity = pulse.NewEntity()

	next := sched.Next(s.now().UTC())
	t.NextRunAt = &next

	if err := s.store.RegisterTemplate(ctx, t); err != nil {
		return err
	}

	s.logger.Info("schedule template registered",
		slog.String("template", t.Name),
		slog.String("schedule", t.Schedule),
		slog.Bool("enabled", t.Enabled),
		slog.Time("next_run_at", next),
	)
	return nil
}

// Enable turns automatic firing on for a template and recomputes its next
// occurrence from now, so a long-disabled template does not fire a backlog.
func (s *Scheduler) Enable(ctx context.Context, templateID id.TemplateID) error {
	return s.setEnabled(ctx, templateID, true)
}

// Disable turns automatic firing off. The template remains registered, but
// manual Trigger is refused too until it is re-enabled: disabling means
// "this work must not run", not "only run it by hand".
func (s *Scheduler) Disable(ctx context.Context, templateID id.TemplateID) error {
	return s.setEnabled(ctx, templateID, false)
}

func (s *Scheduler) setEnabled(ctx context.Context, templateID id.TemplateID, enabled bool) error {
	t, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	if t.Enabled == enabled {
		return nil
	}

	now := s.now().UTC()
	t.Enabled = enabled
	if enabled {
		sched, err := cronParser.Parse(t.Schedule)
		if err != nil {
			return fmt.Errorf("pulse: invalid schedule %q: %w", t.Schedule, err)
		}
		next := sched.Next(now)
		t.NextRunAt = &next
	}
	t.Touch(now)

	if err := s.store.UpdateTemplate(ctx, t); err != nil {
		return err
	}
	s.logger.Info("schedule template toggled",
		slog.String("template", t.Name),
		slog.Bool("enabled", enabled),
	)
	return nil
}

// Delete removes a template.
func (s *Scheduler) Delete(ctx context.Context, templateID id.TemplateID) error {
	return s.store.DeleteTemplate(ctx, templateID)
}

// Trigger fires a template immediately, out of band. It bypasses the cron
// match and the maintenance window (explicit operator intent overrides the
// automatic safety policy) but goes through the same enqueue path, so the
// job retries like any scheduled firing. overridePayload, when non-nil,
// replaces the template's payload for this run only. A disabled template
// cannot be triggered.
func (s *Scheduler) Trigger(ctx context.Context, templateID id.TemplateID, overridePayload []byte) (*job.Job, error) {
	t, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !t.Enabled {
		return nil, fmt.Errorf("%w: %q", pulse.ErrTemplateDisabled, t.Name)
	}

	payload := t.Payload
	if overridePayload != nil {
		payload = overridePayload
	}

	j, err := s.fire(ctx, t, payload)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t.LastRunAt = &now
	t.Touch(now)
	if err := s.store.UpdateTemplate(ctx, t); err != nil {
		s.logger.Warn("persisting manual trigger failed",
			slog.String("template", t.Name),
			slog.String("error", err.Error()),
		)
	}
	return j, nil
}

// Statuses returns the control-surface view of all templates.
func (s *Scheduler) Statuses(ctx context.Context) ([]Status, error) {
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]Status, 0, len(templates))
	for _, t := range templates {
		statuses = append(statuses, Status{
			ID:           t.ID,
			Name:         t.Name,
			JobName:      t.JobName,
			Schedule:     t.Schedule,
			Enabled:      t.Enabled,
			LastRunAt:    t.LastRunAt,
			NextRunAt:    t.NextRunAt,
			SkippedCount: t.SkippedCount,
		})
	}
	return statuses, nil
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("pulse: scheduler already started")
	}
	s.started = true
	s.quit = make(chan struct{})
	s.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.quit:
				return
			case <-ticker.C:
				s.Tick(runCtx)
			}
		}
	}()

	s.logger.Info("scheduler started", slog.Duration("tick_interval", s.tickInterval))
	return nil
}

// Stop halts the tick loop.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	close(s.quit)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// Tick evaluates every enabled template once and fires those that are due.
// Exported so tests (and a future admin surface) can drive the scheduler
// without the wall clock.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()

	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		s.logger.Error("listing templates failed", slog.String("error", err.Error()))
		return
	}

	for _, t := range templates {
		if !t.Enabled || t.NextRunAt == nil || t.NextRunAt.After(now) {
			continue
		}
		s.fireDue(ctx, t, now)
	}
}

// fireDue handles one due template: skip inside a maintenance window,
// enqueue otherwise, and in both cases advance NextRunAt. Missed
// maintenance-window firings are dropped, never backlogged.
func (s *Scheduler) fireDue(ctx context.Context, t *Template, now time.Time) {
	sched, err := cronParser.Parse(t.Schedule)
	if err != nil {
		s.logger.Error("stored template has invalid schedule",
			slog.String("template", t.Name),
			slog.String("schedule", t.Schedule),
			slog.String("error", err.Error()),
		)
		return
	}
	next := sched.Next(now)

	if t.Window != nil && t.Window.Contains(now) {
		t.SkippedCount++
		t.NextRunAt = &next
		t.Touch(now)
		if err := s.store.UpdateTemplate(ctx, t); err != nil {
			s.logger.Error("persisting skipped firing failed",
				slog.String("template", t.Name),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.Info("firing skipped inside maintenance window",
			slog.String("template", t.Name),
			slog.Time("at", now),
		)
		if s.hooks != nil {
			s.hooks.EmitTemplateSkipped(ctx, t.Name, now)
		}
		return
	}

	if _, err := s.fire(ctx, t, t.Payload); err != nil {
		s.logger.Error("firing template failed",
			slog.String("template", t.Name),
			slog.String("error", err.Error()),
		)
		// NextRunAt is left as-is so the next tick retries the firing.
		return
	}

	t.LastRunAt = &now
	t.NextRunAt = &next
	t.Touch(now)
	if err := s.store.UpdateTemplate(ctx, t); err != nil {
		s.logger.Error("persisting firing failed",
			slog.String("template", t.Name),
			slog.String("error", err.Error()),
		)
	}
}

// fire enqueues one job for the template through the shared add path.
func (s *Scheduler) fire(ctx context.Context, t *Template, payload []byte) (*job.Job, error) {
	opts := []job.Option{job.WithPriority(t.Priority)}
	if t.Queue != "" {
		opts = append(opts, job.WithQueue(t.Queue))
	}
	j, err := s.enqueue(ctx, t.JobName, payload, opts...)
	if err != nil {
		return nil, err
	}

	s.logger.Info("template fired",
		slog.String("template", t.Name),
		slog.String("job_id", j.ID.String()),
	)
	if s.hooks != nil {
		s.hooks.EmitTemplateFired(ctx, t.Name, j.ID)
	}
	return j, nil
}
