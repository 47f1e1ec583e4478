// Package engine wires all pulse subsystems together: the extension
// registry, job registry, middleware chain, durable queue service, worker
// pool, recurring scheduler, rate limiter, and DLQ service.
//
// This package exists to break the import cycle: the root pulse package
// defines Entity and the sentinel errors (imported by job, sched, dlq, and
// the rest) and so cannot import those packages back. The engine package
// sits above all subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/dlq"
	"github.com/syncwell/pulse/hook"
	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/job"
	mw "github.com/syncwell/pulse/middleware"
	"github.com/syncwell/pulse/observability"
	"github.com/syncwell/pulse/queue"
	"github.com/syncwell/pulse/ratelimit"
	"github.com/syncwell/pulse/retry"
	"github.com/syncwell/pulse/sched"
	"github.com/syncwell/pulse/store"
	"github.com/syncwell/pulse/worker"
)

// Engine wraps a Dispatcher with typed subsystem access.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d        *pulse.Dispatcher
	hooks    *hook.Registry
	registry *job.Registry
	store    store.Store
	logger   *slog.Logger

	queueSvc  *queue.Service
	dlqSvc    *dlq.Service
	limiter   *ratelimit.Limiter
	policy    *retry.Policy
	pool      *worker.Pool
	scheduler *sched.Scheduler

	// Per-queue and per-source dequeue budgets.
	queueConfigs  []queue.Config
	sourceConfigs []queue.SourceConfig
	manager       *queue.Manager

	mws []mw.Middleware

	// Optional OTel MeterProvider; nil means use the global one.
	meterProvider metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers a lifecycle extension with the engine.
func WithExtension(e hook.Extension) Option {
	return func(eng *Engine) {
		eng.hooks.Register(e)
	}
}

// WithMiddleware appends middleware to the engine's execution chain, after
// the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithRetryPolicy sets the retry policy for failed attempts. If not set,
// retry.NewPolicy() (exponential backoff with jitter) is used.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(eng *Engine) {
		eng.policy = p
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// budgets. Queues not listed have no budget.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithSourceConfig registers per-upstream dequeue budgets, scoped within a
// queue.
func WithSourceConfig(configs ...queue.SourceConfig) Option {
	return func(eng *Engine) {
		eng.sourceConfigs = append(eng.sourceConfigs, configs...)
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine. When
// set, both the metrics middleware and the observability extension use this
// provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Dispatcher. The Dispatcher's
// store must implement the composite store.Store interface.
func Build(d *pulse.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()

	if d.Store() == nil {
		return nil, pulse.ErrNoStore
	}
	st, ok := d.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("pulse: store does not implement store.Store")
	}

	eng := &Engine{
		d:        d,
		hooks:    hook.NewRegistry(logger),
		registry: job.NewRegistry(),
		store:    st,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.policy == nil {
		eng.policy = retry.NewPolicy()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/syncwell/pulse/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.hooks.Register(obsExt)

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/syncwell/pulse")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	config := d.Config()

	eng.queueSvc = queue.NewService(st, eng.registry, eng.hooks, logger,
		queue.WithRetention(config.RetentionPerState),
		queue.WithDefaultMaxAttempts(config.DefaultMaxAttempts),
	)
	eng.dlqSvc = dlq.NewService(st, st)
	eng.limiter = ratelimit.NewLimiter(st, ratelimit.WithLogger(logger))

	executor := worker.NewExecutor(st, eng.registry, eng.policy, eng.hooks, logger,
		worker.WithDLQ(eng.dlqSvc),
		worker.WithMiddleware(allMws...),
	)

	poolOpts := []worker.PoolOption{
		worker.WithQueues(config.Queues...),
		worker.WithConcurrency(config.Concurrency),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStallThreshold(config.StallThreshold),
		worker.WithShutdownTimeout(config.ShutdownTimeout),
		worker.WithHooks(eng.hooks),
		worker.WithPoolLogger(logger),
	}

	if len(eng.queueConfigs) > 0 || len(eng.sourceConfigs) > 0 {
		eng.manager = queue.NewManager(eng.queueConfigs...)
		for _, sc := range eng.sourceConfigs {
			eng.manager.SetSourceConfig(sc)
		}
		poolOpts = append(poolOpts, worker.WithManager(eng.manager))
	}

	eng.pool = worker.NewPool(st, executor, poolOpts...)

	eng.scheduler = sched.NewScheduler(st, eng.queueSvc.Add,
		sched.WithHooks(eng.hooks),
		sched.WithLogger(logger),
	)

	// Wire back into the Dispatcher.
	d.SetPool(eng.pool)
	d.SetScheduler(eng.scheduler)
	d.SetHooks(eng.hooks)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue marshals a typed payload and adds the job to the durable queue.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return eng.Add(ctx, name, data, opts...)
}

// Add validates and enqueues a job with a pre-serialized payload.
func (eng *Engine) Add(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	return eng.queueSvc.Add(ctx, name, payload, opts...)
}

// JobStatus retrieves a job by ID: state, progress, attempts, last error.
func (eng *Engine) JobStatus(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.queueSvc.Status(ctx, jobID)
}

// PauseQueue stops the named queue from handing out jobs. Already-claimed
// jobs run to completion.
func (eng *Engine) PauseQueue(ctx context.Context, name string) error {
	return eng.queueSvc.Pause(ctx, name)
}

// ResumeQueue re-enables claiming for the named queue.
func (eng *Engine) ResumeQueue(ctx context.Context, name string) error {
	return eng.queueSvc.Resume(ctx, name)
}

// Clean removes terminal jobs in the given state older than olderThan.
func (eng *Engine) Clean(ctx context.Context, queueName string, state job.State, olderThan time.Duration) (int64, error) {
	return eng.queueSvc.Clean(ctx, queueName, state, olderThan)
}

// ── Recurring templates ─────────────────────────────

// RegisterTemplate validates and persists a recurring job template.
func (eng *Engine) RegisterTemplate(ctx context.Context, t *sched.Template) error {
	return eng.scheduler.Register(ctx, t)
}

// EnableTemplate turns automatic firing on for a template.
func (eng *Engine) EnableTemplate(ctx context.Context, templateID id.TemplateID) error {
	return eng.scheduler.Enable(ctx, templateID)
}

// DisableTemplate turns automatic firing off for a template.
func (eng *Engine) DisableTemplate(ctx context.Context, templateID id.TemplateID) error {
	return eng.scheduler.Disable(ctx, templateID)
}

// DeleteTemplate removes a template.
func (eng *Engine) DeleteTemplate(ctx context.Context, templateID id.TemplateID) error {
	return eng.scheduler.Delete(ctx, templateID)
}

// TriggerTemplate fires a template immediately, bypassing its cron match
// and maintenance window. overridePayload, when non-nil, replaces the
// template's payload for this run only.
func (eng *Engine) TriggerTemplate(ctx context.Context, templateID id.TemplateID, overridePayload []byte) (*job.Job, error) {
	return eng.scheduler.Trigger(ctx, templateID, overridePayload)
}

// TemplateStatuses returns the control-surface view of all templates.
func (eng *Engine) TemplateStatuses(ctx context.Context) ([]sched.Status, error) {
	return eng.scheduler.Statuses(ctx)
}

// ── Stats ───────────────────────────────────────────

// Stats is the aggregate health snapshot across all configured queues.
type Stats struct {
	Queues []queue.Stats `json:"queues"`
	DLQ    int64         `json:"dlq"`
}

// Stats returns per-queue state breakdowns for every queue the dispatcher
// polls, plus the DLQ depth.
func (eng *Engine) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	for _, q := range eng.d.Config().Queues {
		st, err := eng.queueSvc.QueueStats(ctx, q)
		if err != nil {
			return Stats{}, err
		}
		out.Queues = append(out.Queues, st)
	}
	n, err := eng.store.CountDLQ(ctx)
	if err != nil {
		return Stats{}, err
	}
	out.DLQ = n
	return out, nil
}

// ── Lifecycle ───────────────────────────────────────

// Start begins job processing and recurring scheduling.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.d.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.d.Stop(ctx)
}

// ── Accessors ───────────────────────────────────────

// Hooks returns the extension registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *pulse.Dispatcher { return eng.d }

// Queue returns the durable queue service.
func (eng *Engine) Queue() *queue.Service { return eng.queueSvc }

// DLQ returns the dead letter service for replay and inspection.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqSvc }

// Limiter returns the sliding-window rate limiter bound to the store.
func (eng *Engine) Limiter() *ratelimit.Limiter { return eng.limiter }

// Scheduler returns the recurring scheduler.
func (eng *Engine) Scheduler() *sched.Scheduler { return eng.scheduler }

// Manager returns the dequeue budget manager, or nil if no queue or source
// configs were provided.
func (eng *Engine) Manager() *queue.Manager { return eng.manager }
