package pulse

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the minimal store interface held by the Dispatcher. It covers
// lifecycle operations only; the full composite interface (store.Store) is
// used by the subsystem layers, which would otherwise create import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for subsystem lifecycle (worker pool,
// recurring scheduler).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for shutdown hook emission.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher is the central coordinator for durable job processing,
// recurring scheduling, and rate budgeting.
//
// Create one with New() and functional options, then wire the subsystems
// with engine.Build. The Dispatcher holds subsystem references via internal
// interfaces to avoid import cycles. There are no process-wide singletons:
// every collaborator is an explicit, constructed instance.
type Dispatcher struct {
	config    Config
	logger    *slog.Logger
	store     Storer
	hooks     hookEmitter
	pool      runner
	scheduler runner

	started bool
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// SetPool sets the worker pool (called by the engine package).
func (d *Dispatcher) SetPool(p runner) { d.pool = p }

// SetScheduler sets the recurring scheduler (called by the engine package).
func (d *Dispatcher) SetScheduler(s runner) { d.scheduler = s }

// SetHooks sets the lifecycle hook emitter (called by the engine package).
func (d *Dispatcher) SetHooks(h hookEmitter) { d.hooks = h }

// Start begins job processing and recurring scheduling.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.pool == nil {
		return ErrNoStore
	}
	if err := d.pool.Start(ctx); err != nil {
		return err
	}
	if d.scheduler != nil {
		if err := d.scheduler.Start(ctx); err != nil {
			return err
		}
	}
	d.started = true
	return nil
}

// Stop gracefully shuts down the dispatcher: the scheduler stops firing,
// the pool stops claiming and drains in-flight jobs, then the store closes.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.scheduler != nil && d.started {
		if err := d.scheduler.Stop(ctx); err != nil {
			d.logger.Error("scheduler stop error", "error", err)
		}
	}
	if d.pool != nil && d.started {
		if err := d.pool.Stop(ctx); err != nil {
			d.logger.Error("pool stop error", "error", err)
		}
	}
	if d.hooks != nil {
		d.hooks.EmitShutdown(ctx)
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrent job processors.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues the dispatcher will poll.
func WithQueues(queues []string) Option {
	return func(d *Dispatcher) error {
		d.config.Queues = queues
		return nil
	}
}

// WithPollInterval sets how often workers poll for claimable jobs.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.PollInterval = interval
		return nil
	}
}

// WithStallThreshold sets how long an active job may go without progress
// before the reaper treats it as stalled.
func WithStallThreshold(threshold time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.StallThreshold = threshold
		return nil
	}
}

// WithRetention caps the number of terminal jobs retained per state.
func WithRetention(n int) Option {
	return func(d *Dispatcher) error {
		d.config.RetentionPerState = n
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the dispatcher. The store must
// implement Storer at minimum; typically it is a store.Store which embeds
// all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}
