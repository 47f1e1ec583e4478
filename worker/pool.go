package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/hook"
	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/job"
	"github.com/syncwell/pulse/queue"
)

// Pool drains durable queues with a bounded number of in-flight jobs. One
// Pool runs three loops: a claim loop that polls for eligible jobs, a
// heartbeat loop that proves liveness for every active job, and a reaper
// loop that rescues jobs whose heartbeat went silent.
type Pool struct {
	store   job.Store
	exec    *Executor
	manager *queue.Manager
	hooks   *hook.Registry
	logger  *slog.Logger

	workerID          id.WorkerID
	queues            []string
	concurrency       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	stallThreshold    time.Duration
	shutdownTimeout   time.Duration

	mu      sync.Mutex
	active  map[id.JobID]*job.Job
	started bool

	sem     chan struct{}
	quit    chan struct{}
	runCtx  context.Context
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	jobWG   sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithQueues sets the queues the pool claims from.
func WithQueues(queues ...string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithConcurrency sets the pool-wide in-flight ceiling.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often the claim loop polls for eligible jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often active jobs are heartbeated.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStallThreshold sets how long an active job may go without a
// heartbeat before the reaper treats it as stalled.
func WithStallThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.stallThreshold = d }
}

// WithShutdownTimeout bounds how long Stop waits for in-flight jobs.
func WithShutdownTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.shutdownTimeout = d }
}

// WithManager gates claims through per-queue and per-source budgets.
func WithManager(m *queue.Manager) PoolOption {
	return func(p *Pool) { p.manager = m }
}

// WithHooks sets the extension registry for lifecycle events.
func WithHooks(h *hook.Registry) PoolOption {
	return func(p *Pool) { p.hooks = h }
}

// WithPoolLogger sets the structured logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a Pool. Defaults follow pulse.DefaultConfig.
func NewPool(store job.Store, exec *Executor, opts ...PoolOption) *Pool {
	cfg := pulse.DefaultConfig()
	p := &Pool{
		store:             store,
		exec:              exec,
		logger:            slog.Default(),
		workerID:          id.NewWorkerID(),
		queues:            cfg.Queues,
		concurrency:       cfg.Concurrency,
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		stallThreshold:    cfg.StallThreshold,
		shutdownTimeout:   cfg.ShutdownTimeout,
		active:            make(map[id.JobID]*job.Job),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	p.sem = make(chan struct{}, p.concurrency)
	return p
}

// ID returns the pool's worker identity, stamped on every job it claims.
func (p *Pool) ID() id.WorkerID { return p.workerID }

// Start launches the claim, heartbeat, and reaper loops.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("pulse: worker pool already started")
	}
	p.started = true
	p.quit = make(chan struct{})
	p.runCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Unlock()

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Any("queues", p.queues),
		slog.Int("concurrency", p.concurrency),
	)

	p.loopWG.Add(3)
	go p.claimLoop()
	go p.heartbeatLoop()
	go p.reaperLoop()
	return nil
}

// Stop gracefully shuts the pool down: no new claims, in-flight jobs get
// until the shutdown timeout (or ctx cancellation, whichever is sooner)
// before their contexts are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()

	close(p.quit)
	p.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		p.jobWG.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		p.logger.Warn("shutdown timeout reached, cancelling in-flight jobs")
		p.cancel()
		<-done
	case <-ctx.Done():
		p.logger.Warn("shutdown context cancelled, cancelling in-flight jobs")
		p.cancel()
		<-done
	}

	p.cancel()
	// The Shutdown hook is the dispatcher's to emit, once, after every
	// subsystem has stopped.
	p.logger.Info("worker pool stopped", slog.String("worker_id", p.workerID.String()))
	return nil
}

// ActiveJobs returns a snapshot of jobs currently executing on this pool.
func (p *Pool) ActiveJobs() []*job.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	jobs := make([]*job.Job, 0, len(p.active))
	for _, j := range p.active {
		jobs = append(jobs, j)
	}
	return jobs
}

func (p *Pool) claimLoop() {
	defer p.loopWG.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.claimOnce()
		}
	}
}

// claimOnce claims up to the number of free slots and launches each claimed
// job. A claim denied by the queue manager's budget is put back to waiting.
func (p *Pool) claimOnce() {
	free := p.concurrency - len(p.sem)
	if free <= 0 {
		return
	}

	jobs, err := p.store.ClaimJobs(p.runCtx, p.queues, free)
	if err != nil {
		p.logger.Error("claim failed", slog.String("error", err.Error()))
		return
	}

	for _, j := range jobs {
		if p.manager != nil && !p.manager.Acquire(j.Queue, j.Source) {
			p.requeue(j)
			continue
		}

		select {
		case p.sem <- struct{}{}:
		case <-p.quit:
			if p.manager != nil {
				p.manager.Release(j.Queue, j.Source)
			}
			p.requeue(j)
			return
		}

		p.mu.Lock()
		p.active[j.ID] = j
		p.mu.Unlock()

		p.jobWG.Add(1)
		go p.run(j)
	}
}

func (p *Pool) run(j *job.Job) {
	defer func() {
		p.mu.Lock()
		delete(p.active, j.ID)
		p.mu.Unlock()

		if p.manager != nil {
			p.manager.Release(j.Queue, j.Source)
		}
		<-p.sem
		p.jobWG.Done()
	}()

	p.exec.Execute(p.runCtx, j, p.workerID)
}

// requeue puts a claimed-but-budget-denied job back to waiting so another
// poll (or another worker) picks it up.
func (p *Pool) requeue(j *job.Job) {
	j.State = job.StateWaiting
	j.WorkerID = id.Nil
	if err := p.store.UpdateJob(p.runCtx, j); err != nil {
		p.logger.Error("requeue after budget denial failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) heartbeatLoop() {
	defer p.loopWG.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			for _, j := range p.ActiveJobs() {
				if err := p.store.HeartbeatJob(p.runCtx, j.ID, p.workerID, j.Progress); err != nil {
					p.logger.Warn("heartbeat failed",
						slog.String("job_id", j.ID.String()),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// reaperLoop rescues active jobs whose heartbeat went silent past the stall
// threshold. A stalled job is settled through the ordinary retry path with
// pulse.ErrJobStalled, which classifies as transient.
func (p *Pool) reaperLoop() {
	defer p.loopWG.Done()

	// Reap at the stall threshold cadence; more often buys nothing.
	ticker := time.NewTicker(p.stallThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

func (p *Pool) reapOnce() {
	stale, err := p.store.ReapStaleJobs(p.runCtx, p.stallThreshold)
	if err != nil {
		p.logger.Error("stale job scan failed", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		p.logger.Warn("stalled job detected",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("attempt", j.Attempts),
		)
		if p.hooks != nil {
			p.hooks.EmitJobStalled(p.runCtx, j)
		}
		p.exec.settleFailure(p.runCtx, j, fmt.Errorf("%w: no heartbeat for %s", pulse.ErrJobStalled, p.stallThreshold))
	}
}
