package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/dlq"
	"github.com/syncwell/pulse/hook"
	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/job"
	"github.com/syncwell/pulse/middleware"
	"github.com/syncwell/pulse/retry"
)

// Executor runs one claimed job through the middleware chain and settles
// the outcome: completed, delayed for retry, or terminally failed (and
// dead-lettered). It is safe for concurrent use.
type Executor struct {
	store    job.Store
	registry *job.Registry
	policy   *retry.Policy
	deadLQ   *dlq.Service
	hooks    *hook.Registry
	logger   *slog.Logger
	chain    middleware.Middleware
	now      func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithDLQ routes terminally failed jobs into the dead letter queue.
func WithDLQ(s *dlq.Service) ExecutorOption {
	return func(e *Executor) { e.deadLQ = s }
}

// WithMiddleware sets the middleware chain wrapped around every attempt,
// outermost first.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.chain = middleware.Chain(mws...) }
}

// WithExecutorNow overrides the clock. Used by tests.
func WithExecutorNow(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor.
func NewExecutor(
	store job.Store,
	registry *job.Registry,
	policy *retry.Policy,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = retry.NewPolicy()
	}
	e := &Executor{
		store:    store,
		registry: registry,
		policy:   policy,
		hooks:    hooks,
		logger:   logger,
		chain:    middleware.Chain(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one attempt of a claimed job to a settled state. The job
// must already be in active state (set by the claim).
func (e *Executor) Execute(ctx context.Context, j *job.Job, workerID id.WorkerID) {
	now := e.now().UTC()
	started := now

	j.Attempts++
	j.WorkerID = workerID
	j.StartedAt = &started
	j.HeartbeatAt = &started
	j.Progress = 0
	j.Touch(now)
	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("persisting attempt start failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if e.hooks != nil {
		e.hooks.EmitJobStarted(ctx, j)
	}

	handler, ok := e.registry.Get(j.Name)
	if !ok {
		e.settleFailure(ctx, j, pulse.Permanent(fmt.Errorf("%w: %q", pulse.ErrUnknownJobName, j.Name)))
		return
	}

	report := func(percent int) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		j.Progress = percent
		if err := e.store.HeartbeatJob(ctx, j.ID, workerID, percent); err != nil {
			e.logger.Warn("progress heartbeat failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		if e.hooks != nil {
			e.hooks.EmitJobProgress(ctx, j, percent)
		}
	}

	var result []byte
	err := e.chain(ctx, j, func(ctx context.Context) error {
		var hErr error
		result, hErr = handler(ctx, j.Payload, report)
		return hErr
	})

	if err != nil {
		e.settleFailure(ctx, j, err)
		return
	}

	e.settleSuccess(ctx, j, result, started)
}

func (e *Executor) settleSuccess(ctx context.Context, j *job.Job, result []byte, started time.Time) {
	now := e.now().UTC()
	j.State = job.StateCompleted
	j.Result = result
	j.Progress = 100
	j.LastError = ""
	j.CompletedAt = &now
	j.Touch(now)

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("persisting completion failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if e.hooks != nil {
		e.hooks.EmitJobCompleted(ctx, j, now.Sub(started))
	}
}

// settleFailure consults the retry policy: a granted retry sends the job
// back to delayed with a backoff-derived RunAt; an exhausted or
// non-retryable failure lands it in failed and, when configured, in the
// dead letter queue.
func (e *Executor) settleFailure(ctx context.Context, j *job.Job, jobErr error) {
	now := e.now().UTC()
	j.LastError = jobErr.Error()

	d := e.policy.Decide(jobErr, j.Attempts, j.MaxAttempts)
	if d.Retry {
		j.State = job.StateDelayed
		j.RunAt = now.Add(d.Delay)
		j.WorkerID = id.Nil
		j.StartedAt = nil
		j.HeartbeatAt = nil
		j.Touch(now)

		if err := e.store.UpdateJob(ctx, j); err != nil {
			e.logger.Error("persisting retry failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}

		e.logger.Info("job attempt failed, retrying",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("attempt", j.Attempts),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Duration("delay", d.Delay),
			slog.String("error", jobErr.Error()),
		)
		if e.hooks != nil {
			e.hooks.EmitJobRetrying(ctx, j, j.Attempts, j.RunAt)
		}
		return
	}

	j.State = job.StateFailed
	j.CompletedAt = &now
	j.Touch(now)

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("persisting terminal failure failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	e.logger.Warn("job failed permanently",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempts", j.Attempts),
		slog.String("error", jobErr.Error()),
	)
	if e.hooks != nil {
		e.hooks.EmitJobFailed(ctx, j, jobErr)
	}

	if e.deadLQ != nil {
		if err := e.deadLQ.Push(ctx, j, jobErr); err != nil {
			e.logger.Error("dead letter push failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		if e.hooks != nil {
			e.hooks.EmitJobDLQ(ctx, j, jobErr)
		}
	}
}
