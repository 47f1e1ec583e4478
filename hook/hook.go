package hook

import (
	"context"
	"time"

	"github.com/syncwell/pulse/id"
	"github.com/syncwell/pulse/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is called when a handler reports fractional progress.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, percent int) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobStalled is called when the reaper detects an active job without a
// live heartbeat and hands it back for retry.
type JobStalled interface {
	OnJobStalled(ctx context.Context, j *job.Job) error
}

// JobDLQ is called when a job is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Scheduler lifecycle hooks
// ──────────────────────────────────────────────────

// TemplateFired is called when a schedule template fires and enqueues a job.
type TemplateFired interface {
	OnTemplateFired(ctx context.Context, templateName string, jobID id.JobID) error
}

// TemplateSkipped is called when a due firing is dropped because the
// current time falls inside the template's maintenance window.
type TemplateSkipped interface {
	OnTemplateSkipped(ctx context.Context, templateName string, at time.Time) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
