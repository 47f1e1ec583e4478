package job

import (
	"context"
	"time"

	"github.com/syncwell/pulse/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs. All mutating operations
// must be atomic per job: a claim must never hand the same job to two
// workers.
type Store interface {
	// EnqueueJob persists a new job in waiting (or delayed) state. When the
	// job carries a DedupKey, the implementation must atomically reject it
	// with pulse.ErrDuplicateJob while a non-terminal job on the same queue
	// holds the key: check-then-insert across two calls is not enough.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimJobs atomically claims up to limit claimable jobs from the
	// given queues, sets them active, and returns them. Paused queues are
	// skipped. Jobs are ordered by priority (descending) then RunAt
	// (ascending).
	ClaimJobs(ctx context.Context, queues []string, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// FindByDedupKey returns the non-terminal job carrying the dedup key
	// on the given queue, or pulse.ErrJobNotFound.
	FindByDedupKey(ctx context.Context, queue, dedupKey string) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// HeartbeatJob refreshes the liveness timestamp of an active job and
	// records its fractional progress (0-100). Progress reports and
	// periodic pool heartbeats share this path.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, progress int) error

	// ReapStaleJobs returns active jobs whose last heartbeat is older than
	// the threshold, indicating a hung handler or a crashed worker.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// DeleteJobsBefore removes jobs in the given terminal state whose
	// completion predates cutoff, returning how many were removed. An
	// empty queue matches all queues.
	DeleteJobsBefore(ctx context.Context, queue string, state State, cutoff time.Time) (int64, error)

	// PurgeTerminal enforces per-state retention: it removes the oldest
	// jobs in the given terminal state beyond keep, returning how many
	// were removed.
	PurgeTerminal(ctx context.Context, state State, keep int) (int64, error)

	// SetQueuePaused pauses or resumes claiming for one queue.
	SetQueuePaused(ctx context.Context, queue string, paused bool) error

	// QueuePaused reports whether the queue is paused.
	QueuePaused(ctx context.Context, queue string) (bool, error)
}
