package job

import (
	"time"

	"github.com/syncwell/pulse"
	"github.com/syncwell/pulse/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is eligible to be claimed by a worker.
	StateWaiting State = "waiting"
	// StateDelayed means the job becomes claimable once RunAt passes,
	// either from an initial delay or a retry backoff.
	StateDelayed State = "delayed"
	// StateActive means a worker is currently executing the job.
	StateActive State = "active"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job represents a durable unit of work processed by the worker pool.
type Job struct {
	pulse.Entity

	ID          id.JobID      `json:"id"`
	Name        string        `json:"name"`
	Queue       string        `json:"queue"`
	Source      string        `json:"source,omitempty"`
	Payload     []byte        `json:"payload"`
	Result      []byte        `json:"result,omitempty"`
	State       State         `json:"state"`
	Priority    int           `json:"priority"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	DedupKey    string        `json:"dedup_key,omitempty"`
	Progress    int           `json:"progress"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Claimable reports whether the job may be handed to a worker at now:
// waiting, or delayed with an elapsed RunAt.
func (j *Job) Claimable(now time.Time) bool {
	if j.State != StateWaiting && j.State != StateDelayed {
		return false
	}
	return j.RunAt.IsZero() || !j.RunAt.After(now)
}
