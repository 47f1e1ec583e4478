package job

import "time"

// Options configures per-job behavior: retries, queue, priority, delay,
// dedup, and timeout.
type Options struct {
	// MaxAttempts is the total attempt budget before the job fails
	// permanently. Zero defers to the queue service's configured default.
	MaxAttempts int

	// Queue is the queue name this job should be enqueued to.
	Queue string

	// Source identifies the upstream this job talks to, for per-upstream
	// dequeue budgets. Empty means no upstream affinity.
	Source string

	// Priority determines claim ordering. Higher values are processed
	// first.
	Priority int

	// Delay postpones eligibility: the job is not claimable until
	// enqueue time + Delay.
	Delay time.Duration

	// DedupKey prevents duplicate concurrent jobs for the same logical
	// work. Adding a job whose DedupKey matches an existing non-terminal
	// job returns the existing job instead of creating a new one.
	DedupKey string

	// Timeout is the maximum duration one attempt may run before its
	// context is cancelled.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults. MaxAttempts stays
// zero so the queue service's configured default applies.
func DefaultOptions() Options {
	return Options{
		Queue:   "default",
		Timeout: 5 * time.Minute,
	}
}

// Option is a functional option for configuring job submission.
type Option func(*Options)

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithSource tags the job with the upstream it calls.
func WithSource(s string) Option {
	return func(o *Options) { o.Source = s }
}

// WithPriority sets the job priority. Higher values are claimed first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithDelay postpones the job's eligibility by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithDedupKey sets the dedup key for the job.
func WithDedupKey(key string) Option {
	return func(o *Options) { o.DedupKey = key }
}

// WithTimeout sets the maximum execution duration per attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}
