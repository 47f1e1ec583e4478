package pulse

import "time"

// Config holds configuration for the Dispatcher.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int

	// Queues is the list of queues this dispatcher will poll.
	Queues []string

	// PollInterval is how often to poll for claimable jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often active jobs refresh their heartbeat.
	// Progress reports also refresh it.
	HeartbeatInterval time.Duration

	// StallThreshold is how long an active job may go without a heartbeat
	// or progress report before it is treated as stalled and retried.
	StallThreshold time.Duration

	// DefaultMaxAttempts is the attempt budget for jobs that do not set
	// their own.
	DefaultMaxAttempts int

	// RetentionPerState caps how many terminal (completed / failed) jobs
	// are kept per state before the oldest are purged.
	RetentionPerState int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		Queues:             []string{"default"},
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StallThreshold:     30 * time.Second,
		DefaultMaxAttempts: 3,
		RetentionPerState:  1000,
	}
}
