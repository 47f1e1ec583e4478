package job

import "context"

// Progress reports fractional completion (0-100) of a running attempt.
// Reports refresh the job's liveness heartbeat; they are advisory and a
// handler that never reports still completes normally (it just relies on
// pool heartbeats to prove liveness).
type Progress func(percent int)

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this job type.
	Name string

	// Handler processes the payload. The returned value, if non-nil, is
	// JSON-marshalled and stored as the job result.
	Handler func(ctx context.Context, payload T, report Progress) (any, error)

	// Opts configures retries, queue, priority, and timeout defaults for
	// jobs of this type.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](
	name string,
	handler func(ctx context.Context, payload T, report Progress) (any, error),
	opts ...Option,
) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
