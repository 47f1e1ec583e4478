package middleware

import (
	"context"
	"log/slog"

	"github.com/syncwell/pulse/job"
)

// Timeout returns middleware that enforces a per-attempt execution
// deadline. If the job has a non-zero Timeout, a context.WithTimeout wraps
// the handler call; when the deadline is exceeded the context is cancelled
// and the handler should return context.DeadlineExceeded. The overall call
// timeout is distinct from the stall threshold, which guards handlers that
// hang without consuming their deadline.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", j.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, j.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
