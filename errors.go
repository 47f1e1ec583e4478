package pulse

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("pulse: no store configured")
	ErrStoreClosed = errors.New("pulse: store closed")

	// Not found errors.
	ErrJobNotFound      = errors.New("pulse: job not found")
	ErrTemplateNotFound = errors.New("pulse: schedule template not found")
	ErrDLQNotFound      = errors.New("pulse: dlq entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("pulse: job already exists")
	ErrDuplicateJob     = errors.New("pulse: duplicate job for dedup key")
	ErrDuplicateName    = errors.New("pulse: duplicate template name")

	// State errors.
	ErrQueuePaused      = errors.New("pulse: queue is paused")
	ErrQueueCleared     = errors.New("pulse: request queue cleared")
	ErrQueueClosed      = errors.New("pulse: request queue closed")
	ErrInvalidState     = errors.New("pulse: invalid state transition")
	ErrJobStalled       = errors.New("pulse: job stalled")
	ErrUnknownJobName   = errors.New("pulse: no handler registered for job name")
	ErrInvalidPayload   = errors.New("pulse: payload failed validation")
	ErrTemplateDisabled = errors.New("pulse: schedule template disabled")
)

// RateLimitError reports a rejected admission against an upstream budget.
// It is retryable and carries the exact wait after which the next attempt
// will be admitted.
type RateLimitError struct {
	Identifier string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("pulse: rate limit exceeded for %q, retry after %s", e.Identifier, e.RetryAfter)
}

// Retryable always reports true: a rate-limited call succeeds once the
// window rolls over.
func (e *RateLimitError) Retryable() bool { return true }

// TransientError wraps an upstream failure that is expected to clear on its
// own: timeouts, 5xx responses, dropped connections.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "pulse: transient upstream error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Retryable always reports true.
func (e *TransientError) Retryable() bool { return true }

// PermanentError wraps a failure that retrying cannot fix: validation
// failures, authorization failures, 4xx responses other than 429.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "pulse: permanent request error: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Retryable always reports false.
func (e *PermanentError) Retryable() bool { return false }

// Transient wraps err as a TransientError. Returns nil if err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as a PermanentError. Returns nil if err is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// retryable is implemented by classified errors that know whether a retry
// can help.
type retryable interface {
	Retryable() bool
}

// IsRetryable classifies an error for the retry policy. Errors that
// implement Retryable() answer for themselves; a stalled job counts as
// transient. Anything unclassified defaults to retryable, so only an
// explicit PermanentError short-circuits the retry budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	if errors.Is(err, ErrJobStalled) {
		return true
	}
	return true
}

// RetryAfterOf extracts the explicit wait carried by a RateLimitError in
// err's chain. Returns zero when err carries no such hint.
func RetryAfterOf(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
