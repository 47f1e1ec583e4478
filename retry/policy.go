package retry

import (
	"time"

	"github.com/syncwell/pulse"
)

// Decision is the outcome of a retry evaluation.
type Decision struct {
	// Retry reports whether the job should be attempted again.
	Retry bool

	// Delay is how long to wait before the next attempt. Zero when Retry
	// is false.
	Delay time.Duration
}

// Policy decides whether a failed attempt is retried and with what delay.
// Decide is a pure function of its inputs; a Policy carries no mutable
// state and is safe for concurrent use.
type Policy struct {
	backoff Backoff
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithBackoff sets the backoff strategy used for retry delays.
func WithBackoff(b Backoff) PolicyOption {
	return func(p *Policy) { p.backoff = b }
}

// NewPolicy creates a Policy. Without options it uses DefaultBackoff.
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{backoff: DefaultBackoff()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decide evaluates a failed attempt. attempt is the number of attempts made
// so far (1-indexed: the first failure is attempt 1).
//
// No retry is granted once attempt >= maxAttempts, or when the error is
// classified non-retryable, regardless of remaining budget. An explicit
// RetryAfter carried by a rate limit error overrides the computed backoff:
// waiting less would only be rejected again, waiting more wastes budget.
func (p *Policy) Decide(err error, attempt, maxAttempts int) Decision {
	if err == nil {
		return Decision{}
	}
	if attempt >= maxAttempts {
		return Decision{}
	}
	if !pulse.IsRetryable(err) {
		return Decision{}
	}
	if after := pulse.RetryAfterOf(err); after > 0 {
		return Decision{Retry: true, Delay: after}
	}
	return Decision{Retry: true, Delay: p.backoff.Delay(attempt)}
}
