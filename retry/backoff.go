// Package retry provides the pure retry decision function and the backoff
// strategies behind it. All strategies are stateless and safe for
// concurrent use.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before a retry attempt.
type Backoff interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt, capped at a multiple of the
// base: Delay = min(Base * 2^(attempt-1), Base * CapFactor).
type Exponential struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// CapFactor is the ceiling multiplier. Zero means DefaultCapFactor.
	CapFactor int
}

// DefaultCapFactor caps exponential growth at Base * 8 (three doublings).
const DefaultCapFactor = 8

// NewExponential creates an exponential backoff with the default ceiling.
func NewExponential(base time.Duration) *Exponential {
	return &Exponential{Base: base}
}

// Delay returns Base * 2^(attempt-1), capped at Base * CapFactor.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := e.CapFactor
	if factor <= 0 {
		factor = DefaultCapFactor
	}
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt-1)))
	if cap := e.Base * time.Duration(factor); d > cap {
		return cap
	}
	return d
}

// Jitter wraps another strategy with full jitter: the delay becomes a
// random value in [0, inner delay]. This prevents thundering herd when many
// retries land simultaneously.
type Jitter struct {
	Inner Backoff
}

// WithJitter wraps inner with full jitter.
func WithJitter(inner Backoff) *Jitter {
	return &Jitter{Inner: inner}
}

// Delay returns a random duration in [0, Inner.Delay(attempt)].
func (j *Jitter) Delay(attempt int) time.Duration {
	base := j.Inner.Delay(attempt)
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// DefaultBackoff returns the backoff used when none is configured:
// exponential with 1s base and the default 8x ceiling.
func DefaultBackoff() Backoff {
	return NewExponential(1 * time.Second)
}
