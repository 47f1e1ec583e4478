package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Limiter evaluates sliding-window rate budgets against a window Store.
// It is safe for concurrent use.
type Limiter struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the structured logger used for store failures.
func WithLogger(l *slog.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

// WithNow overrides the clock. Used by tests.
func WithNow(now func() time.Time) Option {
	return func(lim *Limiter) { lim.now = now }
}

// NewLimiter creates a Limiter over the given window store.
func NewLimiter(store Store, opts ...Option) *Limiter {
	lim := &Limiter{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(lim)
	}
	return lim
}

// CheckAndConsume admits or rejects one request for the identifier against
// a budget of limit requests per trailing window.
//
// When the window store fails, the limiter fails OPEN: the request is
// admitted and the failure logged. A throttle that cannot reach its
// bookkeeping must degrade to not throttling, never to blocking the caller.
func (lim *Limiter) CheckAndConsume(ctx context.Context, identifier string, limit int, window time.Duration) Decision {
	now := lim.now()

	w, admitted, err := lim.store.Consume(ctx, identifier, limit, window, now)
	if err != nil {
		lim.logger.Error("rate window store unavailable, failing open",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
		return Decision{Allowed: true, Limit: limit, Remaining: limit - 1, ResetAt: now.Add(window)}
	}

	if !admitted {
		return rejected(limit, window, w, now)
	}

	d := Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - w.Count - 1,
	}
	// The oldest entry pins when budget frees up next; with an empty
	// window the fresh entry does.
	if w.Oldest.IsZero() {
		d.ResetAt = now.Add(window)
	} else {
		d.ResetAt = w.Oldest.Add(window)
	}
	return d
}

// Peek evaluates the window without consuming budget, for status queries.
// It fails open like CheckAndConsume.
func (lim *Limiter) Peek(ctx context.Context, identifier string, limit int, window time.Duration) Decision {
	now := lim.now()

	w, err := lim.store.Peek(ctx, identifier, window, now)
	if err != nil {
		lim.logger.Error("rate window store unavailable, failing open",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
		return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(window)}
	}

	if w.Count >= limit {
		return rejected(limit, window, w, now)
	}

	d := Decision{Allowed: true, Limit: limit, Remaining: limit - w.Count}
	if w.Oldest.IsZero() {
		d.ResetAt = now.Add(window)
	} else {
		d.ResetAt = w.Oldest.Add(window)
	}
	return d
}

// Usage returns the consumption snapshot for one identifier.
func (lim *Limiter) Usage(ctx context.Context, identifier string, limit int, window time.Duration) Usage {
	d := lim.Peek(ctx, identifier, limit, window)
	used := limit - d.Remaining
	u := Usage{Identifier: identifier, Used: used, Limit: limit}
	if limit > 0 {
		u.Percent = float64(used) / float64(limit) * 100
	}
	return u
}

func rejected(limit int, window time.Duration, w Window, now time.Time) Decision {
	resetAt := w.Oldest.Add(window)
	retryAfter := resetAt.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}
}
