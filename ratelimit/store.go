package ratelimit

import (
	"context"
	"time"
)

// Window is the raw state of one identifier's window after pruning.
type Window struct {
	// Count is the number of entries surviving in the window, not
	// including an entry inserted by the current call.
	Count int

	// Oldest is the timestamp of the oldest surviving entry. Zero when the
	// window is empty.
	Oldest time.Time
}

// Store is the persistence contract for rate window state. Implementations
// must make Consume atomic per identifier: two concurrent calls at the
// limit boundary must not both be admitted.
type Store interface {
	// Consume prunes entries older than now-window for the identifier,
	// then inserts an entry for now if fewer than limit survive. It
	// returns the pruned window state as it was before insertion, and
	// whether the insert happened.
	Consume(ctx context.Context, identifier string, limit int, window time.Duration, now time.Time) (Window, bool, error)

	// Peek prunes and returns the window state without inserting.
	Peek(ctx context.Context, identifier string, window time.Duration, now time.Time) (Window, error)
}
