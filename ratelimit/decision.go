package ratelimit

import "time"

// Decision is the computed outcome of a rate limit check. It is never
// persisted.
type Decision struct {
	// Allowed reports whether the request was admitted.
	Allowed bool

	// Limit is the window budget the check was evaluated against.
	Limit int

	// Remaining is how many further requests the current window admits.
	Remaining int

	// ResetAt is when the oldest counted entry leaves the window.
	ResetAt time.Time

	// RetryAfter is how long to wait before the next request will be
	// admitted. Zero when Allowed.
	RetryAfter time.Duration
}

// Usage is a read-only snapshot of window consumption for one identifier,
// exported to health and metrics surfaces.
type Usage struct {
	Identifier string  `json:"identifier"`
	Used       int     `json:"used"`
	Limit      int     `json:"limit"`
	Percent    float64 `json:"percent"`
}
