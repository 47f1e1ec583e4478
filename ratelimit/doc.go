// Package ratelimit implements a sliding-window rate limiter over
// per-identifier sets of admitted-request timestamps.
//
// On every check the window store drops entries older than the trailing
// window, then either records the new request or rejects it with the exact
// wait until the oldest surviving entry rolls out. Pruning is lazy: it
// happens on each check, never in the background.
//
// # Fail open
//
// Rate limiting protects an upstream from overload, not correctness. When
// the window store is unreachable the limiter logs the failure and admits
// the request. This is a deliberate policy, asserted by tests: local
// infrastructure failure must never block core functionality.
//
// # Atomicity
//
// Check-and-consume must be atomic per identifier so concurrent checks
// cannot double-admit past the limit. The memory store serializes under a
// mutex; the Redis store runs the prune/count/insert sequence in a single
// Lua script.
package ratelimit
