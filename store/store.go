// Package store defines the aggregate persistence interface. Each subsystem
// (job, sched, dlq, ratelimit) defines its own store interface; the
// composite Store composes them all. Backends: Redis and Memory.
package store

import (
	"context"

	"github.com/syncwell/pulse/dlq"
	"github.com/syncwell/pulse/job"
	"github.com/syncwell/pulse/ratelimit"
	"github.com/syncwell/pulse/sched"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend (redis,
// memory) implements all of them.
type Store interface {
	job.Store
	sched.Store
	dlq.Store
	ratelimit.Store

	// Migrate prepares any backend schema or key structure.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
