// Package pulse is the background-work control plane for a data
// synchronization product. It accepts units of work (upstream polling, bulk
// imports, cleanup, reporting), enforces per-upstream rate budgets, orders
// work by priority, runs it on a bounded worker pool with durable retry
// semantics, and fires recurring work on cron schedules with maintenance
// windows and manual overrides.
//
// Pulse is a library, not a service. Import it, configure a store, and
// register job handlers as ordinary Go functions.
//
// # Quick Start
//
//	s := memory.New()
//	d, err := pulse.New(
//	    pulse.WithStore(s),
//	    pulse.WithConcurrency(8),
//	    pulse.WithQueues([]string{"default", "imports"}),
//	)
//
// # Architecture
//
// Pulse follows a composable store pattern: each subsystem (job, sched, dlq,
// ratelimit) defines its own store interface and a single backend implements
// all of them. Subsystems, leaf first:
//
//   - ratelimit: sliding-window limiter over per-identifier timestamp sets.
//     Fails open when the window store is unreachable.
//   - retry: pure retry/backoff decisions from classified errors.
//   - request: in-process priority queue for live, rate-checked upstream
//     calls. Priority-then-FIFO ordering, bounded concurrency.
//   - job + queue: the durable job queue. Priority, delay, dedup keys,
//     retry metadata, pause/resume, terminal retention.
//   - worker: bounded claim loops, heartbeat-based stall detection, and the
//     executor that resolves success/failure back into the queue.
//   - sched: cron-driven recurring templates with maintenance windows,
//     enable/disable and manual trigger.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package pulse
