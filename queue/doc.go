// Package queue implements the durable job queue surface: accepting jobs
// with priority, delay, and dedup semantics, querying status, cleaning
// terminal jobs, pausing and resuming, and exporting per-queue stats.
//
// Queues are named channels that group related jobs; a job's Queue field
// determines which queue it belongs to. The worker pool polls the queues
// listed in [pulse.Config.Queues].
//
// # Dedup policy
//
// Add with a DedupKey matching an existing non-terminal job does not create
// a second job: it returns the existing job together with
// pulse.ErrDuplicateJob. Callers that treat the merge as success can check
// errors.Is; the key frees up as soon as the existing job reaches a
// terminal state.
//
// # Dequeue budgets
//
// [Manager] enforces per-queue and per-upstream limits at claim time, using
// a token-bucket rate limiter (golang.org/x/time/rate) and an active-count
// gate for concurrency:
//
//	m := queue.NewManager(configs...)
//	if m.Acquire(queueName, source) {
//	    defer m.Release(queueName, source)
//	    // process the job
//	}
//
// Queues without a [Config] have no limits beyond the pool-wide
// concurrency. The token bucket throttles how fast jobs leave the queue;
// the sliding-window budget in package ratelimit separately protects live
// upstream calls.
package queue
