// Package worker implements the pool that drains durable queues: claiming
// eligible jobs, executing their registered handlers through the middleware
// chain, and routing failures through the retry policy or into the dead
// letter queue.
//
// Liveness is proved two ways: handlers may report fractional progress,
// and the pool heartbeats every active job on a fixed interval. A reaper
// loop periodically picks up active jobs whose heartbeat went silent and
// treats them as stalled, so a hung handler or a crashed worker never pins
// a job in active forever.
package worker
