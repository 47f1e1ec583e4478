// Package sched implements the recurring scheduler: cron-driven templates
// that enqueue durable jobs on a fixed cadence.
//
// Templates carry a cron expression (standard five-field syntax plus
// descriptors like @hourly) and optionally a daily maintenance window.
// A firing that lands inside the window is skipped, not deferred: the
// scheduler logs it, counts it, and advances to the next occurrence.
// Manual triggering bypasses both the cron match and the window, but goes
// through the same enqueue path as automatic firings, so a triggered job
// retries and backs off exactly like a scheduled one.
package sched
