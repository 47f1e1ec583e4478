// Package request implements an in-process, concurrency-bounded dispatcher
// for live upstream calls. Unlike the durable queue, nothing here survives a
// restart: requests live and die inside one process.
//
// Requests are ordered by descending priority, with FIFO order among equal
// priorities. Before dispatching, the queue consults the sliding-window
// limiter for the request's upstream identifier; a throttled head-of-line
// request suspends the whole drain for the advertised retry-after rather
// than being skipped, so priority order is never violated to dodge a
// throttle.
//
// The drain runs on a single goroutine per Queue, woken by enqueues and
// completions. Completed tasks deliver their result (or error) back on a
// per-request channel.
package request
