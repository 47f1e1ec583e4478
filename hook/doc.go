// Package hook defines the lifecycle extension system. Extensions are
// notified of lifecycle events (job enqueued, started, progressed,
// completed, failed, stalled, template fired or skipped) and can react to
// them — logging, metrics, alerting.
//
// Each lifecycle event is a separate interface so extensions opt in only to
// the events they care about. Events are advisory: hook errors are logged
// and never propagated, so a misbehaving extension cannot affect job
// processing correctness.
package hook
