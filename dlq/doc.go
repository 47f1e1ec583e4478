// Package dlq implements the dead letter queue: jobs that exhaust their
// attempt budget are copied here with their final error so operators can
// inspect and replay them. A terminally failed job is never silently
// dropped.
package dlq
