// Package job defines the durable unit of work: the Job entity, its state
// machine, per-job options, the persistence contract, and the typed handler
// registry.
//
// # States
//
//	waiting ──claim──▶ active ──ok──▶ completed
//	   ▲                 │
//	   │               error
//	delayed ◀──retry─────┤
//	   │                 └─budget exhausted──▶ failed
//	   └──delay elapses──▶ (claimable again)
//
// Jobs with a future RunAt sit in delayed until eligible. Terminal jobs
// (completed, failed) are retained up to a configurable count per state and
// then purged oldest-first.
//
// # Payloads
//
// Payloads are JSON. Each job name is registered with a typed definition;
// the registry validates a payload against the registered type before a job
// is accepted, so a queue never stores a payload its handler cannot decode.
package job
