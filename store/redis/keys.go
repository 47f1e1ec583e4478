package redis

// Redis key naming conventions for pulse data.
// All keys are prefixed with "pulse:" to avoid collisions.

const keyPrefix = "pulse:"

// ── Job keys ──

// jobKeyPrefix prefixes every job Hash key. The claim script builds job
// keys from it inside Redis.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the Hash key for a job entity: pulse:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// readyKey returns the Sorted Set of claimable jobs: pulse:ready:{queue}
func readyKey(queue string) string { return keyPrefix + "ready:" + queue }

// delayedKey returns the Sorted Set of not-yet-due jobs, scored by RunAt:
// pulse:delayed:{queue}
func delayedKey(queue string) string { return keyPrefix + "delayed:" + queue }

// dedupKey returns the Hash mapping dedup keys to job IDs for one queue:
// pulse:dedup:{queue}
func dedupKey(queue string) string { return keyPrefix + "dedup:" + queue }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// pausedQueuesKey is the Set of queue names with claiming paused.
const pausedQueuesKey = keyPrefix + "paused_queues"

// ── Template keys ──

// templateKey returns the key for a schedule template: pulse:template:{id}
func templateKey(id string) string { return keyPrefix + "template:" + id }

// templateIDsKey is the Set tracking all template IDs for enumeration.
const templateIDsKey = keyPrefix + "template_ids"

// templateNamesKey maps template names to IDs for duplicate detection.
const templateNamesKey = keyPrefix + "template_names"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry: pulse:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Rate window keys ──

// windowKey returns the Sorted Set of admitted-request timestamps for one
// rate limit identifier: pulse:window:{identifier}
func windowKey(identifier string) string { return keyPrefix + "window:" + identifier }
