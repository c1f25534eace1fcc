// Package idempotency tracks per-task outcomes so redelivered work is not executed twice.
//
// Outcomes are scoped to a dedup partition (by default the UTC calendar day).
// Within a partition a task is skipped once it succeeded or once it used up
// types.MaxAttempts attempts; a new partition starts from a clean slate.
//
// Store holds the filtering and recording rules. A Backend supplies batch reads
// and all-or-nothing multi-record writes: KVBackend on a NATS JetStream KV bucket,
// MemoryBackend in process.
//
// Filtering and recording are two separate steps. Two overlapping invocations
// carrying the same task can both see it as pending and both execute it; the
// attempt counter still rises by one per invocation, so re-execution is bounded.
package idempotency
