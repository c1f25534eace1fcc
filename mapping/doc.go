// Package mapping owns the binding between the work stream and the consumer.
//
// A binding carries two knobs: the batch size handed to each invocation and an
// enabled flag that pauses delivery entirely. The Controller reads and adjusts
// them through a Store; KVStore persists bindings in a NATS JetStream KV bucket
// and MemoryStore keeps them in process.
//
// The Controller caches the last state it read or wrote. Decisions made in the
// middle of an invocation use that cache, while every mutation first refetches
// the authoritative state so concurrent controllers drift by at most one step.
package mapping
