package types

import (
	"encoding/json"
	"time"
)

// MaxAttempts is the cumulative attempt budget of a task within one dedup partition.
//
// Once an outcome record reaches MaxAttempts the task is poisoned: it is excluded
// from further processing for that partition regardless of its success flag.
const MaxAttempts = 3

// Task is a unit of work decoded from one stream record.
//
// Identity is ID; Payload keeps the original record body for workers that need it.
type Task struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"-"`
}

// TaskResult is the outcome of executing one task.
//
// Latency is meaningful only when Measured is true, which the executor sets on the
// success path. Failed invocations carry no latency.
type TaskResult struct {
	ID        string        `json:"id"`
	IsSuccess bool          `json:"isSuccess"`
	Latency   time.Duration `json:"latency,omitempty"`
	Measured  bool          `json:"measured,omitempty"`
}

// LatencyMs returns the measured latency in milliseconds and whether it was measured.
func (r TaskResult) LatencyMs() (int64, bool) {
	if !r.Measured {
		return 0, false
	}

	return r.Latency.Milliseconds(), true
}

// IsSlow reports whether the measured latency, in whole milliseconds, exceeds
// threshold in whole milliseconds.
//
// Results without a measured latency are never slow.
func (r TaskResult) IsSlow(threshold time.Duration) bool {
	return r.Measured && r.Latency.Milliseconds() > threshold.Milliseconds()
}

// OutcomeKey identifies one outcome record.
type OutcomeKey struct {
	ID           string
	PartitionKey string
}

// OutcomeRecord is the persisted idempotency state of a task within a dedup partition.
//
// Attempts only grows and IsSuccess never reverts to false once set.
type OutcomeRecord struct {
	ID           string `json:"id"`
	PartitionKey string `json:"partitionKey"`
	IsSuccess    bool   `json:"isSuccess"`
	Attempts     int    `json:"attempts"`
}

// Key returns the record's identity.
func (r OutcomeRecord) Key() OutcomeKey {
	return OutcomeKey{ID: r.ID, PartitionKey: r.PartitionKey}
}

// Resolved reports whether the task must not be executed again in this partition.
func (r OutcomeRecord) Resolved() bool {
	return r.IsSuccess || r.Attempts >= MaxAttempts
}

// Poisoned reports whether the task exhausted its attempt budget without succeeding.
func (r OutcomeRecord) Poisoned() bool {
	return !r.IsSuccess && r.Attempts >= MaxAttempts
}

// Apply returns the record after applying one update with sticky-true semantics.
func (r OutcomeRecord) Apply(u OutcomeUpdate) OutcomeRecord {
	r.ID = u.ID
	r.PartitionKey = u.PartitionKey
	r.IsSuccess = r.IsSuccess || u.IsSuccess
	r.Attempts += u.AttemptsDelta

	return r
}

// OutcomeUpdate is one entry of a transactional outcome update.
type OutcomeUpdate struct {
	ID            string
	PartitionKey  string
	IsSuccess     bool
	AttemptsDelta int
}

// Key returns the identity of the record this update targets.
func (u OutcomeUpdate) Key() OutcomeKey {
	return OutcomeKey{ID: u.ID, PartitionKey: u.PartitionKey}
}
