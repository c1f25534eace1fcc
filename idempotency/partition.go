package idempotency

import "time"

// Partitioner maps an invocation time to a dedup partition key.
type Partitioner func(now time.Time) string

// DailyPartition returns the UTC calendar day of now as "YYYY-MM-DD".
//
// Outcomes recorded on one day do not suppress execution on the next.
func DailyPartition(now time.Time) string {
	return now.UTC().Format(time.DateOnly)
}
