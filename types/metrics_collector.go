package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	BatchMetrics
	ControllerMetrics
	StoreMetrics
	ConsumerMetrics
}

// BatchMetrics defines metrics for orchestrator and executor operations.
type BatchMetrics interface {
	// RecordBatch records the outcome counts of one processed delivery.
	//
	// Parameters:
	//   - report: Summary of the delivery
	RecordBatch(report BatchReport)

	// ObserveTaskLatency records the latency of one task execution.
	//
	// Parameters:
	//   - seconds: Wall-clock latency in seconds
	//   - success: true if the worker call succeeded
	ObserveTaskLatency(seconds float64, success bool)

	// IncrementRedeliverySignal counts batches that ended with a partial failure.
	IncrementRedeliverySignal()
}

// ControllerMetrics defines metrics for mapping controller operations.
type ControllerMetrics interface {
	// RecordAdjustment counts a controller action ("increment", "decrement", "disable", "enable").
	RecordAdjustment(action Adjustment)

	// SetMappingState sets the current batch size and enabled gauges.
	SetMappingState(state MappingState)
}

// StoreMetrics defines metrics for the idempotency store.
type StoreMetrics interface {
	// IncrementTasksSkipped counts tasks dropped by the dedup filter.
	//
	// Parameters:
	//   - reason: "resolved" (already succeeded) or "poisoned" (attempt budget exhausted)
	//   - count: Number of tasks skipped
	IncrementTasksSkipped(reason string, count int)

	// RecordKVOperationDuration records NATS KV operation latency.
	//
	// Parameters:
	//   - operation: Operation type ("get", "create", "update", "rollback")
	//   - duration: Time taken in seconds
	RecordKVOperationDuration(operation string, duration float64)

	// IncrementTransactionRetry counts optimistic transaction retries after a revision conflict.
	IncrementTransactionRetry()
}

// ConsumerMetrics defines metrics for the stream consumer pull loop.
type ConsumerMetrics interface {
	// RecordStateTransition records a consumer state transition event.
	RecordStateTransition(from, to State, duration float64)

	// RecordFetch records one pull request and the number of messages it returned.
	RecordFetch(requested, received int)

	// IncrementFetchRetry counts transient pull failures followed by a backoff.
	//
	// Parameters:
	//   - reason: "connectivity" or "transient"
	IncrementFetchRetry(reason string)

	// RecordRetryBackoff observes a backoff delay in seconds.
	RecordRetryBackoff(seconds float64)

	// IncrementAcks counts message dispositions ("ack", "nak", "term").
	IncrementAcks(disposition string, count int)
}
