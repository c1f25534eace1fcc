// Package metrics provides types.MetricsCollector implementations and the
// HTTP endpoint that exposes them.
package metrics

import "github.com/arloliu/backflow/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
//
// Example:
//
//	svc, err := backflow.NewService(&cfg, conn, worker, backflow.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// BatchMetrics implementation

// RecordBatch discards the batch report.
func (n *NopMetrics) RecordBatch(_ /* report */ types.BatchReport) {}

// ObserveTaskLatency discards the task latency.
func (n *NopMetrics) ObserveTaskLatency(_ /* seconds */ float64, _ /* success */ bool) {}

// IncrementRedeliverySignal discards the redelivery signal.
func (n *NopMetrics) IncrementRedeliverySignal() {}

// ControllerMetrics implementation

// RecordAdjustment discards the adjustment.
func (n *NopMetrics) RecordAdjustment(_ /* action */ types.Adjustment) {}

// SetMappingState discards the mapping state.
func (n *NopMetrics) SetMappingState(_ /* state */ types.MappingState) {}

// StoreMetrics implementation

// IncrementTasksSkipped discards the skip count.
func (n *NopMetrics) IncrementTasksSkipped(_ /* reason */ string, _ /* count */ int) {}

// RecordKVOperationDuration discards the KV operation duration.
func (n *NopMetrics) RecordKVOperationDuration(_ /* operation */ string, _ /* duration */ float64) {}

// IncrementTransactionRetry discards the retry.
func (n *NopMetrics) IncrementTransactionRetry() {}

// ConsumerMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.State, _ /* duration */ float64) {
}

// RecordFetch discards the fetch metric.
func (n *NopMetrics) RecordFetch(_ /* requested */, _ /* received */ int) {}

// IncrementFetchRetry discards the retry.
func (n *NopMetrics) IncrementFetchRetry(_ /* reason */ string) {}

// RecordRetryBackoff discards the backoff.
func (n *NopMetrics) RecordRetryBackoff(_ /* seconds */ float64) {}

// IncrementAcks discards the ack count.
func (n *NopMetrics) IncrementAcks(_ /* disposition */ string, _ /* count */ int) {}

// OrNop returns mc, or a NopMetrics when mc is nil.
func OrNop(mc types.MetricsCollector) types.MetricsCollector {
	if mc == nil {
		return NewNop()
	}

	return mc
}
