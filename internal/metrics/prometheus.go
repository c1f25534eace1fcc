package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/backflow/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use, so constructing a
// PrometheusCollector never panics and unused instances register nothing.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	// batch
	batchRecords     *prometheus.CounterVec
	batchesTotal     prometheus.Counter
	taskLatency      *prometheus.HistogramVec
	redeliverySignal prometheus.Counter

	// controller
	adjustments    *prometheus.CounterVec
	batchSizeGauge prometheus.Gauge
	mappingEnabled prometheus.Gauge

	// store
	tasksSkipped *prometheus.CounterVec
	kvOpDuration *prometheus.HistogramVec
	txnRetries   prometheus.Counter

	// consumer
	stateTransitions *prometheus.CounterVec
	stateDuration    *prometheus.HistogramVec
	fetchRequested   prometheus.Counter
	fetchReceived    prometheus.Counter
	fetchRetries     *prometheus.CounterVec
	backoffHistogram prometheus.Histogram
	acks             *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "backflow" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "backflow"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.batchRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "batch",
			Name:      "records_total",
			Help:      "Records seen by the orchestrator by outcome (received,malformed,pending,succeeded,failed,slow).",
		}, []string{"outcome"})
		p.batchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "batch",
			Name:      "processed_total",
			Help:      "Total stream deliveries processed.",
		})
		p.taskLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "batch",
			Name:      "task_latency_seconds",
			Help:      "Worker call latency in seconds by result.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		}, []string{"result"})
		p.redeliverySignal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "batch",
			Name:      "partial_failures_total",
			Help:      "Deliveries that ended with a partial failure and were handed back for redelivery.",
		})

		p.adjustments = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "controller",
			Name:      "adjustments_total",
			Help:      "Mapping controller actions (increment,decrement,disable,enable).",
		}, []string{"action"})
		p.batchSizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "controller",
			Name:      "batch_size",
			Help:      "Current batch size of the binding.",
		})
		p.mappingEnabled = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "controller",
			Name:      "enabled",
			Help:      "Whether the binding is enabled (1) or paused (0).",
		})

		p.tasksSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "tasks_skipped_total",
			Help:      "Tasks dropped by the idempotency filter by reason (resolved,poisoned).",
		}, []string{"reason"})
		p.kvOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "kv_operation_duration_seconds",
			Help:      "Duration of KV operations in seconds by operation.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"})
		p.txnRetries = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "transaction_retries_total",
			Help:      "Outcome transactions retried after a revision conflict.",
		})

		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "state_transitions_total",
			Help:      "Consumer state transitions by source and target state.",
		}, []string{"from", "to"})
		p.stateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "state_duration_seconds",
			Help:      "Time spent in a consumer state before leaving it.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"state"})
		p.fetchRequested = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "fetch_requested_total",
			Help:      "Total messages requested by pull fetches.",
		})
		p.fetchReceived = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "fetch_received_total",
			Help:      "Total messages received by pull fetches.",
		})
		p.fetchRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "fetch_retries_total",
			Help:      "Pull failures followed by a backoff by reason (connectivity,transient).",
		}, []string{"reason"})
		p.backoffHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "retry_backoff_seconds",
			Help:      "Observed pull retry backoff durations in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.15, 0.25, 0.5, 1, 2, 5},
		})
		p.acks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "consumer",
			Name:      "acks_total",
			Help:      "Message dispositions (ack,nak,term).",
		}, []string{"disposition"})

		p.reg.MustRegister(
			p.batchRecords, p.batchesTotal, p.taskLatency, p.redeliverySignal,
			p.adjustments, p.batchSizeGauge, p.mappingEnabled,
			p.tasksSkipped, p.kvOpDuration, p.txnRetries,
			p.stateTransitions, p.stateDuration, p.fetchRequested, p.fetchReceived,
			p.fetchRetries, p.backoffHistogram, p.acks,
		)
	})
}

// RecordBatch adds the report counts to the per-outcome record counters.
func (p *PrometheusCollector) RecordBatch(report types.BatchReport) {
	p.ensureRegistered()
	p.batchesTotal.Inc()
	p.batchRecords.WithLabelValues("received").Add(float64(report.Received))
	p.batchRecords.WithLabelValues("malformed").Add(float64(report.Malformed))
	p.batchRecords.WithLabelValues("pending").Add(float64(report.Pending))
	p.batchRecords.WithLabelValues("succeeded").Add(float64(report.Succeeded))
	p.batchRecords.WithLabelValues("failed").Add(float64(report.Failed))
	p.batchRecords.WithLabelValues("slow").Add(float64(report.Slow))
}

// ObserveTaskLatency observes a worker call latency.
func (p *PrometheusCollector) ObserveTaskLatency(seconds float64, success bool) {
	p.ensureRegistered()
	result := "success"
	if !success {
		result = "failure"
	}
	p.taskLatency.WithLabelValues(result).Observe(seconds)
}

// IncrementRedeliverySignal increments the partial failure counter.
func (p *PrometheusCollector) IncrementRedeliverySignal() {
	p.ensureRegistered()
	p.redeliverySignal.Inc()
}

// RecordAdjustment increments the controller action counter.
func (p *PrometheusCollector) RecordAdjustment(action types.Adjustment) {
	p.ensureRegistered()
	p.adjustments.WithLabelValues(string(action)).Inc()
}

// SetMappingState sets the batch size and enabled gauges.
func (p *PrometheusCollector) SetMappingState(state types.MappingState) {
	p.ensureRegistered()
	p.batchSizeGauge.Set(float64(state.BatchSize))
	if state.Enabled {
		p.mappingEnabled.Set(1)
	} else {
		p.mappingEnabled.Set(0)
	}
}

// IncrementTasksSkipped adds count to the skipped counter for reason.
func (p *PrometheusCollector) IncrementTasksSkipped(reason string, count int) {
	p.ensureRegistered()
	p.tasksSkipped.WithLabelValues(reason).Add(float64(count))
}

// RecordKVOperationDuration observes a KV operation duration.
func (p *PrometheusCollector) RecordKVOperationDuration(operation string, duration float64) {
	p.ensureRegistered()
	p.kvOpDuration.WithLabelValues(operation).Observe(duration)
}

// IncrementTransactionRetry increments the transaction retry counter.
func (p *PrometheusCollector) IncrementTransactionRetry() {
	p.ensureRegistered()
	p.txnRetries.Inc()
}

// RecordStateTransition counts the transition and observes time spent in the previous state.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State, duration float64) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	p.stateDuration.WithLabelValues(from.String()).Observe(duration)
}

// RecordFetch adds to the requested and received message counters.
func (p *PrometheusCollector) RecordFetch(requested, received int) {
	p.ensureRegistered()
	p.fetchRequested.Add(float64(requested))
	p.fetchReceived.Add(float64(received))
}

// IncrementFetchRetry increments the fetch retry counter for reason.
func (p *PrometheusCollector) IncrementFetchRetry(reason string) {
	p.ensureRegistered()
	p.fetchRetries.WithLabelValues(reason).Inc()
}

// RecordRetryBackoff observes a backoff delay in seconds.
func (p *PrometheusCollector) RecordRetryBackoff(seconds float64) {
	p.ensureRegistered()
	p.backoffHistogram.Observe(seconds)
}

// IncrementAcks adds count to the disposition counter.
func (p *PrometheusCollector) IncrementAcks(disposition string, count int) {
	p.ensureRegistered()
	p.acks.WithLabelValues(disposition).Add(float64(count))
}
