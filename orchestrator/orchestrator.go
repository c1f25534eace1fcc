// Package orchestrator is the entry point for stream deliveries and scheduled ticks.
//
// A stream delivery is decoded into tasks, filtered through the idempotency
// store, fanned out to the executor, recorded, and finally used to steer the
// binding's batch size. A delivery that contains any failed task is reported
// back as a partial failure so the whole delivery is redelivered; tasks that
// already succeeded are filtered out on the next pass.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/backflow/idempotency"
	"github.com/arloliu/backflow/internal/hooks"
	"github.com/arloliu/backflow/internal/logging"
	"github.com/arloliu/backflow/internal/metrics"
	"github.com/arloliu/backflow/types"
)

// Controller is the subset of mapping.Controller the orchestrator drives.
type Controller interface {
	State(ctx context.Context) (types.MappingState, error)
	MaxBatchSize() int
	Decrement(ctx context.Context) (types.Adjustment, error)
	Increment(ctx context.Context) (types.Adjustment, error)
	Enable(ctx context.Context) (types.Adjustment, error)
}

// OutcomeStore is the subset of idempotency.Store the orchestrator uses.
type OutcomeStore interface {
	FilterPending(ctx context.Context, tasks []types.Task, partitionKey string) ([]types.Task, error)
	RecordOutcomes(ctx context.Context, results []types.TaskResult, partitionKey string) error
}

// Executor runs a batch of tasks and returns one result per task in input order.
type Executor interface {
	ExecuteBatch(ctx context.Context, tasks []types.Task) []types.TaskResult
}

// Config configures an Orchestrator.
type Config struct {
	// LatencyThreshold marks successful tasks slower than this as slow.
	LatencyThreshold time.Duration
	// Partitioner maps the invocation time to a dedup partition; defaults to idempotency.DailyPartition.
	Partitioner idempotency.Partitioner
	// Now returns the current time; defaults to time.Now.
	Now func() time.Time

	Logger  types.Logger
	Metrics types.MetricsCollector
	Hooks   *types.Hooks
}

// Orchestrator handles stream and scheduled events for one binding.
type Orchestrator struct {
	ctrl     Controller
	store    OutcomeStore
	executor Executor
	cfg      Config

	logger  types.Logger
	metrics types.MetricsCollector
	hooks   types.Hooks
}

// New creates an Orchestrator.
//
// Parameters:
//   - ctrl: Mapping controller of the binding
//   - store: Idempotency store
//   - executor: Task executor
//   - cfg: Threshold, partitioner and collaborators
//
// Returns:
//   - *Orchestrator: Orchestrator ready to handle events
//   - error: Missing collaborator or invalid threshold
func New(ctrl Controller, store OutcomeStore, executor Executor, cfg Config) (*Orchestrator, error) {
	if ctrl == nil || store == nil || executor == nil {
		return nil, errors.New("controller, store and executor are required")
	}
	if cfg.LatencyThreshold <= 0 {
		return nil, fmt.Errorf("%w: latency threshold must be positive", types.ErrInvalidConfig)
	}
	if cfg.Partitioner == nil {
		cfg.Partitioner = idempotency.DailyPartition
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Orchestrator{
		ctrl:     ctrl,
		store:    store,
		executor: executor,
		cfg:      cfg,
		logger:   logging.OrNop(cfg.Logger),
		metrics:  metrics.OrNop(cfg.Metrics),
		hooks:    hooks.Fill(cfg.Hooks),
	}, nil
}

// Handle dispatches one event.
//
// Returns:
//   - error: types.ErrBatchPartialFailure for stream deliveries with failed tasks,
//     types.ErrBindingNotFound when the binding is missing, or any store/controller error
func (o *Orchestrator) Handle(ctx context.Context, event types.Event) error {
	var err error
	switch event.Kind {
	case types.EventKindStream:
		_, err = o.ProcessBatch(ctx, event.Records)
	case types.EventKindScheduled:
		err = o.OnSchedule(ctx)
	default:
		err = fmt.Errorf("%w: %d", types.ErrUnknownEvent, event.Kind)
	}

	if err != nil {
		if hookErr := o.hooks.OnError(ctx, err); hookErr != nil {
			o.logger.Warn("error hook failed", "error", hookErr)
		}
	}

	return err
}

// ProcessBatch processes one stream delivery.
//
// Parameters:
//   - ctx: Invocation context
//   - records: Raw records of the delivery
//
// Returns:
//   - types.BatchReport: Counts and the adjustment taken
//   - error: Partial failure or infrastructure error
func (o *Orchestrator) ProcessBatch(ctx context.Context, records []types.Record) (types.BatchReport, error) {
	report := types.BatchReport{Received: len(records), Action: types.AdjustmentNone}

	// Missing binding aborts before any work is done.
	if _, err := o.ctrl.State(ctx); err != nil {
		return report, err
	}

	tasks, malformed := o.decode(records)
	report.Malformed = malformed

	partitionKey := o.cfg.Partitioner(o.cfg.Now())

	pending, err := o.store.FilterPending(ctx, tasks, partitionKey)
	if err != nil {
		return report, err
	}
	report.Pending = len(pending)

	if len(pending) == 0 {
		o.logger.Debug("no pending tasks in delivery", "received", report.Received, "partition", partitionKey)
		o.finish(ctx, report)

		return report, nil
	}

	results := o.executor.ExecuteBatch(ctx, pending)
	for _, res := range results {
		if res.IsSuccess {
			report.Succeeded++
		} else {
			report.Failed++
		}
		if res.IsSlow(o.cfg.LatencyThreshold) {
			report.Slow++
		}
	}

	if err := o.store.RecordOutcomes(ctx, results, partitionKey); err != nil {
		return report, err
	}

	action, err := o.adjust(ctx, report)
	report.Action = action
	if err != nil {
		return report, err
	}

	o.finish(ctx, report)

	if report.Failed > 0 {
		o.metrics.IncrementRedeliverySignal()
		return report, fmt.Errorf("%w: %d of %d tasks failed", types.ErrBatchPartialFailure, report.Failed, report.Pending)
	}

	return report, nil
}

// OnSchedule re-enables the binding unless it is already at the maximum batch size.
//
// The decision uses the cached state, so a tick after a cold start reads the
// binding once and a binding at the maximum is never written.
func (o *Orchestrator) OnSchedule(ctx context.Context) error {
	state, err := o.ctrl.State(ctx)
	if err != nil {
		return err
	}

	if state.BatchSize >= o.ctrl.MaxBatchSize() {
		o.logger.Debug("batch size at maximum, nothing to enable", "batchSize", state.BatchSize)
		return nil
	}

	_, err = o.ctrl.Enable(ctx)

	return err
}

func (o *Orchestrator) adjust(ctx context.Context, report types.BatchReport) (types.Adjustment, error) {
	if report.Unhealthy() {
		o.logger.Warn("performance is deteriorating",
			"slow", report.Slow, "failed", report.Failed, "pending", report.Pending)

		return o.ctrl.Decrement(ctx)
	}

	if !report.Healthy() {
		return types.AdjustmentNone, nil
	}

	state, err := o.ctrl.State(ctx)
	if err != nil {
		return types.AdjustmentNone, err
	}
	if state.BatchSize >= o.ctrl.MaxBatchSize() {
		return types.AdjustmentNone, nil
	}

	return o.ctrl.Increment(ctx)
}

func (o *Orchestrator) finish(ctx context.Context, report types.BatchReport) {
	o.metrics.RecordBatch(report)
	o.logger.Info("batch processed",
		"received", report.Received,
		"malformed", report.Malformed,
		"pending", report.Pending,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"slow", report.Slow,
		"action", report.Action,
	)

	if err := o.hooks.OnBatchProcessed(ctx, report); err != nil {
		o.logger.Warn("batch hook failed", "error", err)
	}
}

// decode turns records into tasks, dropping malformed records and repeated IDs.
func (o *Orchestrator) decode(records []types.Record) ([]types.Task, int) {
	tasks := make([]types.Task, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	malformed := 0

	for i, rec := range records {
		var task types.Task
		if err := json.Unmarshal(rec.Data, &task); err != nil {
			malformed++
			o.logger.Error("skipping malformed record", "index", i, "error", err)

			continue
		}
		if task.ID == "" {
			malformed++
			o.logger.Error("skipping record without id", "index", i, "error", types.ErrMalformedRecord)

			continue
		}
		if _, dup := seen[task.ID]; dup {
			continue
		}
		seen[task.ID] = struct{}{}
		task.Payload = rec.Data
		tasks = append(tasks, task)
	}

	return tasks, malformed
}
