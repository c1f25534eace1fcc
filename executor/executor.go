// Package executor runs tasks against a Worker and measures them.
package executor

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/arloliu/backflow/internal/logging"
	"github.com/arloliu/backflow/internal/metrics"
	"github.com/arloliu/backflow/types"
)

// WorkerRequest is the payload sent to a worker for one task.
type WorkerRequest struct {
	ID string `json:"id"`
}

// Worker performs the business logic of one task.
//
// A nil error means success. Implementations must honor ctx cancellation.
type Worker interface {
	Invoke(ctx context.Context, req WorkerRequest) error
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, req WorkerRequest) error

// Invoke calls f.
func (f WorkerFunc) Invoke(ctx context.Context, req WorkerRequest) error { return f(ctx, req) }

// DefaultMaxConcurrency is used when Config.MaxConcurrency is unset.
const DefaultMaxConcurrency = 10

// Config configures an Executor.
type Config struct {
	// MaxConcurrency bounds in-flight worker calls per ExecuteBatch.
	MaxConcurrency int
	// Now returns the current time; defaults to time.Now.
	Now func() time.Time

	Logger  types.Logger
	Metrics types.MetricsCollector
}

// Executor invokes a Worker per task and turns every outcome into a TaskResult.
type Executor struct {
	worker  Worker
	cfg     Config
	logger  types.Logger
	metrics types.MetricsCollector
}

// New creates an Executor.
//
// Parameters:
//   - worker: Business logic invoked per task
//   - cfg: Concurrency bound, clock and collaborators
//
// Returns:
//   - *Executor: Executor ready for use
//   - error: Missing worker
func New(worker Worker, cfg Config) (*Executor, error) {
	if worker == nil {
		return nil, types.ErrWorkerRequired
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Executor{
		worker:  worker,
		cfg:     cfg,
		logger:  logging.OrNop(cfg.Logger),
		metrics: metrics.OrNop(cfg.Metrics),
	}, nil
}

// Execute runs one task synchronously.
//
// It never returns an error: a worker error or panic yields a failed result
// without latency, and a successful call yields the measured wall-clock latency.
func (e *Executor) Execute(ctx context.Context, task types.Task) (result types.TaskResult) {
	start := e.cfg.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("worker panicked", "id", task.ID, "panic", r)
			e.metrics.ObserveTaskLatency(e.cfg.Now().Sub(start).Seconds(), false)
			result = types.TaskResult{ID: task.ID, IsSuccess: false}
		}
	}()

	err := e.worker.Invoke(ctx, WorkerRequest{ID: task.ID})
	elapsed := e.cfg.Now().Sub(start)

	if err != nil {
		e.logger.Warn("task failed", "id", task.ID, "error", err)
		e.metrics.ObserveTaskLatency(elapsed.Seconds(), false)

		return types.TaskResult{ID: task.ID, IsSuccess: false}
	}

	e.metrics.ObserveTaskLatency(elapsed.Seconds(), true)

	return types.TaskResult{ID: task.ID, IsSuccess: true, Latency: elapsed, Measured: true}
}

// ExecuteBatch runs tasks with at most MaxConcurrency in flight and waits for all.
//
// A failing task never cancels its siblings. Results are returned in input order.
func (e *Executor) ExecuteBatch(ctx context.Context, tasks []types.Task) []types.TaskResult {
	results := make([]types.TaskResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	p := pool.New().WithMaxGoroutines(min(e.cfg.MaxConcurrency, len(tasks)))
	for i, task := range tasks {
		p.Go(func() {
			results[i] = e.Execute(ctx, task)
		})
	}
	p.Wait()

	return results
}
