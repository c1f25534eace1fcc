package backflow

import (
	"log/slog"

	"go.uber.org/zap"

	"github.com/arloliu/backflow/executor"
	"github.com/arloliu/backflow/idempotency"
	"github.com/arloliu/backflow/internal/logging"
)

// Option configures a Service with optional dependencies.
type Option func(*serviceOptions)

// serviceOptions holds optional Service configuration.
type serviceOptions struct {
	hooks       *Hooks
	metrics     MetricsCollector
	logger      Logger
	worker      executor.Worker
	partitioner idempotency.Partitioner
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewService
//
// Example:
//
//	hooks := &backflow.Hooks{
//	    OnAdjustment: func(ctx context.Context, from, to backflow.MappingState) error {
//	        log.Printf("batch size %d -> %d", from.BatchSize, to.BatchSize)
//	        return nil
//	    },
//	}
//	svc, err := backflow.NewService(&cfg, nc, backflow.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *serviceOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewService
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *serviceOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (see NewZapLogger and NewSlogLogger)
//
// Returns:
//   - Option: Functional option for NewService
//
// Example:
//
//	logger := backflow.NewZapLogger(zap.NewExample())
//	svc, err := backflow.NewService(&cfg, nc, backflow.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// NewZapLogger adapts a zap logger to Logger. Key-value pairs become zap fields.
func NewZapLogger(logger *zap.Logger) Logger {
	return logging.NewZapLogger(logger)
}

// NewSlogLogger adapts a slog logger to Logger. A nil logger selects slog.Default.
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		return logging.NewSlogDefault()
	}

	return logging.NewSlog(logger)
}

// WithWorker replaces the NATS worker client with an in-process worker.
//
// Parameters:
//   - w: Worker invoked once per pending task
//
// Returns:
//   - Option: Functional option for NewService
func WithWorker(w executor.Worker) Option {
	return func(o *serviceOptions) {
		o.worker = w
	}
}

// WithPartitioner overrides the dedup partition (calendar day in UTC by default).
//
// Parameters:
//   - p: Function mapping the invocation time to a partition key
//
// Returns:
//   - Option: Functional option for NewService
func WithPartitioner(p idempotency.Partitioner) Option {
	return func(o *serviceOptions) {
		o.partitioner = p
	}
}
