package backflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/backflow/consumer"
	"github.com/arloliu/backflow/executor"
	"github.com/arloliu/backflow/idempotency"
	"github.com/arloliu/backflow/internal/hooks"
	"github.com/arloliu/backflow/internal/kvutil"
	"github.com/arloliu/backflow/internal/logging"
	"github.com/arloliu/backflow/internal/metrics"
	"github.com/arloliu/backflow/mapping"
	"github.com/arloliu/backflow/orchestrator"
	"github.com/arloliu/backflow/worker"
)

// bucketRetries bounds create-or-open attempts per KV bucket.
const bucketRetries = 3

// Resources are the JetStream objects a Service runs on.
type Resources struct {
	Stream   jetstream.Stream
	Outcomes jetstream.KeyValue
	Mappings jetstream.KeyValue
}

// Provision creates or opens the task stream and both KV buckets.
//
// It is idempotent and safe to call from several processes at once.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - cfg: Configuration naming the stream and buckets
//
// Returns:
//   - *Resources: Stream and bucket handles
//   - error: Provisioning error
func Provision(ctx context.Context, js jetstream.JetStream, cfg *Config) (*Resources, error) {
	stream, err := kvutil.EnsureStream(ctx, js, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.StreamSubject},
	})
	if err != nil {
		return nil, err
	}

	outcomes, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.OutcomeBucket,
		Description: "backflow task outcomes",
		History:     1,
		TTL:         cfg.OutcomeTTL,
	}, bucketRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure outcome bucket: %w", err)
	}

	mappings, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.MappingBucket,
		Description: "backflow consumer bindings",
		History:     5,
	}, bucketRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure mapping bucket: %w", err)
	}

	return &Resources{Stream: stream, Outcomes: outcomes, Mappings: mappings}, nil
}

// InitBinding creates cfg.BindingID enabled at MaxBatchSize.
//
// Returns:
//   - error: ErrBindingExists when the binding is already provisioned
func InitBinding(ctx context.Context, store *mapping.KVStore, cfg *Config) error {
	return store.Create(ctx, MappingState{
		BindingID: cfg.BindingID,
		BatchSize: cfg.MaxBatchSize,
		Enabled:   true,
	})
}

// Service wires the consumer, orchestrator, controller, outcome store and
// executor of one binding.
//
// Lifecycle:
//   - Create with NewService()
//   - Call Start() to provision resources and begin pulling
//   - Call Stop() for graceful shutdown, or use Run() for both
type Service struct {
	cfg  Config
	conn *nats.Conn
	js   jetstream.JetStream

	hooks       *Hooks
	metrics     MetricsCollector
	logger      Logger
	worker      executor.Worker
	partitioner idempotency.Partitioner

	resources    *Resources
	controller   *mapping.Controller
	orchestrator *orchestrator.Orchestrator
	consumer     *consumer.Consumer

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// NewService creates a Service. No I/O happens until Start.
//
// Parameters:
//   - cfg: Configuration; missing values are filled with defaults
//   - conn: NATS connection
//   - opts: Optional dependencies (logger, metrics, hooks, worker, partitioner)
//
// Returns:
//   - *Service: Service ready to Start
//   - error: Validation error if configuration is invalid
//
// Example:
//
//	cfg := backflow.DefaultConfig()
//	svc, err := backflow.NewService(&cfg, nc, backflow.WithLogger(logger))
func NewService(cfg *Config, conn *nats.Conn, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if conn == nil {
		return nil, ErrNATSConnectionRequired
	}

	SetDefaults(cfg)

	options := &serviceOptions{}
	for _, opt := range opts {
		opt(options)
	}

	logger := logging.OrNop(options.logger)
	if err := cfg.ValidateWithWarnings(logger); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	h := hooks.Fill(options.hooks)

	return &Service{
		cfg:         *cfg,
		conn:        conn,
		js:          js,
		hooks:       &h,
		metrics:     metrics.OrNop(options.metrics),
		logger:      logger,
		worker:      options.worker,
		partitioner: options.partitioner,
	}, nil
}

// Start provisions the stream and buckets, checks the binding, and starts the
// pull loop in the background.
//
// Parameters:
//   - ctx: Context bounding startup only; the loop runs until Stop
//
// Returns:
//   - error: ErrAlreadyStarted, provisioning error, or ErrBindingNotFound
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.build(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	go func() {
		defer close(s.done)
		err := s.consumer.Run(runCtx)
		if err != nil {
			s.logger.Error("consumer stopped", "error", err)
		}
		s.mu.Lock()
		s.runErr = err
		s.mu.Unlock()
	}()

	s.logger.Info("service started",
		"binding", s.cfg.BindingID,
		"stream", s.cfg.StreamName,
		"consumer", s.cfg.ConsumerName,
	)

	return nil
}

func (s *Service) build(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	res, err := Provision(opCtx, s.js, &s.cfg)
	if err != nil {
		return err
	}
	s.resources = res

	ctrl, err := mapping.NewController(mapping.NewKVStore(res.Mappings, s.metrics), mapping.ControllerConfig{
		BindingID:    s.cfg.BindingID,
		MaxBatchSize: s.cfg.MaxBatchSize,
		Logger:       s.logger,
		Metrics:      s.metrics,
		Hooks:        s.hooks,
	})
	if err != nil {
		return err
	}
	if _, err := ctrl.State(opCtx); err != nil {
		return fmt.Errorf("failed to load binding %s: %w", s.cfg.BindingID, err)
	}
	s.controller = ctrl

	backend := idempotency.NewKVBackend(res.Outcomes, idempotency.KVBackendConfig{
		MaxTxnRetries:   s.cfg.MaxTxnRetries,
		RollbackTimeout: s.cfg.OperationTimeout,
		Logger:          s.logger,
		Metrics:         s.metrics,
	})
	store, err := idempotency.NewStore(backend, idempotency.StoreConfig{Logger: s.logger, Metrics: s.metrics})
	if err != nil {
		return err
	}

	w := s.worker
	if w == nil {
		w, err = worker.NewClient(s.conn, s.cfg.WorkerSubject, s.cfg.WorkerTimeout)
		if err != nil {
			return err
		}
	}
	exec, err := executor.New(w, executor.Config{
		MaxConcurrency: s.cfg.MaxConcurrency,
		Logger:         s.logger,
		Metrics:        s.metrics,
	})
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(ctrl, store, exec, orchestrator.Config{
		LatencyThreshold: s.cfg.LatencyThreshold(),
		Partitioner:      s.partitioner,
		Logger:           s.logger,
		Metrics:          s.metrics,
		Hooks:            s.hooks,
	})
	if err != nil {
		return err
	}
	s.orchestrator = orch

	cons, err := consumer.NewJS(s.js, ctrl, orch, consumer.Config{
		StreamName:           s.cfg.StreamName,
		ConsumerName:         s.cfg.ConsumerName,
		FilterSubject:        s.cfg.StreamSubject,
		FetchTimeout:         s.cfg.FetchTimeout,
		AckWait:              s.cfg.AckWait,
		ScheduleInterval:     s.cfg.ScheduleInterval,
		DisabledPollInterval: s.cfg.DisabledPollInterval,
		Logger:               s.logger,
		Metrics:              s.metrics,
	})
	if err != nil {
		return err
	}
	s.consumer = cons

	return nil
}

// Stop cancels the pull loop and waits for the in-flight batch to settle.
//
// Parameters:
//   - ctx: Context for shutdown timeout
//
// Returns:
//   - error: ErrNotStarted, the loop's fatal error, or ctx.Err() on timeout
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()

	select {
	case <-done:
		s.logger.Info("service stopped gracefully")
		return s.Err()
	case <-ctx.Done():
		s.logger.Error("shutdown timeout exceeded, a batch may still be in flight")
		return ctx.Err()
	}
}

// Run starts the service and blocks until ctx is canceled or the loop stops
// on a fatal error.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-s.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AckWait)
	defer cancel()

	err := s.Stop(stopCtx)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// Done is closed when the pull loop exits. It is nil before Start.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.done
}

// Err returns the error that stopped the pull loop, if any.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runErr
}

// State returns the pull loop state.
func (s *Service) State() State {
	s.mu.Lock()
	cons := s.consumer
	s.mu.Unlock()

	if cons == nil {
		return StateInit
	}

	return cons.State()
}

// Controller returns the binding controller, nil before Start.
func (s *Service) Controller() *mapping.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.controller
}

// Orchestrator returns the batch orchestrator, nil before Start.
func (s *Service) Orchestrator() *orchestrator.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.orchestrator
}

// Config returns a copy of the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}
