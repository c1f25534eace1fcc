package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/backflow/internal/natsutil"
	"github.com/arloliu/backflow/types"
)

// Consumer drives one JetStream durable pull consumer from the binding state.
//
// Before every pull it rereads the binding: a disabled binding pulls nothing and
// is rechecked every DisabledPollInterval, an enabled one pulls at most BatchSize
// messages. Every ScheduleInterval a scheduled event is handed to the same Handler.
type Consumer struct {
	js      jetstream.JetStream
	source  StateSource
	handler Handler
	cfg     Config

	logger  types.Logger
	metrics types.MetricsCollector
	backoff *retryBackoff

	mu         sync.RWMutex
	state      types.State
	stateSince time.Time
	running    bool
	jsConsumer jetstream.Consumer
}

// New creates a Consumer from a NATS connection.
//
// Parameters:
//   - conn: NATS connection (must be non-nil)
//   - source: Binding state source, usually a *mapping.Controller
//   - handler: Event handler, usually an *orchestrator.Orchestrator
//   - cfg: Consumer configuration
//
// Returns:
//   - *Consumer: Consumer ready to Run
//   - error: Configuration or connection error
func New(conn *nats.Conn, source StateSource, handler Handler, cfg Config) (*Consumer, error) {
	if conn == nil {
		return nil, types.ErrNATSConnectionRequired
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return NewJS(js, source, handler, cfg)
}

// NewJS creates a Consumer using a pre-initialized JetStream context.
//
// Example:
//
//	c, err := consumer.NewJS(js, controller, orch, consumer.Config{
//	    StreamName:   "TASKS",
//	    ConsumerName: "backflow-orders",
//	})
//	err = c.Run(ctx)
func NewJS(js jetstream.JetStream, source StateSource, handler Handler, cfg Config) (*Consumer, error) {
	if js == nil {
		return nil, errors.New("JetStream context is required")
	}
	if source == nil {
		return nil, errors.New("state source is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}
	cfg.applyDefaults()

	return &Consumer{
		js:         js,
		source:     source,
		handler:    handler,
		cfg:        cfg,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		backoff:    newRetryBackoff(cfg.RetryBase, cfg.RetryMultiplier, cfg.RetryCap, cfg.RetrySeed),
		state:      types.StateInit,
		stateSince: time.Now(),
	}, nil
}

// State returns the current loop state.
func (c *Consumer) State() types.State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// Info returns the JetStream view of the durable consumer.
func (c *Consumer) Info(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	c.mu.RLock()
	cons := c.jsConsumer
	c.mu.RUnlock()

	if cons == nil {
		return nil, types.ErrNotStarted
	}

	return cons.Info(ctx)
}

// Run creates or updates the durable consumer and pulls until ctx is canceled.
//
// Returns:
//   - error: nil after cancellation, the fatal error that stopped the loop
//     (see types.IsFatal), or the consumer setup error
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return types.ErrAlreadyStarted
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       c.cfg.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.cfg.MaxDeliver,
		FilterSubject: c.cfg.FilterSubject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %s on %s: %w", c.cfg.ConsumerName, c.cfg.StreamName, err)
	}

	c.mu.Lock()
	c.jsConsumer = cons
	c.mu.Unlock()

	c.logger.Info("consumer started",
		"stream", c.cfg.StreamName, "consumer", c.cfg.ConsumerName, "scheduleInterval", c.cfg.ScheduleInterval)

	ticker := time.NewTicker(c.cfg.ScheduleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.transition(types.StateStopped)
			c.logger.Info("consumer stopped", "consumer", c.cfg.ConsumerName)

			return nil
		case <-ticker.C:
			if err := c.dispatch(ctx, types.ScheduledEvent()); types.IsFatal(err) {
				return c.fail(err)
			}
		default:
		}

		state, err := c.source.Refresh(ctx)
		if err != nil {
			if types.IsFatal(err) {
				return c.fail(err)
			}
			c.retry(ctx, "mapping", err)

			continue
		}

		if !state.Enabled {
			c.transition(types.StateDisabled)
			if err := c.idle(ctx, ticker); err != nil {
				return c.fail(err)
			}

			continue
		}

		c.transition(types.StateRunning)
		if err := c.pull(ctx, cons, state.BatchSize); err != nil {
			return c.fail(err)
		}
	}
}

// idle waits while the binding is disabled, still serving scheduled ticks.
func (c *Consumer) idle(ctx context.Context, ticker *time.Ticker) error {
	select {
	case <-ctx.Done():
	case <-ticker.C:
		if err := c.dispatch(ctx, types.ScheduledEvent()); types.IsFatal(err) {
			return err
		}
	case <-time.After(c.cfg.DisabledPollInterval):
	}

	return nil
}

// pull fetches one batch and hands it to the handler. Only fatal errors are returned.
func (c *Consumer) pull(ctx context.Context, cons jetstream.Consumer, batchSize int) error {
	batchSize = max(batchSize, 1)

	batch, err := cons.Fetch(batchSize, jetstream.FetchMaxWait(c.cfg.FetchTimeout))
	if err != nil {
		if ctx.Err() == nil {
			c.retry(ctx, "fetch", err)
		}

		return nil
	}

	var msgs []jetstream.Msg
	for msg := range batch.Messages() {
		msgs = append(msgs, msg)
	}
	c.metrics.RecordFetch(batchSize, len(msgs))

	if fetchErr := batch.Error(); fetchErr != nil && len(msgs) == 0 {
		if ctx.Err() == nil && !isFetchTimeout(fetchErr) {
			c.retry(ctx, "fetch", fetchErr)
		}

		return nil
	}
	c.backoff.Reset()

	if len(msgs) == 0 {
		return nil
	}

	records := make([]types.Record, len(msgs))
	for i, msg := range msgs {
		records[i] = types.Record{Data: msg.Data()}
	}

	handleErr := c.dispatch(ctx, types.StreamEvent(records))
	if handleErr == nil {
		c.settle(msgs, "ack", jetstream.Msg.Ack)
	} else {
		c.settle(msgs, "nak", jetstream.Msg.Nak)
	}

	if types.IsFatal(handleErr) {
		return handleErr
	}

	return nil
}

func (c *Consumer) dispatch(ctx context.Context, event types.Event) error {
	err := c.handler.Handle(ctx, event)
	switch {
	case err == nil:
	case types.IsPartialFailure(err):
		c.logger.Warn("delivery will be redelivered", "kind", event.Kind.String(), "error", err)
	case ctx.Err() != nil:
		c.logger.Debug("handler interrupted by shutdown", "kind", event.Kind.String(), "error", err)
	default:
		c.logger.Error("handler failed", "kind", event.Kind.String(), "error", err)
	}

	return err
}

func (c *Consumer) settle(msgs []jetstream.Msg, disposition string, fn func(jetstream.Msg) error) {
	for _, msg := range msgs {
		if err := fn(msg); err != nil {
			c.logger.Warn("failed to settle message", "disposition", disposition, "error", err)
		}
	}
	c.metrics.IncrementAcks(disposition, len(msgs))
}

func (c *Consumer) retry(ctx context.Context, op string, err error) {
	reason := "transient"
	if natsutil.IsConnectivityError(err) {
		reason = "connectivity"
	}

	delay := c.backoff.Next()
	c.transition(types.StateBackoff)
	c.metrics.IncrementFetchRetry(reason)
	c.metrics.RecordRetryBackoff(delay.Seconds())
	c.logger.Warn("pull loop error, backing off", "op", op, "reason", reason, "delay", delay, "error", err)

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (c *Consumer) fail(err error) error {
	c.transition(types.StateFatal)
	c.logger.Error("consumer stopped on fatal error", "consumer", c.cfg.ConsumerName, "error", err)

	return err
}

func (c *Consumer) transition(to types.State) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	spent := now.Sub(c.stateSince)
	c.state = to
	c.stateSince = now
	c.mu.Unlock()

	c.metrics.RecordStateTransition(from, to, spent.Seconds())
	c.logger.Debug("consumer state changed", "from", from.String(), "to", to.String())
}

// isFetchTimeout reports whether a pull simply expired without messages.
func isFetchTimeout(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
