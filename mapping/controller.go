package mapping

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arloliu/backflow/internal/hooks"
	"github.com/arloliu/backflow/internal/logging"
	"github.com/arloliu/backflow/internal/metrics"
	"github.com/arloliu/backflow/types"
)

// ControllerConfig configures a Controller.
//
// Required fields:
//   - BindingID
//   - MaxBatchSize
type ControllerConfig struct {
	BindingID    string
	MaxBatchSize int

	Logger  types.Logger
	Metrics types.MetricsCollector
	Hooks   *types.Hooks
}

// Controller reads and adjusts the batch size and enabled flag of one binding.
//
// It is safe for concurrent use; mutations are serialized per Controller.
type Controller struct {
	store   Store
	cfg     ControllerConfig
	logger  types.Logger
	metrics types.MetricsCollector
	hooks   types.Hooks

	mu     sync.Mutex
	cached types.MappingState
	loaded bool
}

// NewController creates a controller for cfg.BindingID.
//
// No I/O happens here; the binding is read on first use.
//
// Parameters:
//   - store: Binding store
//   - cfg: Controller configuration
//
// Returns:
//   - *Controller: Controller with an empty cache
//   - error: Configuration error
func NewController(store Store, cfg ControllerConfig) (*Controller, error) {
	if store == nil {
		return nil, errors.New("mapping store is required")
	}
	if cfg.BindingID == "" {
		return nil, fmt.Errorf("%w: binding id is required", types.ErrInvalidConfig)
	}
	if cfg.MaxBatchSize < 1 {
		return nil, fmt.Errorf("%w: max batch size must be >= 1, got %d", types.ErrInvalidConfig, cfg.MaxBatchSize)
	}

	return &Controller{
		store:   store,
		cfg:     cfg,
		logger:  logging.OrNop(cfg.Logger),
		metrics: metrics.OrNop(cfg.Metrics),
		hooks:   hooks.Fill(cfg.Hooks),
	}, nil
}

// BindingID returns the binding this controller manages.
func (c *Controller) BindingID() string {
	return c.cfg.BindingID
}

// MaxBatchSize returns the configured batch size ceiling.
func (c *Controller) MaxBatchSize() int {
	return c.cfg.MaxBatchSize
}

// State returns the cached binding state, reading it from the store on first use.
//
// A missing binding returns an error wrapping types.ErrBindingNotFound.
func (c *Controller) State(ctx context.Context) (types.MappingState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return c.cached, nil
	}

	state, err := c.fetchLocked(ctx)
	if err != nil {
		return types.MappingState{}, err
	}
	c.logger.Info("current batch size", "binding", c.cfg.BindingID, "batchSize", state.BatchSize, "enabled", state.Enabled)

	return state, nil
}

// Refresh rereads the binding from the store and replaces the cache.
func (c *Controller) Refresh(ctx context.Context) (types.MappingState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fetchLocked(ctx)
}

// Decrement shrinks the batch size by one, or disables the binding at size 1.
//
// Exactly one store update is issued.
//
// Returns:
//   - types.Adjustment: AdjustmentDecrement or AdjustmentDisable
//   - error: Store read or write error
func (c *Controller) Decrement(ctx context.Context) (types.Adjustment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.fetchLocked(ctx)
	if err != nil {
		return types.AdjustmentNone, err
	}

	if current.BatchSize > 1 {
		next := current.BatchSize - 1
		c.logger.Warn(fmt.Sprintf("decrementing batch size to %d", next), "binding", c.cfg.BindingID)

		return types.AdjustmentDecrement, c.applyLocked(ctx, current, next, true, types.AdjustmentDecrement)
	}

	c.logger.Warn("already at batch size of 1, disabling", "binding", c.cfg.BindingID)

	return types.AdjustmentDisable, c.applyLocked(ctx, current, current.BatchSize, false, types.AdjustmentDisable)
}

// Increment grows the batch size by one unless it is already at the maximum.
//
// Returns:
//   - types.Adjustment: AdjustmentIncrement, or AdjustmentNone when at the maximum
//   - error: Store read or write error
func (c *Controller) Increment(ctx context.Context) (types.Adjustment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.fetchLocked(ctx)
	if err != nil {
		return types.AdjustmentNone, err
	}

	if current.BatchSize >= c.cfg.MaxBatchSize {
		c.logger.Debug("batch size already at maximum", "binding", c.cfg.BindingID, "batchSize", current.BatchSize)
		return types.AdjustmentNone, nil
	}

	next := current.BatchSize + 1
	c.logger.Info(fmt.Sprintf("incrementing batch size to %d", next), "binding", c.cfg.BindingID)

	return types.AdjustmentIncrement, c.applyLocked(ctx, current, next, true, types.AdjustmentIncrement)
}

// Enable turns delivery back on, keeping the current batch size.
func (c *Controller) Enable(ctx context.Context) (types.Adjustment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.fetchLocked(ctx)
	if err != nil {
		return types.AdjustmentNone, err
	}

	c.logger.Info("enabling stream", "binding", c.cfg.BindingID, "batchSize", current.BatchSize)

	return types.AdjustmentEnable, c.applyLocked(ctx, current, current.BatchSize, true, types.AdjustmentEnable)
}

func (c *Controller) fetchLocked(ctx context.Context) (types.MappingState, error) {
	state, err := c.store.Get(ctx, c.cfg.BindingID)
	if err != nil {
		return types.MappingState{}, fmt.Errorf("failed to read binding %s: %w", c.cfg.BindingID, err)
	}

	c.cached = state
	c.loaded = true
	c.metrics.SetMappingState(state)

	return state, nil
}

func (c *Controller) applyLocked(ctx context.Context, from types.MappingState, batchSize int, enabled bool, action types.Adjustment) error {
	if err := c.store.Update(ctx, c.cfg.BindingID, batchSize, enabled); err != nil {
		return fmt.Errorf("%w: %s %s: %w", types.ErrMappingUpdate, action, c.cfg.BindingID, err)
	}

	to := types.MappingState{BindingID: c.cfg.BindingID, BatchSize: batchSize, Enabled: enabled}
	c.cached = to
	c.loaded = true

	c.metrics.RecordAdjustment(action)
	c.metrics.SetMappingState(to)

	if err := c.hooks.OnAdjustment(ctx, from, to); err != nil {
		c.logger.Warn("adjustment hook failed", "binding", c.cfg.BindingID, "error", err)
	}

	return nil
}
