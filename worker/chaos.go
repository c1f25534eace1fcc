package worker

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/backflow/executor"
)

// DefaultSlowDelay is how long a slow chaos call sleeps.
const DefaultSlowDelay = 2 * time.Second

// ErrChaos is returned by Chaos for injected failures.
var ErrChaos = errors.New("boom")

// ChaosConfig configures a Chaos worker.
//
// Probabilities are in [0, 1]; zero disables the behavior.
type ChaosConfig struct {
	SlowProbability  float64
	ErrorProbability float64
	SlowDelay        time.Duration
	// Seed makes the injected behavior reproducible when non-zero.
	Seed uint64
}

// Chaos is a synthetic worker that is either slow, failing, or fast per call.
//
// Each call first draws for slowness; a slow call sleeps SlowDelay and succeeds.
// Otherwise a second draw decides whether the call fails.
type Chaos struct {
	cfg ChaosConfig

	mu  sync.Mutex
	rng *rand.Rand

	invocations *xsync.Map[string, *atomic.Int64]
}

var _ executor.Worker = (*Chaos)(nil)

// NewChaos creates a Chaos worker.
func NewChaos(cfg ChaosConfig) (*Chaos, error) {
	if cfg.SlowProbability < 0 || cfg.SlowProbability > 1 {
		return nil, fmt.Errorf("slow probability must be within [0, 1], got %v", cfg.SlowProbability)
	}
	if cfg.ErrorProbability < 0 || cfg.ErrorProbability > 1 {
		return nil, fmt.Errorf("error probability must be within [0, 1], got %v", cfg.ErrorProbability)
	}
	if cfg.SlowDelay <= 0 {
		cfg.SlowDelay = DefaultSlowDelay
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // non-crypto chaos source
	}

	return &Chaos{
		cfg:         cfg,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), //nolint:gosec // non-crypto chaos source
		invocations: xsync.NewMap[string, *atomic.Int64](),
	}, nil
}

// Invoke sleeps, fails, or returns immediately depending on the draws.
func (c *Chaos) Invoke(ctx context.Context, req executor.WorkerRequest) error {
	counter, _ := c.invocations.LoadOrStore(req.ID, &atomic.Int64{})
	counter.Add(1)

	slow, fail := c.draw()
	if slow {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.SlowDelay):
			return nil
		}
	}
	if fail {
		return ErrChaos
	}

	return nil
}

func (c *Chaos) draw() (slow bool, fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rng.Float64() < c.cfg.SlowProbability {
		return true, false
	}

	return false, c.rng.Float64() < c.cfg.ErrorProbability
}

// Invocations returns how many times id was invoked.
func (c *Chaos) Invocations(id string) int64 {
	counter, ok := c.invocations.Load(id)
	if !ok {
		return 0
	}

	return counter.Load()
}
