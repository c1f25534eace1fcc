package consumer

import (
	"errors"
	"time"

	"github.com/arloliu/backflow/internal/logging"
	"github.com/arloliu/backflow/internal/metrics"
	"github.com/arloliu/backflow/types"
)

// Default configuration values for Consumer.
const (
	// DefaultFetchTimeout is the maximum time one pull waits for messages.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultAckWait is how long JetStream waits for an ack before redelivering.
	DefaultAckWait = 5 * time.Minute

	// DefaultScheduleInterval is the period of scheduled events.
	DefaultScheduleInterval = time.Minute

	// DefaultDisabledPollInterval is how often a disabled binding is rechecked.
	DefaultDisabledPollInterval = 5 * time.Second

	// DefaultRetryBase is the first backoff delay after a failed pull.
	DefaultRetryBase = 100 * time.Millisecond

	// DefaultRetryCap bounds backoff delays.
	DefaultRetryCap = 10 * time.Second

	// DefaultRetryMultiplier is the growth factor of backoff delays.
	DefaultRetryMultiplier = 1.6
)

// Config configures a Consumer.
//
// Required fields:
//   - StreamName
//   - ConsumerName
//
// Zero values of the remaining fields are replaced by the defaults above.
type Config struct {
	StreamName    string
	ConsumerName  string
	FilterSubject string

	FetchTimeout         time.Duration
	AckWait              time.Duration
	MaxDeliver           int
	ScheduleInterval     time.Duration
	DisabledPollInterval time.Duration

	RetryBase       time.Duration
	RetryCap        time.Duration
	RetryMultiplier float64
	// RetrySeed makes backoff jitter deterministic when non-zero.
	RetrySeed int64

	Logger  types.Logger
	Metrics types.MetricsCollector
}

func (cfg *Config) validate() error {
	if cfg.StreamName == "" {
		return errors.New("stream name is required")
	}
	if cfg.ConsumerName == "" {
		return errors.New("consumer name is required")
	}

	return nil
}

// applyDefaults fills unset optional fields.
func (cfg *Config) applyDefaults() {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = DefaultAckWait
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = -1
	}
	if cfg.ScheduleInterval <= 0 {
		cfg.ScheduleInterval = DefaultScheduleInterval
	}
	if cfg.DisabledPollInterval <= 0 {
		cfg.DisabledPollInterval = DefaultDisabledPollInterval
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = DefaultRetryCap
	}
	if cfg.RetryMultiplier < 1 {
		cfg.RetryMultiplier = DefaultRetryMultiplier
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	cfg.Metrics = metrics.OrNop(cfg.Metrics)
}
