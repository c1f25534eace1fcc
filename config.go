package backflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/backflow/internal/natsutil"
)

// Config is the configuration for a Service.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// BindingID identifies the stream-to-consumer binding whose batch size and
	// enabled flag are controlled at runtime.
	BindingID string `yaml:"bindingId"`

	// MaxBatchSize is the upper bound of the binding's batch size and the size
	// restored by the scheduled re-enable.
	MaxBatchSize int `yaml:"maxBatchSize"`

	// LatencyThresholdMs classifies a successful task as slow when its latency
	// strictly exceeds this many milliseconds.
	LatencyThresholdMs int `yaml:"latencyThresholdMs"`

	// WorkerSubject is the NATS subject the worker service answers on.
	WorkerSubject string `yaml:"workerSubject"`

	// OutcomeBucket is the KV bucket holding idempotency records.
	OutcomeBucket string `yaml:"outcomeBucket"`

	// MappingBucket is the KV bucket holding binding state.
	MappingBucket string `yaml:"mappingBucket"`

	// OutcomeTTL bounds how long outcome records are retained.
	// Must cover at least one dedup partition (a calendar day).
	OutcomeTTL time.Duration `yaml:"outcomeTtl"`

	// StreamName is the JetStream stream carrying task records.
	StreamName string `yaml:"streamName"`

	// StreamSubject is the subject records are published to and consumed from.
	StreamSubject string `yaml:"streamSubject"`

	// ConsumerName is the durable pull consumer name.
	ConsumerName string `yaml:"consumerName"`

	// MaxConcurrency bounds in-flight worker calls per batch.
	// Defaults to MaxBatchSize.
	MaxConcurrency int `yaml:"maxConcurrency"`

	// ScheduleInterval is the period of the scheduled re-enable tick.
	ScheduleInterval time.Duration `yaml:"scheduleInterval"`

	// DisabledPollInterval is how often a disabled binding is re-read.
	DisabledPollInterval time.Duration `yaml:"disabledPollInterval"`

	// FetchTimeout bounds one pull request.
	FetchTimeout time.Duration `yaml:"fetchTimeout"`

	// AckWait is the redelivery delay of unacknowledged records.
	// Must exceed the time one batch can take.
	AckWait time.Duration `yaml:"ackWait"`

	// WorkerTimeout bounds a single worker call.
	WorkerTimeout time.Duration `yaml:"workerTimeout"`

	// OperationTimeout bounds provisioning (stream, buckets) and undoing a failed outcome write.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// MaxTxnRetries bounds whole-transaction retries of outcome updates.
	MaxTxnRetries int `yaml:"maxTxnRetries"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		BindingID:            "backflow",
		MaxBatchSize:         10,
		LatencyThresholdMs:   1000,
		WorkerSubject:        "backflow.worker",
		OutcomeBucket:        "backflow-outcomes",
		MappingBucket:        "backflow-mappings",
		OutcomeTTL:           72 * time.Hour,
		StreamName:           "BACKFLOW",
		StreamSubject:        "backflow.tasks",
		ConsumerName:         "backflow",
		MaxConcurrency:       10,
		ScheduleInterval:     time.Minute,
		DisabledPollInterval: 5 * time.Second,
		FetchTimeout:         5 * time.Second,
		AckWait:              5 * time.Minute,
		WorkerTimeout:        30 * time.Second,
		OperationTimeout:     10 * time.Second,
		MaxTxnRetries:        5,
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.BindingID == "" {
		cfg.BindingID = defaults.BindingID
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = defaults.MaxBatchSize
	}
	if cfg.LatencyThresholdMs == 0 {
		cfg.LatencyThresholdMs = defaults.LatencyThresholdMs
	}
	if cfg.WorkerSubject == "" {
		cfg.WorkerSubject = defaults.WorkerSubject
	}
	if cfg.OutcomeBucket == "" {
		cfg.OutcomeBucket = defaults.OutcomeBucket
	}
	if cfg.MappingBucket == "" {
		cfg.MappingBucket = defaults.MappingBucket
	}
	if cfg.OutcomeTTL == 0 {
		cfg.OutcomeTTL = defaults.OutcomeTTL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = defaults.StreamName
	}
	if cfg.StreamSubject == "" {
		cfg.StreamSubject = defaults.StreamSubject
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = defaults.ConsumerName
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = cfg.MaxBatchSize
	}
	if cfg.ScheduleInterval == 0 {
		cfg.ScheduleInterval = defaults.ScheduleInterval
	}
	if cfg.DisabledPollInterval == 0 {
		cfg.DisabledPollInterval = defaults.DisabledPollInterval
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	if cfg.AckWait == 0 {
		cfg.AckWait = defaults.AckWait
	}
	if cfg.WorkerTimeout == 0 {
		cfg.WorkerTimeout = defaults.WorkerTimeout
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.MaxTxnRetries == 0 {
		cfg.MaxTxnRetries = defaults.MaxTxnRetries
	}
}

// LatencyThreshold returns LatencyThresholdMs as a duration.
func (cfg *Config) LatencyThreshold() time.Duration {
	return time.Duration(cfg.LatencyThresholdMs) * time.Millisecond
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - MaxBatchSize >= 1
//   - LatencyThresholdMs > 0
//   - BindingID, bucket names and stream name are valid NATS tokens
//   - StreamSubject and WorkerSubject are set
//   - Durations and counters are positive
//   - AckWait > WorkerTimeout (a batch must settle before redelivery)
//
// Returns:
//   - error: Validation error with clear explanation, nil if valid
func (cfg *Config) Validate() error {
	if cfg.MaxBatchSize < 1 {
		return fmt.Errorf("MaxBatchSize must be >= 1, got %d", cfg.MaxBatchSize)
	}
	if cfg.LatencyThresholdMs <= 0 {
		return fmt.Errorf("LatencyThresholdMs must be > 0, got %d", cfg.LatencyThresholdMs)
	}

	for name, value := range map[string]string{
		"BindingID":     cfg.BindingID,
		"OutcomeBucket": cfg.OutcomeBucket,
		"MappingBucket": cfg.MappingBucket,
		"StreamName":    cfg.StreamName,
		"ConsumerName":  cfg.ConsumerName,
	} {
		if !natsutil.IsValidToken(value) {
			return fmt.Errorf("%s %q must be a non-empty token of letters, digits, '-' or '_'", name, value)
		}
	}

	if cfg.StreamSubject == "" {
		return fmt.Errorf("StreamSubject is required")
	}
	if cfg.WorkerSubject == "" {
		return fmt.Errorf("WorkerSubject is required")
	}

	if cfg.MaxConcurrency < 1 {
		return fmt.Errorf("MaxConcurrency must be >= 1, got %d", cfg.MaxConcurrency)
	}
	if cfg.MaxTxnRetries < 1 {
		return fmt.Errorf("MaxTxnRetries must be >= 1, got %d", cfg.MaxTxnRetries)
	}

	for name, value := range map[string]time.Duration{
		"OutcomeTTL":           cfg.OutcomeTTL,
		"ScheduleInterval":     cfg.ScheduleInterval,
		"DisabledPollInterval": cfg.DisabledPollInterval,
		"FetchTimeout":         cfg.FetchTimeout,
		"AckWait":              cfg.AckWait,
		"WorkerTimeout":        cfg.WorkerTimeout,
		"OperationTimeout":     cfg.OperationTimeout,
	} {
		if value <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", name, value)
		}
	}

	if cfg.AckWait <= cfg.WorkerTimeout {
		return fmt.Errorf(
			"AckWait (%v) must be > WorkerTimeout (%v) so a batch settles before redelivery",
			cfg.AckWait, cfg.WorkerTimeout,
		)
	}

	return nil
}

// ValidateWithWarnings validates configuration and logs warnings for non-recommended settings.
//
// Parameters:
//   - logger: Logger for warnings (optional, can be nil)
//
// Returns:
//   - error: Validation error if hard constraints violated
func (cfg *Config) ValidateWithWarnings(logger interface{ Warn(string, ...any) }) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if logger == nil {
		return nil
	}

	if cfg.OutcomeTTL < 24*time.Hour {
		logger.Warn(
			"OutcomeTTL shorter than a dedup partition; records may expire while still relevant",
			"outcomeTtl", cfg.OutcomeTTL,
		)
	}

	if cfg.MaxConcurrency < cfg.MaxBatchSize {
		logger.Warn(
			"MaxConcurrency below MaxBatchSize; full batches run in several waves and look slower",
			"maxConcurrency", cfg.MaxConcurrency,
			"maxBatchSize", cfg.MaxBatchSize,
		)
	}

	if time.Duration(cfg.MaxBatchSize)*cfg.WorkerTimeout > cfg.AckWait && cfg.MaxConcurrency == 1 {
		logger.Warn(
			"a serial batch can outlive AckWait; records may be redelivered while in flight",
			"ackWait", cfg.AckWait,
			"workerTimeout", cfg.WorkerTimeout,
		)
	}

	if cfg.ScheduleInterval < cfg.DisabledPollInterval {
		logger.Warn(
			"ScheduleInterval shorter than DisabledPollInterval; re-enables are noticed late",
			"scheduleInterval", cfg.ScheduleInterval,
			"disabledPollInterval", cfg.DisabledPollInterval,
		)
	}

	return nil
}

// TestConfig returns a configuration suitable for tests.
//
// Intervals are short so state changes are observed quickly.
//
// Returns:
//   - Config: Configuration for tests
func TestConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 5
	cfg.LatencyThresholdMs = 200
	cfg.OutcomeTTL = time.Hour
	cfg.ScheduleInterval = 500 * time.Millisecond
	cfg.DisabledPollInterval = 50 * time.Millisecond
	cfg.FetchTimeout = 200 * time.Millisecond
	cfg.AckWait = 5 * time.Second
	cfg.WorkerTimeout = 2 * time.Second
	cfg.OperationTimeout = 5 * time.Second

	return cfg
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - Config: Decoded configuration with defaults applied
//   - error: Read or decode error
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	SetDefaults(&cfg)

	return cfg, nil
}
