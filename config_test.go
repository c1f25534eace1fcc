package backflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	bftest "github.com/arloliu/backflow/testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, "backflow", cfg.BindingID)
	require.Equal(t, 10, cfg.MaxBatchSize)
	require.Equal(t, 1000, cfg.LatencyThresholdMs)
	require.Equal(t, time.Second, cfg.LatencyThreshold())
	require.Equal(t, "backflow-outcomes", cfg.OutcomeBucket)
	require.Equal(t, "backflow-mappings", cfg.MappingBucket)
	require.Equal(t, 72*time.Hour, cfg.OutcomeTTL)
	require.Equal(t, time.Minute, cfg.ScheduleInterval)
	require.Equal(t, 5*time.Minute, cfg.AckWait)
	require.Equal(t, 5, cfg.MaxTxnRetries)
	require.NoError(t, cfg.Validate())
}

func TestSetDefaults(t *testing.T) {
	t.Run("applies defaults to empty config", func(t *testing.T) {
		cfg := Config{}
		SetDefaults(&cfg)

		require.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("preserves custom values", func(t *testing.T) {
		cfg := Config{
			BindingID:          "orders",
			MaxBatchSize:       25,
			LatencyThresholdMs: 250,
			StreamName:         "ORDERS",
			MaxConcurrency:     4,
			AckWait:            10 * time.Minute,
		}
		SetDefaults(&cfg)

		require.Equal(t, "orders", cfg.BindingID)
		require.Equal(t, 25, cfg.MaxBatchSize)
		require.Equal(t, 250, cfg.LatencyThresholdMs)
		require.Equal(t, "ORDERS", cfg.StreamName)
		require.Equal(t, 4, cfg.MaxConcurrency)
		require.Equal(t, 10*time.Minute, cfg.AckWait)
		require.Equal(t, "backflow.worker", cfg.WorkerSubject)
	})

	t.Run("concurrency follows batch size", func(t *testing.T) {
		cfg := Config{MaxBatchSize: 30}
		SetDefaults(&cfg)

		require.Equal(t, 30, cfg.MaxConcurrency)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero batch size", func(c *Config) { c.MaxBatchSize = 0 }, "MaxBatchSize"},
		{"negative threshold", func(c *Config) { c.LatencyThresholdMs = -1 }, "LatencyThresholdMs"},
		{"dotted binding", func(c *Config) { c.BindingID = "a.b" }, "BindingID"},
		{"empty bucket", func(c *Config) { c.OutcomeBucket = "" }, "OutcomeBucket"},
		{"empty subject", func(c *Config) { c.StreamSubject = "" }, "StreamSubject"},
		{"empty worker subject", func(c *Config) { c.WorkerSubject = "" }, "WorkerSubject"},
		{"zero concurrency", func(c *Config) { c.MaxConcurrency = 0 }, "MaxConcurrency"},
		{"zero retries", func(c *Config) { c.MaxTxnRetries = 0 }, "MaxTxnRetries"},
		{"zero fetch timeout", func(c *Config) { c.FetchTimeout = 0 }, "FetchTimeout"},
		{"ack wait below worker timeout", func(c *Config) { c.AckWait = c.WorkerTimeout }, "AckWait"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateWithWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutcomeTTL = time.Hour
	cfg.MaxConcurrency = 2

	logger := bftest.NewRecordingLogger()
	require.NoError(t, cfg.ValidateWithWarnings(logger))
	require.True(t, logger.Contains("OutcomeTTL"))
	require.True(t, logger.Contains("MaxConcurrency"))

	quiet := DefaultConfig()
	require.NoError(t, quiet.ValidateWithWarnings(nil))

	bad := DefaultConfig()
	bad.MaxBatchSize = 0
	require.Error(t, bad.ValidateWithWarnings(logger))
}

func TestTestConfig(t *testing.T) {
	cfg := TestConfig()
	require.NoError(t, cfg.Validate())
	require.Less(t, cfg.ScheduleInterval, DefaultConfig().ScheduleInterval)
}

func TestConfig_YAML(t *testing.T) {
	yamlConfig := `
bindingId: orders
maxBatchSize: 20
latencyThresholdMs: 500
workerSubject: orders.worker
outcomeTtl: 48h
streamName: ORDERS
streamSubject: orders.tasks
scheduleInterval: 2m
ackWait: 10m
`

	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(yamlConfig), &cfg))
	SetDefaults(&cfg)

	require.Equal(t, "orders", cfg.BindingID)
	require.Equal(t, 20, cfg.MaxBatchSize)
	require.Equal(t, 500*time.Millisecond, cfg.LatencyThreshold())
	require.Equal(t, 48*time.Hour, cfg.OutcomeTTL)
	require.Equal(t, 2*time.Minute, cfg.ScheduleInterval)
	require.Equal(t, 10*time.Minute, cfg.AckWait)
	require.Equal(t, "backflow-outcomes", cfg.OutcomeBucket)
	require.NoError(t, cfg.Validate())

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(out), "bindingId: orders"))
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bindingId: files\nmaxBatchSize: 3\n"), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "files", cfg.BindingID)
	require.Equal(t, 3, cfg.MaxBatchSize)
	require.Equal(t, "BACKFLOW", cfg.StreamName)

	_, err = LoadConfigFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("maxBatchSize: [oops"), 0o600))
	_, err = LoadConfigFile(path)
	require.Error(t, err)
}
