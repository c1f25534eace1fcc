package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_KeyValuesBecomeFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Debug("decrementing batch size", "binding", "b1", "size", 4)
	logger.Info("current batch size", "size", 5)
	logger.Warn("slow task", "id", "A")
	logger.Error("write failed", "error", "boom")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)

	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	require.Equal(t, "decrementing batch size", entries[0].Message)
	require.Equal(t, map[string]any{"binding": "b1", "size": int64(4)}, entries[0].ContextMap())

	require.Equal(t, zapcore.InfoLevel, entries[1].Level)
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, "A", entries[2].ContextMap()["id"])
	require.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestNewZapLogger_NilIsNop(t *testing.T) {
	logger := NewZapLogger(nil)

	require.NotPanics(t, func() {
		logger.Info("dropped", "key", "value")
		_ = logger.Sync()
	})
}

func TestNewZap(t *testing.T) {
	logger, sync, err := NewZap(true)
	require.NoError(t, err)
	require.IsType(t, &ZapLogger{}, logger)
	require.NotNil(t, sync)

	require.NotPanics(t, func() {
		logger.Debug("zap debug", "key", "value")
		sync()
	})
}
