package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arloliu/backflow/types"
)

// ZapLogger adapts a zap.SugaredLogger to types.Logger.
//
// Key-value pairs are logged as structured fields through the sugared "w" methods.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

var _ types.Logger = (*ZapLogger)(nil)

// NewZapLogger wraps an existing zap logger.
//
// Parameters:
//   - logger: Base zap logger (nil selects zap.NewNop)
//
// Returns:
//   - *ZapLogger: Adapter implementing types.Logger
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ZapLogger{sugar: logger.Sugar()}
}

// Debug logs at DebugLevel.
func (z *ZapLogger) Debug(msg string, keysAndValues ...any) {
	z.sugar.Debugw(msg, keysAndValues...)
}

// Info logs at InfoLevel.
func (z *ZapLogger) Info(msg string, keysAndValues ...any) {
	z.sugar.Infow(msg, keysAndValues...)
}

// Warn logs at WarnLevel.
func (z *ZapLogger) Warn(msg string, keysAndValues ...any) {
	z.sugar.Warnw(msg, keysAndValues...)
}

// Error logs at ErrorLevel.
func (z *ZapLogger) Error(msg string, keysAndValues ...any) {
	z.sugar.Errorw(msg, keysAndValues...)
}

// Fatal logs at FatalLevel and exits.
func (z *ZapLogger) Fatal(msg string, keysAndValues ...any) {
	z.sugar.Fatalw(msg, keysAndValues...)
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}

// NewZap builds a zap-backed logger for command line use.
//
// The returned sync function flushes buffered entries and should be deferred
// by the caller.
//
// Parameters:
//   - debug: Use the development encoder at Debug level instead of production JSON at Info level
//
// Returns:
//   - types.Logger: zap logger adapted to types.Logger
//   - func(): Flush function
//   - error: Logger construction error
func NewZap(debug bool) (types.Logger, func(), error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build zap logger: %w", err)
	}
	adapted := NewZapLogger(logger)

	return adapted, func() { _ = adapted.Sync() }, nil
}
