// Package logging provides the engine's single process-wide structured
// logger, a zap-based setup (pkg/observability) stripped of its CloudWatch
// transport — the only sink is stderr, consistent with the
// no-network-egress non-goal.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.SugaredLogger. Interactive terminals get a console
// encoder; everything else (piped output, MCP/dashboard bindings) gets
// JSON so callers can parse log lines.
func New(interactive bool, level string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	if interactive {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := zapcore.InfoLevel
	if level != "" {
		_ = lvl.UnmarshalText([]byte(level))
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Noop returns a logger that discards everything, used in tests.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
