// Package telemetry centralizes genbench's observability surface (S6):
// structured logging, Prometheus metrics, and OpenTelemetry tracing.
package telemetry

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger at the given level, production-encoded
// (JSON) unless dev is true, in which case it uses zap's development
// console encoder. Callers should `defer logger.Sync()`.
func NewLogger(level string, dev bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	if dev {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
