// Package logger provides a thin, opinionated wrapper around zap's sugared
// logger so every component of the storage engine logs with a consistent
// field set instead of each package hand-rolling its own zap.Config.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-configured, JSON-encoded logger tagged with a
// "component" field identifying which subsystem is logging (e.g. "pool",
// "block", "manager", "bst", "skiplist", "btree"). Falls back to a no-op
// logger if the underlying zap construction fails, since logging must never
// be the reason a storage operation cannot proceed.
func New(component string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	base, err := cfg.Build()
	if err != nil {
		base = zap.NewNop()
	}

	return base.Sugar().With("component", component)
}

// Noop returns a logger that discards everything, useful for tests that
// don't want to assert on log output or pay for JSON encoding.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
