// Package logging wires the engine's structured logger. Components that
// log take a *zap.SugaredLogger in their constructor instead of reaching
// for a global.
package logging

import (
	"go.uber.org/zap"
)

// New builds the engine-wide logger. dev enables human-readable console
// output (local runs); production mode emits JSON.
func New(dev bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Noop returns a logger that discards everything, for tests that don't
// care about log output.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
