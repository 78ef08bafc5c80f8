// Package logging builds the service's zap loggers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the encoder flavour and minimum level.
type Options struct {
	// Development switches to the console encoder with colored levels.
	Development bool
	// Level is a zap level name; empty means debug in development and
	// info otherwise.
	Level string
}

// ParseLevel maps a level name onto zapcore.Level. The empty string yields
// fallback.
func ParseLevel(name string, fallback zapcore.Level) (zapcore.Level, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(name))
	if err != nil {
		return fallback, fmt.Errorf("logging level %q: %w", name, err)
	}
	return lvl, nil
}

// New builds a logger from opts. Entries carry an ISO-8601 "ts" field.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	fallback := zapcore.InfoLevel
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		fallback = zapcore.DebugLevel
	}
	lvl, err := ParseLevel(opts.Level, fallback)
	if err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Named returns logger scoped under name, or a no-op logger when logger is nil.
func Named(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named(name)
}
