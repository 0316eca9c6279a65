// Package log defines the logging interface shared by ruleflow packages.
package log

import (
	"context"
	"log/slog"
)

// Logger is the logging contract handed to the engine, the rule variants and
// the service adapters. Implementations must be safe for concurrent use since
// every worker goroutine logs through the same instance.
type Logger interface {
	// Debugf, Infof, Warnf and Errorf format their arguments like fmt.Sprintf.
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	// Errorf should log a trailing error argument as a structured attribute.
	Errorf(format string, args ...interface{})

	// Log emits msg with key-value attributes.
	Log(level slog.Level, msg string, args ...interface{})
	// LogCtx is Log with a context, letting handlers pick up trace ids.
	LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{})

	// With returns a child logger that adds args to every entry.
	With(args ...interface{}) Logger
	IsEnabled(level slog.Level) bool
}
