package events

import (
	"context"
)

type contextKey int

const (
	loggerKey contextKey = iota
	safeKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithSafe tags the context, and its logger, with the active safe name.
func WithSafe(ctx context.Context, name string) context.Context {
	logger := FromContext(ctx).WithField("safe", name)
	ctx = context.WithValue(ctx, safeKey, name)
	return WithLogger(ctx, logger)
}

// GetSafe retrieves the safe name from context.
func GetSafe(ctx context.Context) string {
	if name, ok := ctx.Value(safeKey).(string); ok {
		return name
	}
	return ""
}

var defaultLogger = Discard()

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
