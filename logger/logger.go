// Package logger provides the process-wide structured logger used by the pool
// and its collaborators.
package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
)

var global atomic.Pointer[slog.Logger]

func init() {
	global.Store(NewLogger(LoadConfig()))
}

// Logger returns the global logger instance
func Logger() *slog.Logger {
	return global.Load()
}

// SetLogger replaces the global logger
func SetLogger(l *slog.Logger) {
	if l != nil {
		global.Store(l)
	}
}

// SetLogLevel programmatically sets the log level, keeping the rest of the
// environment-derived configuration.
func SetLogLevel(level slog.Level) {
	config := LoadConfig()
	config.Level = level
	global.Store(NewLogger(config))
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// DebugContext logs a debug message with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	Logger().Debug(msg, appendContextArgs(ctx, args...)...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// InfoContext logs an info message with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	Logger().Info(msg, appendContextArgs(ctx, args...)...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// WarnContext logs a warning message with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	Logger().Warn(msg, appendContextArgs(ctx, args...)...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// ErrorContext logs an error message with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Logger().Error(msg, appendContextArgs(ctx, args...)...)
}

// With returns a new Logger that includes the given attributes in each output operation
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// WithContext returns a new Logger that includes context information
func WithContext(ctx context.Context) *slog.Logger {
	return Logger().With(appendContextArgs(ctx)...)
}

func appendContextArgs(ctx context.Context, args ...any) []any {
	return append(args, ExtractContextValues(ctx)...)
}
