// Package log provides the structured logging interface used across pvtrain.
//
// The interface mirrors log/slog (message plus alternating key/value fields) so
// that the backend can be swapped. The default backend is zerolog; an slog
// JSON backend with cockroachdb stack extraction is also available.
//
// Example usage:
//
//	logger := log.GetLoggerWithName("selection").With(
//	    log.GeneratorKey, "GenA",
//	    log.StrategyKey, "backward_elimination",
//	)
//	logger.Info("Elimination step accepted",
//	    log.StepKey, 7,
//	    log.RMSEKey, 1.42,
//	)
package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are alternating key/value pairs. If the first field passed to Error is
// an error value, backends attach it as the error field together with any stack
// trace recorded by cockroachdb/errors.
type Logger interface {
	// Debug logs a debug-level message with optional structured fields.
	Debug(msg string, fields ...any)

	// Info logs an info-level message with optional structured fields.
	Info(msg string, fields ...any)

	// Warn logs a warning-level message with optional structured fields.
	Warn(msg string, fields ...any)

	// Error logs an error-level message with optional structured fields.
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits records at the given level.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider creates and configures loggers.
type LoggerProvider interface {
	// GetLogger returns the default logger instance.
	GetLogger() Logger

	// GetLoggerWithName returns a logger tagged with a component name.
	GetLoggerWithName(name string) Logger

	// SetLevel sets the minimum log level for loggers created afterwards.
	SetLevel(level Level)
}
