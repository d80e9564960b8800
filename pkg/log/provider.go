package log

import (
	"context"
	"log/slog"
	"sync"
)

var (
	providerMu     sync.RWMutex
	globalProvider LoggerProvider
)

// SetProvider replaces the process-wide provider used by GetLogger.
func SetProvider(p LoggerProvider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	globalProvider = p
}

func provider() LoggerProvider {
	providerMu.RLock()
	p := globalProvider
	providerMu.RUnlock()
	if p != nil {
		return p
	}

	providerMu.Lock()
	defer providerMu.Unlock()
	if globalProvider == nil {
		globalProvider = NewZerologProvider(slog.LevelInfo)
	}
	return globalProvider
}

// GetLogger returns the default logger of the process-wide provider.
func GetLogger() Logger {
	return provider().GetLogger()
}

// GetLoggerWithName returns a component logger of the process-wide provider.
func GetLoggerWithName(name string) Logger {
	return provider().GetLoggerWithName(name)
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}
func (nopLogger) Error(string, ...any) {}
func (n nopLogger) With(...any) Logger { return n }
func (nopLogger) Enabled(context.Context, Level) bool { return false }
