package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	pverrors "github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/rs/zerolog"
)

// ZerologProvider serves Loggers backed by zerolog.
type ZerologProvider struct {
	mu    sync.RWMutex
	base  zerolog.Logger
	level zerolog.Level
}

// ZerologOption customizes a ZerologProvider.
type ZerologOption func(*zerologConfig)

type zerologConfig struct {
	w       io.Writer
	console bool
}

// WithWriter sets the output destination (stderr by default).
func WithWriter(w io.Writer) ZerologOption {
	return func(c *zerologConfig) { c.w = w }
}

// WithConsoleFormat switches to zerolog's human readable console writer.
func WithConsoleFormat() ZerologOption {
	return func(c *zerologConfig) { c.console = true }
}

// NewZerologProvider creates a provider with the given minimum level. It also
// routes pkg/errors warnings into the same output.
func NewZerologProvider(level slog.Level, opts ...ZerologOption) *ZerologProvider {
	cfg := zerologConfig{w: os.Stderr}
	for _, opt := range opts {
		opt(&cfg)
	}

	w := cfg.w
	if cfg.console {
		w = zerolog.ConsoleWriter{Out: cfg.w, TimeFormat: time.RFC3339}
	}

	p := &ZerologProvider{
		base:  zerolog.New(w).With().Timestamp().Logger(),
		level: toZerologLevel(Level(level)),
	}
	pverrors.SetZerologWarnFunc(p.warn)
	return p
}

func (p *ZerologProvider) warn(w error) {
	p.mu.RLock()
	zl := p.base.Level(p.level)
	ev := zl.Warn()
	p.mu.RUnlock()
	if m, ok := w.(zerolog.LogObjectMarshaler); ok {
		ev = ev.Object("warning", m)
	}
	ev.Msg(w.Error())
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *ZerologProvider) GetLogger() Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &ZerologLogger{zl: p.base.Level(p.level)}
}

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return p.GetLogger().With(ComponentKey, name)
}

// SetLevel implements LoggerProvider.SetLevel.
func (p *ZerologProvider) SetLevel(level Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = toZerologLevel(level)
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// ZerologLogger adapts zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	zl zerolog.Logger
}

func (l *ZerologLogger) Debug(msg string, fields ...any) { emit(l.zl.Debug(), msg, fields) }
func (l *ZerologLogger) Info(msg string, fields ...any) { emit(l.zl.Info(), msg, fields) }
func (l *ZerologLogger) Warn(msg string, fields ...any) { emit(l.zl.Warn(), msg, fields) }
func (l *ZerologLogger) Error(msg string, fields ...any) { emit(l.zl.Error(), msg, fields) }

// With implements Logger.With.
func (l *ZerologLogger) With(fields ...any) Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		switch v := fields[i+1].(type) {
		case error:
			ctx = ctx.AnErr(key, v)
		case string:
			ctx = ctx.Str(key, v)
		case int:
			ctx = ctx.Int(key, v)
		default:
			ctx = ctx.Interface(key, v)
		}
	}
	return &ZerologLogger{zl: ctx.Logger()}
}

// Enabled implements Logger.Enabled.
func (l *ZerologLogger) Enabled(_ context.Context, level Level) bool {
	return toZerologLevel(level) >= l.zl.GetLevel()
}

func emit(ev *zerolog.Event, msg string, fields []any) {
	if ev == nil {
		return
	}
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			ev = ev.Err(err)
			if st := extractStacktrace(err); st != "" {
				ev = ev.Str(StacktraceKey, st)
			}
			fields = fields[1:]
		}
	}
	for i := 0; i < len(fields); i += 2 {
		if i+1 >= len(fields) {
			ev = ev.Interface("!BADKEY", fields[i])
			break
		}
		key := fmt.Sprint(fields[i])
		switch v := fields[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case zerolog.LogObjectMarshaler:
			ev = ev.Object(key, v)
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case float64:
			ev = ev.Float64(key, v)
		case []string:
			ev = ev.Strs(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
