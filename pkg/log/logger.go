package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger installs a JSON slog handler with stacktrace extraction as the
// process-wide slog default.
func SetupLogger(loglevel string) {
	slog.SetDefault(slog.New(newSlogHandler(os.Stdout, ToLogLevel(loglevel))))
}

func newSlogHandler(w io.Writer, level slog.Level) slog.Handler {
	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				attr = slog.Attr{Key: "severity", Value: attr.Value}
			case slog.MessageKey:
				attr = slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	}
	return WrapByErrFmtHandler(slog.NewJSONHandler(w, &ops))
}

// ParseLevel converts a textual level into a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info", "":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", level)
	}
}

// ToLogLevel is ParseLevel for trusted input; it panics on an unknown level.
func ToLogLevel(level string) slog.Level {
	l, err := ParseLevel(level)
	if err != nil {
		panic(err.Error())
	}
	return l
}

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}

// SlogProvider serves Loggers backed by log/slog.
type SlogProvider struct {
	w     io.Writer
	level *slog.LevelVar
}

// NewSlogProvider creates a provider writing JSON records to w.
func NewSlogProvider(level slog.Level, w io.Writer) *SlogProvider {
	lv := new(slog.LevelVar)
	lv.Set(level)
	return &SlogProvider{w: w, level: lv}
}

func (p *SlogProvider) GetLogger() Logger {
	return &slogLogger{l: slog.New(newSlogHandler(p.w, p.level.Level()))}
}

func (p *SlogProvider) GetLoggerWithName(name string) Logger {
	return p.GetLogger().With(ComponentKey, name)
}

func (p *SlogProvider) SetLevel(level Level) {
	p.level.Set(slog.Level(level))
}

type slogLogger struct {
	l *slog.Logger
}

func (s *slogLogger) Debug(msg string, fields ...any) { s.l.Debug(msg, slogArgs(fields)...) }
func (s *slogLogger) Info(msg string, fields ...any) { s.l.Info(msg, slogArgs(fields)...) }
func (s *slogLogger) Warn(msg string, fields ...any) { s.l.Warn(msg, slogArgs(fields)...) }
func (s *slogLogger) Error(msg string, fields ...any) { s.l.Error(msg, slogArgs(fields)...) }

func (s *slogLogger) With(fields ...any) Logger {
	return &slogLogger{l: s.l.With(slogArgs(fields)...)}
}

func (s *slogLogger) Enabled(ctx context.Context, level Level) bool {
	return s.l.Enabled(ctx, slog.Level(level))
}

// slogArgs turns a leading bare error into an ErrAttr so the handler can
// attach its stacktrace.
func slogArgs(fields []any) []any {
	if len(fields) == 0 {
		return fields
	}
	if err, ok := fields[0].(error); ok {
		out := make([]any, 0, len(fields))
		out = append(out, ErrAttr(err))
		return append(out, fields[1:]...)
	}
	return fields
}
