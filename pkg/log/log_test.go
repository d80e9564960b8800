package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	pverrors "github.com/YuminosukeSato/pvtrain/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestLogger_Levels(t *testing.T) {
	logger, _ := NewTestLogger(LevelInfo)

	logger.Debug("hidden debug")
	logger.Info("generator eligible", GeneratorKey, "GenA", SamplesKey, 50)
	logger.Warn("artifact missing", ArtifactKey, "tuned_GenA")
	logger.Error("fit failed", fmt.Errorf("singular"), StrategyKey, "stacking")

	assert.False(t, logger.ContainsMessage("hidden debug"))
	assert.True(t, logger.ContainsMessage("generator eligible"))
	assert.True(t, logger.ContainsField(GeneratorKey, "GenA"))
	assert.True(t, logger.ContainsField(SamplesKey, 50.0))
	assert.True(t, logger.ContainsField(ErrAttrKey, "singular"))

	entries, err := logger.GetLogEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestTestLogger_WithSharesBuffer(t *testing.T) {
	logger, buf := NewTestLogger(LevelDebug)
	child := logger.With(RunIDKey, "run-1")
	child.Info("started")

	assert.Contains(t, buf.String(), `"run.id":"run-1"`)
	assert.True(t, logger.ContainsField(RunIDKey, "run-1"))
	assert.True(t, child.Enabled(context.Background(), LevelDebug))
}

func TestZerologProvider_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewZerologProvider(slog.LevelInfo, WithWriter(&buf))
	defer pverrors.SetZerologWarnFunc(nil)

	logger := p.GetLoggerWithName("pipeline").With(RunIDKey, "abc")
	logger.Debug("should not appear")
	logger.Info("generator evaluated", GeneratorKey, "GenB", R2ScoreKey, 0.93)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "generator evaluated", entry["message"])
	assert.Equal(t, "pipeline", entry[ComponentKey])
	assert.Equal(t, "abc", entry[RunIDKey])
	assert.Equal(t, "GenB", entry[GeneratorKey])
	assert.InDelta(t, 0.93, entry[R2ScoreKey], 1e-12)
}

func TestZerologProvider_ErrorCarriesStack(t *testing.T) {
	var buf bytes.Buffer
	p := NewZerologProvider(slog.LevelDebug, WithWriter(&buf))
	defer pverrors.SetZerologWarnFunc(nil)

	p.GetLogger().Error("unit failed", pverrors.NewValueError("Fit", "empty"))
	assert.Contains(t, buf.String(), `"error":"pvtrain: Fit: empty"`)
}

func TestZerologProvider_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	p := NewZerologProvider(slog.LevelError, WithWriter(&buf))
	defer pverrors.SetZerologWarnFunc(nil)

	assert.False(t, p.GetLogger().Enabled(context.Background(), LevelInfo))
	p.SetLevel(LevelDebug)
	assert.True(t, p.GetLogger().Enabled(context.Background(), LevelDebug))
}

func TestZerologProvider_RoutesWarnings(t *testing.T) {
	var buf bytes.Buffer
	NewZerologProvider(slog.LevelInfo, WithWriter(&buf))
	defer pverrors.SetZerologWarnFunc(nil)

	pverrors.Warn(pverrors.NewUndefinedMetricWarning("mape", "all targets are zero", 0))
	assert.Contains(t, buf.String(), "UndefinedMetricWarning")
}

func TestSlogProvider(t *testing.T) {
	var buf bytes.Buffer
	p := NewSlogProvider(slog.LevelInfo, &buf)

	p.GetLoggerWithName("report").Error("write failed", pverrors.New("disk full"), "path", "/tmp/x")
	out := buf.String()
	assert.Contains(t, out, `"message":"write failed"`)
	assert.Contains(t, out, `"severity":"ERROR"`)
	assert.Contains(t, out, StacktraceAttrKey)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Panics(t, func() { ToLogLevel("verbose") })
}

func TestGlobalProvider(t *testing.T) {
	p, _ := NewTestLoggerProvider(LevelDebug)
	SetProvider(p)
	defer SetProvider(nil)

	GetLoggerWithName("selection").Info("step", StepKey, 8)
	assert.True(t, p.Logger().ContainsField(ComponentKey, "selection"))
	assert.True(t, p.Logger().ContainsField(StepKey, 8.0))
}
