package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(SetForTest(zap.New(core)))
	return logs
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"Error", zapcore.ErrorLevel},
		{"info", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), tt.in)
	}
}

func TestToAttributesSkipsUnsupported(t *testing.T) {
	attrs := toAttributes([]any{
		"agent", "risk_manager",
		"count", 3,
		42, "ignored",
		"margin", int64(5000),
		"price", 60000.5,
		"ok", true,
		"odd", struct{}{},
		"dangling",
	})

	assert.Equal(t, []attribute.KeyValue{
		attribute.String("agent", "risk_manager"),
		attribute.Int("count", 3),
		attribute.Int64("margin", 5000),
		attribute.Float64("price", 60000.5),
		attribute.Bool("ok", true),
	}, attrs)
}

func TestOperationTimerLogs(t *testing.T) {
	logs := observe(t)

	op := StartOperation(context.Background(), "consensus.propose", "direction", "long")
	require.NotNil(t, op.GetContext())
	op.End("approved", true)

	failed := StartOperation(context.Background(), "exchange.open")
	failed.EndWithError(errors.New("insufficient margin"))

	started := logs.FilterMessage("Operation started").All()
	require.Len(t, started, 2)
	assert.Equal(t, "consensus.propose", started[0].ContextMap()["operation"])

	completed := logs.FilterMessage("Operation completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, "long", completed[0].ContextMap()["direction"])
	assert.Equal(t, true, completed[0].ContextMap()["approved"])
	assert.Contains(t, completed[0].ContextMap(), "duration_ms")

	failures := logs.FilterMessage("Operation failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zapcore.ErrorLevel, failures[0].Level)
	assert.Equal(t, "insufficient margin", failures[0].ContextMap()["error"])
}

func TestSetForTestRestores(t *testing.T) {
	before := globalLogger.Load()
	restore := SetForTest(zap.NewNop())
	assert.NotSame(t, before, globalLogger.Load())
	restore()
	assert.Same(t, before, globalLogger.Load())
}
