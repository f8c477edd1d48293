package logger

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"btc-agent-swarm/internal/trace"
)

var (
	// Global logger instance. A no-op logger until Init is called.
	globalLogger atomic.Pointer[zap.Logger]
	// Whether detailed (debug) logging is enabled
	detailedLogging atomic.Bool
)

func init() {
	globalLogger.Store(zap.NewNop())
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level           string // DEBUG, INFO, WARN, ERROR
	Format          string // json or console
	DetailedLogging bool   // Enable debug logs and caller info
	ServiceName     string
	File            string // Optional rotated JSON log file
	MaxSizeMB       int
	MaxBackups      int
	MaxAgeDays      int
}

// Init initializes the global logger based on environment variables
func Init() error {
	return InitWithConfig(LoadConfigFromEnv())
}

// LoadConfigFromEnv loads logging configuration from environment variables
func LoadConfigFromEnv() LogConfig {
	return LogConfig{
		Level:           getEnvOrDefault("LOG_LEVEL", "INFO"),
		Format:          getEnvOrDefault("LOG_FORMAT", "json"),
		DetailedLogging: getEnvOrDefault("LOG_DETAILED", "false") == "true",
		ServiceName:     getEnvOrDefault("LOG_SERVICE_NAME", "btc-agent-swarm"),
		File:            os.Getenv("LOG_FILE"),
		MaxSizeMB:       100,
		MaxBackups:      5,
		MaxAgeDays:      14,
	}
}

// InitWithConfig initializes the logger with specific configuration
func InitWithConfig(config LogConfig) error {
	detailedLogging.Store(config.DetailedLogging)

	level := zap.NewAtomicLevelAt(parseLogLevel(config.Level))
	if config.DetailedLogging {
		level.SetLevel(zapcore.DebugLevel)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(config.Format), zapcore.Lock(os.Stdout), level),
	}

	if config.File != "" {
		// File output is always JSON
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(newEncoder("json"), fileWriter, level))
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if config.DetailedLogging {
		opts = append(opts, zap.AddCaller())
	}

	l := zap.New(zapcore.NewTee(cores...), opts...)
	if config.ServiceName != "" {
		l = l.Named(config.ServiceName)
	}
	globalLogger.Store(l)
	zap.ReplaceGlobals(l)
	return nil
}

// SetForTest installs l as the global logger and returns a restore func.
func SetForTest(l *zap.Logger) func() {
	prev := globalLogger.Swap(l)
	prevDetailed := detailedLogging.Swap(true)
	return func() {
		globalLogger.Store(prev)
		detailedLogging.Store(prevDetailed)
	}
}

// Sync flushes buffered log entries
func Sync() {
	_ = globalLogger.Load().Sync()
}

// Zap returns the underlying logger, named for a component
func Zap(name string) *zap.Logger {
	return globalLogger.Load().Named(name)
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.ToLower(format) == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// parseLogLevel converts string log level to a zap level
func parseLogLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getTraceAttrs extracts trace ID and span ID from context for logging
func getTraceAttrs(ctx context.Context) []any {
	traceID, spanID, ok := trace.GetTraceFields(ctx)
	if !ok {
		return nil
	}
	return []any{"trace_id", traceID, "span_id", spanID}
}

// Debug logs a debug message
func Debug(ctx context.Context, msg string, args ...any) {
	if !detailedLogging.Load() {
		return
	}
	logWithTrace(ctx, zapcore.DebugLevel, msg, 2, args...)
}

// Info logs an info message
func Info(ctx context.Context, msg string, args ...any) {
	logWithTrace(ctx, zapcore.InfoLevel, msg, 2, args...)
}

// Warn logs a warning message
func Warn(ctx context.Context, msg string, args ...any) {
	logWithTrace(ctx, zapcore.WarnLevel, msg, 2, args...)
}

// Error logs an error message
func Error(ctx context.Context, msg string, args ...any) {
	logWithTrace(ctx, zapcore.ErrorLevel, msg, 2, args...)
}

// ErrorWithErr logs an error message with an error object
func ErrorWithErr(ctx context.Context, msg string, err error, args ...any) {
	recordSpanError(ctx, err)
	logWithTrace(ctx, zapcore.ErrorLevel, msg, 2, append([]any{"error", err}, args...)...)
}

// DebugSkip is Debug for middleware wrappers; skip extra frames so the
// reported caller is the wrapped call site.
func DebugSkip(ctx context.Context, skip int, msg string, args ...any) {
	if !detailedLogging.Load() {
		return
	}
	logWithTrace(ctx, zapcore.DebugLevel, msg, 2+skip, args...)
}

// InfoSkip is Info for middleware wrappers
func InfoSkip(ctx context.Context, skip int, msg string, args ...any) {
	logWithTrace(ctx, zapcore.InfoLevel, msg, 2+skip, args...)
}

// ErrorWithErrSkip is ErrorWithErr for middleware wrappers
func ErrorWithErrSkip(ctx context.Context, skip int, msg string, err error, args ...any) {
	recordSpanError(ctx, err)
	logWithTrace(ctx, zapcore.ErrorLevel, msg, 2+skip, append([]any{"error", err}, args...)...)
}

func recordSpanError(ctx context.Context, err error) {
	if err == nil || !trace.Enabled() {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// logWithTrace logs a message with trace ID and span ID if available.
// skip is the number of frames between the caller and this function.
func logWithTrace(ctx context.Context, level zapcore.Level, msg string, skip int, args ...any) {
	if traceAttrs := getTraceAttrs(ctx); traceAttrs != nil {
		args = append(traceAttrs, args...)
	}

	sugar := globalLogger.Load().WithOptions(zap.AddCallerSkip(skip)).Sugar()
	switch level {
	case zapcore.DebugLevel:
		sugar.Debugw(msg, args...)
	case zapcore.WarnLevel:
		sugar.Warnw(msg, args...)
	case zapcore.ErrorLevel:
		sugar.Errorw(msg, args...)
	default:
		sugar.Infow(msg, args...)
	}
}

// OperationTimer helps measure operation duration with OpenTelemetry spans
type OperationTimer struct {
	ctx    context.Context
	span   oteltrace.Span
	start  time.Time
	fields []any
}

// StartOperation starts timing an operation with an OpenTelemetry span
func StartOperation(ctx context.Context, operation string, fields ...any) *OperationTimer {
	ctx, span := trace.StartSpan(ctx, operation)
	if trace.Enabled() {
		span.SetAttributes(toAttributes(fields)...)
	}

	Debug(ctx, "Operation started", append([]any{"operation", operation}, fields...)...)

	return &OperationTimer{
		ctx:    ctx,
		span:   span,
		start:  time.Now(),
		fields: fields,
	}
}

// End completes the operation timer and logs the duration
func (ot *OperationTimer) End(additionalFields ...any) {
	duration := time.Since(ot.start)

	if trace.Enabled() {
		ot.span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		ot.span.SetAttributes(toAttributes(additionalFields)...)
		ot.span.SetStatus(codes.Ok, "completed")
	}
	ot.span.End()

	fields := append(append([]any{}, ot.fields...), "duration_ms", duration.Milliseconds())
	Debug(ot.ctx, "Operation completed", append(fields, additionalFields...)...)
}

// EndWithError completes the operation timer with an error
func (ot *OperationTimer) EndWithError(err error, additionalFields ...any) {
	duration := time.Since(ot.start)

	if trace.Enabled() {
		ot.span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		ot.span.RecordError(err)
		ot.span.SetStatus(codes.Error, err.Error())
	}
	ot.span.End()

	fields := append(append([]any{}, ot.fields...), "duration_ms", duration.Milliseconds(), "error", err)
	Error(ot.ctx, "Operation failed", append(fields, additionalFields...)...)
}

// GetContext returns the context with the span
func (ot *OperationTimer) GetContext() context.Context {
	return ot.ctx
}

func toAttributes(fields []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch v := fields[i+1].(type) {
		case string:
			attrs = append(attrs, attribute.String(key, v))
		case int:
			attrs = append(attrs, attribute.Int(key, v))
		case int64:
			attrs = append(attrs, attribute.Int64(key, v))
		case float64:
			attrs = append(attrs, attribute.Float64(key, v))
		case bool:
			attrs = append(attrs, attribute.Bool(key, v))
		}
	}
	return attrs
}

func addSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if !trace.Enabled() {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent(name, oteltrace.WithAttributes(attrs...))
	}
}

// Decision logs an agent recommendation (always logged regardless of level)
func Decision(ctx context.Context, agentID, action string, confidence float64, reason string, fields ...any) {
	addSpanEvent(ctx, "agent_decision",
		attribute.String("agent_id", agentID),
		attribute.String("action", action),
		attribute.Float64("confidence", confidence),
	)

	allFields := append([]any{
		"type", "DECISION",
		"agent_id", agentID,
		"action", action,
		"confidence", confidence,
		"reason", reason,
	}, fields...)
	logWithTrace(ctx, zapcore.InfoLevel, "Agent decision made", 2, allFields...)
}

// Trade logs a trade execution (always logged regardless of level)
func Trade(ctx context.Context, side string, margin int64, leverage float64, price float64, positionID string, fields ...any) {
	addSpanEvent(ctx, "trade_executed",
		attribute.String("side", side),
		attribute.Int64("margin", margin),
		attribute.Float64("leverage", leverage),
		attribute.Float64("price", price),
		attribute.String("position_id", positionID),
	)

	allFields := append([]any{
		"type", "TRADE",
		"side", side,
		"margin", margin,
		"leverage", leverage,
		"price", price,
		"position_id", positionID,
	}, fields...)
	logWithTrace(ctx, zapcore.InfoLevel, "Trade executed", 2, allFields...)
}

// Risk logs a risk management event
func Risk(ctx context.Context, eventType string, fields ...any) {
	addSpanEvent(ctx, "risk_event", attribute.String("event_type", eventType))

	allFields := append([]any{
		"type", "RISK",
		"event_type", eventType,
	}, fields...)
	logWithTrace(ctx, zapcore.WarnLevel, "Risk event", 2, allFields...)
}

// IsDebugEnabled returns whether debug logging is enabled
func IsDebugEnabled() bool {
	return detailedLogging.Load()
}
