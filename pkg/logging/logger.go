// Package logging is the ledger's JSON slog setup. Request, correlation,
// trace and actor IDs travel in the context and are added by WithContext.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ParseLevel maps debug, warn and error to their slog level; anything else is info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config holds logger configuration
type Config struct {
	Level       slog.Level
	ServiceName string
	Environment string
	Version     string
	Output      io.Writer
}

// DefaultConfig reads LOG_LEVEL, ENVIRONMENT and VERSION from the environment
func DefaultConfig(serviceName string) *Config {
	return &Config{
		Level:       ParseLevel(os.Getenv("LOG_LEVEL")),
		ServiceName: serviceName,
		Environment: envOr("ENVIRONMENT", "development"),
		Version:     envOr("VERSION", "unknown"),
		Output:      os.Stdout,
	}
}

// Logger wraps slog.Logger with the ledger's structured helpers
type Logger struct {
	*slog.Logger
}

func New(config *Config) *Logger {
	output := config.Output
	if output == nil {
		output = os.Stdout
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: config.Level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if t, ok := a.Value.Any().(time.Time); ok && a.Key == slog.TimeKey {
				a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	})

	return &Logger{Logger: slog.New(handler).With(
		"service", config.ServiceName,
		"environment", config.Environment,
		"version", config.Version,
	)}
}

// Nop discards everything below error, for tests
func Nop() *Logger {
	return New(&Config{ServiceName: "test", Output: io.Discard, Level: slog.LevelError})
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithContext adds the request, correlation, trace and actor IDs found in ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, string(key), v)
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return l.with(attrs...)
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return l.with(attrs...)
}

func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// Audit records a balance change or a transfer decision. Audit lines are
// always written at info.
func (l *Logger) Audit(ctx context.Context, action, resource, resourceID, actorID string, details map[string]any) {
	attrs := make([]any, 0, 8+len(details)*2)
	attrs = append(attrs,
		"auditAction", action,
		"resource", resource,
		"resourceId", resourceID,
		"actorId", actorID,
	)
	for k, v := range details {
		attrs = append(attrs, k, v)
	}
	l.WithContext(ctx).Info("Audit event", attrs...)
}

// DatabaseQuery logs a MongoDB operation; failures at error, the rest at debug
func (l *Logger) DatabaseQuery(ctx context.Context, collection, operation string, duration time.Duration, success bool) {
	l.outcome(ctx, success, "Database query",
		"collection", collection,
		"operation", operation,
		"durationMs", duration.Milliseconds(),
	)
}

// KafkaPublish logs a produced event; failures at error, the rest at debug
func (l *Logger) KafkaPublish(ctx context.Context, topic, eventType string, success bool, duration time.Duration) {
	l.outcome(ctx, success, "Kafka publish",
		"topic", topic,
		"eventType", eventType,
		"durationMs", duration.Milliseconds(),
	)
}

func (l *Logger) KafkaConsume(ctx context.Context, topic, eventType string, partition int, offset int64) {
	l.WithContext(ctx).Debug("Kafka consume",
		"topic", topic,
		"eventType", eventType,
		"partition", partition,
		"offset", offset,
	)
}

func (l *Logger) outcome(ctx context.Context, success bool, msg string, args ...any) {
	level := slog.LevelDebug
	if !success {
		level = slog.LevelError
	}
	l.WithContext(ctx).Log(ctx, level, msg, append(args, "success", success)...)
}

// SetDefault installs l as the process-wide slog logger
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

type contextKey string

const (
	RequestIDKey     contextKey = "requestId"
	CorrelationIDKey contextKey = "correlationId"
	TraceIDKey       contextKey = "traceId"
	ActorIDKey       contextKey = "actorId"
)

var contextKeys = []contextKey{RequestIDKey, CorrelationIDKey, TraceIDKey, ActorIDKey}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// ContextWithActorID records the site user performing the operation
func ContextWithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ActorIDKey, actorID)
}

func CorrelationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(CorrelationIDKey).(string)
	return v
}

func ActorIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ActorIDKey).(string)
	return v
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
