package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sitestock/stock-ledger/pkg/errors"
	"github.com/sitestock/stock-ledger/pkg/logging"
)

// Context keys
const (
	ContextKeyRequestID     = "requestId"
	ContextKeyCorrelationID = "correlationId"
	ContextKeyTraceID       = "traceId"
)

// HTTP header names
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// quietPaths are probed often and not worth a log line
var quietPaths = map[string]bool{"/health": true, "/ready": true, "/metrics": true}

// propagateID echoes the header, or a fresh UUID, back to the client and into
// both the gin and the request context
func propagateID(header, key string, into func(context.Context, string) context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(header)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(key, id)
		c.Header(header, id)
		c.Request = c.Request.WithContext(into(c.Request.Context(), id))
		c.Next()
	}
}

// RequestID identifies one HTTP exchange
func RequestID() gin.HandlerFunc {
	return propagateID(HeaderRequestID, ContextKeyRequestID, logging.ContextWithRequestID)
}

// CorrelationID follows a business operation from the API through the outbox
// into downstream consumers
func CorrelationID() gin.HandlerFunc {
	return propagateID(HeaderCorrelationID, ContextKeyCorrelationID, logging.ContextWithCorrelationID)
}

// Logger writes one line per request at a level chosen by status class
func Logger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if quietPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		status := c.Writer.Status()

		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"latencyMs", time.Since(start).Milliseconds(),
			"clientIP", c.ClientIP(),
			"requestId", GetRequestID(c),
			"correlationId", GetCorrelationID(c),
		}
		for _, extra := range [][2]string{
			{"actorId", GetActorID(c)},
			{"traceId", GetTraceID(c)},
			{"query", c.Request.URL.RawQuery},
		} {
			if extra[1] != "" {
				attrs = append(attrs, extra[0], extra[1])
			}
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "HTTP request", attrs...)
	}
}

// Recovery turns a panic into a 500 INTERNAL_ERROR response
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered",
					"panic", r,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"requestId", GetRequestID(c),
				)
				AbortWithAppError(c, errors.ErrInternal("An unexpected error occurred"))
			}
		}()
		c.Next()
	}
}

// GetRequestID returns the request ID set by RequestID
func GetRequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

// GetCorrelationID returns the correlation ID set by CorrelationID
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(ContextKeyCorrelationID)
}

// GetTraceID returns the trace ID set by Tracing
func GetTraceID(c *gin.Context) string {
	return c.GetString(ContextKeyTraceID)
}
