package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/sitestock/stock-ledger/pkg/logging"
)

// Tracing opens a server span per request, continuing any W3C trace the
// caller sent. The span carries the request, correlation and actor IDs.
func Tracing(serviceName string) gin.HandlerFunc {
	tracer := otel.Tracer(serviceName)

	return func(c *gin.Context) {
		if quietPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		parent := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(parent, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethodKey.String(c.Request.Method),
				semconv.HTTPRouteKey.String(route),
				attribute.String("request.id", GetRequestID(c)),
				attribute.String("correlation.id", GetCorrelationID(c)),
				attribute.String("actor.id", c.GetHeader(HeaderActorID)),
			),
		)
		defer span.End()

		traceID := span.SpanContext().TraceID().String()
		c.Set(ContextKeyTraceID, traceID)
		c.Request = c.Request.WithContext(logging.ContextWithTraceID(ctx, traceID))

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(status))
		for _, ginErr := range c.Errors {
			span.RecordError(ginErr.Err)
		}
		if status >= 500 {
			span.SetStatus(codes.Error, "HTTP "+strconv.Itoa(status))
		}
	}
}
