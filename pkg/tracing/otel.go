// Package tracing sets up OpenTelemetry for the stock ledger processes and
// carries the span helpers the application layer uses.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceNamespace = "stockledger"

// Config holds tracing configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	Enabled        bool
}

// DefaultConfig samples every trace and exports to a local collector
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		Enabled:        true,
	}
}

// Initialize installs a global tracer provider that batches spans to the OTLP
// collector. It returns nil when tracing is disabled.
func Initialize(ctx context.Context, config *Config) (*sdktrace.TracerProvider, error) {
	if !config.Enabled {
		return nil, nil
	}

	conn, err := grpc.NewClient(config.OTLPEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial OTLP collector %s: %w", config.OTLPEndpoint, err)
	}

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithGRPCConn(conn)))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(config.ServiceName),
		semconv.ServiceVersionKey.String(config.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(config.Environment),
		semconv.ServiceNamespaceKey.String(serviceNamespace),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(Sampler(config.SampleRate))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider, nil
}

// Sampler maps a rate in [0, 1] to a root sampler
func Sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Tracer returns the named tracer from the global provider
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// TracedOperation runs operation inside a span and records its error
func TracedOperation[T any](ctx context.Context, tracer trace.Tracer, spanName string, operation func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	result, err := operation(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// StockKeySpanAttributes identifies the ledger row an operation touches
func StockKeySpanAttributes(name, location string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("stock.name", name),
		attribute.String("stock.location", location),
	}
}

// TransferSpanAttributes identifies the transfer a decision applies to
func TransferSpanAttributes(id, from, to string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("transfer.id", id),
		attribute.String("transfer.from", from),
		attribute.String("transfer.to", to),
	}
}
