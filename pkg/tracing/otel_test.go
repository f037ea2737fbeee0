package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitializeDisabled(t *testing.T) {
	cfg := DefaultConfig("stock-ledger-test")
	cfg.Enabled = false

	provider, err := Initialize(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, provider)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), Sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), Sampler(0).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), Sampler(0.25).Description())
}

func TestTracedOperationRecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	_, err := TracedOperation(context.Background(), tracer, "StockService.LogUsage", func(context.Context) (int, error) {
		return 0, errors.New("insufficient stock")
	})
	require.Error(t, err)

	got, err := TracedOperation(context.Background(), tracer, "StockService.AddStock", func(context.Context) (int, error) {
		return 40, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 40, got)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "StockService.LogUsage", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}
