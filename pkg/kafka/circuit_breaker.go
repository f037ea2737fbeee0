package kafka

import (
	"context"
	"time"

	"github.com/sitestock/stock-ledger/pkg/cloudevents"
	"github.com/sitestock/stock-ledger/pkg/logging"
	"github.com/sitestock/stock-ledger/pkg/metrics"
	"github.com/sitestock/stock-ledger/pkg/resilience"
)

// CircuitBreakerProducer wraps a publisher with circuit breaker protection
type CircuitBreakerProducer struct {
	producer       EventPublisher
	circuitBreaker *resilience.CircuitBreaker
}

// ProducerBreakerConfig is the breaker used in front of the outbox producer
func ProducerBreakerConfig() *resilience.CircuitBreakerConfig {
	return &resilience.CircuitBreakerConfig{
		Name:                  "kafka-producer",
		MaxRequests:           5,
		Interval:              time.Minute,
		Timeout:               30 * time.Second,
		FailureThreshold:      5,
		FailureRatioThreshold: 0.5,
		MinRequestsToTrip:     10,
	}
}

// NewCircuitBreakerProducer creates a new circuit breaker protected Kafka producer
func NewCircuitBreakerProducer(producer EventPublisher, m *metrics.Metrics, logger *logging.Logger) *CircuitBreakerProducer {
	if logger == nil {
		logger = logging.Nop()
	}

	cb := resilience.NewCircuitBreaker(ProducerBreakerConfig(), logger.Logger, m)

	return &CircuitBreakerProducer{
		producer:       producer,
		circuitBreaker: cb,
	}
}

// PublishEvent publishes a CloudEvent with circuit breaker protection
func (p *CircuitBreakerProducer) PublishEvent(ctx context.Context, topic string, event *cloudevents.CloudEvent) error {
	_, err := p.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return nil, p.producer.PublishEvent(ctx, topic, event)
	})
	return err
}

// Close closes the underlying producer
func (p *CircuitBreakerProducer) Close() error {
	return p.producer.Close()
}

// NewProductionProducer creates a fully configured Kafka producer with instrumentation and circuit breaker
func NewProductionProducer(config *Config, m *metrics.Metrics, logger *logging.Logger) *CircuitBreakerProducer {
	instrumented := NewInstrumentedProducer(NewProducer(config), m, logger)
	return NewCircuitBreakerProducer(instrumented, m, logger)
}
