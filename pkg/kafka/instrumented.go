package kafka

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/sitestock/stock-ledger/pkg/cloudevents"
	"github.com/sitestock/stock-ledger/pkg/logging"
	"github.com/sitestock/stock-ledger/pkg/metrics"
)

// EventPublisher is satisfied by every producer layer in this package
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, event *cloudevents.CloudEvent) error
	Close() error
}

// startSpan opens a messaging span describing event on topic
func startSpan(ctx context.Context, tracer trace.Tracer, name string, kind trace.SpanKind, operation, topic string, event *cloudevents.CloudEvent, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		semconv.MessagingSystemKey.String("kafka"),
		semconv.MessagingDestinationNameKey.String(topic),
		semconv.MessagingOperationKey.String(operation),
		attribute.String("messaging.kafka.event_type", event.Type),
		attribute.String("messaging.message_id", event.ID),
	}
	for key, value := range map[string]string{
		"correlation.id":      event.CorrelationID,
		"actor.id":            event.ActorID,
		"cloudevents.subject": event.Subject,
	} {
		if value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}
	return tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(append(attrs, extra...)...))
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// InstrumentedProducer traces, times and logs each publish
type InstrumentedProducer struct {
	producer EventPublisher
	metrics  *metrics.Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewInstrumentedProducer wraps producer. m and logger may be nil.
func NewInstrumentedProducer(producer EventPublisher, m *metrics.Metrics, logger *logging.Logger) *InstrumentedProducer {
	return &InstrumentedProducer{producer: producer, metrics: m, logger: logger, tracer: otel.Tracer("kafka-producer")}
}

func (p *InstrumentedProducer) PublishEvent(ctx context.Context, topic string, event *cloudevents.CloudEvent) error {
	start := time.Now()
	ctx, span := startSpan(ctx, p.tracer, "kafka.publish", trace.SpanKindProducer, "publish", topic, event)

	err := p.producer.PublishEvent(ctx, topic, event)
	duration := time.Since(start)

	if p.metrics != nil {
		p.metrics.RecordKafkaPublish(topic, event.Type, err == nil, duration)
	}
	if p.logger != nil {
		p.logger.KafkaPublish(ctx, topic, event.Type, err == nil, duration)
	}
	finishSpan(span, err)
	return err
}

func (p *InstrumentedProducer) Close() error {
	return p.producer.Close()
}

// InstrumentedConsumer traces each handled event and reports lag and outcomes
type InstrumentedConsumer struct {
	consumer *Consumer
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func NewInstrumentedConsumer(consumer *Consumer, m *metrics.Metrics) *InstrumentedConsumer {
	if m != nil {
		consumer.OnLag(m.SetKafkaConsumerLag)
	}
	return &InstrumentedConsumer{consumer: consumer, metrics: m, tracer: otel.Tracer("kafka-consumer")}
}

// Subscribe registers handler for eventType on topic. The span it opens is a
// child of the producer's trace, which the Consumer restores from the event.
func (c *InstrumentedConsumer) Subscribe(topic string, eventType string, handler EventHandler) {
	group := attribute.String("messaging.kafka.consumer_group", c.consumer.config.ConsumerGroup)

	c.consumer.Subscribe(topic, eventType, func(ctx context.Context, event *cloudevents.CloudEvent) error {
		ctx, span := startSpan(ctx, c.tracer, "kafka.consume", trace.SpanKindConsumer, "receive", topic, event, group)
		err := handler(ctx, event)
		if c.metrics != nil {
			c.metrics.RecordKafkaConsume(topic, event.Type, err == nil)
		}
		finishSpan(span, err)
		return err
	})
}

func (c *InstrumentedConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *InstrumentedConsumer) Close() error {
	return c.consumer.Close()
}
