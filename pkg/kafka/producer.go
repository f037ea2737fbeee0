package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sitestock/stock-ledger/pkg/cloudevents"
)

// Producer writes CloudEvents to Kafka with one synchronous writer per topic
type Producer struct {
	config *Config

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewProducer(config *Config) *Producer {
	return &Producer{config: config, writers: map[string]*kafka.Writer{}}
}

func (p *Producer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:         kafka.TCP(p.config.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    p.config.BatchSize,
			BatchTimeout: p.config.BatchTimeout,
			RequiredAcks: kafka.RequiredAcks(p.config.RequiredAcks),
		}
		p.writers[topic] = w
	}
	return w
}

// NewMessage encodes event in structured mode and repeats its attributes as
// ce- headers. The subject is the message key, so the events of one stock key
// or transfer keep their order within a partition.
func NewMessage(event *cloudevents.CloudEvent) (kafka.Message, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	headers := []kafka.Header{
		{Key: "ce-specversion", Value: []byte(event.SpecVersion)},
		{Key: "ce-type", Value: []byte(event.Type)},
		{Key: "ce-source", Value: []byte(event.Source)},
		{Key: "ce-id", Value: []byte(event.ID)},
		{Key: "ce-time", Value: []byte(event.Time.Format(time.RFC3339))},
		{Key: "content-type", Value: []byte(event.DataContentType)},
	}
	for key, value := range map[string]string{
		"ce-correlationid": event.CorrelationID,
		"ce-actorid":       event.ActorID,
		"ce-traceparent":   event.TraceParent,
		"ce-tracestate":    event.TraceState,
	} {
		if value != "" {
			headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
		}
	}

	return kafka.Message{Key: []byte(event.Subject), Value: body, Headers: headers, Time: event.Time}, nil
}

// PublishEvent blocks until the broker acknowledges the event
func (p *Producer) PublishEvent(ctx context.Context, topic string, event *cloudevents.CloudEvent) error {
	msg, err := NewMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer(topic).WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", event.Type, topic, err)
	}
	return nil
}

// Close flushes and closes every writer, returning the first failure
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var first error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil && first == nil {
			first = fmt.Errorf("failed to close writer for %s: %w", topic, err)
		}
	}
	return first
}
