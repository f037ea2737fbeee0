package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sitestock/stock-ledger/pkg/cloudevents"
	"github.com/sitestock/stock-ledger/pkg/logging"
)

// fetchRetryDelay spaces out fetches while the broker is unreachable
const fetchRetryDelay = time.Second

// EventHandler is a function that handles a CloudEvent
type EventHandler func(ctx context.Context, event *cloudevents.CloudEvent) error

// LagFunc receives the per-partition lag observed after each fetch
type LagFunc func(topic string, partition int, lag int64)

// Consumer handles consuming messages from Kafka topics
type Consumer struct {
	config   *Config
	mu       sync.Mutex
	readers  map[string]*kafka.Reader
	handlers map[string]map[string]EventHandler // topic -> eventType -> handler
	logger   *logging.Logger
	onLag    LagFunc
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(config *Config, logger *logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Consumer{
		config:   config,
		readers:  make(map[string]*kafka.Reader),
		handlers: make(map[string]map[string]EventHandler),
		logger:   logger.WithComponent("kafka-consumer"),
	}
}

// Subscribe subscribes to a topic with a handler for a specific event type.
// Subscriptions must be registered before Start.
func (c *Consumer) Subscribe(topic string, eventType string, handler EventHandler) {
	if _, exists := c.handlers[topic]; !exists {
		c.handlers[topic] = make(map[string]EventHandler)
	}
	c.handlers[topic][eventType] = handler
}

// OnLag registers a callback for consumer lag
func (c *Consumer) OnLag(fn LagFunc) {
	c.onLag = fn
}

// getReader returns a reader for the specified topic, creating one if necessary
func (c *Consumer) getReader(topic string) *kafka.Reader {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reader, exists := c.readers[topic]; exists {
		return reader
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.config.Brokers,
		GroupID:        c.config.ConsumerGroup,
		Topic:          topic,
		MinBytes:       c.config.MinBytes,
		MaxBytes:       c.config.MaxBytes,
		MaxWait:        c.config.MaxWait,
		CommitInterval: c.config.CommitTimeout,
	})

	c.readers[topic] = reader
	return reader
}

// Start consumes every subscribed topic until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	for topic := range c.handlers {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			c.consumeTopic(ctx, topic)
		}(topic)
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// consumeTopic consumes messages from a single topic
func (c *Consumer) consumeTopic(ctx context.Context, topic string) {
	reader := c.getReader(topic)

	c.logger.Info("Starting consumer for topic", "topic", topic, "group", c.config.ConsumerGroup)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Stopping consumer for topic", "topic", topic)
				return
			}
			c.logger.Error("Error fetching message", "topic", topic, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		if c.onLag != nil && msg.HighWaterMark > 0 {
			c.onLag(topic, msg.Partition, msg.HighWaterMark-msg.Offset-1)
		}

		event, err := ParseMessage(msg)
		if err != nil {
			c.logger.Error("Error parsing message", "topic", topic, "offset", msg.Offset, "error", err)
			// Commit the message anyway to avoid blocking the partition
			if commitErr := reader.CommitMessages(ctx, msg); commitErr != nil {
				c.logger.Error("Error committing message", "topic", topic, "error", commitErr)
			}
			continue
		}

		eventCtx := eventContext(ctx, event)
		c.logger.KafkaConsume(eventCtx, topic, event.Type, msg.Partition, msg.Offset)

		if err := c.handleEvent(eventCtx, topic, event); err != nil {
			c.logger.WithContext(eventCtx).Error("Error handling event",
				"topic", topic,
				"eventType", event.Type,
				"eventId", event.ID,
				"error", err,
			)
			// Not committed: redelivered after the next rebalance or restart
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Error committing message", "topic", topic, "error", err)
		}
	}
}

// ParseMessage decodes a structured-mode CloudEvent. Extension headers override
// the body so binary-mode producers are understood too.
func ParseMessage(msg kafka.Message) (*cloudevents.CloudEvent, error) {
	var event cloudevents.CloudEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	for _, header := range msg.Headers {
		switch header.Key {
		case "ce-correlationid":
			event.CorrelationID = string(header.Value)
		case "ce-actorid":
			event.ActorID = string(header.Value)
		case "ce-traceparent":
			event.TraceParent = string(header.Value)
		case "ce-tracestate":
			event.TraceState = string(header.Value)
		}
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}

// eventContext enriches ctx with the event's correlation, actor and trace context
func eventContext(ctx context.Context, event *cloudevents.CloudEvent) context.Context {
	correlationID := event.CorrelationID
	if correlationID == "" {
		correlationID = event.ID
	}
	ctx = logging.ContextWithCorrelationID(ctx, correlationID)
	if event.ActorID != "" {
		ctx = logging.ContextWithActorID(ctx, event.ActorID)
	}
	return event.TraceContext(ctx)
}

// handleEvent routes an event to the appropriate handler
func (c *Consumer) handleEvent(ctx context.Context, topic string, event *cloudevents.CloudEvent) error {
	handlers, exists := c.handlers[topic]
	if !exists {
		return fmt.Errorf("no handlers registered for topic %s", topic)
	}

	if handler, exists := handlers[event.Type]; exists {
		return handler(ctx, event)
	}

	// committed and skipped; procurement shares these topics with other readers
	c.logger.Warn("No handler found for event type", "topic", topic, "eventType", event.Type)
	return nil
}

// Close closes all readers
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for topic, reader := range c.readers {
		if err := reader.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close reader for topic %s: %w", topic, err)
		}
	}
	return lastErr
}
