package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sitestock/stock-ledger/pkg/cloudevents"
)

// EventHandler handles a consumed CloudEvent. It is an alias so wrapped
// handlers can be passed straight to kafka.Consumer.Subscribe.
type EventHandler = func(ctx context.Context, event *cloudevents.CloudEvent) error

// DeduplicatingHandler skips events whose ID was already handled by this
// consumer group. The event is recorded only after handler succeeds, so a
// failed delivery is retried on redelivery. metrics may be nil.
func DeduplicatingHandler(config *ConsumerConfig, metrics *Metrics, handler EventHandler) EventHandler {
	if metrics == nil {
		metrics = config.Metrics
	}

	return func(ctx context.Context, event *cloudevents.CloudEvent) error {
		log := slog.With(
			"messageId", event.ID,
			"topic", config.Topic,
			"eventType", event.Type,
			"service", config.ServiceName,
		)

		processed, err := config.Repository.IsProcessed(ctx, event.ID, config.Topic, config.ConsumerGroup)
		if err != nil {
			log.Error("Failed to check if message is processed", "error", err)
			metrics.RecordMessageDeduplicationError(config.ServiceName, config.Topic, event.Type)
			return err
		}

		if processed {
			log.Info("Duplicate message skipped")
			metrics.RecordMessageDeduplicationHit(config.ServiceName, config.Topic, event.Type)
			return nil
		}

		metrics.RecordMessageDeduplicationMiss(config.ServiceName, config.Topic, event.Type)

		if err := handler(ctx, event); err != nil {
			log.Error("Failed to process message", "error", err)
			return err
		}

		now := time.Now().UTC()
		msg := &ProcessedMessage{
			ID:            uuid.NewString(),
			MessageID:     event.ID,
			Topic:         config.Topic,
			EventType:     event.Type,
			ConsumerGroup: config.ConsumerGroup,
			ServiceID:     config.ServiceName,
			ProcessedAt:   now,
			ExpiresAt:     now.Add(config.RetentionPeriod),
			CorrelationID: event.CorrelationID,
		}

		if err := config.Repository.MarkProcessed(ctx, msg); err != nil {
			if errors.Is(err, ErrMessageAlreadyProcessed) {
				log.Warn("Message was processed concurrently")
				return nil
			}
			log.Error("Failed to mark message as processed", "error", err)
			metrics.RecordMessageDeduplicationError(config.ServiceName, config.Topic, event.Type)
			return err
		}

		log.Debug("Message processed and marked")
		return nil
	}
}
