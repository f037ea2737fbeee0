// Package events turns domain events into outbox rows written in the
// business transaction. The outbox publisher delivers them to Kafka later.
package events

import (
	"context"
	"fmt"

	"github.com/sitestock/stock-ledger/internal/domain"
	"github.com/sitestock/stock-ledger/pkg/cloudevents"
	"github.com/sitestock/stock-ledger/pkg/kafka"
	"github.com/sitestock/stock-ledger/pkg/outbox"
)

// Aggregate types stamped on outbox rows
const (
	AggregateStock    = "stock"
	AggregateTransfer = "transfer"
)

// OutboxRecorder implements domain.EventRecorder on top of an outbox repository
type OutboxRecorder struct {
	repo    outbox.Repository
	factory *cloudevents.EventFactory
	topic   string
}

// NewOutboxRecorder creates a recorder that targets the stock events topic
func NewOutboxRecorder(repo outbox.Repository) *OutboxRecorder {
	return &OutboxRecorder{
		repo:    repo,
		factory: cloudevents.NewEventFactory(cloudevents.SourceStockLedger),
		topic:   kafka.Topics.StockEvents,
	}
}

// Record implements domain.EventRecorder
func (r *OutboxRecorder) Record(ctx context.Context, events ...domain.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]*outbox.OutboxEvent, 0, len(events))
	for _, event := range events {
		ce := r.factory.FromDomainEvent(ctx, event)
		row, err := outbox.NewOutboxEventFromCloudEvent(event.Subject(), aggregateType(event), r.topic, ce)
		if err != nil {
			return fmt.Errorf("failed to create outbox event: %w", err)
		}
		rows = append(rows, row)
	}

	if err := r.repo.SaveAll(ctx, rows); err != nil {
		return fmt.Errorf("failed to record events: %w", err)
	}
	return nil
}

func aggregateType(event domain.DomainEvent) string {
	switch event.(type) {
	case *domain.TransferRequestedEvent, *domain.TransferApprovedEvent, *domain.TransferRejectedEvent:
		return AggregateTransfer
	default:
		return AggregateStock
	}
}

// NopRecorder drops every event. Used when no outbox is configured.
type NopRecorder struct{}

// Record implements domain.EventRecorder
func (NopRecorder) Record(context.Context, ...domain.DomainEvent) error { return nil }
