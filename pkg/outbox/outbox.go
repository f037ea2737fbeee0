// Package outbox stores stock events in the same transaction as the ledger
// write that raised them, and relays them to Kafka afterwards.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sitestock/stock-ledger/pkg/cloudevents"
)

// DefaultMaxRetries bounds publish attempts per event
const DefaultMaxRetries = 10

// OutboxEvent is one pending delivery. Payload is the encoded CloudEvent.
type OutboxEvent struct {
	ID            string          `bson:"_id" json:"id"`
	AggregateID   string          `bson:"aggregateId" json:"aggregateId"`
	AggregateType string          `bson:"aggregateType" json:"aggregateType"`
	EventType     string          `bson:"eventType" json:"eventType"`
	Topic         string          `bson:"topic" json:"topic"`
	Payload       json.RawMessage `bson:"payload" json:"payload"`
	CreatedAt     time.Time       `bson:"createdAt" json:"createdAt"`
	PublishedAt   *time.Time      `bson:"publishedAt,omitempty" json:"publishedAt,omitempty"`
	RetryCount    int             `bson:"retryCount" json:"retryCount"`
	LastError     string          `bson:"lastError,omitempty" json:"lastError,omitempty"`
	MaxRetries    int             `bson:"maxRetries" json:"maxRetries"`
}

// NewOutboxEventFromCloudEvent encodes ce for delivery to topic. aggregateID
// is the stock key or transfer ID the event belongs to.
func NewOutboxEventFromCloudEvent(aggregateID, aggregateType, topic string, ce *cloudevents.CloudEvent) (*OutboxEvent, error) {
	payload, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ce.Type, err)
	}
	return &OutboxEvent{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     ce.Type,
		Topic:         topic,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
		MaxRetries:    DefaultMaxRetries,
	}, nil
}

func (e *OutboxEvent) IsPublished() bool {
	return e.PublishedAt != nil
}

// ShouldRetry is false once the event is delivered or out of attempts
func (e *OutboxEvent) ShouldRetry() bool {
	return e.PublishedAt == nil && e.RetryCount < e.MaxRetries
}

// ToCloudEvent decodes the stored payload
func (e *OutboxEvent) ToCloudEvent() (*cloudevents.CloudEvent, error) {
	ce := &cloudevents.CloudEvent{}
	if err := json.Unmarshal(e.Payload, ce); err != nil {
		return nil, fmt.Errorf("outbox event %s has a corrupt payload: %w", e.ID, err)
	}
	return ce, nil
}
