package outbox

import (
	"context"
	"time"
)

// Repository persists outbox rows. Save and SaveAll join the caller's
// transaction when ctx carries one.
type Repository interface {
	Save(ctx context.Context, event *OutboxEvent) error
	SaveAll(ctx context.Context, events []*OutboxEvent) error

	// FindUnpublished returns up to limit rows that ShouldRetry, oldest first
	FindUnpublished(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkPublished(ctx context.Context, eventID string) error
	// IncrementRetry records a failed delivery attempt
	IncrementRetry(ctx context.Context, eventID string, errorMsg string) error
	// DeletePublished purges rows published more than olderThan ago
	DeletePublished(ctx context.Context, olderThan time.Duration) (int64, error)
}
