package idempotency

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for an unknown key ID
	ErrNotFound = errors.New("idempotency key not found")

	// ErrMessageAlreadyProcessed is returned by MarkProcessed for a message
	// another consumer recorded first
	ErrMessageAlreadyProcessed = errors.New("message has already been processed")
)

// KeyRepository manages idempotency keys for REST APIs.
// Implementations must make AcquireLock atomic.
type KeyRepository interface {
	// AcquireLock inserts the key locked, or returns the stored key for the same
	// (service, actor, key). The boolean reports whether the key was created.
	AcquireLock(ctx context.Context, key *IdempotencyKey) (*IdempotencyKey, bool, error)

	// ReleaseLock forgets an unfinished key so the request can be retried from scratch
	ReleaseLock(ctx context.Context, keyID string) error

	// StoreResponse marks the request completed and caches the response
	StoreResponse(ctx context.Context, keyID string, responseCode int, responseBody []byte, headers map[string]string) error

	// Clean removes keys that expired before the given time and returns how many were deleted
	Clean(ctx context.Context, before time.Time) (int64, error)
}

// MessageRepository manages processed messages for Kafka consumers
type MessageRepository interface {
	// MarkProcessed records the message, returning ErrMessageAlreadyProcessed
	// when another consumer recorded it first
	MarkProcessed(ctx context.Context, msg *ProcessedMessage) error

	// IsProcessed checks if a message has been processed
	IsProcessed(ctx context.Context, messageID, topic, consumerGroup string) (bool, error)

	// Clean removes messages that expired before the given time
	Clean(ctx context.Context, before time.Time) (int64, error)
}

// Cleaner is implemented by both repositories
type Cleaner interface {
	Clean(ctx context.Context, before time.Time) (int64, error)
}
