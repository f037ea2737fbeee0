package idempotency

import (
	"time"
)

// IdempotencyKey is a stored Idempotency-Key for a mutating REST call.
// It holds the request fingerprint and the response so retries replay the first outcome.
type IdempotencyKey struct {
	ID                 string `bson:"_id" json:"id"`
	Key                string `bson:"key" json:"key"`                             // The idempotency key from header
	ActorID            string `bson:"actorId,omitempty" json:"actorId,omitempty"` // Keys are scoped per actor
	ServiceID          string `bson:"serviceId" json:"serviceId"`
	RequestPath        string `bson:"requestPath" json:"requestPath"`
	RequestMethod      string `bson:"requestMethod" json:"requestMethod"`
	RequestFingerprint string `bson:"requestFingerprint" json:"requestFingerprint"` // SHA256 of method, path and body

	// Set while the first request is in flight
	LockedAt *time.Time `bson:"lockedAt,omitempty" json:"lockedAt,omitempty"`

	ResponseCode    int               `bson:"responseCode,omitempty" json:"responseCode,omitempty"`
	ResponseBody    []byte            `bson:"responseBody,omitempty" json:"responseBody,omitempty"`
	ResponseHeaders map[string]string `bson:"responseHeaders,omitempty" json:"responseHeaders,omitempty"`

	CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
	CompletedAt *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	ExpiresAt   time.Time  `bson:"expiresAt" json:"expiresAt"` // TTL index
}

// IsCompleted returns true if the request has been completed
func (ik *IdempotencyKey) IsCompleted() bool {
	return ik.CompletedAt != nil
}

// IsLocked returns true if the request is currently being processed
func (ik *IdempotencyKey) IsLocked() bool {
	return ik.LockedAt != nil && ik.CompletedAt == nil
}

// ProcessedMessage records a consumed CloudEvent so redeliveries are skipped
type ProcessedMessage struct {
	ID            string `bson:"_id" json:"id"`
	MessageID     string `bson:"messageId" json:"messageId"` // CloudEvent.ID
	Topic         string `bson:"topic" json:"topic"`
	EventType     string `bson:"eventType" json:"eventType"`
	ConsumerGroup string `bson:"consumerGroup" json:"consumerGroup"`
	ServiceID     string `bson:"serviceId" json:"serviceId"`

	ProcessedAt time.Time `bson:"processedAt" json:"processedAt"`
	ExpiresAt   time.Time `bson:"expiresAt" json:"expiresAt"` // TTL index

	CorrelationID string `bson:"correlationId,omitempty" json:"correlationId,omitempty"`
}
