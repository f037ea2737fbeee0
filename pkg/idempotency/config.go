package idempotency

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	DefaultMaxKeyLength = 255
	// DefaultLockTimeout is how long an in-flight key turns away a concurrent retry
	DefaultLockTimeout     = time.Minute
	DefaultRetentionPeriod = 24 * time.Hour
	// DefaultMaxResponseSize caps cached response bodies; larger ones are not replayed
	DefaultMaxResponseSize = 1 << 20
)

// Config drives the Idempotency-Key middleware on the ledger's write routes
type Config struct {
	ServiceName string
	Repository  KeyRepository

	// RequireKey answers 400 to a mutation without Idempotency-Key
	RequireKey   bool
	OnlyMutating bool
	// ActorIDExtractor scopes keys so two users cannot replay each other's responses
	ActorIDExtractor func(*gin.Context) string

	MaxKeyLength    int
	LockTimeout     time.Duration
	RetentionPeriod time.Duration
	MaxResponseSize int

	Metrics *Metrics
}

func DefaultConfig(serviceName string, repository KeyRepository) *Config {
	return &Config{
		ServiceName:     serviceName,
		Repository:      repository,
		OnlyMutating:    true,
		MaxKeyLength:    DefaultMaxKeyLength,
		LockTimeout:     DefaultLockTimeout,
		RetentionPeriod: DefaultRetentionPeriod,
		MaxResponseSize: DefaultMaxResponseSize,
	}
}

// ConsumerConfig drives deduplication of one verification topic. A message
// is identified by its CloudEvent ID within Topic and ConsumerGroup.
type ConsumerConfig struct {
	ServiceName     string
	Topic           string
	ConsumerGroup   string
	Repository      MessageRepository
	RetentionPeriod time.Duration
	Metrics         *Metrics
}

func DefaultConsumerConfig(serviceName, topic, consumerGroup string, repository MessageRepository) *ConsumerConfig {
	return &ConsumerConfig{
		ServiceName:     serviceName,
		Topic:           topic,
		ConsumerGroup:   consumerGroup,
		Repository:      repository,
		RetentionPeriod: DefaultRetentionPeriod,
	}
}
