package kafka

import (
	"time"
)

// Config holds broker, batching and fetch settings for the ledger's
// producer and consumer
type Config struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string

	BatchSize    int
	BatchTimeout time.Duration
	// RequiredAcks follows kafka-go: 0 none, 1 leader, -1 all in-sync replicas
	RequiredAcks int

	MinBytes      int
	MaxBytes      int
	MaxWait       time.Duration
	CommitTimeout time.Duration
}

// DefaultConfig waits for every in-sync replica. A ledger event that the
// broker loses cannot be rebuilt once its outbox row is purged.
func DefaultConfig() *Config {
	return &Config{
		Brokers:       []string{"localhost:9092"},
		ConsumerGroup: "stock-ledger",
		ClientID:      "stock-ledger",
		BatchSize:     100,
		BatchTimeout:  10 * time.Millisecond,
		RequiredAcks:  -1,
		MinBytes:      1,
		MaxBytes:      10 << 20,
		MaxWait:       500 * time.Millisecond,
		CommitTimeout: 5 * time.Second,
	}
}

// Topics names the topics the ledger writes to and reads from
var Topics = struct {
	StockEvents string
	Purchases   string
	Rentals     string
}{
	StockEvents: "stockledger.stock.events",
	Purchases:   "procurement.purchases",
	Rentals:     "procurement.rentals",
}
