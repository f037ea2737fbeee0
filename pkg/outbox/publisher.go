package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sitestock/stock-ledger/pkg/cloudevents"
	"github.com/sitestock/stock-ledger/pkg/logging"
	"github.com/sitestock/stock-ledger/pkg/metrics"
)

// EventProducer delivers a CloudEvent to a topic
type EventProducer interface {
	PublishEvent(ctx context.Context, topic string, event *cloudevents.CloudEvent) error
}

// PublisherConfig tunes the relay loop
type PublisherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// Retention is how long published rows are kept; zero disables the purge
	Retention       time.Duration
	CleanupInterval time.Duration
}

func DefaultPublisherConfig() *PublisherConfig {
	return &PublisherConfig{
		PollInterval:    time.Second,
		BatchSize:       100,
		Retention:       7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// Publisher relays committed outbox rows to Kafka, oldest first. Delivery is
// at least once: a row is marked only after the broker acknowledged it.
type Publisher struct {
	repo     Repository
	producer EventProducer
	logger   *logging.Logger
	metrics  *metrics.Metrics
	config   PublisherConfig

	mu        sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	published int
	failed    int
}

// NewPublisher creates a publisher. logger, m and config may be nil.
func NewPublisher(repo Repository, producer EventProducer, logger *logging.Logger, m *metrics.Metrics, config *PublisherConfig) *Publisher {
	if config == nil {
		config = DefaultPublisherConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Publisher{
		repo:     repo,
		producer: producer,
		logger:   logger.WithComponent("outbox-publisher"),
		metrics:  m,
		config:   *config,
	}
}

// Start runs the relay loop until Stop or ctx is done
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return errors.New("publisher already running")
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	p.logger.Info("Starting outbox publisher", "interval", p.config.PollInterval, "batchSize", p.config.BatchSize)
	go p.run(ctx, p.stop, p.done)
	return nil
}

// Stop ends the loop and waits for the batch in flight
func (p *Publisher) Stop() error {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return errors.New("publisher not running")
	}

	close(stop)
	<-done
	stats := p.Stats()
	p.logger.Info("Outbox publisher stopped", "published", stats["published"], "failed", stats["failed"])
	return nil
}

func (p *Publisher) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

// Stats counts deliveries and failed attempts since the publisher was created
func (p *Publisher) Stats() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]int{"published": p.published, "failed": p.failed}
}

func (p *Publisher) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	poll := time.NewTicker(p.config.PollInterval)
	defer poll.Stop()

	var purge <-chan time.Time
	if p.config.Retention > 0 && p.config.CleanupInterval > 0 {
		t := time.NewTicker(p.config.CleanupInterval)
		defer t.Stop()
		purge = t.C
	}

	for {
		select {
		case <-poll.C:
			p.PublishPending(ctx)
		case <-purge:
			p.purge(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// PublishPending relays one batch and returns how many rows were delivered.
// A failed row stays pending with its retry count raised.
func (p *Publisher) PublishPending(ctx context.Context) int {
	rows, err := p.repo.FindUnpublished(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.WithError(err).Error("Failed to load pending outbox events")
		return 0
	}
	p.metrics.SetOutboxPending(len(rows))

	delivered := 0
	for _, row := range rows {
		start := time.Now()
		err := p.deliver(ctx, row)
		p.metrics.RecordOutboxPublish(row.EventType, err == nil, time.Since(start))
		p.tally(err == nil)

		if err != nil {
			p.logger.WithError(err).Error("Failed to publish outbox event",
				"eventId", row.ID,
				"eventType", row.EventType,
				"aggregateId", row.AggregateID,
				"retryCount", row.RetryCount,
			)
			p.metrics.RecordOutboxRetry(row.EventType)
			if err := p.repo.IncrementRetry(ctx, row.ID, err.Error()); err != nil {
				p.logger.WithError(err).Error("Failed to record outbox retry", "eventId", row.ID)
			}
			continue
		}

		delivered++
		if err := p.repo.MarkPublished(ctx, row.ID); err != nil {
			// the row will be sent again; consumers deduplicate by event ID
			p.logger.WithError(err).Error("Failed to mark outbox event published", "eventId", row.ID)
		}
	}
	return delivered
}

func (p *Publisher) deliver(ctx context.Context, row *OutboxEvent) error {
	ce, err := row.ToCloudEvent()
	if err != nil {
		return err
	}
	if err := p.producer.PublishEvent(ce.TraceContext(ctx), row.Topic, ce); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", row.Topic, err)
	}
	p.logger.Debug("Relayed outbox event", "eventId", row.ID, "eventType", row.EventType, "topic", row.Topic)
	return nil
}

func (p *Publisher) tally(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.published++
	} else {
		p.failed++
	}
}

func (p *Publisher) purge(ctx context.Context) {
	deleted, err := p.repo.DeletePublished(ctx, p.config.Retention)
	if err != nil {
		p.logger.WithError(err).Error("Failed to purge published outbox events")
		return
	}
	if deleted > 0 {
		p.logger.Info("Purged published outbox events", "count", deleted)
	}
}
