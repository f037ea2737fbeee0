package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitestock/stock-ledger/pkg/cloudevents"
	sharedtesting "github.com/sitestock/stock-ledger/pkg/testing"
)

type fakeRepo struct {
	mu     sync.Mutex
	rows   []*OutboxEvent
	purged int64
}

func (r *fakeRepo) Save(ctx context.Context, event *OutboxEvent) error {
	return r.SaveAll(ctx, []*OutboxEvent{event})
}

func (r *fakeRepo) SaveAll(_ context.Context, events []*OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, events...)
	return nil
}

func (r *fakeRepo) FindUnpublished(_ context.Context, limit int) ([]*OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*OutboxEvent
	for _, row := range r.rows {
		if row.ShouldRetry() && len(out) < limit {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) find(id string) *OutboxEvent {
	for _, row := range r.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

func (r *fakeRepo) MarkPublished(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.find(eventID).PublishedAt = &now
	return nil
}

func (r *fakeRepo) IncrementRetry(_ context.Context, eventID string, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.find(eventID)
	row.RetryCount++
	row.LastError = errorMsg
	return nil
}

func (r *fakeRepo) DeletePublished(context.Context, time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purged++
	return 0, nil
}

func (r *fakeRepo) row(i int) OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rows[i]
}

type fakeProducer struct {
	mu     sync.Mutex
	topics []string
	fail   map[string]bool
}

func (p *fakeProducer) PublishEvent(_ context.Context, topic string, event *cloudevents.CloudEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[event.Type] {
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, topic)
	return nil
}

func (p *fakeProducer) delivered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

func stockEvent(t *testing.T, eventType string) *OutboxEvent {
	t.Helper()
	row, err := NewOutboxEventFromCloudEvent("Cement@company", "stock", "stock.events", &cloudevents.CloudEvent{
		SpecVersion: "1.0",
		ID:          eventType + "-1",
		Type:        eventType,
		Source:      cloudevents.SourceStockLedger,
	})
	require.NoError(t, err)
	return row
}

func TestPublisher_PublishPending(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{}
	producer := &fakeProducer{fail: map[string]bool{cloudevents.TransferApproved: true}}
	require.NoError(t, repo.SaveAll(ctx, []*OutboxEvent{
		stockEvent(t, cloudevents.StockCredited),
		stockEvent(t, cloudevents.TransferApproved),
	}))

	p := NewPublisher(repo, producer, nil, nil, nil)
	assert.Equal(t, 1, p.PublishPending(ctx))

	delivered := repo.row(0)
	assert.True(t, delivered.IsPublished())
	failed := repo.row(1)
	assert.False(t, failed.IsPublished())
	assert.Equal(t, 1, failed.RetryCount)
	assert.Contains(t, failed.LastError, "broker unavailable")
	assert.Equal(t, map[string]int{"published": 1, "failed": 1}, p.Stats())

	// the delivered row is not sent again
	producer.fail = nil
	assert.Equal(t, 1, p.PublishPending(ctx))
	assert.Equal(t, []string{"stock.events", "stock.events"}, producer.topics)
}

func TestPublisher_GivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{}
	producer := &fakeProducer{fail: map[string]bool{cloudevents.StockUsed: true}}
	row := stockEvent(t, cloudevents.StockUsed)
	row.MaxRetries = 2
	require.NoError(t, repo.Save(ctx, row))

	p := NewPublisher(repo, producer, nil, nil, nil)
	p.PublishPending(ctx)
	p.PublishPending(ctx)
	p.PublishPending(ctx)

	assert.Equal(t, 2, repo.row(0).RetryCount)
}

func TestPublisher_StartStop(t *testing.T) {
	ctx := context.Background()
	repo := &fakeRepo{}
	producer := &fakeProducer{}
	require.NoError(t, repo.Save(ctx, stockEvent(t, cloudevents.StockCredited)))

	p := NewPublisher(repo, producer, nil, nil, &PublisherConfig{
		PollInterval:    5 * time.Millisecond,
		BatchSize:       10,
		Retention:       time.Hour,
		CleanupInterval: 5 * time.Millisecond,
	})
	require.NoError(t, p.Start(ctx))
	assert.Error(t, p.Start(ctx))
	assert.True(t, p.IsRunning())

	sharedtesting.AssertEventually(t, func() bool { return producer.delivered() == 1 }, time.Second, "event relayed")
	sharedtesting.AssertEventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.purged > 0
	}, time.Second, "published rows purged")

	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())
	assert.Error(t, p.Stop())
}
