package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/sitestock/stock-ledger/pkg/outbox"
)

// OutboxRepository implements outbox.Repository. Rows written inside a
// transaction are discarded with it, like the MongoDB outbox.
type OutboxRepository struct {
	db *DB
}

// NewOutboxRepository creates an outbox repository over db
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Save implements outbox.Repository
func (r *OutboxRepository) Save(ctx context.Context, event *outbox.OutboxEvent) error {
	return r.SaveAll(ctx, []*outbox.OutboxEvent{event})
}

// SaveAll implements outbox.Repository
func (r *OutboxRepository) SaveAll(ctx context.Context, events []*outbox.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.write(ctx, func(_ context.Context, t *tx) error {
		n := len(r.db.outbox)
		for _, event := range events {
			cp := *event
			r.db.outbox = append(r.db.outbox, &cp)
		}
		t.onRollback(func() { r.db.outbox = r.db.outbox[:n] })
		return nil
	})
}

// FindUnpublished implements outbox.Repository
func (r *OutboxRepository) FindUnpublished(ctx context.Context, limit int) ([]*outbox.OutboxEvent, error) {
	var out []*outbox.OutboxEvent
	r.db.read(ctx, func() {
		for _, event := range r.db.outbox {
			if !event.ShouldRetry() {
				continue
			}
			cp := *event
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	})
	return out, nil
}

// MarkPublished implements outbox.Repository
func (r *OutboxRepository) MarkPublished(ctx context.Context, eventID string) error {
	return r.update(ctx, eventID, func(event *outbox.OutboxEvent) {
		now := time.Now().UTC()
		event.PublishedAt = &now
	})
}

// IncrementRetry implements outbox.Repository
func (r *OutboxRepository) IncrementRetry(ctx context.Context, eventID string, errorMsg string) error {
	return r.update(ctx, eventID, func(event *outbox.OutboxEvent) {
		event.RetryCount++
		event.LastError = errorMsg
	})
}

func (r *OutboxRepository) update(ctx context.Context, eventID string, mutate func(*outbox.OutboxEvent)) error {
	return r.db.write(ctx, func(_ context.Context, t *tx) error {
		for i, event := range r.db.outbox {
			if event.ID != eventID {
				continue
			}
			prev := *event
			cp := prev
			mutate(&cp)
			r.db.outbox[i] = &cp
			t.onRollback(func() { r.db.outbox[i] = &prev })
			return nil
		}
		return fmt.Errorf("outbox event not found: %s", eventID)
	})
}

// DeletePublished implements outbox.Repository
func (r *OutboxRepository) DeletePublished(ctx context.Context, olderThan time.Duration) (int64, error) {
	var deleted int64
	err := r.db.write(ctx, func(_ context.Context, t *tx) error {
		cutoff := time.Now().UTC().Add(-olderThan)
		prev := r.db.outbox
		kept := make([]*outbox.OutboxEvent, 0, len(prev))
		for _, event := range prev {
			if event.PublishedAt != nil && event.PublishedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, event)
		}
		r.db.outbox = kept
		t.onRollback(func() { r.db.outbox = prev })
		return nil
	})
	return deleted, err
}
