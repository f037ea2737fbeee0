// Package mongodb stores outbox rows next to the ledger documents so they
// commit or abort with the stock movement that produced them.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	sharedmongo "github.com/sitestock/stock-ledger/pkg/mongodb"
	"github.com/sitestock/stock-ledger/pkg/outbox"
)

// CollectionName holds pending and recently published stock events
const CollectionName = "stock_outbox"

// pending selects rows still owed to the broker
var pending = bson.M{
	"publishedAt": bson.M{"$exists": false},
	"$expr":       bson.M{"$lt": bson.A{"$retryCount", "$maxRetries"}},
}

// OutboxRepository implements outbox.Repository. A session context joins
// the caller's transaction.
type OutboxRepository struct {
	collection *sharedmongo.InstrumentedCollection
}

func NewOutboxRepository(client *sharedmongo.InstrumentedClient) *OutboxRepository {
	return &OutboxRepository{collection: client.Collection(CollectionName)}
}

// Save implements outbox.Repository
func (r *OutboxRepository) Save(ctx context.Context, event *outbox.OutboxEvent) error {
	return r.SaveAll(ctx, []*outbox.OutboxEvent{event})
}

// SaveAll implements outbox.Repository
func (r *OutboxRepository) SaveAll(ctx context.Context, events []*outbox.OutboxEvent) error {
	switch len(events) {
	case 0:
		return nil
	case 1:
		_, err := r.collection.InsertOne(ctx, events[0])
		return wrap(err, "insert stock event %s", events[0].EventType)
	}

	docs := make([]interface{}, 0, len(events))
	for _, event := range events {
		docs = append(docs, event)
	}
	_, err := r.collection.InsertMany(ctx, docs)
	return wrap(err, "insert %d stock events", len(events))
}

// FindUnpublished implements outbox.Repository
func (r *OutboxRepository) FindUnpublished(ctx context.Context, limit int) ([]*outbox.OutboxEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, pending, opts)
	if err != nil {
		return nil, wrap(err, "query pending stock events")
	}
	defer cursor.Close(ctx)

	var events []*outbox.OutboxEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, wrap(err, "decode pending stock events")
	}
	return events, nil
}

// MarkPublished implements outbox.Repository
func (r *OutboxRepository) MarkPublished(ctx context.Context, eventID string) error {
	return r.updateOne(ctx, eventID, bson.M{"$set": bson.M{"publishedAt": sharedmongo.Now()}})
}

// IncrementRetry implements outbox.Repository
func (r *OutboxRepository) IncrementRetry(ctx context.Context, eventID string, errorMsg string) error {
	return r.updateOne(ctx, eventID, bson.M{
		"$inc": bson.M{"retryCount": 1},
		"$set": bson.M{"lastError": errorMsg},
	})
}

func (r *OutboxRepository) updateOne(ctx context.Context, eventID string, update bson.M) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": eventID}, update)
	if err != nil {
		return wrap(err, "update stock event %s", eventID)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("stock event %s is not in the outbox", eventID)
	}
	return nil
}

// DeletePublished implements outbox.Repository
func (r *OutboxRepository) DeletePublished(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := sharedmongo.Now().Add(-olderThan)
	result, err := r.collection.DeleteMany(ctx, bson.M{"publishedAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, wrap(err, "purge published stock events")
	}
	return result.DeletedCount, nil
}

// EnsureIndexes backs the publisher's pending scan
func (r *OutboxRepository) EnsureIndexes(ctx context.Context) error {
	err := r.collection.CreateIndexes(ctx, []mongo.IndexModel{{
		Keys:    bson.D{{Key: "publishedAt", Value: 1}, {Key: "createdAt", Value: 1}},
		Options: options.Index().SetName("pending_by_age"),
	}})
	return wrap(err, "create outbox indexes")
}

func wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
