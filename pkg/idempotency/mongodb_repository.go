package idempotency

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	sharedmongo "github.com/sitestock/stock-ledger/pkg/mongodb"
)

const (
	idempotencyKeysCollection   = "idempotency_keys"
	processedMessagesCollection = "processed_messages"
)

// MongoKeyRepository implements KeyRepository using MongoDB
type MongoKeyRepository struct {
	collection *sharedmongo.InstrumentedCollection
}

// NewMongoKeyRepository creates a new MongoDB-backed key repository
func NewMongoKeyRepository(client *sharedmongo.InstrumentedClient) *MongoKeyRepository {
	return &MongoKeyRepository{
		collection: client.Collection(idempotencyKeysCollection),
	}
}

// AcquireLock upserts the key on (serviceId, actorId, key). The stored
// document's ID equals key.ID only when this call inserted it.
func (r *MongoKeyRepository) AcquireLock(ctx context.Context, key *IdempotencyKey) (*IdempotencyKey, bool, error) {
	now := sharedmongo.Now()

	filter := bson.M{
		"serviceId": key.ServiceID,
		"actorId":   key.ActorID,
		"key":       key.Key,
	}

	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":                key.ID,
			"requestPath":        key.RequestPath,
			"requestMethod":      key.RequestMethod,
			"requestFingerprint": key.RequestFingerprint,
			"lockedAt":           now,
			"createdAt":          key.CreatedAt,
			"expiresAt":          key.ExpiresAt,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var result IdempotencyKey
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&result)
	if sharedmongo.IsDuplicateKey(err) {
		// Lost the upsert race; the winner's document is now visible
		err = r.collection.FindOne(ctx, filter).Decode(&result)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire idempotency lock: %w", err)
	}

	return &result, result.ID == key.ID, nil
}

// ReleaseLock deletes an unfinished key
func (r *MongoKeyRepository) ReleaseLock(ctx context.Context, keyID string) error {
	filter := bson.M{"_id": keyID, "completedAt": bson.M{"$exists": false}}
	if _, err := r.collection.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("failed to release idempotency lock: %w", err)
	}
	return nil
}

// StoreResponse stores the final response for a completed request
func (r *MongoKeyRepository) StoreResponse(ctx context.Context, keyID string, responseCode int, responseBody []byte, headers map[string]string) error {
	update := bson.M{
		"$set": bson.M{
			"responseCode":    responseCode,
			"responseBody":    responseBody,
			"responseHeaders": headers,
			"completedAt":     sharedmongo.Now(),
		},
		"$unset": bson.M{"lockedAt": ""},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": keyID}, update)
	if err != nil {
		return fmt.Errorf("failed to store idempotency response: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Clean implements Cleaner. The TTL index normally gets there first.
func (r *MongoKeyRepository) Clean(ctx context.Context, before time.Time) (int64, error) {
	return deleteExpired(ctx, r.collection, before)
}

// EnsureIndexes makes a key unique per service and actor, and expires it
func (r *MongoKeyRepository) EnsureIndexes(ctx context.Context) error {
	return r.collection.CreateIndexes(ctx, []mongo.IndexModel{
		uniqueIndex("service_actor_key", "serviceId", "actorId", "key"),
		expiryIndex(),
	})
}

// MongoMessageRepository implements MessageRepository using MongoDB
type MongoMessageRepository struct {
	collection *sharedmongo.InstrumentedCollection
}

// NewMongoMessageRepository creates a new MongoDB-backed message repository
func NewMongoMessageRepository(client *sharedmongo.InstrumentedClient) *MongoMessageRepository {
	return &MongoMessageRepository{
		collection: client.Collection(processedMessagesCollection),
	}
}

// MarkProcessed marks a message as processed
func (r *MongoMessageRepository) MarkProcessed(ctx context.Context, msg *ProcessedMessage) error {
	if _, err := r.collection.InsertOne(ctx, msg); err != nil {
		if sharedmongo.IsDuplicateKey(err) {
			return ErrMessageAlreadyProcessed
		}
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	return nil
}

// IsProcessed checks if a message has been processed
func (r *MongoMessageRepository) IsProcessed(ctx context.Context, messageID, topic, consumerGroup string) (bool, error) {
	filter := bson.M{
		"messageId":     messageID,
		"topic":         topic,
		"consumerGroup": consumerGroup,
	}

	count, err := r.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Clean implements Cleaner
func (r *MongoMessageRepository) Clean(ctx context.Context, before time.Time) (int64, error) {
	return deleteExpired(ctx, r.collection, before)
}

// EnsureIndexes makes a message unique per topic and group, and expires it
func (r *MongoMessageRepository) EnsureIndexes(ctx context.Context) error {
	return r.collection.CreateIndexes(ctx, []mongo.IndexModel{
		uniqueIndex("message_topic_group", "messageId", "topic", "consumerGroup"),
		expiryIndex(),
	})
}

func uniqueIndex(name string, fields ...string) mongo.IndexModel {
	keys := make(bson.D, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	return mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true).SetName(name)}
}

// expiryIndex lets MongoDB drop a document once expiresAt has passed
func expiryIndex() mongo.IndexModel {
	return mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
	}
}

func deleteExpired(ctx context.Context, collection *sharedmongo.InstrumentedCollection, before time.Time) (int64, error) {
	result, err := collection.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries from %s: %w", collection.Name(), err)
	}
	return result.DeletedCount, nil
}
