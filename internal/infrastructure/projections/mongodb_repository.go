package projections

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sitestock/stock-ledger/internal/domain"
	sharedmongo "github.com/sitestock/stock-ledger/pkg/mongodb"
)

const locationStockCollection = "location_stock_projections"

// MongoLocationStockRepository is the MongoDB implementation
type MongoLocationStockRepository struct {
	collection *sharedmongo.InstrumentedCollection
}

// NewMongoLocationStockRepository creates a new repository
func NewMongoLocationStockRepository(client *sharedmongo.InstrumentedClient) *MongoLocationStockRepository {
	return &MongoLocationStockRepository{collection: client.Collection(locationStockCollection)}
}

// EnsureIndexes creates the indexes ListStock relies on
func (r *MongoLocationStockRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "location", Value: 1}, {Key: "name", Value: 1}},
			Options: options.Index().SetName("idx_location_name"),
		},
	}
	if err := r.collection.CreateIndexes(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create projection indexes: %w", err)
	}
	return nil
}

// Upsert implements LocationStockRepository. A stale write matches no document,
// tries to insert, and loses on the _id index; that outcome is not an error.
func (r *MongoLocationStockRepository) Upsert(ctx context.Context, projection *LocationStockProjection) error {
	filter := bson.M{"_id": projection.ID, "seq": bson.M{"$lt": projection.Sequence}}
	update := bson.M{"$set": projection}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil && !sharedmongo.IsDuplicateKey(err) {
		return fmt.Errorf("failed to upsert projection %s: %w", projection.ID, err)
	}
	return nil
}

// FindByKey implements LocationStockRepository
func (r *MongoLocationStockRepository) FindByKey(ctx context.Context, key domain.StockKey) (*LocationStockProjection, error) {
	var projection LocationStockProjection
	err := r.collection.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&projection)
	if err != nil {
		if sharedmongo.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find projection %s: %w", key, err)
	}
	return &projection, nil
}

// FindByLocation implements LocationStockRepository
func (r *MongoLocationStockRepository) FindByLocation(ctx context.Context, location domain.Location) ([]*LocationStockProjection, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{"location": location.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find projections: %w", err)
	}
	defer cursor.Close(ctx)

	projections := make([]*LocationStockProjection, 0)
	if err := cursor.All(ctx, &projections); err != nil {
		return nil, fmt.Errorf("failed to decode projections: %w", err)
	}
	return projections, nil
}
