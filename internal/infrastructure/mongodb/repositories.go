package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sitestock/stock-ledger/internal/domain"
	sharedmongo "github.com/sitestock/stock-ledger/pkg/mongodb"
)

type stockItemDocument struct {
	domain.StockItem `bson:",inline"`
	StockKey         string `bson:"stockKey"`
}

// StockItemRepository implements domain.StockItemRepository
type StockItemRepository struct {
	collection *sharedmongo.InstrumentedCollection
}

// NewStockItemRepository creates a new StockItemRepository
func NewStockItemRepository(client *sharedmongo.InstrumentedClient) *StockItemRepository {
	return &StockItemRepository{collection: client.Collection(StockItemsCollection)}
}

// EnsureIndexes creates the catalog indexes
func (r *StockItemRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "stockKey", Value: 1}},
			Options: options.Index().SetName("idx_stockKey").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "key.location", Value: 1}, {Key: "key.name", Value: 1}},
			Options: options.Index().SetName("idx_location_name"),
		},
	}
	if err := r.collection.CreateIndexes(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create stock item indexes: %w", err)
	}
	return nil
}

// CreateIfAbsent implements domain.StockItemRepository
func (r *StockItemRepository) CreateIfAbsent(ctx context.Context, item *domain.StockItem) (*domain.StockItem, bool, error) {
	doc := stockItemDocument{StockItem: *item, StockKey: item.Key.String()}
	filter := bson.M{"stockKey": doc.StockKey}
	update := bson.M{"$setOnInsert": doc}

	result, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create stock item %s: %w", doc.StockKey, err)
	}
	if result.UpsertedCount == 1 {
		created := *item
		return &created, true, nil
	}

	existing, err := r.FindByKey(ctx, item.Key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("stock item %s vanished after upsert", doc.StockKey)
	}
	return existing, false, nil
}

// FindByKey implements domain.StockItemRepository
func (r *StockItemRepository) FindByKey(ctx context.Context, key domain.StockKey) (*domain.StockItem, error) {
	var doc stockItemDocument
	err := r.collection.FindOne(ctx, bson.M{"stockKey": key.String()}).Decode(&doc)
	if sharedmongo.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find stock item %s: %w", key, err)
	}
	return &doc.StockItem, nil
}

// FindByLocation implements domain.StockItemRepository
func (r *StockItemRepository) FindByLocation(ctx context.Context, location domain.Location) ([]*domain.StockItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "key.name", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"key.location": location.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find stock items at %s: %w", location, err)
	}
	defer cursor.Close(ctx)

	var docs []stockItemDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode stock items: %w", err)
	}
	items := make([]*domain.StockItem, len(docs))
	for i := range docs {
		item := docs[i].StockItem
		items[i] = &item
	}
	return items, nil
}

// TransferRepository implements domain.TransferRepository
type TransferRepository struct {
	collection *sharedmongo.InstrumentedCollection
}

// NewTransferRepository creates a new TransferRepository
func NewTransferRepository(client *sharedmongo.InstrumentedClient) *TransferRepository {
	return &TransferRepository{collection: client.Collection(TransfersCollection)}
}

// EnsureIndexes creates the transfer indexes
func (r *TransferRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "requestedAt", Value: 1}},
			Options: options.Index().SetName("idx_status_requestedAt"),
		},
		{
			Keys:    bson.D{{Key: "from", Value: 1}},
			Options: options.Index().SetName("idx_from"),
		},
		{
			Keys:    bson.D{{Key: "to", Value: 1}},
			Options: options.Index().SetName("idx_to"),
		},
	}
	if err := r.collection.CreateIndexes(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create transfer indexes: %w", err)
	}
	return nil
}

// Save implements domain.TransferRepository
func (r *TransferRepository) Save(ctx context.Context, transfer *domain.TransferRequest) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": transfer.ID}, transfer, opts); err != nil {
		return fmt.Errorf("failed to save transfer %s: %w", transfer.ID, err)
	}
	return nil
}

// FindByID implements domain.TransferRepository
func (r *TransferRepository) FindByID(ctx context.Context, id string) (*domain.TransferRequest, error) {
	var transfer domain.TransferRequest
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&transfer)
	if sharedmongo.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transfer %s: %w", id, err)
	}
	return &transfer, nil
}

// List implements domain.TransferRepository
func (r *TransferRepository) List(ctx context.Context, filter domain.TransferFilter) ([]*domain.TransferRequest, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.SiteID != "" {
		site := domain.Site(filter.SiteID).String()
		query["$or"] = bson.A{bson.M{"from": site}, bson.M{"to": site}}
	}

	opts := options.Find().SetSort(bson.D{{Key: "requestedAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer cursor.Close(ctx)

	var transfers []*domain.TransferRequest
	if err := cursor.All(ctx, &transfers); err != nil {
		return nil, fmt.Errorf("failed to decode transfers: %w", err)
	}
	return transfers, nil
}

// UsageRepository implements domain.UsageRepository
type UsageRepository struct {
	collection *sharedmongo.InstrumentedCollection
}

// NewUsageRepository creates a new UsageRepository
func NewUsageRepository(client *sharedmongo.InstrumentedClient) *UsageRepository {
	return &UsageRepository{collection: client.Collection(UsageCollection)}
}

// EnsureIndexes creates the usage indexes
func (r *UsageRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key.location", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("idx_location_timestamp"),
		},
	}
	if err := r.collection.CreateIndexes(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create usage indexes: %w", err)
	}
	return nil
}

// Save implements domain.UsageRepository
func (r *UsageRepository) Save(ctx context.Context, usage *domain.UsageEntry) error {
	if _, err := r.collection.InsertOne(ctx, usage); err != nil {
		return fmt.Errorf("failed to save usage entry: %w", err)
	}
	return nil
}

// FindBySite implements domain.UsageRepository
func (r *UsageRepository) FindBySite(ctx context.Context, siteID string) ([]*domain.UsageEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"key.location": domain.Site(siteID).String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find usage of site %s: %w", siteID, err)
	}
	defer cursor.Close(ctx)

	var entries []*domain.UsageEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode usage entries: %w", err)
	}
	return entries, nil
}

type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

// EnsureIndexes creates the indexes of every ledger collection
func EnsureIndexes(ctx context.Context, client *sharedmongo.InstrumentedClient) error {
	all := []indexer{
		NewLedgerStore(client),
		NewStockItemRepository(client),
		NewTransferRepository(client),
		NewUsageRepository(client),
	}
	for _, ix := range all {
		if err := ix.EnsureIndexes(ctx); err != nil {
			return err
		}
	}
	return nil
}
