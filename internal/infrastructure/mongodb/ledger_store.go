package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sitestock/stock-ledger/internal/domain"
	sharedmongo "github.com/sitestock/stock-ledger/pkg/mongodb"
)

// ledgerEntryDocument stores an entry with its lookup fields.
// CreditKey is only set on replenishment credits, under a unique partial index.
type ledgerEntryDocument struct {
	domain.LedgerEntry `bson:",inline"`
	StockKey           string `bson:"stockKey"`
	CreditKey          string `bson:"creditKey,omitempty"`
}

// balanceDocument is the committed balance of one key
type balanceDocument struct {
	ID        string          `bson:"_id"`
	Name      string          `bson:"name"`
	Location  domain.Location `bson:"location"`
	Balance   int64           `bson:"balance"`
	Seq       int64           `bson:"seq"`
	UpdatedAt time.Time       `bson:"updatedAt"`
}

func creditKey(relatedID string, kind domain.EntryKind) string {
	return string(kind) + ":" + relatedID
}

// LedgerStore implements domain.LedgerStore. The balance row is moved with a
// conditional $inc and the entry inserted in the same transaction, so a refused
// debit or a duplicate credit leaves nothing behind.
type LedgerStore struct {
	entries  *sharedmongo.InstrumentedCollection
	balances *sharedmongo.InstrumentedCollection
	tx       *Transactor
}

// NewLedgerStore creates a new LedgerStore
func NewLedgerStore(client *sharedmongo.InstrumentedClient) *LedgerStore {
	return &LedgerStore{
		entries:  client.Collection(LedgerEntriesCollection),
		balances: client.Collection(BalancesCollection),
		tx:       NewTransactor(client),
	}
}

// EnsureIndexes creates the ledger indexes
func (s *LedgerStore) EnsureIndexes(ctx context.Context) error {
	entryIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "stockKey", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetName("idx_stockKey_seq").SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "creditKey", Value: 1}},
			Options: options.Index().
				SetName("idx_creditKey").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"creditKey": bson.M{"$exists": true}}),
		},
		{
			Keys:    bson.D{{Key: "relatedId", Value: 1}},
			Options: options.Index().SetName("idx_relatedId"),
		},
	}
	if err := s.entries.CreateIndexes(ctx, entryIndexes); err != nil {
		return fmt.Errorf("failed to create ledger entry indexes: %w", err)
	}

	balanceIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "location", Value: 1}, {Key: "name", Value: 1}},
			Options: options.Index().SetName("idx_location_name"),
		},
	}
	if err := s.balances.CreateIndexes(ctx, balanceIndexes); err != nil {
		return fmt.Errorf("failed to create balance indexes: %w", err)
	}
	return nil
}

// Append implements domain.LedgerStore
func (s *LedgerStore) Append(ctx context.Context, entry *domain.LedgerEntry) (int64, error) {
	var balance int64
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		balance, err = s.append(ctx, entry)
		return err
	})
	return balance, err
}

// AppendBatch implements domain.LedgerStore
func (s *LedgerStore) AppendBatch(ctx context.Context, entries []*domain.LedgerEntry) ([]int64, error) {
	var balances []int64
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		balances = make([]int64, 0, len(entries))
		for _, entry := range entries {
			balance, err := s.append(ctx, entry)
			if err != nil {
				return err
			}
			balances = append(balances, balance)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balances, nil
}

func (s *LedgerStore) append(ctx context.Context, entry *domain.LedgerEntry) (int64, error) {
	key := entry.Key.String()

	filter := bson.M{"_id": key}
	if entry.Delta < 0 {
		filter["balance"] = bson.M{"$gte": -entry.Delta}
	}
	update := bson.M{
		"$inc": bson.M{"balance": entry.Delta, "seq": 1},
		"$set": bson.M{"name": entry.Key.Name, "location": entry.Key.Location, "updatedAt": sharedmongo.Now()},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetUpsert(entry.Delta > 0)

	var row balanceDocument
	err := s.balances.FindOneAndUpdate(ctx, filter, update, opts).Decode(&row)
	if sharedmongo.IsNotFound(err) {
		available, balErr := s.CurrentBalance(ctx, entry.Key)
		if balErr != nil {
			return 0, balErr
		}
		return 0, &domain.InsufficientStockError{Key: entry.Key, Available: available, Requested: -entry.Delta}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update balance of %s: %w", key, err)
	}

	entry.Sequence = row.Seq
	entry.BalanceAfter = row.Balance

	doc := ledgerEntryDocument{LedgerEntry: *entry, StockKey: key}
	if entry.Kind.IsReplenishment() {
		doc.CreditKey = creditKey(entry.RelatedID, entry.Kind)
	}
	if _, err := s.entries.InsertOne(ctx, doc); err != nil {
		if sharedmongo.IsDuplicateKey(err) && doc.CreditKey != "" {
			return 0, domain.ErrAlreadyCredited
		}
		return 0, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	return row.Balance, nil
}

// CurrentBalance implements domain.LedgerStore
func (s *LedgerStore) CurrentBalance(ctx context.Context, key domain.StockKey) (int64, error) {
	var row balanceDocument
	err := s.balances.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&row)
	if sharedmongo.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance of %s: %w", key, err)
	}
	return row.Balance, nil
}

// History implements domain.LedgerStore
func (s *LedgerStore) History(ctx context.Context, key domain.StockKey) ([]*domain.LedgerEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := s.entries.Find(ctx, bson.M{"stockKey": key.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", key, err)
	}
	defer cursor.Close(ctx)

	var docs []ledgerEntryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode ledger entries: %w", err)
	}

	history := make([]*domain.LedgerEntry, len(docs))
	for i := range docs {
		e := docs[i].LedgerEntry
		history[i] = &e
	}
	return history, nil
}

// FindCredit implements domain.LedgerStore
func (s *LedgerStore) FindCredit(ctx context.Context, relatedID string, kind domain.EntryKind) (*domain.LedgerEntry, error) {
	var doc ledgerEntryDocument
	err := s.entries.FindOne(ctx, bson.M{"creditKey": creditKey(relatedID, kind)}).Decode(&doc)
	if sharedmongo.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credit %s: %w", relatedID, err)
	}
	return &doc.LedgerEntry, nil
}
