// Package projections maintains the per-location stock read model served by
// ListStock. The ledger stays the source of truth; this view is rebuilt from
// the entries the application has just committed.
package projections

import (
	"context"
	"time"

	"github.com/sitestock/stock-ledger/internal/domain"
)

// LocationStockProjection is one stock item at one location with its balance
type LocationStockProjection struct {
	ID             string           `bson:"_id" json:"-"`
	Name           string           `bson:"name" json:"name"`
	Location       domain.Location  `bson:"location" json:"location"`
	Unit           domain.Unit      `bson:"unit" json:"unit"`
	Category       domain.Category  `bson:"category" json:"category"`
	Balance        int64            `bson:"balance" json:"balance"`
	IsEmpty        bool             `bson:"isEmpty" json:"isEmpty"`
	LastEntryKind  domain.EntryKind `bson:"lastEntryKind" json:"lastEntryKind"`
	LastMovementAt time.Time        `bson:"lastMovementAt" json:"lastMovementAt"`
	Sequence       int64            `bson:"seq" json:"-"`
	UpdatedAt      time.Time        `bson:"updatedAt" json:"updatedAt"`
}

// Key returns the stock key of the row
func (p *LocationStockProjection) Key() domain.StockKey {
	return domain.StockKey{Name: p.Name, Location: p.Location}
}

// LocationStockRepository stores the read model
type LocationStockRepository interface {
	// Upsert writes the row unless a row with a higher sequence is already stored
	Upsert(ctx context.Context, projection *LocationStockProjection) error

	// FindByKey returns nil when the key has no row
	FindByKey(ctx context.Context, key domain.StockKey) (*LocationStockProjection, error)

	// FindByLocation returns the rows of a location ordered by name
	FindByLocation(ctx context.Context, location domain.Location) ([]*LocationStockProjection, error)
}
