package memory

import (
	"context"
	"sort"

	"github.com/sitestock/stock-ledger/internal/domain"
)

// StockItemRepository implements domain.StockItemRepository
type StockItemRepository struct {
	db *DB
}

// NewStockItemRepository creates a catalog repository over db
func NewStockItemRepository(db *DB) *StockItemRepository {
	return &StockItemRepository{db: db}
}

// CreateIfAbsent implements domain.StockItemRepository
func (r *StockItemRepository) CreateIfAbsent(ctx context.Context, item *domain.StockItem) (*domain.StockItem, bool, error) {
	var (
		stored  domain.StockItem
		created bool
	)
	err := r.db.write(ctx, func(_ context.Context, t *tx) error {
		key := item.Key.String()
		if existing, ok := r.db.items[key]; ok {
			stored = *existing
			return nil
		}
		cp := *item
		r.db.items[key] = &cp
		t.onRollback(func() { delete(r.db.items, key) })
		stored = cp
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

// FindByKey implements domain.StockItemRepository
func (r *StockItemRepository) FindByKey(ctx context.Context, key domain.StockKey) (*domain.StockItem, error) {
	var found *domain.StockItem
	r.db.read(ctx, func() {
		if item, ok := r.db.items[key.String()]; ok {
			cp := *item
			found = &cp
		}
	})
	return found, nil
}

// FindByLocation implements domain.StockItemRepository, ordered by name
func (r *StockItemRepository) FindByLocation(ctx context.Context, location domain.Location) ([]*domain.StockItem, error) {
	var items []*domain.StockItem
	r.db.read(ctx, func() {
		for _, item := range r.db.items {
			if item.Key.Location.Equal(location) {
				cp := *item
				items = append(items, &cp)
			}
		}
	})
	sort.Slice(items, func(i, j int) bool { return items[i].Key.Name < items[j].Key.Name })
	return items, nil
}

// TransferRepository implements domain.TransferRepository
type TransferRepository struct {
	db *DB
}

// NewTransferRepository creates a transfer repository over db
func NewTransferRepository(db *DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Save implements domain.TransferRepository
func (r *TransferRepository) Save(ctx context.Context, transfer *domain.TransferRequest) error {
	return r.db.write(ctx, func(_ context.Context, t *tx) error {
		prev, existed := r.db.transfers[transfer.ID]
		r.db.transfers[transfer.ID] = transfer.Clone()
		t.onRollback(func() {
			if existed {
				r.db.transfers[transfer.ID] = prev
			} else {
				delete(r.db.transfers, transfer.ID)
			}
		})
		return nil
	})
}

// FindByID implements domain.TransferRepository
func (r *TransferRepository) FindByID(ctx context.Context, id string) (*domain.TransferRequest, error) {
	var found *domain.TransferRequest
	r.db.read(ctx, func() {
		if t, ok := r.db.transfers[id]; ok {
			found = t.Clone()
		}
	})
	return found, nil
}

// List implements domain.TransferRepository
func (r *TransferRepository) List(ctx context.Context, filter domain.TransferFilter) ([]*domain.TransferRequest, error) {
	var out []*domain.TransferRequest
	r.db.read(ctx, func() {
		for _, t := range r.db.transfers {
			if filter.Matches(t) {
				out = append(out, t.Clone())
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UsageRepository implements domain.UsageRepository
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a usage repository over db
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Save implements domain.UsageRepository
func (r *UsageRepository) Save(ctx context.Context, usage *domain.UsageEntry) error {
	return r.db.write(ctx, func(_ context.Context, t *tx) error {
		cp := *usage
		r.db.usage = append(r.db.usage, &cp)
		t.onRollback(func() { r.db.usage = r.db.usage[:len(r.db.usage)-1] })
		return nil
	})
}

// FindBySite implements domain.UsageRepository, oldest first
func (r *UsageRepository) FindBySite(ctx context.Context, siteID string) ([]*domain.UsageEntry, error) {
	var out []*domain.UsageEntry
	r.db.read(ctx, func() {
		for _, u := range r.db.usage {
			if u.Key.Location.IsSite() && u.Key.Location.SiteID() == siteID {
				cp := *u
				out = append(out, &cp)
			}
		}
	})
	return out, nil
}
