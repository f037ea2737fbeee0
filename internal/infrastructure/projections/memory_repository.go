package projections

import (
	"context"
	"sort"
	"sync"

	"github.com/sitestock/stock-ledger/internal/domain"
)

// MemoryLocationStockRepository is the in-process read model store
type MemoryLocationStockRepository struct {
	mu   sync.RWMutex
	rows map[string]*LocationStockProjection
}

// NewMemoryLocationStockRepository creates an empty store
func NewMemoryLocationStockRepository() *MemoryLocationStockRepository {
	return &MemoryLocationStockRepository{rows: make(map[string]*LocationStockProjection)}
}

// Upsert implements LocationStockRepository
func (r *MemoryLocationStockRepository) Upsert(_ context.Context, projection *LocationStockProjection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.rows[projection.ID]; ok && existing.Sequence > projection.Sequence {
		return nil
	}
	cp := *projection
	r.rows[projection.ID] = &cp
	return nil
}

// FindByKey implements LocationStockRepository
func (r *MemoryLocationStockRepository) FindByKey(_ context.Context, key domain.StockKey) (*LocationStockProjection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[key.String()]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

// FindByLocation implements LocationStockRepository
func (r *MemoryLocationStockRepository) FindByLocation(_ context.Context, location domain.Location) ([]*LocationStockProjection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*LocationStockProjection, 0)
	for _, row := range r.rows {
		if row.Location.Equal(location) {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
