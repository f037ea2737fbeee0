package projections

import (
	"context"
	"time"

	"github.com/sitestock/stock-ledger/internal/domain"
	"github.com/sitestock/stock-ledger/pkg/logging"
)

// StockProjector keeps the location stock view in sync with committed ledger entries
type StockProjector struct {
	projectionRepo LocationStockRepository
	itemRepo       domain.StockItemRepository
	logger         *logging.Logger
}

// NewStockProjector creates a new stock projector
func NewStockProjector(
	projectionRepo LocationStockRepository,
	itemRepo domain.StockItemRepository,
	logger *logging.Logger,
) *StockProjector {
	if logger == nil {
		logger = logging.Nop()
	}
	return &StockProjector{
		projectionRepo: projectionRepo,
		itemRepo:       itemRepo,
		logger:         logger.WithComponent("stock-projector"),
	}
}

// OnEntriesCommitted projects the balance after each entry. Entries must already
// carry the Sequence and BalanceAfter assigned by the ledger store.
func (p *StockProjector) OnEntriesCommitted(ctx context.Context, entries ...*domain.LedgerEntry) error {
	for _, entry := range entries {
		item, err := p.itemRepo.FindByKey(ctx, entry.Key)
		if err != nil || item == nil {
			p.logger.Error("Failed to find stock item for projection", "key", entry.Key.String(), "error", err)
			if err == nil {
				err = domain.ErrNotFound
			}
			return err
		}

		projection := &LocationStockProjection{
			ID:             entry.Key.String(),
			Name:           entry.Key.Name,
			Location:       entry.Key.Location,
			Unit:           item.Unit,
			Category:       item.Category,
			Balance:        entry.BalanceAfter,
			IsEmpty:        entry.BalanceAfter == 0,
			LastEntryKind:  entry.Kind,
			LastMovementAt: entry.Timestamp,
			Sequence:       entry.Sequence,
			UpdatedAt:      time.Now().UTC(),
		}

		if err := p.projectionRepo.Upsert(ctx, projection); err != nil {
			p.logger.WithError(err).Error("Failed to upsert location stock projection", "key", projection.ID)
			return err
		}
	}
	return nil
}

// Rebuild recomputes the row of one key from the ledger, used after a projection failure
func (p *StockProjector) Rebuild(ctx context.Context, ledger domain.LedgerStore, key domain.StockKey) error {
	history, err := ledger.History(ctx, key)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}
	return p.OnEntriesCommitted(ctx, history[len(history)-1])
}
