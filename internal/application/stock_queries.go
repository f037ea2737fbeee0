package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/sitestock/stock-ledger/internal/domain"
)

// Reads never take the guard; they see committed data only.

func parseKey(q StockKeyQuery) (domain.StockKey, error) {
	loc, err := domain.ParseLocation(q.Location)
	if err != nil {
		return domain.StockKey{}, err
	}
	return domain.NewStockKey(q.Name, loc)
}

func (s *StockService) findItem(ctx context.Context, q StockKeyQuery) (*domain.StockItem, error) {
	key, err := parseKey(q)
	if err != nil {
		return nil, toAppError(err)
	}
	item, err := s.items.FindByKey(ctx, key)
	if err != nil {
		return nil, toAppError(err)
	}
	if item == nil {
		return nil, notFound("stock item", key.String())
	}
	return item, nil
}

// GetBalance returns the committed balance of one stock key
func (s *StockService) GetBalance(ctx context.Context, q StockKeyQuery) (*StockBalanceDTO, error) {
	item, err := s.findItem(ctx, q)
	if err != nil {
		return nil, err
	}
	balance, err := s.ledger.CurrentBalance(ctx, item.Key)
	if err != nil {
		return nil, toAppError(err)
	}
	dto := ToStockBalanceDTO(item, balance)
	return &dto, nil
}

// History returns every entry of a stock key in append order
func (s *StockService) History(ctx context.Context, q StockKeyQuery) (*StockHistoryDTO, error) {
	item, err := s.findItem(ctx, q)
	if err != nil {
		return nil, err
	}

	var (
		balance int64
		entries []*domain.LedgerEntry
	)
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		if entries, err = s.ledger.History(ctx, item.Key); err != nil {
			return err
		}
		balance, err = s.ledger.CurrentBalance(ctx, item.Key)
		return err
	})
	if err != nil {
		return nil, toAppError(err)
	}

	return &StockHistoryDTO{
		StockBalanceDTO: ToStockBalanceDTO(item, balance),
		Entries:         ToLedgerEntryDTOs(entries),
	}, nil
}

// Reconcile replays the history of a key and compares it with the stored balance
func (s *StockService) Reconcile(ctx context.Context, q StockKeyQuery) (*ReconciliationDTO, error) {
	item, err := s.findItem(ctx, q)
	if err != nil {
		return nil, err
	}

	var result *domain.Reconciliation
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		history, err := s.ledger.History(ctx, item.Key)
		if err != nil {
			return err
		}
		stored, err := s.ledger.CurrentBalance(ctx, item.Key)
		if err != nil {
			return err
		}
		result, err = domain.Reconcile(item.Key, stored, history)
		return err
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Ledger history is corrupt", "key", item.Key.String())
		return nil, toAppError(err)
	}

	if !result.Consistent {
		s.logger.WithContext(ctx).Error("Ledger balance drift detected",
			"key", item.Key.String(),
			"stored", result.StoredBalance,
			"folded", result.FoldedBalance,
		)
	}

	dto := ToReconciliationDTO(result)
	return &dto, nil
}

// GetTransfer returns one transfer request
func (s *StockService) GetTransfer(ctx context.Context, id string) (*TransferDTO, error) {
	transfer, err := s.findTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := ToTransferDTO(transfer)
	return &dto, nil
}

// ListTransfers returns transfers ordered by request time
func (s *StockService) ListTransfers(ctx context.Context, q ListTransfersQuery) ([]TransferDTO, error) {
	filter := domain.TransferFilter{SiteID: strings.TrimSpace(q.SiteID)}
	if q.Status != "" {
		status := domain.TransferStatus(q.Status)
		if !status.IsValid() {
			return nil, toAppError(fmt.Errorf("%w: unknown transfer status %q", domain.ErrValidation, q.Status))
		}
		filter.Status = status
	}

	transfers, err := s.transfers.List(ctx, filter)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list transfers")
		return nil, toAppError(err)
	}

	dtos := make([]TransferDTO, 0, len(transfers))
	for _, t := range transfers {
		dtos = append(dtos, ToTransferDTO(t))
	}
	return dtos, nil
}

// ListStock returns the stock view of one location
func (s *StockService) ListStock(ctx context.Context, location string) (*LocationStockListDTO, error) {
	loc, err := domain.ParseLocation(location)
	if err != nil {
		return nil, toAppError(err)
	}

	rows, err := s.stockView.FindByLocation(ctx, loc)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to read location stock", "location", loc.String())
		return nil, toAppError(err)
	}

	items := make([]LocationStockDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, ToLocationStockDTO(row))
	}
	return &LocationStockListDTO{Location: loc.String(), Items: items}, nil
}

// ListUsage returns the usage journal of a site, oldest first
func (s *StockService) ListUsage(ctx context.Context, siteID string) ([]UsageEntryDTO, error) {
	siteID = strings.TrimSpace(siteID)
	if siteID == "" {
		return nil, toAppError(fmt.Errorf("%w: site is required", domain.ErrValidation))
	}

	entries, err := s.usage.FindBySite(ctx, siteID)
	if err != nil {
		return nil, toAppError(err)
	}

	dtos := make([]UsageEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, ToUsageEntryDTO(e))
	}
	return dtos, nil
}
