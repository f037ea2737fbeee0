package application

import (
	"github.com/sitestock/stock-ledger/internal/domain"
	"github.com/sitestock/stock-ledger/internal/infrastructure/projections"
)

// ToStockItemDTO converts a domain StockItem to StockItemDTO
func ToStockItemDTO(item *domain.StockItem) StockItemDTO {
	return StockItemDTO{
		ID:        item.ID,
		Name:      item.Key.Name,
		Location:  item.Key.Location.String(),
		Unit:      string(item.Unit),
		Category:  string(item.Category),
		CreatedAt: item.CreatedAt,
		CreatedBy: item.CreatedBy,
	}
}

// ToLedgerEntryDTO converts a domain LedgerEntry to LedgerEntryDTO
func ToLedgerEntryDTO(entry *domain.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:           entry.ID,
		Name:         entry.Key.Name,
		Location:     entry.Key.Location.String(),
		Kind:         string(entry.Kind),
		Delta:        entry.Delta,
		BalanceAfter: entry.BalanceAfter,
		RelatedID:    entry.RelatedID,
		ActorID:      entry.ActorID,
		Timestamp:    entry.Timestamp,
	}
}

// ToLedgerEntryDTOs converts a history, never returning nil
func ToLedgerEntryDTOs(entries []*domain.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, ToLedgerEntryDTO(e))
	}
	return dtos
}

// ToUsageEntryDTO converts a domain UsageEntry to UsageEntryDTO
func ToUsageEntryDTO(usage *domain.UsageEntry) UsageEntryDTO {
	return UsageEntryDTO{
		ID:        usage.ID,
		Name:      usage.Key.Name,
		Location:  usage.Key.Location.String(),
		Quantity:  usage.Quantity,
		Note:      usage.Note,
		LoggedBy:  usage.LoggedBy,
		Timestamp: usage.Timestamp,
	}
}

// ToTransferDTO converts a domain TransferRequest to TransferDTO
func ToTransferDTO(t *domain.TransferRequest) TransferDTO {
	return TransferDTO{
		ID:              t.ID,
		Name:            t.Name,
		From:            t.From.String(),
		To:              t.To.String(),
		Quantity:        t.Quantity,
		Status:          string(t.Status),
		Note:            t.Note,
		RejectionReason: t.RejectionReason,
		RequestedBy:     t.RequestedBy,
		RequestedAt:     t.RequestedAt,
		DecidedBy:       t.DecidedBy,
		DecidedAt:       t.DecidedAt,
	}
}

// ToStockBalanceDTO combines a catalog row with its balance
func ToStockBalanceDTO(item *domain.StockItem, balance int64) StockBalanceDTO {
	return StockBalanceDTO{
		Name:     item.Key.Name,
		Location: item.Key.Location.String(),
		Unit:     string(item.Unit),
		Category: string(item.Category),
		Balance:  balance,
	}
}

// ToLocationStockDTO converts a read model row
func ToLocationStockDTO(p *projections.LocationStockProjection) LocationStockDTO {
	return LocationStockDTO{
		Name:           p.Name,
		Unit:           string(p.Unit),
		Category:       string(p.Category),
		Balance:        p.Balance,
		IsEmpty:        p.IsEmpty,
		LastEntryKind:  string(p.LastEntryKind),
		LastMovementAt: p.LastMovementAt,
	}
}

// ToReconciliationDTO converts a domain Reconciliation
func ToReconciliationDTO(r *domain.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		Name:          r.Key.Name,
		Location:      r.Key.Location.String(),
		StoredBalance: r.StoredBalance,
		FoldedBalance: r.FoldedBalance,
		EntryCount:    r.EntryCount,
		Consistent:    r.Consistent,
	}
}
