package domain

import (
	"time"
)

// EntryKind classifies a ledger entry
type EntryKind string

const (
	EntryPurchaseCredit EntryKind = "PurchaseCredit"
	EntryRentalCredit   EntryKind = "RentalCredit"
	EntryDirectCredit   EntryKind = "DirectCredit"
	EntryTransferOut    EntryKind = "TransferOut"
	EntryTransferIn     EntryKind = "TransferIn"
	EntryUsageDebit     EntryKind = "UsageDebit"
)

// IsValid checks if the kind is known
func (k EntryKind) IsValid() bool {
	switch k {
	case EntryPurchaseCredit, EntryRentalCredit, EntryDirectCredit,
		EntryTransferOut, EntryTransferIn, EntryUsageDebit:
		return true
	default:
		return false
	}
}

// IsCredit reports whether entries of this kind add stock
func (k EntryKind) IsCredit() bool {
	switch k {
	case EntryPurchaseCredit, EntryRentalCredit, EntryDirectCredit, EntryTransferIn:
		return true
	default:
		return false
	}
}

// IsReplenishment reports whether the kind is credited once per external source
func (k EntryKind) IsReplenishment() bool {
	return k == EntryPurchaseCredit || k == EntryRentalCredit
}

// LedgerEntry is an immutable signed quantity change for one stock key.
// BalanceAfter and Sequence are assigned by the store on append.
type LedgerEntry struct {
	ID           string    `bson:"_id" json:"id"`
	Key          StockKey  `bson:"key" json:"key"`
	Delta        int64     `bson:"delta" json:"delta"`
	Kind         EntryKind `bson:"kind" json:"kind"`
	RelatedID    string    `bson:"relatedId" json:"relatedId"`
	ActorID      string    `bson:"actorId" json:"actorId"`
	Timestamp    time.Time `bson:"timestamp" json:"timestamp"`
	Sequence     int64     `bson:"seq" json:"sequence"`
	BalanceAfter int64     `bson:"balanceAfter" json:"balanceAfter"`
}

// NewLedgerEntry builds an entry for quantity units of the given kind.
// The sign of the delta follows the kind.
func NewLedgerEntry(key StockKey, kind EntryKind, quantity int64, relatedID, actorID string) (*LedgerEntry, error) {
	if !kind.IsValid() {
		return nil, validationf("unknown entry kind %q", kind)
	}
	if quantity <= 0 {
		return nil, validationf("quantity must be positive, got %d", quantity)
	}
	if _, err := NewStockKey(key.Name, key.Location); err != nil {
		return nil, err
	}
	if relatedID == "" {
		return nil, validationf("related id is required")
	}
	if kind == EntryUsageDebit && !key.Location.IsSite() {
		return nil, validationf("usage can only be logged against a site")
	}

	delta := quantity
	if !kind.IsCredit() {
		delta = -quantity
	}

	return &LedgerEntry{
		ID:        newID("LE"),
		Key:       key,
		Delta:     delta,
		Kind:      kind,
		RelatedID: relatedID,
		ActorID:   actorID,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Quantity returns the absolute size of the entry
func (e *LedgerEntry) Quantity() int64 {
	if e.Delta < 0 {
		return -e.Delta
	}
	return e.Delta
}
