package domain

import "context"

// LedgerStore is the single write path for balances.
// Implementations must make each call all-or-nothing.
type LedgerStore interface {
	// Append commits one entry and returns the new balance of its key.
	// It assigns Sequence and BalanceAfter. A debit that would go below zero fails
	// with *InsufficientStockError; a replenishment credit whose (RelatedID, Kind)
	// already exists fails with ErrAlreadyCredited.
	Append(ctx context.Context, entry *LedgerEntry) (int64, error)

	// AppendBatch commits all entries or none, returning the balance after each
	AppendBatch(ctx context.Context, entries []*LedgerEntry) ([]int64, error)

	// CurrentBalance returns the committed balance, zero for unknown keys
	CurrentBalance(ctx context.Context, key StockKey) (int64, error)

	// History returns the committed entries of a key in append order
	History(ctx context.Context, key StockKey) ([]*LedgerEntry, error)

	// FindCredit returns the replenishment credit for a source, nil if none
	FindCredit(ctx context.Context, relatedID string, kind EntryKind) (*LedgerEntry, error)
}

// StockItemRepository stores catalog rows. Rows are never deleted.
type StockItemRepository interface {
	// CreateIfAbsent inserts the item unless a row with the same key exists.
	// It returns the stored row and whether it was created.
	CreateIfAbsent(ctx context.Context, item *StockItem) (*StockItem, bool, error)
	// FindByKey returns nil when the key has never been credited
	FindByKey(ctx context.Context, key StockKey) (*StockItem, error)
	FindByLocation(ctx context.Context, location Location) ([]*StockItem, error)
}

// TransferFilter narrows ListTransfers. Zero values match everything.
type TransferFilter struct {
	Status TransferStatus
	SiteID string
}

// Matches applies the filter to one transfer
func (f TransferFilter) Matches(t *TransferRequest) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.SiteID != "" && !t.Involves(f.SiteID) {
		return false
	}
	return true
}

// TransferRepository stores transfer requests
type TransferRepository interface {
	Save(ctx context.Context, transfer *TransferRequest) error
	// FindByID returns nil when the transfer does not exist
	FindByID(ctx context.Context, id string) (*TransferRequest, error)
	// List returns matches ordered by RequestedAt then ID
	List(ctx context.Context, filter TransferFilter) ([]*TransferRequest, error)
}

// UsageRepository stores usage log entries
type UsageRepository interface {
	Save(ctx context.Context, usage *UsageEntry) error
	FindBySite(ctx context.Context, siteID string) ([]*UsageEntry, error)
}

// Transactor runs fn so that every repository call made with the ctx it receives
// commits or aborts together
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventRecorder persists domain events for asynchronous publication.
// It is called inside the business transaction.
type EventRecorder interface {
	Record(ctx context.Context, events ...DomainEvent) error
}
