package application

import "time"

// StockItemDTO represents a catalog row
type StockItemDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Unit      string    `json:"unit"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy"`
}

// LedgerEntryDTO represents one committed ledger entry
type LedgerEntryDTO struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Location     string    `json:"location"`
	Kind         string    `json:"kind"`
	Delta        int64     `json:"delta"`
	BalanceAfter int64     `json:"balanceAfter"`
	RelatedID    string    `json:"relatedId"`
	ActorID      string    `json:"actorId"`
	Timestamp    time.Time `json:"timestamp"`
}

// CreditResultDTO is returned by every credit operation.
// AlreadyCredited is set when the source had been credited before; Entry is then the earlier entry.
type CreditResultDTO struct {
	Item            StockItemDTO   `json:"item"`
	Entry           LedgerEntryDTO `json:"entry"`
	Balance         int64          `json:"balance"`
	AlreadyCredited bool           `json:"alreadyCredited"`
}

// UsageEntryDTO represents a usage log entry
type UsageEntryDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Quantity  int64     `json:"quantity"`
	Note      string    `json:"note,omitempty"`
	LoggedBy  string    `json:"loggedBy"`
	Timestamp time.Time `json:"timestamp"`
}

// UsageResultDTO is returned by LogUsage
type UsageResultDTO struct {
	Usage   UsageEntryDTO `json:"usage"`
	Balance int64         `json:"balance"`
}

// TransferDTO represents a transfer request
type TransferDTO struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	Quantity        int64      `json:"quantity"`
	Status          string     `json:"status"`
	Note            string     `json:"note,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	RequestedBy     string     `json:"requestedBy"`
	RequestedAt     time.Time  `json:"requestedAt"`
	DecidedBy       string     `json:"decidedBy,omitempty"`
	DecidedAt       *time.Time `json:"decidedAt,omitempty"`
}

// TransferDecisionDTO is returned by ApproveTransfer. Balances are zero on reject.
type TransferDecisionDTO struct {
	Transfer    TransferDTO `json:"transfer"`
	FromBalance int64       `json:"fromBalance"`
	ToBalance   int64       `json:"toBalance"`
}

// StockBalanceDTO is the committed balance of one stock key
type StockBalanceDTO struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Unit     string `json:"unit"`
	Category string `json:"category"`
	Balance  int64  `json:"balance"`
}

// StockHistoryDTO is the replayable history of one stock key
type StockHistoryDTO struct {
	StockBalanceDTO
	Entries []LedgerEntryDTO `json:"entries"`
}

// LocationStockDTO is one row of the location stock view
type LocationStockDTO struct {
	Name           string    `json:"name"`
	Unit           string    `json:"unit"`
	Category       string    `json:"category"`
	Balance        int64     `json:"balance"`
	IsEmpty        bool      `json:"isEmpty"`
	LastEntryKind  string    `json:"lastEntryKind"`
	LastMovementAt time.Time `json:"lastMovementAt"`
}

// LocationStockListDTO lists the stock held at one location
type LocationStockListDTO struct {
	Location string             `json:"location"`
	Items    []LocationStockDTO `json:"items"`
}

// ReconciliationDTO compares the stored balance with a replay of the history
type ReconciliationDTO struct {
	Name          string `json:"name"`
	Location      string `json:"location"`
	StoredBalance int64  `json:"storedBalance"`
	FoldedBalance int64  `json:"foldedBalance"`
	EntryCount    int    `json:"entryCount"`
	Consistent    bool   `json:"consistent"`
}
