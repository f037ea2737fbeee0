package domain

import "time"

// Event types published for stock ledger changes
const (
	EventStockCredited     = "stockledger.stock.credited"
	EventStockUsed         = "stockledger.stock.used"
	EventTransferRequested = "stockledger.transfer.requested"
	EventTransferApproved  = "stockledger.transfer.approved"
	EventTransferRejected  = "stockledger.transfer.rejected"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
	// Subject is the id of the aggregate the event belongs to
	Subject() string
}

// StockCreditedEvent is published when a location receives stock outside a transfer
type StockCreditedEvent struct {
	EntryID    string    `json:"entryId"`
	Name       string    `json:"name"`
	Location   string    `json:"location"`
	Kind       EntryKind `json:"kind"`
	Quantity   int64     `json:"quantity"`
	Balance    int64     `json:"balance"`
	RelatedID  string    `json:"relatedId"`
	ActorID    string    `json:"actorId"`
	CreditedAt time.Time `json:"creditedAt"`
}

func (e *StockCreditedEvent) EventType() string     { return EventStockCredited }
func (e *StockCreditedEvent) OccurredAt() time.Time { return e.CreditedAt }
func (e *StockCreditedEvent) Subject() string       { return e.Name + "@" + e.Location }

// StockUsedEvent is published when usage is logged at a site
type StockUsedEvent struct {
	UsageID  string    `json:"usageId"`
	EntryID  string    `json:"entryId"`
	Name     string    `json:"name"`
	Location string    `json:"location"`
	Quantity int64     `json:"quantity"`
	Balance  int64     `json:"balance"`
	LoggedBy string    `json:"loggedBy"`
	UsedAt   time.Time `json:"usedAt"`
}

func (e *StockUsedEvent) EventType() string     { return EventStockUsed }
func (e *StockUsedEvent) OccurredAt() time.Time { return e.UsedAt }
func (e *StockUsedEvent) Subject() string       { return e.Name + "@" + e.Location }

// TransferRequestedEvent is published when a transfer request is created
type TransferRequestedEvent struct {
	TransferID  string    `json:"transferId"`
	Name        string    `json:"name"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Quantity    int64     `json:"quantity"`
	RequestedBy string    `json:"requestedBy"`
	RequestedAt time.Time `json:"requestedAt"`
}

func (e *TransferRequestedEvent) EventType() string     { return EventTransferRequested }
func (e *TransferRequestedEvent) OccurredAt() time.Time { return e.RequestedAt }
func (e *TransferRequestedEvent) Subject() string       { return e.TransferID }

// TransferApprovedEvent is published once both transfer entries are committed
type TransferApprovedEvent struct {
	TransferID  string    `json:"transferId"`
	Name        string    `json:"name"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Quantity    int64     `json:"quantity"`
	FromBalance int64     `json:"fromBalance"`
	ToBalance   int64     `json:"toBalance"`
	DecidedBy   string    `json:"decidedBy"`
	DecidedAt   time.Time `json:"decidedAt"`
}

func (e *TransferApprovedEvent) EventType() string     { return EventTransferApproved }
func (e *TransferApprovedEvent) OccurredAt() time.Time { return e.DecidedAt }
func (e *TransferApprovedEvent) Subject() string       { return e.TransferID }

// TransferRejectedEvent is published when a transfer is rejected
type TransferRejectedEvent struct {
	TransferID string    `json:"transferId"`
	Name       string    `json:"name"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Quantity   int64     `json:"quantity"`
	Reason     string    `json:"reason,omitempty"`
	DecidedBy  string    `json:"decidedBy"`
	DecidedAt  time.Time `json:"decidedAt"`
}

func (e *TransferRejectedEvent) EventType() string     { return EventTransferRejected }
func (e *TransferRejectedEvent) OccurredAt() time.Time { return e.DecidedAt }
func (e *TransferRejectedEvent) Subject() string       { return e.TransferID }
