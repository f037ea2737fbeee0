package application

// Commands carry raw request values. The service parses locations, units and
// categories so that HTTP, Kafka and Temporal callers share one validation path.

// AddStockCommand credits stock directly, outside the replenishment flow
type AddStockCommand struct {
	Name     string
	Location string
	Quantity int64
	Unit     string
	Category string
	ActorID  string
}

// CreditReplenishmentCommand credits a verified purchase or machinery rental
type CreditReplenishmentCommand struct {
	SourceID string
	Name     string
	Location string
	Quantity int64
	Unit     string
	Category string
	ActorID  string
}

// LogUsageCommand records stock consumed on a site
type LogUsageCommand struct {
	Name     string
	Location string
	Quantity int64
	ActorID  string
	Note     string
}

// RequestTransferCommand opens a transfer request
type RequestTransferCommand struct {
	Name     string
	Quantity int64
	From     string
	To       string
	ActorID  string
	Note     string
}

// DecideTransferCommand approves or rejects a transfer. Reason is used on reject only.
type DecideTransferCommand struct {
	TransferID string
	ActorID    string
	Reason     string
}

// StockKeyQuery addresses one stock item at one location
type StockKeyQuery struct {
	Name     string
	Location string
}

// ListTransfersQuery filters transfers by status and by site
type ListTransfersQuery struct {
	Status string
	SiteID string
}
