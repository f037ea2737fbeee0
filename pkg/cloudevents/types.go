package cloudevents

import (
	"encoding/json"
	"fmt"
	"time"
)

// SpecVersion is the CloudEvents specification version produced by this package
const SpecVersion = "1.0"

// Event types emitted by the stock ledger
const (
	StockCredited     = "stockledger.stock.credited"
	StockUsed         = "stockledger.stock.used"
	TransferRequested = "stockledger.transfer.requested"
	TransferApproved  = "stockledger.transfer.approved"
	TransferRejected  = "stockledger.transfer.rejected"
)

// Event types consumed from the procurement system
const (
	PurchaseVerified = "procurement.purchase.verified"
	RentalVerified   = "procurement.rental.verified"
)

// Source constants for event sources
const (
	SourceStockLedger = "/sitestock/stock-ledger"
	SourceProcurement = "/sitestock/procurement"
)

// CloudEvent represents a CloudEvents v1.0 compliant event
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	Type            string      `json:"type"`
	Source          string      `json:"source"`
	Subject         string      `json:"subject,omitempty"`
	ID              string      `json:"id"`
	Time            time.Time   `json:"time"`
	DataContentType string      `json:"datacontenttype"`
	Data            interface{} `json:"data"`

	// Extensions
	CorrelationID string `json:"correlationid,omitempty"`
	ActorID       string `json:"actorid,omitempty"`
	TraceParent   string `json:"traceparent,omitempty"`
	TraceState    string `json:"tracestate,omitempty"`
}

// Validate checks the attributes required by the CloudEvents spec
func (e *CloudEvent) Validate() error {
	switch {
	case e.SpecVersion != SpecVersion:
		return fmt.Errorf("unsupported specversion %q", e.SpecVersion)
	case e.ID == "":
		return fmt.Errorf("event id is required")
	case e.Type == "":
		return fmt.Errorf("event type is required")
	case e.Source == "":
		return fmt.Errorf("event source is required")
	}
	return nil
}

// DecodeData decodes the data payload into v. Events read from the wire carry
// their payload as a generic map, so the data is round-tripped through JSON.
func (e *CloudEvent) DecodeData(v interface{}) error {
	if e.Data == nil {
		return fmt.Errorf("event %s has no data", e.ID)
	}

	var raw []byte
	switch d := e.Data.(type) {
	case json.RawMessage:
		raw = d
	case []byte:
		raw = d
	default:
		var err error
		if raw, err = json.Marshal(d); err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", e.Type, err)
	}
	return nil
}

// Parse decodes a structured-mode CloudEvent
func Parse(data []byte) (*CloudEvent, error) {
	var event CloudEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to parse cloud event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}

// ReplenishmentVerifiedData is the payload of PurchaseVerified and RentalVerified.
// One verified source credits one stock item at one location.
type ReplenishmentVerifiedData struct {
	SourceID   string    `json:"sourceId"`
	Name       string    `json:"name"`
	Location   string    `json:"location"`
	Quantity   int64     `json:"quantity"`
	Unit       string    `json:"unit"`
	Category   string    `json:"category"`
	VerifiedBy string    `json:"verifiedBy"`
	VerifiedAt time.Time `json:"verifiedAt"`
}
