package domain

import (
	"time"
)

// TransferStatus is the state of a transfer request
type TransferStatus string

const (
	TransferRequested TransferStatus = "Requested"
	TransferApproved  TransferStatus = "Approved"
	TransferRejected  TransferStatus = "Rejected"
)

// IsValid checks if the status is known
func (s TransferStatus) IsValid() bool {
	switch s {
	case TransferRequested, TransferApproved, TransferRejected:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed
func (s TransferStatus) IsTerminal() bool {
	return s == TransferApproved || s == TransferRejected
}

// TransferRequest moves quantity of one item between two locations once approved
type TransferRequest struct {
	ID              string         `bson:"_id" json:"id"`
	Name            string         `bson:"name" json:"name"`
	From            Location       `bson:"from" json:"from"`
	To              Location       `bson:"to" json:"to"`
	Quantity        int64          `bson:"quantity" json:"quantity"`
	Status          TransferStatus `bson:"status" json:"status"`
	Note            string         `bson:"note,omitempty" json:"note,omitempty"`
	RejectionReason string         `bson:"rejectionReason,omitempty" json:"rejectionReason,omitempty"`
	RequestedBy     string         `bson:"requestedBy" json:"requestedBy"`
	RequestedAt     time.Time      `bson:"requestedAt" json:"requestedAt"`
	DecidedBy       string         `bson:"decidedBy,omitempty" json:"decidedBy,omitempty"`
	DecidedAt       *time.Time     `bson:"decidedAt,omitempty" json:"decidedAt,omitempty"`

	domainEvents []DomainEvent
}

// NewTransferRequest validates and creates a transfer in the Requested state.
// The source balance is deliberately not checked here; approval re-validates it.
func NewTransferRequest(name string, quantity int64, from, to Location, requestedBy, note string) (*TransferRequest, error) {
	key, err := NewStockKey(name, from)
	if err != nil {
		return nil, err
	}
	if !to.IsValid() {
		return nil, validationf("invalid destination location")
	}
	if quantity <= 0 {
		return nil, validationf("quantity must be positive, got %d", quantity)
	}
	if from.Equal(to) {
		return nil, validationf("source and destination must differ")
	}
	if requestedBy == "" {
		return nil, validationf("requester is required")
	}

	now := time.Now().UTC()
	t := &TransferRequest{
		ID:          newID("TR"),
		Name:        key.Name,
		From:        from,
		To:          to,
		Quantity:    quantity,
		Status:      TransferRequested,
		Note:        note,
		RequestedBy: requestedBy,
		RequestedAt: now,
	}

	t.addDomainEvent(&TransferRequestedEvent{
		TransferID:  t.ID,
		Name:        t.Name,
		From:        from.String(),
		To:          to.String(),
		Quantity:    quantity,
		RequestedBy: requestedBy,
		RequestedAt: now,
	})

	return t, nil
}

// SourceKey is the ledger row debited on approval
func (t *TransferRequest) SourceKey() StockKey {
	return StockKey{Name: t.Name, Location: t.From}
}

// DestinationKey is the ledger row credited on approval
func (t *TransferRequest) DestinationKey() StockKey {
	return StockKey{Name: t.Name, Location: t.To}
}

// Involves reports whether the site is the source or the destination
func (t *TransferRequest) Involves(siteID string) bool {
	return (t.From.IsSite() && t.From.SiteID() == siteID) ||
		(t.To.IsSite() && t.To.SiteID() == siteID)
}

// CanDecide checks the transfer is still awaiting a decision
func (t *TransferRequest) CanDecide(action string) error {
	if t.Status != TransferRequested {
		return &InvalidTransitionError{TransferID: t.ID, From: t.Status, Action: action}
	}
	return nil
}

// CheckDecider enforces separation of duties between requester and approver
func (t *TransferRequest) CheckDecider(decidedBy string) error {
	if decidedBy == t.RequestedBy {
		return ErrSameDecider
	}
	return nil
}

// Approve moves the transfer to Approved. The caller must already have committed
// (or be committing in the same transaction) the TransferOut and TransferIn entries.
func (t *TransferRequest) Approve(decidedBy string, fromBalance, toBalance int64) error {
	if err := t.CanDecide("approve"); err != nil {
		return err
	}
	if decidedBy == "" {
		return validationf("approver is required")
	}

	now := time.Now().UTC()
	t.Status = TransferApproved
	t.DecidedBy = decidedBy
	t.DecidedAt = &now

	t.addDomainEvent(&TransferApprovedEvent{
		TransferID:  t.ID,
		Name:        t.Name,
		From:        t.From.String(),
		To:          t.To.String(),
		Quantity:    t.Quantity,
		FromBalance: fromBalance,
		ToBalance:   toBalance,
		DecidedBy:   decidedBy,
		DecidedAt:   now,
	})
	return nil
}

// Reject moves the transfer to Rejected with no ledger effect
func (t *TransferRequest) Reject(decidedBy, reason string) error {
	if err := t.CanDecide("reject"); err != nil {
		return err
	}
	if decidedBy == "" {
		return validationf("approver is required")
	}

	now := time.Now().UTC()
	t.Status = TransferRejected
	t.DecidedBy = decidedBy
	t.DecidedAt = &now
	t.RejectionReason = reason

	t.addDomainEvent(&TransferRejectedEvent{
		TransferID: t.ID,
		Name:       t.Name,
		From:       t.From.String(),
		To:         t.To.String(),
		Quantity:   t.Quantity,
		Reason:     reason,
		DecidedBy:  decidedBy,
		DecidedAt:  now,
	})
	return nil
}

func (t *TransferRequest) addDomainEvent(event DomainEvent) {
	t.domainEvents = append(t.domainEvents, event)
}

// PullEvents returns and clears the pending domain events
func (t *TransferRequest) PullEvents() []DomainEvent {
	events := t.domainEvents
	t.domainEvents = nil
	return events
}

// Clone returns a copy without pending events, used by stores to avoid aliasing
func (t *TransferRequest) Clone() *TransferRequest {
	c := *t
	c.domainEvents = nil
	if t.DecidedAt != nil {
		decided := *t.DecidedAt
		c.DecidedAt = &decided
	}
	return &c
}
