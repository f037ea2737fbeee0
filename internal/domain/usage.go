package domain

import "time"

// UsageEntry records stock consumed on a site
type UsageEntry struct {
	ID        string    `bson:"_id" json:"id"`
	Key       StockKey  `bson:"key" json:"key"`
	Quantity  int64     `bson:"quantity" json:"quantity"`
	Note      string    `bson:"note,omitempty" json:"note,omitempty"`
	LoggedBy  string    `bson:"loggedBy" json:"loggedBy"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// NewUsageEntry validates a usage log request. Usage only happens on a site.
func NewUsageEntry(key StockKey, quantity int64, loggedBy, note string) (*UsageEntry, error) {
	if _, err := NewStockKey(key.Name, key.Location); err != nil {
		return nil, err
	}
	if !key.Location.IsSite() {
		return nil, validationf("usage can only be logged against a site")
	}
	if quantity <= 0 {
		return nil, validationf("quantity must be positive, got %d", quantity)
	}
	if loggedBy == "" {
		return nil, validationf("actor is required")
	}

	return &UsageEntry{
		ID:        newID("US"),
		Key:       key,
		Quantity:  quantity,
		Note:      note,
		LoggedBy:  loggedBy,
		Timestamp: time.Now().UTC(),
	}, nil
}
