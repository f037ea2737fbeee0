package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StockKey identifies one ledger row: an item name held at one location
type StockKey struct {
	Name     string   `bson:"name" json:"name"`
	Location Location `bson:"location" json:"location"`
}

// NewStockKey validates and normalizes a key
func NewStockKey(name string, location Location) (StockKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return StockKey{}, validationf("stock item name is required")
	}
	if !location.IsValid() {
		return StockKey{}, validationf("invalid location")
	}
	return StockKey{Name: name, Location: location}, nil
}

// keyNameEscaper escapes the separator in names, so the first unescaped "@"
// always ends the name and distinct keys never share a string
var keyNameEscaper = strings.NewReplacer(`\`, `\\`, "@", `\@`)

// String is the canonical form used for lock ordering and storage lookups
func (k StockKey) String() string {
	return keyNameEscaper.Replace(k.Name) + "@" + k.Location.String()
}

// At returns the same item name at another location
func (k StockKey) At(location Location) StockKey {
	return StockKey{Name: k.Name, Location: location}
}

// StockItem is a catalog row created on the first credit at a location
type StockItem struct {
	ID        string    `bson:"_id" json:"id"`
	Key       StockKey  `bson:"key" json:"key"`
	Unit      Unit      `bson:"unit" json:"unit"`
	Category  Category  `bson:"category" json:"category"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	CreatedBy string    `bson:"createdBy" json:"createdBy"`
}

// NewStockItem creates a catalog row for the key
func NewStockItem(key StockKey, unit Unit, category Category, createdBy string) (*StockItem, error) {
	if _, err := NewStockKey(key.Name, key.Location); err != nil {
		return nil, err
	}
	if !unit.IsValid() {
		return nil, validationf("unknown unit %q", unit)
	}
	if !category.IsValid() {
		return nil, validationf("unknown category %q", category)
	}

	return &StockItem{
		ID:        newID("SI"),
		Key:       key,
		Unit:      unit,
		Category:  category,
		CreatedAt: time.Now().UTC(),
		CreatedBy: createdBy,
	}, nil
}

// CheckUnit rejects a credit expressed in a different unit than the row
func (s *StockItem) CheckUnit(unit Unit) error {
	if unit != "" && unit != s.Unit {
		return fmt.Errorf("%w: %s is tracked in %s, got %s", ErrUnitMismatch, s.Key, s.Unit, unit)
	}
	return nil
}

// newID builds "<prefix>-<timestamp>-<short uuid>" identifiers
func newID(prefix string) string {
	timestamp := time.Now().UTC().Format("20060102150405")
	return fmt.Sprintf("%s-%s-%s", prefix, timestamp, uuid.New().String()[:8])
}

// NewRelatedID generates an id for ledger entries that have no external source record
func NewRelatedID(prefix string) string {
	return newID(prefix)
}
