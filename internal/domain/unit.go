package domain

import (
	"fmt"
	"strings"
)

// Unit is the unit of measure a stock item is counted in
type Unit string

const (
	UnitKg     Unit = "kg"
	UnitM2     Unit = "m2"
	UnitM3     Unit = "m3"
	UnitMeter  Unit = "m"
	UnitBag    Unit = "bag"
	UnitSheet  Unit = "sheet"
	UnitHour   Unit = "hour"
	UnitDay    Unit = "day"
	UnitBundle Unit = "bundle"
	UnitKintel Unit = "kintel"
	UnitTon    Unit = "ton"
	UnitLength Unit = "length"
)

// AllUnits lists every supported unit
var AllUnits = []Unit{
	UnitKg, UnitM2, UnitM3, UnitMeter, UnitBag, UnitSheet,
	UnitHour, UnitDay, UnitBundle, UnitKintel, UnitTon, UnitLength,
}

// IsValid checks if the unit is supported
func (u Unit) IsValid() bool {
	switch u {
	case UnitKg, UnitM2, UnitM3, UnitMeter, UnitBag, UnitSheet,
		UnitHour, UnitDay, UnitBundle, UnitKintel, UnitTon, UnitLength:
		return true
	default:
		return false
	}
}

// ParseUnit normalizes user input. Superscript forms (m², m³) are accepted.
func ParseUnit(s string) (Unit, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer("²", "2", "³", "3").Replace(normalized)
	u := Unit(normalized)
	if !u.IsValid() {
		return "", fmt.Errorf("%w: unknown unit %q", ErrValidation, s)
	}
	return u, nil
}

// Category is the construction-work category of a stock item
type Category string

const (
	CategoryCement      Category = "cement"
	CategoryAggregate   Category = "aggregate"
	CategorySteel       Category = "steel"
	CategoryMasonry     Category = "masonry"
	CategoryTimber      Category = "timber"
	CategoryElectrical  Category = "electrical"
	CategoryPlumbing    Category = "plumbing"
	CategoryFinishing   Category = "finishing"
	CategoryMachinery   Category = "machinery"
	CategoryTools       Category = "tools"
	CategoryConsumables Category = "consumables"
	CategoryOther       Category = "other"
)

// IsValid checks if the category is supported
func (c Category) IsValid() bool {
	switch c {
	case CategoryCement, CategoryAggregate, CategorySteel, CategoryMasonry,
		CategoryTimber, CategoryElectrical, CategoryPlumbing, CategoryFinishing,
		CategoryMachinery, CategoryTools, CategoryConsumables, CategoryOther:
		return true
	default:
		return false
	}
}

// ParseCategory normalizes user input; empty input maps to CategoryOther
func ParseCategory(s string) (Category, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "" {
		return CategoryOther, nil
	}
	c := Category(normalized)
	if !c.IsValid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrValidation, s)
	}
	return c, nil
}
