package domain

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// LocationKind distinguishes company-level stock from site stock
type LocationKind int

const (
	LocationCompany LocationKind = iota + 1
	LocationSite
)

const (
	companyToken = "company"
	sitePrefix   = "site:"
)

// Location is where a balance is tracked: either the company store or a single site.
// The zero value is invalid.
type Location struct {
	kind   LocationKind
	siteID string
}

// Company returns the company-level location
func Company() Location {
	return Location{kind: LocationCompany}
}

// Site returns the location of the given site
func Site(siteID string) Location {
	return Location{kind: LocationSite, siteID: strings.TrimSpace(siteID)}
}

// ParseLocation parses the textual form produced by String.
// Accepts "company" or "site:<id>".
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.EqualFold(s, companyToken):
		return Company(), nil
	case strings.HasPrefix(strings.ToLower(s), sitePrefix):
		id := strings.TrimSpace(s[len(sitePrefix):])
		if id == "" {
			return Location{}, fmt.Errorf("%w: site location requires an id", ErrValidation)
		}
		return Site(id), nil
	default:
		return Location{}, fmt.Errorf("%w: unknown location %q", ErrValidation, s)
	}
}

// Kind returns the location variant
func (l Location) Kind() LocationKind {
	return l.kind
}

// SiteID returns the site id, empty for the company location
func (l Location) SiteID() string {
	return l.siteID
}

// IsCompany reports whether this is the company location
func (l Location) IsCompany() bool {
	return l.kind == LocationCompany
}

// IsSite reports whether this is a site location
func (l Location) IsSite() bool {
	return l.kind == LocationSite
}

// IsValid reports whether the location is one of the two variants with required data
func (l Location) IsValid() bool {
	switch l.kind {
	case LocationCompany:
		return l.siteID == ""
	case LocationSite:
		return l.siteID != ""
	default:
		return false
	}
}

// Equal compares two locations variant by variant
func (l Location) Equal(other Location) bool {
	switch l.kind {
	case LocationCompany:
		return other.kind == LocationCompany
	case LocationSite:
		return other.kind == LocationSite && l.siteID == other.siteID
	default:
		return other.kind == l.kind
	}
}

// String returns "company" or "site:<id>"
func (l Location) String() string {
	switch l.kind {
	case LocationCompany:
		return companyToken
	case LocationSite:
		return sitePrefix + l.siteID
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler
func (l Location) MarshalText() ([]byte, error) {
	if !l.IsValid() {
		return nil, fmt.Errorf("%w: invalid location", ErrValidation)
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *Location) UnmarshalText(text []byte) error {
	parsed, err := ParseLocation(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalBSONValue implements bson.ValueMarshaler
func (l Location) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(l.String())
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler
func (l *Location) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var s string
	if err := bson.UnmarshalValue(t, data, &s); err != nil {
		return err
	}
	return l.UnmarshalText([]byte(s))
}
