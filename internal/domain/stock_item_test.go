package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnit(t *testing.T) {
	tests := map[string]Unit{
		"kg":     UnitKg,
		"m²":     UnitM2,
		"M2":     UnitM2,
		"m³":     UnitM3,
		" bag ":  UnitBag,
		"kintel": UnitKintel,
		"length": UnitLength,
	}
	for input, expected := range tests {
		u, err := ParseUnit(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, u)
	}

	_, err := ParseUnit("gallon")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("")
	require.NoError(t, err)
	assert.Equal(t, CategoryOther, c)

	c, err = ParseCategory("Cement")
	require.NoError(t, err)
	assert.Equal(t, CategoryCement, c)

	_, err = ParseCategory("jewellery")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewStockItem(t *testing.T) {
	key, err := NewStockKey("  Cement ", Site("S1"))
	require.NoError(t, err)
	assert.Equal(t, "Cement", key.Name)
	assert.Equal(t, "Cement@site:S1", key.String())

	item, err := NewStockItem(key, UnitBag, CategoryCement, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.NoError(t, item.CheckUnit(UnitBag))
	assert.NoError(t, item.CheckUnit(""))
	assert.ErrorIs(t, item.CheckUnit(UnitKg), ErrUnitMismatch)
	assert.ErrorIs(t, item.CheckUnit(UnitKg), ErrValidation)

	_, err = NewStockItem(key, Unit("litre"), CategoryCement, "user-1")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewStockKey("Cement", Location{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewUsageEntry(t *testing.T) {
	_, err := NewUsageEntry(StockKey{Name: "Cement", Location: Company()}, 5, "user-1", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewUsageEntry(StockKey{Name: "Cement", Location: Site("S1")}, 0, "user-1", "")
	assert.ErrorIs(t, err, ErrValidation)

	usage, err := NewUsageEntry(StockKey{Name: "Cement", Location: Site("S1")}, 5, "user-1", "slab pour")
	require.NoError(t, err)
	assert.Equal(t, int64(5), usage.Quantity)
	assert.Equal(t, "slab pour", usage.Note)
}

func TestStockKeyStringIsInjective(t *testing.T) {
	a, err := NewStockKey("A@site:x", Company())
	require.NoError(t, err)
	b, err := NewStockKey("A", Site("x@company"))
	require.NoError(t, err)

	assert.NotEqual(t, a.String(), b.String())
	assert.Equal(t, "Cement@site:S1", StockKey{Name: "Cement", Location: Site("S1")}.String())
}
