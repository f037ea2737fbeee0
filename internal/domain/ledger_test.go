package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEntry(t *testing.T, key StockKey, kind EntryKind, qty int64) *LedgerEntry {
	t.Helper()
	entry, err := NewLedgerEntry(key, kind, qty, NewRelatedID("REF"), "user-1")
	require.NoError(t, err)
	return entry
}

func TestNewLedgerEntry_SignFollowsKind(t *testing.T) {
	key := StockKey{Name: "Cement", Location: Site("S1")}

	tests := []struct {
		kind     EntryKind
		expected int64
	}{
		{EntryPurchaseCredit, 10},
		{EntryRentalCredit, 10},
		{EntryDirectCredit, 10},
		{EntryTransferIn, 10},
		{EntryTransferOut, -10},
		{EntryUsageDebit, -10},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			entry := mustEntry(t, key, tt.kind, 10)
			assert.Equal(t, tt.expected, entry.Delta)
			assert.Equal(t, int64(10), entry.Quantity())
		})
	}
}

func TestNewLedgerEntry_Validation(t *testing.T) {
	site := StockKey{Name: "Cement", Location: Site("S1")}
	company := StockKey{Name: "Cement", Location: Company()}

	tests := []struct {
		name      string
		key       StockKey
		kind      EntryKind
		qty       int64
		relatedID string
	}{
		{"zero quantity", site, EntryPurchaseCredit, 0, "P-1"},
		{"negative quantity", site, EntryPurchaseCredit, -5, "P-1"},
		{"unknown kind", site, EntryKind("Gift"), 5, "P-1"},
		{"missing related id", site, EntryPurchaseCredit, 5, ""},
		{"empty name", StockKey{Location: Site("S1")}, EntryPurchaseCredit, 5, "P-1"},
		{"usage at company", company, EntryUsageDebit, 5, "U-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLedgerEntry(tt.key, tt.kind, tt.qty, tt.relatedID, "user-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestApplyDelta(t *testing.T) {
	key := StockKey{Name: "Cement", Location: Site("S1")}

	next, err := ApplyDelta(key, 100, -30)
	require.NoError(t, err)
	assert.Equal(t, int64(70), next)

	next, err = ApplyDelta(key, 70, -70)
	require.NoError(t, err)
	assert.Equal(t, int64(0), next)

	_, err = ApplyDelta(key, 70, -80)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	var insufficient *InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(70), insufficient.Available)
	assert.Equal(t, int64(80), insufficient.Requested)
	assert.Equal(t, key, insufficient.Key)
}

func TestFold(t *testing.T) {
	key := StockKey{Name: "Sand", Location: Company()}

	history := []*LedgerEntry{
		mustEntry(t, key, EntryPurchaseCredit, 50),
		mustEntry(t, key, EntryTransferOut, 20),
		mustEntry(t, key, EntryRentalCredit, 5),
	}
	balance, err := Fold(history)
	require.NoError(t, err)
	assert.Equal(t, int64(35), balance)

	empty, err := Fold(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty)

	broken := []*LedgerEntry{
		mustEntry(t, key, EntryPurchaseCredit, 10),
		mustEntry(t, key, EntryTransferOut, 20),
		mustEntry(t, key, EntryPurchaseCredit, 50),
	}
	_, err = Fold(broken)
	assert.Error(t, err, "a negative prefix must be reported even if the total is positive")
}

func TestReconcile(t *testing.T) {
	key := StockKey{Name: "Sand", Location: Company()}
	history := []*LedgerEntry{
		mustEntry(t, key, EntryPurchaseCredit, 50),
		mustEntry(t, key, EntryTransferOut, 20),
	}

	ok, err := Reconcile(key, 30, history)
	require.NoError(t, err)
	assert.True(t, ok.Consistent)
	assert.Equal(t, 2, ok.EntryCount)

	drift, err := Reconcile(key, 31, history)
	require.NoError(t, err)
	assert.False(t, drift.Consistent)
	assert.Equal(t, int64(30), drift.FoldedBalance)
}
