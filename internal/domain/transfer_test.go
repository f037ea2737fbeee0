package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransferRequest(t *testing.T) {
	tests := []struct {
		name        string
		itemName    string
		qty         int64
		from        Location
		to          Location
		requestedBy string
		expectError bool
	}{
		{"site to company", "Cement", 30, Site("S1"), Company(), "user-1", false},
		{"company to site", "Cement", 30, Company(), Site("S1"), "user-1", false},
		{"site to site", "Cement", 30, Site("S1"), Site("S2"), "user-1", false},
		{"zero quantity", "Cement", 0, Site("S1"), Company(), "user-1", true},
		{"negative quantity", "Cement", -1, Site("S1"), Company(), "user-1", true},
		{"same site", "Cement", 5, Site("S1"), Site("S1"), "user-1", true},
		{"company to company", "Cement", 5, Company(), Company(), "user-1", true},
		{"invalid destination", "Cement", 5, Site("S1"), Location{}, "user-1", true},
		{"missing name", " ", 5, Site("S1"), Company(), "user-1", true},
		{"missing requester", "Cement", 5, Site("S1"), Company(), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transfer, err := NewTransferRequest(tt.itemName, tt.qty, tt.from, tt.to, tt.requestedBy, "")

			if tt.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, TransferRequested, transfer.Status)
			assert.Empty(t, transfer.DecidedBy)
			assert.Nil(t, transfer.DecidedAt)

			events := transfer.PullEvents()
			require.Len(t, events, 1)
			assert.Equal(t, EventTransferRequested, events[0].EventType())
			assert.Empty(t, transfer.PullEvents())
		})
	}
}

func TestTransferRequest_Approve(t *testing.T) {
	transfer, err := NewTransferRequest("Cement", 30, Site("S1"), Company(), "user-1", "")
	require.NoError(t, err)
	transfer.PullEvents()

	require.NoError(t, transfer.Approve("manager-1", 70, 30))
	assert.Equal(t, TransferApproved, transfer.Status)
	assert.Equal(t, "manager-1", transfer.DecidedBy)
	require.NotNil(t, transfer.DecidedAt)

	events := transfer.PullEvents()
	require.Len(t, events, 1)
	approved, ok := events[0].(*TransferApprovedEvent)
	require.True(t, ok)
	assert.Equal(t, int64(70), approved.FromBalance)
	assert.Equal(t, int64(30), approved.ToBalance)

	err = transfer.Approve("manager-1", 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, TransferApproved, invalid.From)
	assert.Equal(t, "approve", invalid.Action)

	assert.ErrorIs(t, transfer.Reject("manager-1", "late"), ErrInvalidTransition)
	assert.Empty(t, transfer.PullEvents())
}

func TestTransferRequest_Reject(t *testing.T) {
	transfer, err := NewTransferRequest("Steel", 4, Company(), Site("S2"), "user-1", "")
	require.NoError(t, err)

	require.NoError(t, transfer.Reject("manager-1", "not needed"))
	assert.Equal(t, TransferRejected, transfer.Status)
	assert.Equal(t, "not needed", transfer.RejectionReason)
	assert.True(t, transfer.Status.IsTerminal())

	assert.ErrorIs(t, transfer.Approve("manager-1", 0, 4), ErrInvalidTransition)
	assert.ErrorIs(t, transfer.Reject("manager-1", ""), ErrInvalidTransition)
}

func TestTransferFilter_Matches(t *testing.T) {
	toCompany, _ := NewTransferRequest("Cement", 1, Site("S1"), Company(), "u", "")
	betweenSites, _ := NewTransferRequest("Cement", 1, Site("S2"), Site("S3"), "u", "")
	_ = betweenSites.Reject("m", "")

	assert.True(t, TransferFilter{}.Matches(toCompany))
	assert.True(t, TransferFilter{SiteID: "S1"}.Matches(toCompany))
	assert.False(t, TransferFilter{SiteID: "S3"}.Matches(toCompany))
	assert.True(t, TransferFilter{SiteID: "S3"}.Matches(betweenSites))
	assert.True(t, TransferFilter{Status: TransferRejected, SiteID: "S2"}.Matches(betweenSites))
	assert.False(t, TransferFilter{Status: TransferRequested}.Matches(betweenSites))
}

func TestTransferRequest_CheckDecider(t *testing.T) {
	transfer, err := NewTransferRequest("Cement", 10, Site("S1"), Company(), "user-1", "")
	require.NoError(t, err)

	err = transfer.CheckDecider("user-1")
	assert.ErrorIs(t, err, ErrSameDecider)
	assert.ErrorIs(t, err, ErrValidation)
	assert.NoError(t, transfer.CheckDecider("manager-1"))
}
