package application

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sitestock/stock-ledger/internal/domain"
	"github.com/sitestock/stock-ledger/internal/guard"
	apperrors "github.com/sitestock/stock-ledger/pkg/errors"
)

func TestToAppError(t *testing.T) {
	key := domain.StockKey{Name: "Cement", Location: domain.Site("S1")}

	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"insufficient", &domain.InsufficientStockError{Key: key, Available: 3, Requested: 5}, apperrors.CodeInsufficientStock, http.StatusConflict},
		{"transition", &domain.InvalidTransitionError{TransferID: "TR-1", From: domain.TransferApproved, Action: "approve"}, apperrors.CodeInvalidTransition, http.StatusConflict},
		{"validation", domain.ErrUnitMismatch, apperrors.CodeValidationError, http.StatusBadRequest},
		{"not found", domain.ErrNotFound, apperrors.CodeNotFound, http.StatusNotFound},
		{"lock timeout", guard.ErrLockTimeout, apperrors.CodeLockTimeout, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, apperrors.CodeServiceUnavailable, http.StatusServiceUnavailable},
		{"unknown", errors.New("disk on fire"), apperrors.CodeInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := toAppError(tt.err)
			appErr, ok := apperrors.AsAppError(err)
			if assert.True(t, ok) {
				assert.Equal(t, tt.code, appErr.Code)
				assert.Equal(t, tt.status, appErr.HTTPStatus)
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, toAppError(nil))

	already := apperrors.ErrConflict("x")
	assert.Same(t, already, toAppError(already))
}
