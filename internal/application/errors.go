package application

import (
	"context"
	"errors"

	"github.com/sitestock/stock-ledger/internal/domain"
	"github.com/sitestock/stock-ledger/internal/guard"
	apperrors "github.com/sitestock/stock-ledger/pkg/errors"
)

// toAppError translates domain failures into API errors. The domain error stays
// wrapped so errors.Is and errors.As keep matching it.
func toAppError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}

	var insufficient *domain.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		return apperrors.ErrInsufficientStock(insufficient.Available, insufficient.Requested).
			WithDetail("key", insufficient.Key.String()).
			Wrap(err)
	case errors.Is(err, domain.ErrInvalidTransition):
		return apperrors.ErrInvalidTransition(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrValidation):
		return apperrors.ErrValidation(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrNotFound):
		return apperrors.ErrNotFound("resource").Wrap(err)
	case errors.Is(err, guard.ErrLockTimeout):
		return apperrors.ErrLockTimeout("stock").Wrap(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.ErrServiceUnavailable("stock ledger").Wrap(err)
	default:
		return apperrors.ErrInternal("").Wrap(err)
	}
}

func notFound(resource, id string) error {
	return apperrors.ErrNotFoundWithID(resource, id).Wrap(domain.ErrNotFound)
}
