package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/sitestock/stock-ledger/pkg/errors"
)

// RateLimit limits requests per client IP. rate uses the limiter format, e.g. "300-M".
func RateLimit(rate string) (gin.HandlerFunc, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", rate, err)
	}

	instance := limiter.New(memory.NewStore(), parsed)

	return mgin.NewMiddleware(instance,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			AbortWithAppError(c, errors.ErrRateLimitExceeded())
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			AbortWithAppError(c, errors.ErrInternal("rate limiter failure").Wrap(err))
		}),
	), nil
}
