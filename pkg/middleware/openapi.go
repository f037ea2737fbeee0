package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/sitestock/stock-ledger/pkg/contracts/openapi"
	"github.com/sitestock/stock-ledger/pkg/errors"
)

// OpenAPIValidation rejects requests that do not match the OpenAPI contract.
// Paths missing from the contract (health, metrics) pass through.
func OpenAPIValidation(v *openapi.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !v.HasRoute(c.Request) {
			c.Next()
			return
		}

		if err := v.ValidateRequest(c.Request); err != nil {
			AbortWithAppError(c, errors.ErrValidation("request does not match the API contract").
				WithDetail("contract", err.Error()))
			return
		}

		c.Next()
	}
}
