package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sitestock/stock-ledger/pkg/errors"
	"github.com/sitestock/stock-ledger/pkg/logging"
)

// HeaderActorID carries the identity of the user performing the request.
// Authentication happens upstream; the header is trusted as-is.
const HeaderActorID = "X-Actor-ID"

// ContextKeyActorID is the gin context key holding the actor
const ContextKeyActorID = "actorId"

// ActorConfig holds configuration for the actor middleware
type ActorConfig struct {
	// Required rejects requests without an actor. Reads usually set it to false.
	Required bool
}

// Actor extracts the acting user from X-Actor-ID and stores it in both the gin
// and the request context
func Actor(config ActorConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := strings.TrimSpace(c.GetHeader(HeaderActorID))

		if actorID == "" {
			if config.Required {
				AbortWithAppError(c, errors.ErrValidationWithFields(
					"actor identity is required",
					map[string]string{HeaderActorID: "is required"},
				))
				return
			}
			c.Next()
			return
		}

		c.Set(ContextKeyActorID, actorID)
		c.Request = c.Request.WithContext(logging.ContextWithActorID(c.Request.Context(), actorID))

		c.Next()
	}
}

// RequireActor is Actor with Required set
func RequireActor() gin.HandlerFunc {
	return Actor(ActorConfig{Required: true})
}

// GetActorID returns the actor set by the Actor middleware
func GetActorID(c *gin.Context) string {
	return c.GetString(ContextKeyActorID)
}
