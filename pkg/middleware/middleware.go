package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Config selects the standard chain installed by Setup
type Config struct {
	Logger      *slog.Logger
	ServiceName string
	// CORSOrigins lists browser origins allowed to call the API. "*" allows any
	// origin; empty disables CORS handling.
	CORSOrigins []string
	// RateLimit uses the limiter format "<limit>-<period>", e.g. "300-M". Empty disables it.
	RateLimit string
}

func DefaultConfig(serviceName string, logger *slog.Logger) *Config {
	return &Config{Logger: logger, ServiceName: serviceName, CORSOrigins: []string{"*"}}
}

// Setup installs recovery, request and correlation IDs, access logging,
// sanitizing, CORS, rate limiting and error rendering, in that order
func Setup(router *gin.Engine, config *Config) error {
	InitValidator()

	chain := []gin.HandlerFunc{
		Recovery(config.Logger),
		RequestID(),
		CorrelationID(),
		Logger(config.Logger),
		InputSanitizer(),
	}
	if len(config.CORSOrigins) > 0 {
		chain = append(chain, CORS(config.CORSOrigins))
	}
	if config.RateLimit != "" {
		limit, err := RateLimit(config.RateLimit)
		if err != nil {
			return err
		}
		chain = append(chain, limit)
	}
	chain = append(chain, ContentType(), ErrorHandler(config.Logger))

	router.Use(chain...)
	return nil
}

// CORS answers preflight requests from the site app
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", HeaderRequestID, HeaderCorrelationID, HeaderActorID, "Idempotency-Key"},
		ExposeHeaders: []string{HeaderRequestID, HeaderCorrelationID, "Idempotency-Replayed"},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// HealthCheck creates a health check handler
func HealthCheck(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	}
}

// ReadinessCheck creates a readiness check handler with custom check function
func ReadinessCheck(serviceName string, checkFn func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := checkFn(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"service": serviceName,
				"error":   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "ready",
			"service": serviceName,
		})
	}
}

// NoRoute answers unknown paths in the API error format
func NoRoute() gin.HandlerFunc {
	return routeError(http.StatusNotFound, "ROUTE_NOT_FOUND", "The requested resource was not found")
}

// NoMethod answers unsupported methods in the API error format
func NoMethod() gin.HandlerFunc {
	return routeError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "The request method is not supported for this resource")
}

func routeError(status int, code, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(status, APIErrorResponse{
			Code:      code,
			Message:   message,
			RequestID: GetRequestID(c),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Path:      c.Request.URL.Path,
		})
	}
}
