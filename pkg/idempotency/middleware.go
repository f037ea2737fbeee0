package idempotency

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sitestock/stock-ledger/pkg/errors"
	"github.com/sitestock/stock-ledger/pkg/middleware"
)

const (
	// HeaderIdempotencyKey is the HTTP header name for the idempotency key
	HeaderIdempotencyKey = "Idempotency-Key"

	// HeaderIdempotentReplay is set on responses served from the key store
	HeaderIdempotentReplay = "Idempotent-Replayed"

	// ContextKeyIdempotencyKeyID is the gin context key holding the stored key ID
	ContextKeyIdempotencyKeyID = "idempotency_key_id"
)

// Error codes returned by the middleware
const (
	CodeKeyRequired       = "IDEMPOTENCY_KEY_REQUIRED"
	CodeKeyInvalid        = "IDEMPOTENCY_KEY_INVALID"
	CodeParameterMismatch = "IDEMPOTENCY_PARAMETER_MISMATCH"
	CodeConcurrentRequest = "IDEMPOTENCY_CONCURRENT_REQUEST"
)

// responseWriter wraps gin.ResponseWriter to capture response data
type responseWriter struct {
	gin.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware returns a Gin middleware that replays the first response for a
// repeated Idempotency-Key. Keys are scoped per service and actor.
func Middleware(config *Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.OnlyMutating && !isMutatingMethod(c.Request.Method) {
			c.Next()
			return
		}

		key := NormalizeKey(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			if config.RequireKey {
				middleware.AbortWithAppError(c, errors.NewAppError(
					CodeKeyRequired, ErrKeyRequired.Error(), http.StatusBadRequest))
				return
			}
			c.Next()
			return
		}

		if err := ValidateKeyWithMaxLength(key, config.MaxKeyLength); err != nil {
			middleware.AbortWithAppError(c, errors.NewAppError(
				CodeKeyInvalid, fmt.Sprintf("Invalid idempotency key: %v", err), http.StatusBadRequest))
			return
		}

		var actorID string
		if config.ActorIDExtractor != nil {
			actorID = config.ActorIDExtractor(c)
		}

		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}
		fingerprint := ComputeFingerprint(
			[]byte(c.Request.Method),
			[]byte(c.Request.URL.Path),
			requestBody,
		)

		processIdempotency(c, config, key, actorID, fingerprint)
	}
}

func processIdempotency(c *gin.Context, config *Config, key, actorID, fingerprint string) {
	ctx := c.Request.Context()
	startTime := time.Now()
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	method := c.Request.Method

	log := slog.With(
		"key", key,
		"actorId", actorID,
		"service", config.ServiceName,
		"path", c.Request.URL.Path,
	)

	now := time.Now().UTC()
	candidate := &IdempotencyKey{
		ID:                 uuid.NewString(),
		Key:                key,
		ActorID:            actorID,
		ServiceID:          config.ServiceName,
		RequestPath:        c.Request.URL.Path,
		RequestMethod:      method,
		RequestFingerprint: fingerprint,
		CreatedAt:          now,
		ExpiresAt:          now.Add(config.RetentionPeriod),
	}

	stored, isNew, err := config.Repository.AcquireLock(ctx, candidate)
	if err != nil {
		log.Error("Failed to acquire idempotency lock", "error", err)
		config.Metrics.RecordStorageError(config.ServiceName, "acquire_lock")
		middleware.AbortWithAppError(c, errors.ErrServiceUnavailable("idempotency store").Wrap(err))
		return
	}

	config.Metrics.RecordLockAcquisitionDuration(config.ServiceName, path, method, time.Since(startTime).Seconds())

	if !isNew && stored.RequestFingerprint != fingerprint {
		log.Warn("Idempotency parameter mismatch",
			"originalFingerprint", stored.RequestFingerprint,
			"newFingerprint", fingerprint,
		)
		config.Metrics.RecordParameterMismatch(config.ServiceName, path, method)
		middleware.AbortWithAppError(c, errors.NewAppError(
			CodeParameterMismatch,
			"Request parameters differ from original request with this idempotency key",
			http.StatusUnprocessableEntity,
		))
		return
	}

	if stored.IsCompleted() {
		log.Info("Idempotency cache hit", "statusCode", stored.ResponseCode)
		config.Metrics.RecordHit(config.ServiceName, path, method)

		for k, v := range stored.ResponseHeaders {
			c.Header(k, v)
		}
		c.Header(HeaderIdempotentReplay, "true")
		c.Data(stored.ResponseCode, "application/json", stored.ResponseBody)
		c.Abort()
		return
	}

	if !isNew && stored.IsLocked() {
		lockAge := time.Since(*stored.LockedAt)
		if lockAge < config.LockTimeout {
			log.Warn("Concurrent idempotency request", "lockAge", lockAge)
			config.Metrics.RecordConcurrentCollision(config.ServiceName, path, method)
			middleware.AbortWithAppError(c, errors.NewAppError(
				CodeConcurrentRequest,
				"A request with this idempotency key is currently being processed",
				http.StatusConflict,
			))
			return
		}
		log.Info("Stale lock detected, proceeding", "lockAge", lockAge)
	}

	c.Set(ContextKeyIdempotencyKeyID, stored.ID)
	config.Metrics.RecordMiss(config.ServiceName, path, method)
	log.Debug("Processing new idempotency request")

	writer := &responseWriter{
		ResponseWriter: c.Writer,
		body:           &bytes.Buffer{},
		statusCode:     http.StatusOK,
	}
	c.Writer = writer

	c.Next()

	// Server-side failures (lock timeouts, storage outages) are not final outcomes
	if writer.statusCode >= http.StatusInternalServerError {
		if err := config.Repository.ReleaseLock(ctx, stored.ID); err != nil {
			log.Error("Failed to release idempotency lock", "error", err)
			config.Metrics.RecordStorageError(config.ServiceName, "release_lock")
		}
		return
	}

	responseBody := writer.body.Bytes()
	if len(responseBody) > config.MaxResponseSize {
		log.Warn("Response too large to cache",
			"size", len(responseBody),
			"maxSize", config.MaxResponseSize,
		)
		responseBody = []byte(fmt.Sprintf(`{"error":"Response too large to cache","size":%d}`, len(responseBody)))
	}

	if err := config.Repository.StoreResponse(ctx, stored.ID, writer.statusCode, responseBody, extractResponseHeaders(c)); err != nil {
		log.Error("Failed to store idempotency response", "error", err)
		config.Metrics.RecordStorageError(config.ServiceName, "store_response")
		return
	}

	log.Debug("Stored idempotency response", "statusCode", writer.statusCode)
}

// isMutatingMethod returns true if the HTTP method is mutating
func isMutatingMethod(method string) bool {
	return method == http.MethodPost ||
		method == http.MethodPut ||
		method == http.MethodPatch ||
		method == http.MethodDelete
}

// extractResponseHeaders keeps the first value of each response header
func extractResponseHeaders(c *gin.Context) map[string]string {
	headers := make(map[string]string)
	for k, v := range c.Writer.Header() {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return headers
}
