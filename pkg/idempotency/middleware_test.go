package idempotency

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingKeyRepository struct {
	*MemoryKeyRepository
}

func (failingKeyRepository) AcquireLock(context.Context, *IdempotencyKey) (*IdempotencyKey, bool, error) {
	return nil, false, errors.New("connection refused")
}

func testConfig(repo KeyRepository) *Config {
	cfg := DefaultConfig("stock-ledger", repo)
	cfg.ActorIDExtractor = func(c *gin.Context) string { return c.GetHeader("X-Actor-ID") }
	return cfg
}

func newRouter(cfg *Config, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware(cfg))
	router.POST("/stock/usage", handler)
	router.GET("/stock/usage", handler)
	return router
}

func doRequest(router *gin.Engine, method, key, actor, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/stock/usage", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func countingHandler(calls *int32, status int) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := atomic.AddInt32(calls, 1)
		c.JSON(status, gin.H{"call": n})
	}
}

func TestMiddleware_NoKeyOptionalPassesThrough(t *testing.T) {
	var calls int32
	router := newRouter(testConfig(NewMemoryKeyRepository()), countingHandler(&calls, http.StatusCreated))

	w := doRequest(router, http.MethodPost, "", "site-lead", `{"quantity":5}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int32(1), calls)
}

func TestMiddleware_NoKeyRequiredIsRejected(t *testing.T) {
	cfg := testConfig(NewMemoryKeyRepository())
	cfg.RequireKey = true
	var calls int32
	router := newRouter(cfg, countingHandler(&calls, http.StatusCreated))

	w := doRequest(router, http.MethodPost, "", "site-lead", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), CodeKeyRequired)
	assert.Zero(t, calls)
}

func TestMiddleware_InvalidKeyIsRejected(t *testing.T) {
	var calls int32
	router := newRouter(testConfig(NewMemoryKeyRepository()), countingHandler(&calls, http.StatusCreated))

	w := doRequest(router, http.MethodPost, "bad key!", "site-lead", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), CodeKeyInvalid)
}

func TestMiddleware_RetryReplaysFirstResponse(t *testing.T) {
	var calls int32
	router := newRouter(testConfig(NewMemoryKeyRepository()), countingHandler(&calls, http.StatusCreated))

	first := doRequest(router, http.MethodPost, "usage-1", "site-lead", `{"quantity":5}`)
	second := doRequest(router, http.MethodPost, "usage-1", "site-lead", `{"quantity":5}`)

	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderIdempotentReplay))
	assert.Equal(t, int32(1), calls)
}

func TestMiddleware_KeysAreScopedPerActor(t *testing.T) {
	var calls int32
	router := newRouter(testConfig(NewMemoryKeyRepository()), countingHandler(&calls, http.StatusCreated))

	doRequest(router, http.MethodPost, "usage-1", "site-lead-a", `{"quantity":5}`)
	w := doRequest(router, http.MethodPost, "usage-1", "site-lead-b", `{"quantity":5}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int32(2), calls)
}

func TestMiddleware_ParameterMismatch(t *testing.T) {
	var calls int32
	router := newRouter(testConfig(NewMemoryKeyRepository()), countingHandler(&calls, http.StatusCreated))

	doRequest(router, http.MethodPost, "usage-1", "site-lead", `{"quantity":5}`)
	w := doRequest(router, http.MethodPost, "usage-1", "site-lead", `{"quantity":6}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), CodeParameterMismatch)
	assert.Equal(t, int32(1), calls)
}

func TestMiddleware_ConcurrentRequestConflicts(t *testing.T) {
	repo := NewMemoryKeyRepository()
	cfg := testConfig(repo)

	// Simulate an in-flight first request holding the key
	_, created, err := repo.AcquireLock(context.Background(), &IdempotencyKey{
		ID:                 "in-flight",
		Key:                "usage-1",
		ActorID:            "site-lead",
		ServiceID:          cfg.ServiceName,
		RequestFingerprint: ComputeFingerprint([]byte(http.MethodPost), []byte("/stock/usage"), []byte(`{}`)),
		ExpiresAt:          time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.True(t, created)

	var calls int32
	router := newRouter(cfg, countingHandler(&calls, http.StatusCreated))
	w := doRequest(router, http.MethodPost, "usage-1", "site-lead", `{}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), CodeConcurrentRequest)
	assert.Zero(t, calls)
}

func TestMiddleware_ServerErrorReleasesKey(t *testing.T) {
	var calls int32
	status := http.StatusServiceUnavailable
	router := newRouter(testConfig(NewMemoryKeyRepository()), func(c *gin.Context) {
		atomic.AddInt32(&calls, 1)
		c.JSON(status, gin.H{"code": "LOCK_TIMEOUT"})
	})

	first := doRequest(router, http.MethodPost, "usage-1", "site-lead", `{}`)
	require.Equal(t, http.StatusServiceUnavailable, first.Code)

	status = http.StatusCreated
	second := doRequest(router, http.MethodPost, "usage-1", "site-lead", `{}`)

	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, int32(2), calls)
}

func TestMiddleware_ClientErrorIsReplayed(t *testing.T) {
	var calls int32
	router := newRouter(testConfig(NewMemoryKeyRepository()), countingHandler(&calls, http.StatusConflict))

	doRequest(router, http.MethodPost, "usage-1", "site-lead", `{}`)
	w := doRequest(router, http.MethodPost, "usage-1", "site-lead", `{}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, int32(1), calls)
}

func TestMiddleware_StorageFailure(t *testing.T) {
	var calls int32
	router := newRouter(testConfig(failingKeyRepository{NewMemoryKeyRepository()}), countingHandler(&calls, http.StatusCreated))

	w := doRequest(router, http.MethodPost, "usage-1", "site-lead", `{}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Zero(t, calls)
}

func TestMiddleware_SkipsReads(t *testing.T) {
	var calls int32
	router := newRouter(testConfig(NewMemoryKeyRepository()), countingHandler(&calls, http.StatusOK))

	doRequest(router, http.MethodGet, "usage-1", "site-lead", "")
	doRequest(router, http.MethodGet, "usage-1", "site-lead", "")

	assert.Equal(t, int32(2), calls)
}
