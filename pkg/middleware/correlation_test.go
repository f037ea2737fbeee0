package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitestock/stock-ledger/pkg/logging"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, Setup(router, DefaultConfig("stock-ledger-test", logger)))
	return router
}

func TestCorrelationIDIsPropagated(t *testing.T) {
	router := newTestRouter(t)
	var seen string
	router.GET("/probe", func(c *gin.Context) {
		seen = logging.CorrelationIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(HeaderCorrelationID, "corr-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "corr-42", seen)
	assert.Equal(t, "corr-42", w.Header().Get(HeaderCorrelationID))
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestRecoveryAnswersInternalError(t *testing.T) {
	router := newTestRouter(t)
	router.GET("/boom", func(*gin.Context) { panic("ledger corrupted") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
	assert.NotEmpty(t, resp.RequestID)
}

func TestActorIsRequiredForMutations(t *testing.T) {
	router := newTestRouter(t)
	router.POST("/stock", Actor(ActorConfig{}), RequireActor(), func(c *gin.Context) {
		c.String(http.StatusOK, GetActorID(c))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/stock", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/stock", nil)
	req.Header.Set(HeaderActorID, "storekeeper")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "storekeeper", w.Body.String())
}
