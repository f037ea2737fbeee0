package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func preflight(router *gin.Engine, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/probe", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", HeaderActorID)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t)
	router.POST("/probe", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := preflight(router, "https://site.example.com")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(w.Header().Get("Access-Control-Allow-Headers")), strings.ToLower(HeaderActorID))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := DefaultConfig("stock-ledger-test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	cfg.CORSOrigins = []string{"https://site.example.com"}

	router := gin.New()
	require.NoError(t, Setup(router, cfg))
	router.POST("/probe", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	allowed := preflight(router, "https://site.example.com")
	assert.Equal(t, "https://site.example.com", allowed.Header().Get("Access-Control-Allow-Origin"))

	denied := preflight(router, "https://elsewhere.example.com")
	assert.Equal(t, http.StatusForbidden, denied.Code)
	assert.Empty(t, denied.Header().Get("Access-Control-Allow-Origin"))
}
