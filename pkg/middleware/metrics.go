package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sitestock/stock-ledger/pkg/metrics"
)

// MetricsMiddleware records request count, latency and in-flight requests.
// Requests are labelled by route pattern, never by raw path, so transfer IDs
// and item names stay out of the label set.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if quietPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		m.IncrementHTTPRequestsInFlight()
		defer m.DecrementHTTPRequestsInFlight()
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// MetricsEndpoint serves the Prometheus registry
func MetricsEndpoint(m *metrics.Metrics) gin.HandlerFunc {
	return gin.WrapH(m.Handler())
}
