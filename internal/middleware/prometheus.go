package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"teamspace-backend/pkg/metrics"
)

// Prometheus records request count, duration, and in-flight gauge for
// every HTTP request
func Prometheus(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.IncrementHTTPRequestsInFlight()
		defer m.DecrementHTTPRequestsInFlight()

		start := time.Now()
		c.Next()

		m.RecordHTTPRequest(
			c.Request.Method,
			c.FullPath(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// MetricsHandler serves the Prometheus scrape endpoint from the
// service's own registry
func MetricsHandler(m *metrics.Metrics) gin.HandlerFunc {
	handler := promhttp.HandlerFor(m.GetRegistry(), promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
