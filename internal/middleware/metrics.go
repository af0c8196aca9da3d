// Package middleware provides the Gin middleware of the audit trail API. Everything here
// is registered in internal/api/router.go ahead of the handlers.
//
// Order: Recovery → RequestID → Metrics → AccessLog → Security → RateLimit → Auth →
// RequireScope → AuditContext → handler.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/telemetry"
)

const noRoute = "<no-route>"

// MetricsMiddleware records http_requests_total and http_request_duration_seconds for
// every request. The path label is the matched route template so ids in URLs do not
// inflate label cardinality; unmatched requests use "<no-route>".
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := routeLabel(c)
		method := c.Request.Method
		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return noRoute
}
