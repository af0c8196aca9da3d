// audit.go attaches the request context (client IP, user agent, session) that audit
// entries record, so handlers pass it to the audit service without touching headers.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit"
)

// AuditContextKey is the gin.Context key holding the *audit.RequestContext.
const AuditContextKey = "audit_request"

// AuditContextMiddleware derives an audit.RequestContext from the request. The client IP
// comes from gin, which honours the router's trusted proxies, rather than from raw
// forwarding headers. Must run after AuthMiddleware: a header consumed as the caller's
// credential is never recorded as a session id.
func AuditContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := requestContext(c)
		if ip := c.ClientIP(); ip != "" {
			rc.IPAddress = audit.NormalizeIP(ip)
		}
		c.Set(AuditContextKey, rc)
		c.Next()
	}
}

// AuditRequestContext returns the context stored by AuditContextMiddleware, building one
// on the fly when the middleware did not run.
func AuditRequestContext(c *gin.Context) *audit.RequestContext {
	if v, ok := c.Get(AuditContextKey); ok {
		if rc, ok := v.(*audit.RequestContext); ok {
			return rc
		}
	}
	return requestContext(c)
}

func requestContext(c *gin.Context) *audit.RequestContext {
	if c.GetString(ContextAuthMethod) != "" {
		return audit.CallerRequestContext(c.Request)
	}
	return audit.RequestContextFromHTTP(c.Request)
}

// Actor returns the authenticated user id, falling back to the service key name.
func Actor(c *gin.Context) string {
	if id := c.GetString(ContextUserID); id != "" {
		return id
	}
	if name := c.GetString(ContextServiceName); name != "" {
		return "service:" + name
	}
	return ""
}
