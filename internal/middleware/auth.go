// auth.go authenticates API callers. Producers present a service API key, admin callers
// a JWT issued by the platform; both arrive as "Authorization: Bearer <token>". The
// resolved identity and scopes are stored in the gin context for RequireScope and the
// handlers.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/auth"
)

// Context keys set by AuthMiddleware.
const (
	ContextUserID      = "user_id"
	ContextServiceName = "service_name"
	ContextScopes      = "scopes"
	ContextAuthMethod  = "auth_method"
)

// Authenticator resolves bearer tokens. Either field may be nil to disable that method.
type Authenticator struct {
	Keys *auth.KeyRing
	JWT  *auth.JWTManager
}

// AuthMiddleware rejects requests without a valid API key or JWT.
func AuthMiddleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractAPIKeyFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		// API keys are recognized by prefix so JWTs never pay for a bcrypt comparison.
		if a.Keys != nil && a.Keys.IsAPIKey(token) {
			svc, err := a.Keys.Authenticate(token)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
				return
			}
			c.Set(ContextServiceName, svc.Name)
			c.Set(ContextScopes, svc.Scopes)
			c.Set(ContextAuthMethod, "api_key")
			c.Next()
			return
		}

		if a.JWT == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		claims, err := a.JWT.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextScopes, claims.Scopes)
		c.Set(ContextAuthMethod, "jwt")
		c.Next()
	}
}

// RequireScope aborts with 403 unless the authenticated caller holds scope.
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.HasScope(c.GetStringSlice(ContextScopes), scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":          "Insufficient permissions",
				"required_scope": string(scope),
			})
			return
		}
		c.Next()
	}
}
