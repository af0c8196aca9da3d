package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/audit"
)

func TestAuditContextMiddleware(t *testing.T) {
	var got *audit.RequestContext
	r := gin.New()
	r.Use(AuditContextMiddleware())
	r.GET("/", func(c *gin.Context) {
		got = AuditRequestContext(c)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:5555"
	req.Header.Set("User-Agent", "console/2.1")
	req.AddCookie(&http.Cookie{Name: audit.CookieSession, Value: "sess-1"})
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, "127.0.0.1", got.IPAddress)
	assert.Equal(t, "console/2.1", got.UserAgent)
	assert.Equal(t, "sess-1", got.SessionID)
}

func TestAuditContextMiddleware_CallerCredentialIsNotASession(t *testing.T) {
	const key = "aud_Zk3pQ9xL2mN8vB4cR7tY1uW6sE0aHjKo"

	tests := []struct {
		name        string
		authMethod  string
		sessionHdr  string
		wantSession string
	}{
		{"api key caller", "api_key", "", ""},
		{"jwt caller", "jwt", "", ""},
		{"explicit session header wins", "api_key", "sess-42", "sess-42"},
		{"unauthenticated route keeps fallback", "", "", key[:20]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *audit.RequestContext
			r := gin.New()
			r.Use(func(c *gin.Context) {
				if tt.authMethod != "" {
					c.Set(ContextAuthMethod, tt.authMethod)
				}
				c.Next()
			})
			r.Use(AuditContextMiddleware())
			r.GET("/", func(c *gin.Context) {
				got = AuditRequestContext(c)
				c.Status(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+key)
			if tt.sessionHdr != "" {
				req.Header.Set(audit.HeaderSessionID, tt.sessionHdr)
			}
			r.ServeHTTP(httptest.NewRecorder(), req)

			require.NotNil(t, got)
			assert.Equal(t, tt.wantSession, got.SessionID)
		})
	}
}

func TestAuditRequestContext_WithoutMiddleware(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.1.2.3:80"

	rc := AuditRequestContext(c)
	require.NotNil(t, rc)
	assert.Equal(t, "10.1.2.3", rc.IPAddress)
}

func TestActor(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "", Actor(c))

	c.Set(ContextServiceName, "billing")
	assert.Equal(t, "service:billing", Actor(c))

	c.Set(ContextUserID, "u-1")
	assert.Equal(t, "u-1", Actor(c))
}
