package audit

import (
	"net"
	"net/http"
	"strings"
)

// Session cookie and header names, in lookup precedence order.
const (
	CookieAuthSession    = "sb-access-token"
	CookieAltAuthSession = "sb-refresh-token"
	CookieSession        = "session"
	CookieSessionID      = "session_id"
	HeaderSessionID      = "X-Session-ID"

	authHeaderSessionLen = 20
)

// RequestContext carries the inbound request details recorded with an entry.
type RequestContext struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// RequestContextFromHTTP extracts the client address, user agent and session id from r.
func RequestContextFromHTTP(r *http.Request) *RequestContext {
	if r == nil {
		return nil
	}
	return &RequestContext{
		IPAddress: NormalizeIP(clientIP(r)),
		UserAgent: r.UserAgent(),
		SessionID: sessionID(r, true),
	}
}

// CallerRequestContext is RequestContextFromHTTP for requests whose Authorization
// header holds the caller's own credential. The session id then comes only from
// cookies or X-Session-ID.
func CallerRequestContext(r *http.Request) *RequestContext {
	if r == nil {
		return nil
	}
	return &RequestContext{
		IPAddress: NormalizeIP(clientIP(r)),
		UserAgent: r.UserAgent(),
		SessionID: sessionID(r, false),
	}
}

// NormalizeIP maps the IPv6 loopback to its IPv4 form.
func NormalizeIP(ip string) string {
	switch ip {
	case "::1", "[::1]", "::ffff:127.0.0.1":
		return "127.0.0.1"
	}
	return ip
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return stripPort(first)
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return stripPort(xri)
	}
	return stripPort(r.RemoteAddr)
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func sessionID(r *http.Request, fromAuth bool) string {
	for _, name := range []string{CookieAuthSession, CookieAltAuthSession, CookieSession, CookieSessionID} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	if v := r.Header.Get(HeaderSessionID); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); fromAuth && auth != "" {
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if len(token) > authHeaderSessionLen {
			token = token[:authHeaderSessionLen]
		}
		return token
	}
	return ""
}
