// Package auth - scopes.go defines the permission scopes of the audit trail API and the
// HasScope helpers used by the route guards.
package auth

import "fmt"

// Scope represents a permission/scope type
type Scope string

const (
	// ScopeAuditWrite allows recording events through the ingest endpoint.
	ScopeAuditWrite Scope = "audit:write"
	// ScopeAuditRead allows querying entries and the event catalog.
	ScopeAuditRead Scope = "audit:read"
	// ScopeAuditAdmin allows exports, anonymization, retention and flushes.
	ScopeAuditAdmin Scope = "audit:admin"

	// Admin scope (wildcard - all permissions)
	ScopeAdmin Scope = "admin"
)

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{ScopeAuditWrite, ScopeAuditRead, ScopeAuditAdmin, ScopeAdmin}
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	valid := make(map[string]bool, len(AllScopes()))
	for _, s := range AllScopes() {
		valid[string(s)] = true
	}
	for _, scope := range scopes {
		if !valid[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}
	return nil
}

// HasScope reports whether userScopes grant required. "admin" grants everything and
// audit:admin implies audit:read. audit:write grants ingest only.
func HasScope(userScopes []string, required Scope) bool {
	for _, scope := range userScopes {
		switch {
		case scope == string(required), scope == string(ScopeAdmin):
			return true
		case required == ScopeAuditRead && scope == string(ScopeAuditAdmin):
			return true
		}
	}
	return false
}

// HasAnyScope checks if a user has at least one of the required scopes
func HasAnyScope(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if HasScope(userScopes, required) {
			return true
		}
	}
	return false
}
