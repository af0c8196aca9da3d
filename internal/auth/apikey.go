// Package auth provides authentication primitives for the audit trail API: service API
// keys for producers on the ingest path and HS256 JWTs for admin callers.
// See internal/middleware/auth.go for the request-time logic that uses these primitives.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/config"
)

const (
	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is the number of characters to show in displays
	DisplayPrefixLength = 10

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// ErrInvalidAPIKey is returned when a key matches no configured service key.
var ErrInvalidAPIKey = errors.New("invalid API key")

// GenerateAPIKey creates a new random API key starting with prefix.
// Returns: full key (to show once), bcrypt hash (to configure), display prefix
func GenerateAPIKey(prefix string) (key string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := prefix + base64.RawURLEncoding.EncodeToString(randomBytes)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash API key: %w", err)
	}

	displayPrefix = fullKey
	if len(fullKey) > DisplayPrefixLength {
		displayPrefix = fullKey[:DisplayPrefixLength]
	}
	return fullKey, string(hashBytes), displayPrefix, nil
}

// ValidateAPIKey checks if a provided key matches the stored hash
func ValidateAPIKey(providedKey, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey)) == nil
}

// ExtractAPIKeyFromHeader extracts the token from an Authorization header
// Expected format: "Bearer aud_abc123xyz..."
func ExtractAPIKeyFromHeader(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}
	key := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if key == "" {
		return "", errors.New("API key is empty after Bearer prefix")
	}
	return key, nil
}

// ServiceKey is an authenticated service identity.
type ServiceKey struct {
	Name   string
	Scopes []string
}

// KeyRing verifies presented keys against the configured bcrypt hashes. A successful
// match is remembered by the SHA-256 digest of the key so later requests skip bcrypt.
type KeyRing struct {
	prefix string
	keys   []config.ServiceKeyConfig

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]int
}

// NewKeyRing validates the configured keys and their scopes.
func NewKeyRing(cfg *config.APIKeyConfig) (*KeyRing, error) {
	for i, k := range cfg.Keys {
		if k.Name == "" || k.Hash == "" {
			return nil, fmt.Errorf("auth.api_keys.keys[%d]: name and hash are required", i)
		}
		if err := ValidateScopes(k.Scopes); err != nil {
			return nil, fmt.Errorf("auth.api_keys.keys[%d]: %w", i, err)
		}
	}
	return &KeyRing{
		prefix:   cfg.Prefix,
		keys:     cfg.Keys,
		verified: make(map[[sha256.Size]byte]int),
	}, nil
}

// IsAPIKey reports whether token has the API key shape rather than a JWT.
func (r *KeyRing) IsAPIKey(token string) bool {
	return r.prefix != "" && strings.HasPrefix(token, r.prefix)
}

// Len returns the number of configured keys.
func (r *KeyRing) Len() int { return len(r.keys) }

// Authenticate returns the service key matching key.
func (r *KeyRing) Authenticate(key string) (*ServiceKey, error) {
	if !r.IsAPIKey(key) {
		return nil, ErrInvalidAPIKey
	}
	digest := sha256.Sum256([]byte(key))

	r.mu.RLock()
	idx, ok := r.verified[digest]
	r.mu.RUnlock()
	if ok {
		return r.service(idx), nil
	}

	for i, k := range r.keys {
		if ValidateAPIKey(key, k.Hash) {
			r.mu.Lock()
			r.verified[digest] = i
			r.mu.Unlock()
			return r.service(i), nil
		}
	}
	return nil, ErrInvalidAPIKey
}

func (r *KeyRing) service(i int) *ServiceKey {
	k := r.keys[i]
	return &ServiceKey{Name: k.Name, Scopes: append([]string(nil), k.Scopes...)}
}
