// Package auth - jwt.go verifies the HS256 bearer tokens carried by admin callers. Tokens
// are issued by the identity service of the platform with a shared secret and carry the
// caller's audit scopes.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/offiromer/agentspilot-marketing-sub000/internal/config"
)

const minSecretLength = 32

// Claims represents the JWT claims structure
type Claims struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email,omitempty"`
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies tokens with one shared secret.
type JWTManager struct {
	secret []byte
	issuer string
}

// isDevMode checks if we're in development mode
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

// NewJWTManager validates the configured secret. Without a secret, development mode
// gets a random one and production fails fast.
func NewJWTManager(cfg *config.AuthConfig) (*JWTManager, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		if !isDevMode() {
			return nil, errors.New("auth.jwt_secret (AUDIT_AUTH_JWT_SECRET) is required in production; " +
				"generate one with: openssl rand -hex 32")
		}
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("failed to generate development secret: %w", err)
		}
		secret = hex.EncodeToString(b)
		slog.Warn("auth.jwt_secret not set, using an auto-generated development secret; tokens will not survive restarts")
	}
	if len(secret) < minSecretLength {
		slog.Warn("auth.jwt_secret is shorter than the recommended 32 characters")
	}

	issuer := cfg.JWTIssuer
	if issuer == "" {
		issuer = "audit-trail"
	}
	return &JWTManager{secret: []byte(secret), issuer: issuer}, nil
}

// Generate issues a token for userID with scopes. Used by the token command and tests.
func (m *JWTManager) Generate(userID string, scopes []string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Validate parses and validates a token, including its issuer.
func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return claims, nil
}
