package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL covers a teaching day.
const DefaultAccessTokenTTL = 12 * time.Hour

// Attendance roles carried in the "role" claim.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Attendance scopes.
const (
	ScopeIssue   = "attendance:issue"
	ScopeCheckin = "attendance:checkin"
)

// ScopesForRole returns the default scopes granted to role.
func ScopesForRole(role string) []string {
	switch role {
	case RoleTeacher:
		return []string{ScopeIssue}
	case RoleStudent:
		return []string{ScopeCheckin}
	}
	return nil
}

// Claims are the access-token claims understood by the attendance API.
type Claims struct {
	jwt.RegisteredClaims

	// Scopes e.g. "attendance:issue".
	Scopes []string `json:"scopes,omitempty"`

	// Role is "teacher" or "student".
	Role string `json:"role,omitempty"`

	// Name is shown in logs and realtime events.
	Name string `json:"name,omitempty"`
}

// NewAccessClaims builds claims for subject valid from now for ttl.
func NewAccessClaims(
	subject, role, name string,
	scopes []string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Scopes: scopes,
		Role:   role,
		Name:   name,
	}
}

// NewJTI returns a URL-safe random "jti".
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// ValidateIssuer checks iss when expected is set.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected != "" && c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience requires at least one of expected in aud.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateExpiry checks exp and nbf against the current time.
func (c *Claims) ValidateExpiry() error {
	return c.ValidateExpiryWithLeeway(0)
}

// ValidateExpiryWithLeeway checks exp and nbf allowing leeway of clock skew.
func (c *Claims) ValidateExpiryWithLeeway(leeway time.Duration) error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}
	return nil
}
