package domain

import "time"

// QRToken is one issued check-in token. Only the fingerprint of the opaque
// token is kept.
type QRToken struct {
	ID          string
	SessionID   string
	Fingerprint string
	CreatedBy   string
	GeneratedAt time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time // set on explicit revoke or when replaced
}

// Revoked reports whether the token was revoked or replaced.
func (t QRToken) Revoked() bool { return t.RevokedAt != nil }

// Expired reports whether now is past the expiry.
func (t QRToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// Active reports whether the token can still be used at now.
func (t QRToken) Active(now time.Time) bool {
	return !t.Revoked() && !t.Expired(now)
}

// Remaining is the time left until expiry, or zero.
func (t QRToken) Remaining(now time.Time) time.Duration {
	if !t.Active(now) {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}
