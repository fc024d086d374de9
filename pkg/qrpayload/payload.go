// Package qrpayload defines the JSON envelope embedded in attendance QR codes
// and the local checks a scanner performs before asking the server.
//
// A payload that parses and is not expired is only locally valid. Single use,
// ownership and session membership are decided by the server.
package qrpayload

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// TypeAttendanceCheckin is the only type tag accepted by Parse.
const TypeAttendanceCheckin = "attendance_checkin"

var (
	ErrMalformedPayload = errors.New("qrpayload: malformed payload")
	ErrUnexpectedType   = errors.New("qrpayload: unexpected payload type")
	ErrMissingToken     = errors.New("qrpayload: missing token")
)

// timestampLayouts are tried in order when reading generated_at/expires_at.
// Naive timestamps (no zone) are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Token is the decoded content of an attendance QR code.
type Token struct {
	Type        string `json:"type"`
	Token       string `json:"token"`
	SessionID   string `json:"session_id"`
	SessionName string `json:"session_name,omitempty"`
	GeneratedAt string `json:"generated_at,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

// New builds a payload for an issued token.
func New(token, sessionID, sessionName string, generatedAt, expiresAt time.Time) Token {
	return Token{
		Type:        TypeAttendanceCheckin,
		Token:       token,
		SessionID:   sessionID,
		SessionName: sessionName,
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:   expiresAt.UTC().Format(time.RFC3339Nano),
	}
}

// Encode serialises the payload to the JSON carried by the QR image.
func Encode(t Token) ([]byte, error) {
	if t.Type == "" {
		t.Type = TypeAttendanceCheckin
	}
	return json.Marshal(t)
}

// Parse decodes raw QR text into a Token. It returns an error wrapping one of
// ErrMalformedPayload, ErrUnexpectedType or ErrMissingToken, and never a
// partially populated token.
func Parse(raw string) (Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw[0] != '{' {
		return Token{}, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}

	var t Token
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if t.Type != TypeAttendanceCheckin {
		return Token{}, fmt.Errorf("%w: %q", ErrUnexpectedType, t.Type)
	}

	t.Token = strings.TrimSpace(t.Token)
	if t.Token == "" {
		return Token{}, ErrMissingToken
	}

	return t, nil
}

// ParseTimestamp reads a payload timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("qrpayload: empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("qrpayload: unrecognised timestamp %q", s)
}

// IsExpired reports whether t is expired at now. A missing or unreadable
// expires_at counts as expired.
func IsExpired(t Token, now time.Time) bool {
	exp, err := ParseTimestamp(t.ExpiresAt)
	if err != nil {
		return true
	}
	return now.After(exp)
}

// Expiry returns the parsed expires_at.
func (t Token) Expiry() (time.Time, error) {
	return ParseTimestamp(t.ExpiresAt)
}

// LocallyValid reports whether the token passes every client-side check.
func (t Token) LocallyValid(now time.Time) bool {
	return t.Type == TypeAttendanceCheckin &&
		strings.TrimSpace(t.Token) != "" &&
		!IsExpired(t, now)
}

// Remaining returns the time left before expiry, or zero.
func (t Token) Remaining(now time.Time) time.Duration {
	exp, err := ParseTimestamp(t.ExpiresAt)
	if err != nil {
		return 0
	}
	if d := exp.Sub(now); d > 0 {
		return d
	}
	return 0
}
