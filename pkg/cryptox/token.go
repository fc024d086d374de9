// Package cryptox holds the small set of primitives the attendance server
// needs: opaque check-in tokens, their stored fingerprints and the Ed25519
// key used to sign access tokens.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// Token sizes in bytes before encoding.
const (
	// TokenSize128 is enough for a QR token that lives a few minutes and
	// keeps the rendered code small.
	TokenSize128 = 16
	// TokenSize256 is used for anything long lived.
	TokenSize256 = 32
)

// GenerateToken returns size random bytes as unpadded base64url.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("cryptox: token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cryptox: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FingerprintToken is the SHA-256 of token as unpadded base64url. Only the
// fingerprint is persisted; a leaked database cannot be replayed as QR codes.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// MatchFingerprint reports whether token hashes to fingerprint, comparing in
// constant time.
func MatchFingerprint(token, fingerprint string) bool {
	got := FingerprintToken(token)
	return subtle.ConstantTimeCompare([]byte(got), []byte(fingerprint)) == 1
}
