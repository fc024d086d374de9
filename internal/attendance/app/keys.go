package app

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
)

// ErrNoSigningKeyFile is returned by MintToken when tokens would be signed
// with a key no server shares.
var ErrNoSigningKeyFile = errors.New("ROLLCALL_SIGNING_KEY_FILE is not set")

// InitSigner loads the signing key from cfg.SigningKeyFile, creating the
// file on first start. Without a file the key is ephemeral and every token
// becomes invalid when the process restarts.
func InitSigner(cfg Config, logger *slog.Logger) (*jwtx.Signer, error) {
	if cfg.SigningKeyFile == "" {
		signer, err := jwtx.GenerateSigner(newKID())
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		logger.Warn("using ephemeral signing key, tokens will not survive a restart", "kid", signer.KID())
		return signer, nil
	}

	pemKey, created, err := cryptox.LoadOrCreateEd25519Key(cfg.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	key, err := cryptox.ParseEd25519Key(pemKey)
	if err != nil {
		return nil, err
	}
	// The kid is derived from the public key so every process sharing the
	// file advertises the same one.
	signer, err := jwtx.NewSigner(kidFor(key.Public().(ed25519.PublicKey)), pemKey)
	if err != nil {
		return nil, err
	}

	logger.Info("signing key loaded", "path", cfg.SigningKeyFile, "kid", signer.KID(), "created", created)
	return signer, nil
}

// MintToken signs an access token for subject with the server key. It is
// meant for development and for provisioning scanner devices.
func MintToken(cfg Config, subject, role, name string, now time.Time) (string, error) {
	if cfg.SigningKeyFile == "" {
		return "", ErrNoSigningKeyFile
	}
	if subject == "" {
		return "", errors.New("subject is required")
	}
	scopes := jwtx.ScopesForRole(role)
	if scopes == nil {
		return "", fmt.Errorf("unknown role %q", role)
	}

	signer, err := InitSigner(cfg, slog.Default())
	if err != nil {
		return "", err
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = jwtx.DefaultAccessTokenTTL
	}
	return signer.Sign(jwtx.NewAccessClaims(subject, role, name, scopes, ttl, cfg.Issuer, nil, now))
}

func kidFor(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return base64.RawURLEncoding.EncodeToString(sum[:9])
}

func newKID() string {
	tok, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "ephemeral"
	}
	return tok[:12]
}
