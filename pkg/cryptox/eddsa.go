package cryptox

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const pemTypePrivateKey = "PRIVATE KEY"

// GenerateEd25519Key returns a fresh Ed25519 private key as PKCS8 PEM.
func GenerateEd25519Key() ([]byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptox: generate Ed25519 key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("cryptox: marshal PKCS8: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der}), nil
}

// ParseEd25519Key decodes a PKCS8 PEM block holding an Ed25519 private key.
func ParseEd25519Key(pemKey []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("cryptox: no PEM block found")
	}
	if block.Type != pemTypePrivateKey {
		return nil, fmt.Errorf("cryptox: expected %s, got %q", pemTypePrivateKey, block.Type)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptox: parse PKCS8: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cryptox: key is %T, not Ed25519", key)
	}
	return priv, nil
}

// LoadOrCreateEd25519Key reads the PEM key at path. When the file does not
// exist a new key is generated and written with 0600 permissions. The
// second return value reports whether the key was created.
func LoadOrCreateEd25519Key(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if _, err := ParseEd25519Key(data); err != nil {
			return nil, false, fmt.Errorf("cryptox: %s: %w", path, err)
		}
		return data, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("cryptox: read %s: %w", path, err)
	}

	data, err = GenerateEd25519Key()
	if err != nil {
		return nil, false, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, false, fmt.Errorf("cryptox: create key dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, false, fmt.Errorf("cryptox: write %s: %w", path, err)
	}
	return data, true, nil
}
