package jwtx

import (
	"crypto/ed25519"
	"errors"

	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// Signer signs access tokens with an Ed25519 key.
type Signer struct {
	kid string
	key ed25519.PrivateKey
}

// NewSigner loads a PKCS8 PEM Ed25519 key.
func NewSigner(kid string, pemKey []byte) (*Signer, error) {
	if kid == "" {
		return nil, errors.New("jwtx: empty kid")
	}
	key, err := cryptox.ParseEd25519Key(pemKey)
	if err != nil {
		return nil, err
	}
	return &Signer{kid: kid, key: key}, nil
}

// GenerateSigner creates a signer with a fresh in-memory key.
func GenerateSigner(kid string) (*Signer, error) {
	pemKey, err := cryptox.GenerateEd25519Key()
	if err != nil {
		return nil, err
	}
	return NewSigner(kid, pemKey)
}

func (s *Signer) Alg() string { return jwt.SigningMethodEdDSA.Alg() }
func (s *Signer) KID() string { return s.kid }

// Public returns the verification key.
func (s *Signer) Public() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Sign returns the compact JWS for claims with the kid header set.
func (s *Signer) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// PublicJWK is the OKP key published in the JWKS.
func (s *Signer) PublicJWK() JWK {
	return NewEd25519JWK(s.kid, s.Public())
}
