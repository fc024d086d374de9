package jwtx

import (
	"crypto/ed25519"
	"errors"
	"sync"
)

var ErrNoKey = errors.New("jwtx: key not found")

// KeySet holds the public keys tokens are verified against. Safe for
// concurrent use.
type KeySet struct {
	mu   sync.RWMutex
	jwks JWKS
	pub  map[string]ed25519.PublicKey
}

func NewKeySet() *KeySet {
	return &KeySet{pub: make(map[string]ed25519.PublicKey)}
}

// AddSigner publishes the signer's public key.
func (k *KeySet) AddSigner(s *Signer) error {
	return k.AddJWK(s.PublicJWK())
}

// AddJWK adds j, replacing any key with the same kid.
func (k *KeySet) AddJWK(j JWK) error {
	pub, err := j.PublicKey()
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.pub[j.Kid]; exists {
		for i := range k.jwks.Keys {
			if k.jwks.Keys[i].Kid == j.Kid {
				k.jwks.Keys[i] = j
			}
		}
	} else {
		k.jwks.Keys = append(k.jwks.Keys, j)
	}
	k.pub[j.Kid] = pub
	return nil
}

func (k *KeySet) Get(kid string) (ed25519.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if pk, ok := k.pub[kid]; ok {
		return pk, nil
	}
	return nil, ErrNoKey
}

// PublicJWKS returns a copy of the published set.
func (k *KeySet) PublicJWKS() JWKS {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return JWKS{Keys: append([]JWK(nil), k.jwks.Keys...)}
}

// IsReady reports whether at least one key is loaded.
func (k *KeySet) IsReady() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.pub) > 0
}
