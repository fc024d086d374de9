package jwtx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://rollcall.test"

func newSigner(t *testing.T, kid string) (*jwtx.Signer, *jwtx.KeySet) {
	t.Helper()

	s, err := jwtx.GenerateSigner(kid)
	require.NoError(t, err)

	keys := jwtx.NewKeySet()
	require.NoError(t, keys.AddSigner(s))
	return s, keys
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()

	signer, keys := newSigner(t, "k1")
	require.Equal(t, "EdDSA", signer.Alg())

	claims := jwtx.NewAccessClaims("teacher-1", jwtx.RoleTeacher, "Ms Frizzle",
		jwtx.ScopesForRole(jwtx.RoleTeacher), time.Hour, testIssuer, []string{"rollcall"}, time.Now())

	tok, err := signer.Sign(claims)
	require.NoError(t, err)

	got, err := jwtx.NewVerifier(keys, testIssuer, []string{"rollcall"}).Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "teacher-1", got.Subject)
	require.Equal(t, jwtx.RoleTeacher, got.Role)
	require.True(t, got.HasScope(jwtx.ScopeIssue))
	require.False(t, got.HasScope(jwtx.ScopeCheckin))
}

func TestVerifyFailures(t *testing.T) {
	t.Parallel()

	signer, keys := newSigner(t, "k1")
	other, _ := newSigner(t, "k2")
	now := time.Now()

	sign := func(s *jwtx.Signer, c jwtx.Claims) string {
		tok, err := s.Sign(c)
		require.NoError(t, err)
		return tok
	}
	base := func() jwtx.Claims {
		return jwtx.NewAccessClaims("s1", jwtx.RoleStudent, "", nil, time.Hour, testIssuer, nil, now)
	}

	t.Run("wrong issuer", func(t *testing.T) {
		c := base()
		c.Issuer = "https://elsewhere"
		_, err := jwtx.NewVerifier(keys, testIssuer, nil).Verify(sign(signer, c))
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})

	t.Run("wrong audience", func(t *testing.T) {
		_, err := jwtx.NewVerifier(keys, testIssuer, []string{"rollcall"}).Verify(sign(signer, base()))
		require.ErrorIs(t, err, jwtx.ErrAudience)
	})

	t.Run("expired", func(t *testing.T) {
		c := jwtx.NewAccessClaims("s1", jwtx.RoleStudent, "", nil, time.Minute, testIssuer, nil, now.Add(-time.Hour))
		_, err := jwtx.NewVerifier(keys, testIssuer, nil).Verify(sign(signer, c))
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("unknown kid", func(t *testing.T) {
		_, err := jwtx.NewVerifier(keys, testIssuer, nil).Verify(sign(other, base()))
		require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	})

	t.Run("tampered", func(t *testing.T) {
		tok := sign(signer, base())
		parts := strings.Split(tok, ".")
		parts[2] = strings.Repeat("A", len(parts[2]))
		_, err := jwtx.NewVerifier(keys, testIssuer, nil).Verify(strings.Join(parts, "."))
		require.Error(t, err)
	})
}

func TestKeySet(t *testing.T) {
	t.Parallel()

	keys := jwtx.NewKeySet()
	require.False(t, keys.IsReady())

	signer, err := jwtx.GenerateSigner("k1")
	require.NoError(t, err)
	require.NoError(t, keys.AddSigner(signer))
	require.NoError(t, keys.AddSigner(signer))
	require.True(t, keys.IsReady())

	jwks := keys.PublicJWKS()
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "OKP", jwks.Keys[0].Kty)
	require.Equal(t, "Ed25519", jwks.Keys[0].Crv)

	pub, err := jwks.Keys[0].PublicKey()
	require.NoError(t, err)
	require.Equal(t, signer.Public(), pub)

	_, err = keys.Get("missing")
	require.ErrorIs(t, err, jwtx.ErrNoKey)

	require.Error(t, keys.AddJWK(jwtx.JWK{Kty: "RSA", Kid: "x"}))
}

func TestScopesForRole(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{jwtx.ScopeIssue}, jwtx.ScopesForRole(jwtx.RoleTeacher))
	require.Equal(t, []string{jwtx.ScopeCheckin}, jwtx.ScopesForRole(jwtx.RoleStudent))
	require.Nil(t, jwtx.ScopesForRole("admin"))
}
