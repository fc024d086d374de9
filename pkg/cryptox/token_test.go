package cryptox

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	for _, size := range []int{TokenSize128, TokenSize256, 24} {
		tok, err := GenerateToken(size)
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err)
		require.Len(t, raw, size)

		other, err := GenerateToken(size)
		require.NoError(t, err)
		require.NotEqual(t, tok, other)
	}

	_, err := GenerateToken(0)
	require.Error(t, err)
}

func TestFingerprintToken(t *testing.T) {
	t.Parallel()

	fp := FingerprintToken("abc")
	require.Equal(t, fp, FingerprintToken("abc"))
	require.NotEqual(t, fp, FingerprintToken("abd"))
	require.Len(t, fp, 43)

	require.True(t, MatchFingerprint("abc", fp))
	require.False(t, MatchFingerprint("abd", fp))
}
