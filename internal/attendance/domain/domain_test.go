package domain_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/attendance/domain"
	"github.com/stretchr/testify/require"
)

func TestQRTokenLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tok := domain.QRToken{GeneratedAt: now, ExpiresAt: now.Add(5 * time.Minute)}

	require.True(t, tok.Active(now))
	require.Equal(t, 5*time.Minute, tok.Remaining(now))

	require.True(t, tok.Expired(now.Add(5*time.Minute)), "expiry instant is already expired")
	require.Zero(t, tok.Remaining(now.Add(6*time.Minute)))

	revoked := now.Add(time.Minute)
	tok.RevokedAt = &revoked
	require.False(t, tok.Active(now))
	require.Zero(t, tok.Remaining(now))
}
