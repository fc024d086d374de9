package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/attendance/domain"
	"github.com/aussiebroadwan/rollcall/internal/attendance/store"
	"github.com/aussiebroadwan/rollcall/internal/attendance/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "rollcall.db") + "?_pragma=busy_timeout(5000)"
	s, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seedSession(t *testing.T, s store.Store, id string) {
	t.Helper()
	require.NoError(t, s.Sessions().CreateSession(context.Background(), domain.ClassSession{
		ID: id, Name: "Physics 101", CreatedBy: "teacher-1", StartedAt: t0,
	}))
}

func TestMigrationsIdempotent(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(context.Background()))
}

func TestSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	seedSession(t, s, "42")

	got, err := s.Sessions().GetSession(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, "Physics 101", got.Name)
	require.True(t, got.StartedAt.Equal(t0))

	err = s.Sessions().CreateSession(ctx, domain.ClassSession{ID: "42"})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	require.NoError(t, s.Sessions().RenameSession(ctx, "42", "Physics 102"))
	got, err = s.Sessions().GetSession(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, "Physics 102", got.Name)

	_, err = s.Sessions().GetSession(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.Sessions().RenameSession(ctx, "missing", "x"), store.ErrNotFound)
}

func TestQRTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	seedSession(t, s, "42")

	repo := s.QRTokens()

	_, err := repo.GetLatestQRToken(ctx, "42")
	require.ErrorIs(t, err, store.ErrNotFound)

	first := domain.QRToken{ID: "t1", SessionID: "42", Fingerprint: "fp1", GeneratedAt: t0, ExpiresAt: t0.Add(5 * time.Minute)}
	second := domain.QRToken{ID: "t2", SessionID: "42", Fingerprint: "fp2", GeneratedAt: t0.Add(time.Minute), ExpiresAt: t0.Add(6 * time.Minute)}
	require.NoError(t, repo.CreateQRToken(ctx, first))
	require.NoError(t, repo.CreateQRToken(ctx, second))

	dup := second
	dup.ID = "t3"
	require.ErrorIs(t, repo.CreateQRToken(ctx, dup), store.ErrAlreadyExists, "fingerprints are unique")

	latest, err := repo.GetLatestQRToken(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, "t2", latest.ID)
	require.Nil(t, latest.RevokedAt)

	n, err := repo.RevokeQRTokens(ctx, "42", t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = repo.RevokeQRTokens(ctx, "42", t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.Zero(t, n, "already revoked tokens keep their first revocation time")

	got, err := repo.GetQRTokenByFingerprint(ctx, "fp1")
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	require.True(t, got.RevokedAt.Equal(t0.Add(2*time.Minute)))

	n, err = repo.DeleteExpiredQRTokens(ctx, t0.Add(5*time.Minute+time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = repo.GetQRTokenByFingerprint(ctx, "fp1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAttendance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	seedSession(t, s, "42")
	require.NoError(t, s.QRTokens().CreateQRToken(ctx, domain.QRToken{
		ID: "t1", SessionID: "42", Fingerprint: "fp1", GeneratedAt: t0, ExpiresAt: t0.Add(time.Minute),
	}))

	repo := s.Attendance()
	require.NoError(t, repo.CreateAttendance(ctx, domain.Attendance{
		ID: "a2", SessionID: "42", StudentID: "s2", TokenID: "t1", CheckInTime: t0.Add(20 * time.Second), IsLate: true,
	}))
	require.NoError(t, repo.CreateAttendance(ctx, domain.Attendance{
		ID: "a1", SessionID: "42", StudentID: "s1", TokenID: "t1", CheckInTime: t0.Add(10 * time.Second),
	}))

	err := repo.CreateAttendance(ctx, domain.Attendance{
		ID: "a3", SessionID: "42", StudentID: "s1", CheckInTime: t0.Add(30 * time.Second),
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	list, err := repo.ListAttendance(ctx, "42")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "s1", list[0].StudentID)
	require.False(t, list[0].IsLate)
	require.True(t, list[1].IsLate)

	// Deleting the token keeps the check-in.
	_, err = s.QRTokens().DeleteExpiredQRTokens(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	list, err = repo.ListAttendance(ctx, "42")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Empty(t, list[0].TokenID)
}

func TestWithTx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Sessions().CreateSession(ctx, domain.ClassSession{ID: "rolled-back", StartedAt: t0}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Sessions().GetSession(ctx, "rolled-back")
	require.ErrorIs(t, err, store.ErrNotFound)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		_, nestedErr := tx.Tx(ctx)
		require.ErrorIs(t, nestedErr, sql.ErrTxDone)
		return tx.Sessions().CreateSession(ctx, domain.ClassSession{ID: "committed", StartedAt: t0})
	})
	require.NoError(t, err)

	_, err = s.Sessions().GetSession(ctx, "committed")
	require.NoError(t, err)
}
