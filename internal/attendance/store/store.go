package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/attendance/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface implemented by the drivers. Repos
// are exposed as methods so a transaction can hand out the same repos bound
// to itself, and nested transactions are impossible by construction.
type Store interface {
	Sessions() Sessions
	QRTokens() QRTokens
	Attendance() Attendance

	ApplyMigrations() error

	// Tx starts a read/write transaction. The caller must Commit or Rollback.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a Store bound to a transaction.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Sessions interface {
	GetSession(ctx context.Context, id string) (domain.ClassSession, error)

	// CreateSession returns ErrAlreadyExists when the id is taken.
	CreateSession(ctx context.Context, s domain.ClassSession) error

	// RenameSession updates the display name and bumps updated_at.
	RenameSession(ctx context.Context, id, name string) error
}

type QRTokens interface {
	CreateQRToken(ctx context.Context, t domain.QRToken) error

	// GetQRTokenByFingerprint returns the token whatever its state so the
	// caller can tell revoked from expired from unknown.
	GetQRTokenByFingerprint(ctx context.Context, fingerprint string) (domain.QRToken, error)

	// GetLatestQRToken returns the most recently generated token of a session.
	GetLatestQRToken(ctx context.Context, sessionID string) (domain.QRToken, error)

	// RevokeQRTokens marks every unrevoked token of the session as revoked at
	// the given time and returns how many changed.
	RevokeQRTokens(ctx context.Context, sessionID string, at time.Time) (int64, error)

	// DeleteExpiredQRTokens removes tokens that expired before cutoff.
	// Check-ins keep their row with the token reference cleared.
	DeleteExpiredQRTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

type Attendance interface {
	// CreateAttendance returns ErrAlreadyExists when the student already
	// checked in to the session.
	CreateAttendance(ctx context.Context, a domain.Attendance) error

	// ListAttendance returns the session's check-ins, earliest first.
	ListAttendance(ctx context.Context, sessionID string) ([]domain.Attendance, error)
}
