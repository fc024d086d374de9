package sqlite

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/rollcall/internal/attendance/store"
)

type txStore struct {
	tx *sql.Tx
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

// Close is a no-op; the outer Store owns the database.
func (t *txStore) Close() error { return nil }

func (t *txStore) Ping(ctx context.Context) error { return nil }

// Nested transactions are not supported.
func (t *txStore) Tx(ctx context.Context) (store.Tx, error) { return nil, sql.ErrTxDone }

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) Sessions() store.Sessions     { return &sessionsRepo{db: t.tx} }
func (t *txStore) QRTokens() store.QRTokens     { return &qrTokensRepo{db: t.tx} }
func (t *txStore) Attendance() store.Attendance { return &attendanceRepo{db: t.tx} }

// ApplyMigrations must run before any transaction is opened.
func (t *txStore) ApplyMigrations() error { return nil }
