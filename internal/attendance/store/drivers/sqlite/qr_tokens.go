package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/attendance/domain"
)

type qrTokensRepo struct {
	db dbtx
}

const qrTokenColumns = `id, session_id, fingerprint, created_by, generated_at, expires_at, revoked_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQRToken(row rowScanner) (domain.QRToken, error) {
	var (
		t                      domain.QRToken
		generatedAt, expiresAt int64
		revokedAt              sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.SessionID, &t.Fingerprint, &t.CreatedBy, &generatedAt, &expiresAt, &revokedAt); err != nil {
		return domain.QRToken{}, err
	}
	t.GeneratedAt = fromMillis(generatedAt)
	t.ExpiresAt = fromMillis(expiresAt)
	t.RevokedAt = fromNullMillis(revokedAt)
	return t, nil
}

func (r *qrTokensRepo) CreateQRToken(ctx context.Context, t domain.QRToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO qr_tokens (`+qrTokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Fingerprint, t.CreatedBy,
		toMillis(t.GeneratedAt), toMillis(t.ExpiresAt), toNullMillis(t.RevokedAt),
	)
	return mapConflict(err)
}

func (r *qrTokensRepo) GetQRTokenByFingerprint(ctx context.Context, fingerprint string) (domain.QRToken, error) {
	t, err := scanQRToken(r.db.QueryRowContext(ctx,
		`SELECT `+qrTokenColumns+` FROM qr_tokens WHERE fingerprint = ?`, fingerprint))
	if err != nil {
		return domain.QRToken{}, mapNotFound(err)
	}
	return t, nil
}

func (r *qrTokensRepo) GetLatestQRToken(ctx context.Context, sessionID string) (domain.QRToken, error) {
	t, err := scanQRToken(r.db.QueryRowContext(ctx, `
		SELECT `+qrTokenColumns+` FROM qr_tokens
		WHERE session_id = ?
		ORDER BY generated_at DESC, id DESC
		LIMIT 1`, sessionID))
	if err != nil {
		return domain.QRToken{}, mapNotFound(err)
	}
	return t, nil
}

func (r *qrTokensRepo) RevokeQRTokens(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE qr_tokens SET revoked_at = ? WHERE session_id = ? AND revoked_at IS NULL`,
		toMillis(at), sessionID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *qrTokensRepo) DeleteExpiredQRTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM qr_tokens WHERE expires_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
