package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/attendance/domain"
	"github.com/aussiebroadwan/rollcall/internal/attendance/store"
)

type sessionsRepo struct {
	db dbtx
}

func (r *sessionsRepo) GetSession(ctx context.Context, id string) (domain.ClassSession, error) {
	var s domain.ClassSession
	var startedAt, createdAt, updatedAt int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, created_by, started_at, created_at, updated_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.Name, &s.CreatedBy, &startedAt, &createdAt, &updatedAt)
	if err != nil {
		return domain.ClassSession{}, mapNotFound(err)
	}

	s.StartedAt = fromMillis(startedAt)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return s, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.ClassSession) error {
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = s.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, created_by, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.CreatedBy, toMillis(s.StartedAt), toMillis(s.CreatedAt), toMillis(s.CreatedAt),
	)
	return mapConflict(err)
}

func (r *sessionsRepo) RenameSession(ctx context.Context, id, name string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, updated_at = ? WHERE id = ?`,
		name, toMillis(time.Now()), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
