package sqlite

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/rollcall/internal/attendance/domain"
)

type attendanceRepo struct {
	db dbtx
}

func (r *attendanceRepo) CreateAttendance(ctx context.Context, a domain.Attendance) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (id, session_id, student_id, token_id, check_in_time, is_late)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.StudentID, toNullString(a.TokenID), toMillis(a.CheckInTime), a.IsLate,
	)
	return mapConflict(err)
}

func (r *attendanceRepo) ListAttendance(ctx context.Context, sessionID string) ([]domain.Attendance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, student_id, token_id, check_in_time, is_late
		FROM attendance
		WHERE session_id = ?
		ORDER BY check_in_time, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Attendance
	for rows.Next() {
		var (
			a       domain.Attendance
			tokenID sql.NullString
			checkIn int64
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.StudentID, &tokenID, &checkIn, &a.IsLate); err != nil {
			return nil, err
		}
		a.TokenID = tokenID.String
		a.CheckInTime = fromMillis(checkIn)
		out = append(out, a)
	}
	return out, rows.Err()
}
