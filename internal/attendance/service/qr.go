package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/attendance/domain"
	"github.com/aussiebroadwan/rollcall/internal/attendance/metrics"
	"github.com/aussiebroadwan/rollcall/internal/attendance/store"
	"github.com/aussiebroadwan/rollcall/pkg/cryptox"
	"github.com/aussiebroadwan/rollcall/pkg/idx"
	"github.com/aussiebroadwan/rollcall/pkg/qrpayload"
	"github.com/aussiebroadwan/rollcall/pkg/slogx"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidToken     = errors.New("invalid attendance token")
	ErrTokenRevoked     = errors.New("attendance token revoked")
	ErrTokenExpired     = errors.New("attendance token expired")
	ErrAlreadyCheckedIn = errors.New("already checked in")
)

const (
	DefaultQRTTL     = 5 * time.Minute
	DefaultLateAfter = 15 * time.Minute
	DefaultQRSize    = 320
)

// Publisher receives domain events after their transaction committed.
type Publisher interface {
	Publish(ev domain.Event)
}

// QRService issues, validates and revokes attendance tokens.
type QRService struct {
	Store  store.Store
	Events Publisher // optional

	// TTL is how long an issued token stays valid.
	TTL time.Duration
	// LateAfter marks check-ins this long after the session started as late.
	// Zero disables late marking.
	LateAfter time.Duration
	// QRSize is the rendered image edge in pixels.
	QRSize int

	// Now is overridable for tests.
	Now func() time.Time
}

// IssuedQR is the result of Generate. Token is the only copy of the opaque
// credential; the store keeps its fingerprint.
type IssuedQR struct {
	Session     domain.ClassSession
	Token       string
	Payload     qrpayload.Token
	PayloadJSON []byte
	PNG         []byte
	GeneratedAt time.Time
	ExpiresAt   time.Time
}

// CheckIn is the result of a successful Validate.
type CheckIn struct {
	Attendance domain.Attendance
	Session    domain.ClassSession
}

// QRStatus describes the current token of a session.
type QRStatus struct {
	Session   domain.ClassSession
	Token     *domain.QRToken
	Active    bool
	Remaining time.Duration
}

func (s *QRService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *QRService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultQRTTL
}

func (s *QRService) publish(ev domain.Event) {
	if s.Events != nil {
		s.Events.Publish(ev)
	}
}

// Generate issues a fresh token for the session, creating the session on
// first use. Any token still outstanding for the session is revoked, so at
// most one token per session is ever usable.
func (s *QRService) Generate(ctx context.Context, sessionID, sessionName, issuedBy string) (IssuedQR, error) {
	log := slogx.FromContext(ctx)

	sessionID = strings.TrimSpace(sessionID)
	sessionName = strings.TrimSpace(sessionName)
	if sessionID == "" {
		return IssuedQR{}, ErrInvalidRequest
	}

	// 1. Mint the opaque token; only its fingerprint is stored.
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		log.Error("failed to generate attendance token", slog.Any("error", err))
		return IssuedQR{}, err
	}

	now := s.now()
	row := domain.QRToken{
		ID:          idx.NewAt(now).String(),
		SessionID:   sessionID,
		Fingerprint: cryptox.FingerprintToken(token),
		CreatedBy:   issuedBy,
		GeneratedAt: now,
		ExpiresAt:   now.Add(s.ttl()),
	}

	// 2. Create or update the session, rotate out the previous token and
	// store the new one atomically.
	var (
		session domain.ClassSession
		rotated int64
	)
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		existing, err := tx.Sessions().GetSession(ctx, sessionID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			session = domain.ClassSession{
				ID:        sessionID,
				Name:      sessionName,
				CreatedBy: issuedBy,
				StartedAt: now,
				CreatedAt: now,
			}
			if err := tx.Sessions().CreateSession(ctx, session); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			session = existing
			if sessionName != "" && sessionName != session.Name {
				if err := tx.Sessions().RenameSession(ctx, sessionID, sessionName); err != nil {
					return err
				}
				session.Name = sessionName
			}
		}

		n, err := tx.QRTokens().RevokeQRTokens(ctx, sessionID, now)
		if err != nil {
			return err
		}
		rotated = n
		return tx.QRTokens().CreateQRToken(ctx, row)
	})
	if err != nil {
		log.Error("failed to store attendance token",
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
		return IssuedQR{}, err
	}

	// 3. Render the code.
	payload := qrpayload.New(token, session.ID, session.Name, row.GeneratedAt, row.ExpiresAt)
	raw, err := qrpayload.Encode(payload)
	if err != nil {
		return IssuedQR{}, err
	}
	img, err := RenderQR(raw, s.QRSize)
	if err != nil {
		log.Error("failed to render QR code", slog.Any("error", err))
		return IssuedQR{}, err
	}

	metrics.QRTokensIssued.Inc()
	metrics.QRTokensRevoked.Add(float64(rotated))

	log.Info("attendance token issued",
		slog.String("session_id", session.ID),
		slog.String("token_id", row.ID),
		slog.Time("expires_at", row.ExpiresAt),
		slog.Int64("rotated", rotated),
	)

	s.publish(domain.Event{
		Type:      domain.EventQRGenerated,
		SessionID: session.ID,
		Message:   "A new attendance QR code is available.",
		Timestamp: now,
		Data: QRGeneratedData{
			SessionID: session.ID,
			ExpiresAt: row.ExpiresAt.Format(time.RFC3339Nano),
		},
	})

	return IssuedQR{
		Session:     session,
		Token:       token,
		Payload:     payload,
		PayloadJSON: raw,
		PNG:         img,
		GeneratedAt: row.GeneratedAt,
		ExpiresAt:   row.ExpiresAt,
	}, nil
}

// Validate records a check-in for studentID. raw is the opaque token or the
// whole scanned payload.
func (s *QRService) Validate(ctx context.Context, raw, studentID string) (CheckIn, error) {
	log := slogx.FromContext(ctx)

	token := strings.TrimSpace(raw)
	if strings.HasPrefix(token, "{") {
		p, err := qrpayload.Parse(token)
		if err != nil {
			metrics.RecordCheckIn("invalid")
			return CheckIn{}, ErrInvalidToken
		}
		token = p.Token
	}
	studentID = strings.TrimSpace(studentID)
	if token == "" || studentID == "" {
		return CheckIn{}, ErrInvalidRequest
	}

	now := s.now()
	fp := cryptox.FingerprintToken(token)

	var out CheckIn
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		// 1. The token must exist, be unrevoked and unexpired.
		tok, err := tx.QRTokens().GetQRTokenByFingerprint(ctx, fp)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		if tok.Revoked() {
			return ErrTokenRevoked
		}
		if tok.Expired(now) {
			return ErrTokenExpired
		}

		session, err := tx.Sessions().GetSession(ctx, tok.SessionID)
		if err != nil {
			return err
		}

		// 2. One check-in per student per session, enforced by a unique index.
		a := domain.Attendance{
			ID:          idx.NewAt(now).String(),
			SessionID:   session.ID,
			StudentID:   studentID,
			TokenID:     tok.ID,
			CheckInTime: now,
			IsLate:      s.LateAfter > 0 && now.Sub(session.StartedAt) > s.LateAfter,
		}
		if err := tx.Attendance().CreateAttendance(ctx, a); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return ErrAlreadyCheckedIn
			}
			return err
		}

		out = CheckIn{Attendance: a, Session: session}
		return nil
	})
	if err != nil {
		metrics.RecordCheckIn(checkInResult(err))
		if isRejection(err) {
			log.Info("check-in rejected",
				slog.String("student_id", studentID),
				slog.String("reason", err.Error()),
			)
		} else {
			log.Error("check-in failed", slog.String("student_id", studentID), slog.Any("error", err))
		}
		return CheckIn{}, err
	}

	result := "ok"
	if out.Attendance.IsLate {
		result = "late"
	}
	metrics.RecordCheckIn(result)

	log.Info("check-in recorded",
		slog.String("session_id", out.Session.ID),
		slog.String("student_id", studentID),
		slog.Bool("is_late", out.Attendance.IsLate),
	)

	s.publish(domain.Event{
		Type:      domain.EventAttendanceMarked,
		SessionID: out.Session.ID,
		Message:   studentID + " checked in.",
		Timestamp: now,
		StudentID: studentID,
		Data: AttendanceMarkedData{
			AttendanceID: out.Attendance.ID,
			SessionID:    out.Session.ID,
			StudentID:    studentID,
			CheckInTime:  now.Format(time.RFC3339Nano),
			IsLate:       out.Attendance.IsLate,
		},
	})

	return out, nil
}

// Status reports the session's latest token.
func (s *QRService) Status(ctx context.Context, sessionID string) (QRStatus, error) {
	session, err := s.Store.Sessions().GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return QRStatus{}, ErrSessionNotFound
	}
	if err != nil {
		return QRStatus{}, err
	}

	st := QRStatus{Session: session}

	tok, err := s.Store.QRTokens().GetLatestQRToken(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return QRStatus{}, err
	}

	now := s.now()
	st.Token = &tok
	st.Active = tok.Active(now)
	st.Remaining = tok.Remaining(now)
	return st, nil
}

// Revoke invalidates every outstanding token of the session. It reports
// whether a usable token was revoked.
func (s *QRService) Revoke(ctx context.Context, sessionID, revokedBy string) (bool, error) {
	log := slogx.FromContext(ctx)
	now := s.now()

	var (
		wasActive bool
		revoked   int64
	)
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Sessions().GetSession(ctx, sessionID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrSessionNotFound
			}
			return err
		}

		latest, err := tx.QRTokens().GetLatestQRToken(ctx, sessionID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil
		case err != nil:
			return err
		}
		wasActive = latest.Active(now)

		revoked, err = tx.QRTokens().RevokeQRTokens(ctx, sessionID, now)
		return err
	})
	if err != nil {
		return false, err
	}
	metrics.QRTokensRevoked.Add(float64(revoked))

	log.Info("attendance token revoked",
		slog.String("session_id", sessionID),
		slog.String("revoked_by", revokedBy),
		slog.Bool("was_active", wasActive),
	)

	if wasActive {
		s.publish(domain.Event{
			Type:      domain.EventQRRevoked,
			SessionID: sessionID,
			Message:   "The attendance QR code was revoked.",
			Timestamp: now,
			Data:      QRRevokedData{SessionID: sessionID},
		})
	}
	return wasActive, nil
}

// Attendance lists the session's check-ins.
func (s *QRService) Attendance(ctx context.Context, sessionID string) (domain.ClassSession, []domain.Attendance, error) {
	session, err := s.Store.Sessions().GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.ClassSession{}, nil, ErrSessionNotFound
	}
	if err != nil {
		return domain.ClassSession{}, nil, err
	}

	list, err := s.Store.Attendance().ListAttendance(ctx, sessionID)
	if err != nil {
		return domain.ClassSession{}, nil, err
	}
	return session, list, nil
}

func isRejection(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrAlreadyCheckedIn) ||
		errors.Is(err, ErrInvalidRequest)
}

func checkInResult(err error) string {
	switch {
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyCheckedIn):
		return "duplicate"
	default:
		return "error"
	}
}
