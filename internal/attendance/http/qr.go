package http

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/attendance/domain"
	"github.com/aussiebroadwan/rollcall/internal/attendance/service"
	"github.com/aussiebroadwan/rollcall/pkg/attendsdk"
	"github.com/aussiebroadwan/rollcall/pkg/httpx"
	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
	"github.com/aussiebroadwan/rollcall/pkg/slogx"
)

const pngDataURIPrefix = "data:image/png;base64,"

type QRHandler struct {
	QRService *service.QRService
}

// HandleGenerate godoc
//
//	@Summary		Generate Attendance QR
//	@Description	Issue a fresh attendance token for a session and render it as a QR code. The session is created on first use. Any token the session already had is revoked.
//	@Tags			Attendance
//	@Accept			json
//	@Produce		json
//	@Param			request	body		attendsdk.GenerateQRRequest		true	"Session to issue for"
//	@Success		200		{object}	attendsdk.GenerateQRResponse	"qr_code, token, expiry, session_info"
//	@Failure		400		{object}	attendsdk.ErrorResponse			"success, message"
//	@Failure		401		{object}	attendsdk.ErrorResponse			"success, message"
//	@Failure		403		{object}	attendsdk.ErrorResponse			"success, message"
//	@Failure		500		{object}	attendsdk.ErrorResponse			"success, message"
//	@Security		BearerAuth
//	@Router			/attendance/generate-qr/ [post].
func (h *QRHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req attendsdk.GenerateQRRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body.")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "session_id is required.")
		return
	}

	issued, err := h.QRService.Generate(ctx, req.SessionID, strings.TrimSpace(req.SessionName), httpx.UserIDFromContext(ctx))
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid session.")
			return
		}
		log.Error("failed to generate attendance qr", "session_id", req.SessionID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Failed to generate QR code.")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, attendsdk.GenerateQRResponse{
		Success:          true,
		QRCode:           pngDataURIPrefix + base64.StdEncoding.EncodeToString(issued.PNG),
		Token:            issued.Token,
		SessionID:        attendsdk.ID(issued.Session.ID),
		ExpiresInMinutes: issued.ExpiresAt.Sub(issued.GeneratedAt).Minutes(),
		SessionInfo:      sessionInfo(issued.Session),
		QRData:           string(issued.PayloadJSON),
		ExpiresAt:        formatTime(issued.ExpiresAt),
	})
}

// HandleValidate godoc
//
//	@Summary		Validate Attendance QR
//	@Description	Record a check-in from a scanned token. qr_token may be the bare token or the whole JSON payload decoded from the QR image. Students may only check themselves in; student_id defaults to the caller.
//	@Tags			Attendance
//	@Accept			json
//	@Produce		json
//	@Param			request	body		attendsdk.ValidateQRRequest		true	"Scanned token"
//	@Success		200		{object}	attendsdk.ValidateQRResponse	"attendance_id, check_in_time, is_late"
//	@Failure		400		{object}	attendsdk.ErrorResponse			"invalid, revoked or expired token"
//	@Failure		401		{object}	attendsdk.ErrorResponse			"success, message"
//	@Failure		403		{object}	attendsdk.ErrorResponse			"checking in someone else"
//	@Failure		409		{object}	attendsdk.ErrorResponse			"already checked in"
//	@Failure		500		{object}	attendsdk.ErrorResponse			"success, message"
//	@Security		BearerAuth
//	@Router			/attendance/validate-qr/ [post].
func (h *QRHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req attendsdk.ValidateQRRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body.")
		return
	}
	if strings.TrimSpace(req.QRToken) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "qr_token is required.")
		return
	}

	claims, _ := httpx.ClaimsFromContext(ctx)
	studentID := strings.TrimSpace(req.StudentID)
	switch {
	case studentID == "":
		studentID = claims.Subject
	case studentID != claims.Subject && !claims.HasScope(jwtx.ScopeIssue):
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "You can only check in yourself.")
		return
	}

	out, err := h.QRService.Validate(ctx, req.QRToken, studentID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToken):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_token", "Invalid QR code.")
		case errors.Is(err, service.ErrTokenRevoked):
			httpx.WriteError(w, http.StatusBadRequest, "token_revoked", "This QR code has been revoked. Ask for a new one.")
		case errors.Is(err, service.ErrTokenExpired):
			httpx.WriteError(w, http.StatusBadRequest, "token_expired", "This QR code has expired. Ask for a new one.")
		case errors.Is(err, service.ErrAlreadyCheckedIn):
			httpx.WriteError(w, http.StatusConflict, "already_checked_in", "Attendance already marked for this session.")
		case errors.Is(err, service.ErrInvalidRequest):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid check-in request.")
		default:
			log.Error("failed to validate attendance qr", "student_id", studentID, "error", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Failed to record attendance.")
		}
		return
	}

	msg := "Attendance marked."
	if out.Attendance.IsLate {
		msg = "Attendance marked (late)."
	}
	httpx.WriteJSON(w, http.StatusOK, attendsdk.ValidateQRResponse{
		Success:      true,
		Message:      msg,
		AttendanceID: attendsdk.ID(out.Attendance.ID),
		SessionInfo:  sessionInfo(out.Session),
		CheckInTime:  formatTime(out.Attendance.CheckInTime),
		IsLate:       out.Attendance.IsLate,
	})
}

// HandleStatus godoc
//
//	@Summary		Attendance QR Status
//	@Description	Report whether the session's latest token is still usable.
//	@Tags			Attendance
//	@Produce		json
//	@Param			session_id	path		string						true	"Session ID"
//	@Success		200			{object}	attendsdk.QRStatusResponse	"qr_status, session_info"
//	@Failure		401			{object}	attendsdk.ErrorResponse		"success, message"
//	@Failure		404			{object}	attendsdk.ErrorResponse		"unknown session"
//	@Failure		500			{object}	attendsdk.ErrorResponse		"success, message"
//	@Security		BearerAuth
//	@Router			/attendance/qr-status/{session_id}/ [get].
func (h *QRHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("session_id")

	st, err := h.QRService.Status(ctx, sessionID)
	if err != nil {
		writeSessionError(w, r, sessionID, "failed to read qr status", err)
		return
	}

	status := attendsdk.QRStatus{Active: st.Active}
	if st.Token != nil {
		status.GeneratedAt = formatTime(st.Token.GeneratedAt)
		status.ExpiresAt = formatTime(st.Token.ExpiresAt)
		status.RemainingSeconds = int(st.Remaining / time.Second)
	}

	httpx.WriteJSON(w, http.StatusOK, attendsdk.QRStatusResponse{
		Success:     true,
		QRStatus:    status,
		SessionInfo: sessionInfo(st.Session),
	})
}

// HandleRevoke godoc
//
//	@Summary		Revoke Attendance QR
//	@Description	Invalidate every outstanding token of the session. Revoking a session without an active token succeeds.
//	@Tags			Attendance
//	@Produce		json
//	@Param			session_id	path		string						true	"Session ID"
//	@Success		200			{object}	attendsdk.RevokeQRResponse	"success, message"
//	@Failure		401			{object}	attendsdk.ErrorResponse		"success, message"
//	@Failure		404			{object}	attendsdk.ErrorResponse		"unknown session"
//	@Failure		500			{object}	attendsdk.ErrorResponse		"success, message"
//	@Security		BearerAuth
//	@Router			/attendance/revoke-qr/{session_id}/ [post].
func (h *QRHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("session_id")

	wasActive, err := h.QRService.Revoke(ctx, sessionID, httpx.UserIDFromContext(ctx))
	if err != nil {
		writeSessionError(w, r, sessionID, "failed to revoke qr", err)
		return
	}

	msg := "QR code revoked."
	if !wasActive {
		msg = "No active QR code to revoke."
	}
	httpx.WriteJSON(w, http.StatusOK, attendsdk.RevokeQRResponse{Success: true, Message: msg})
}

// HandleList godoc
//
//	@Summary		List Attendance
//	@Description	List the check-ins recorded for a session in check-in order.
//	@Tags			Attendance
//	@Produce		json
//	@Param			session_id	path		string								true	"Session ID"
//	@Success		200			{object}	attendsdk.AttendanceListResponse	"session_info, attendance"
//	@Failure		401			{object}	attendsdk.ErrorResponse				"success, message"
//	@Failure		404			{object}	attendsdk.ErrorResponse				"unknown session"
//	@Failure		500			{object}	attendsdk.ErrorResponse				"success, message"
//	@Security		BearerAuth
//	@Router			/attendance/sessions/{session_id}/attendance/ [get].
func (h *QRHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("session_id")

	session, list, err := h.QRService.Attendance(ctx, sessionID)
	if err != nil {
		writeSessionError(w, r, sessionID, "failed to list attendance", err)
		return
	}

	records := make([]attendsdk.AttendanceRecord, 0, len(list))
	for _, a := range list {
		records = append(records, attendsdk.AttendanceRecord{
			ID:          attendsdk.ID(a.ID),
			StudentID:   a.StudentID,
			CheckInTime: formatTime(a.CheckInTime),
			IsLate:      a.IsLate,
		})
	}

	httpx.WriteJSON(w, http.StatusOK, attendsdk.AttendanceListResponse{
		Success:     true,
		SessionInfo: sessionInfo(session),
		Count:       len(records),
		Attendance:  records,
	})
}

func writeSessionError(w http.ResponseWriter, r *http.Request, sessionID, logMsg string, err error) {
	if errors.Is(err, service.ErrSessionNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "Session not found.")
		return
	}
	slogx.FromContext(r.Context()).Error(logMsg, "session_id", sessionID, "error", err)
	httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Something went wrong. Please try again.")
}

func sessionInfo(s domain.ClassSession) attendsdk.SessionInfo {
	return attendsdk.SessionInfo{
		ID:        attendsdk.ID(s.ID),
		Name:      s.Name,
		StartedAt: formatTime(s.StartedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
