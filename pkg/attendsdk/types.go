package attendsdk

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// ============================================================================
// Shared Types
// ============================================================================

// ID is an identifier the server may send either as a JSON string or a number.
type ID string

// UnmarshalJSON accepts "42", 42 and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier as text.
func (id ID) String() string { return string(id) }

// Int returns the identifier as an integer when it is numeric.
func (id ID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// SessionInfo describes the class session a token or check-in belongs to.
type SessionInfo struct {
	ID        ID     `json:"id"`
	Name      string `json:"name,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
}

// ErrorResponse is the body the attendance API returns on failure.
// This is used internally for parsing HTTP error responses.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// QR Issuance Types
// ============================================================================

// GenerateQRRequest is the body of POST /attendance/generate-qr/.
type GenerateQRRequest struct {
	SessionID   string `json:"session_id"`
	SessionName string `json:"session_name,omitempty"`
}

// GenerateQRResponse is returned when a new attendance token is issued.
type GenerateQRResponse struct {
	Success bool `json:"success"`

	// QRCode is the rendered code as a base64 PNG (optionally a data URI).
	QRCode string `json:"qr_code"`

	// Token is the opaque credential carried inside the code.
	Token string `json:"token"`

	SessionID        ID          `json:"session_id"`
	ExpiresInMinutes float64     `json:"expires_in_minutes"`
	SessionInfo      SessionInfo `json:"session_info"`

	// QRData is the JSON payload embedded in the image, when the server sends it.
	QRData string `json:"qr_data,omitempty"`

	// ExpiresAt is the absolute expiry, when the server sends it.
	ExpiresAt string `json:"expires_at,omitempty"`
}

// QRStatus is the issuance state of a session's current token.
type QRStatus struct {
	Active           bool   `json:"active"`
	GeneratedAt      string `json:"generated_at,omitempty"`
	ExpiresAt        string `json:"expires_at,omitempty"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
}

// QRStatusResponse is returned by GET /attendance/qr-status/{id}/.
type QRStatusResponse struct {
	Success     bool        `json:"success"`
	QRStatus    QRStatus    `json:"qr_status"`
	SessionInfo SessionInfo `json:"session_info"`
}

// RevokeQRResponse is returned by POST /attendance/revoke-qr/{id}/.
type RevokeQRResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ============================================================================
// Check-in Types
// ============================================================================

// ValidateQRRequest is the body of POST /attendance/validate-qr/.
type ValidateQRRequest struct {
	QRToken   string `json:"qr_token"`
	StudentID string `json:"student_id"`
}

// ValidateQRResponse is returned when the server records a check-in.
type ValidateQRResponse struct {
	Success      bool        `json:"success"`
	Message      string      `json:"message"`
	AttendanceID ID          `json:"attendance_id"`
	SessionInfo  SessionInfo `json:"session_info"`
	CheckInTime  string      `json:"check_in_time"`
	IsLate       bool        `json:"is_late"`
}

// AttendanceRecord is one student's check-in.
type AttendanceRecord struct {
	ID          ID     `json:"id"`
	StudentID   string `json:"student_id"`
	CheckInTime string `json:"check_in_time"`
	IsLate      bool   `json:"is_late"`
}

// AttendanceListResponse is returned by GET /attendance/sessions/{id}/attendance/.
type AttendanceListResponse struct {
	Success     bool               `json:"success"`
	SessionInfo SessionInfo        `json:"session_info"`
	Count       int                `json:"count"`
	Attendance  []AttendanceRecord `json:"attendance"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse represents the response structure for health check endpoints.
// Used by both /livez and /readyz endpoints (readyz includes additional Checks field).
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime,omitempty"`
	Version string        `json:"version,omitempty"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks represents the status of critical service dependencies.
type HealthChecks struct {
	Database string `json:"database"`
	Signer   string `json:"signer"`
}
