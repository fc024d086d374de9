package service

// Event payloads, serialised as the "data" field of realtime messages.

type AttendanceMarkedData struct {
	AttendanceID string `json:"attendance_id"`
	SessionID    string `json:"session_id"`
	StudentID    string `json:"student_id"`
	CheckInTime  string `json:"check_in_time"`
	IsLate       bool   `json:"is_late"`
}

type QRGeneratedData struct {
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at"`
}

type QRRevokedData struct {
	SessionID string `json:"session_id"`
}
