package domain

import "time"

// Realtime event types broadcast to session subscribers.
const (
	EventAttendanceMarked = "attendance_marked"
	EventQRGenerated      = "qr_generated"
	EventQRRevoked        = "qr_revoked"
)

// Event is a domain change published to the realtime hub. Data is
// serialised as the message's "data" field.
type Event struct {
	Type      string
	SessionID string
	Message   string
	Timestamp time.Time

	// StudentID is set on events about a single student. Such events reach
	// that student and session managers only.
	StudentID string

	Data      any
}
