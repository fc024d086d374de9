package domain

import "time"

// Attendance is a recorded check-in. A student appears at most once per
// session.
type Attendance struct {
	ID          string
	SessionID   string
	StudentID   string
	TokenID     string
	CheckInTime time.Time
	IsLate      bool
}
