package domain

import "time"

// ClassSession is a class meeting students check in to. The id is chosen by
// the issuing client, usually the timetable's numeric id.
type ClassSession struct {
	ID        string
	Name      string
	CreatedBy string
	StartedAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
