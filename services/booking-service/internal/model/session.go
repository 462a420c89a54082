package model

import (
	"time"

	"github.com/md-rashed-zaman/coachbook/libs/availability"
)

const (
	StatusScheduled = "scheduled"
	StatusCancelled = "cancelled"
)

// Session is a booked coaching session.
type Session struct {
	ID              string
	CoachID         string
	StudentID       string
	ScheduledAt     time.Time
	DurationMinutes int
	Status          string
	Notes           string
	CancelledAt     *time.Time
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s Session) EndsAt() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

func (s Session) Interval() availability.Interval {
	return availability.BookedInterval(s.ID, s.ScheduledAt, s.DurationMinutes)
}

// Intervals converts sessions to the occupied intervals the validator consumes.
func Intervals(sessions []Session) []availability.Interval {
	out := make([]availability.Interval, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Interval())
	}
	return out
}
