package availability

import "time"

const (
	// SlotDuration is the width of every generated slot.
	SlotDuration = 30 * time.Minute
	// Gap is the minimum distance between two sessions of the same coach.
	Gap = 15 * time.Minute
	// MaxDurationMinutes caps a single session regardless of availability width.
	MaxDurationMinutes = 30
)

// Interval is a half-open [Start, End) span. ID identifies the session it was
// derived from, if any.
type Interval struct {
	ID    string
	Start time.Time
	End   time.Time
}

// BookedInterval derives the occupied interval of a session.
func BookedInterval(id string, start time.Time, durationMinutes int) Interval {
	return Interval{
		ID:    id,
		Start: start,
		End:   start.Add(time.Duration(durationMinutes) * time.Minute),
	}
}

// conflicts reports whether a and b are closer than gap:
// NOT (a.Start >= b.End+gap OR a.End+gap <= b.Start).
func conflicts(a, b Interval, gap time.Duration) bool {
	return a.Start.Before(b.End.Add(gap)) && b.Start.Before(a.End.Add(gap))
}

func conflictsAny(candidate Interval, booked []Interval, excludeID string) bool {
	for _, b := range booked {
		if excludeID != "" && b.ID == excludeID {
			continue
		}
		if conflicts(candidate, b, Gap) {
			return true
		}
	}
	return false
}
