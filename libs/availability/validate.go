package availability

import (
	"fmt"
	"time"
)

// Reason classifies a rejected booking.
type Reason string

const (
	ReasonDurationExceeded    Reason = "duration_exceeded"
	ReasonOutsideAvailability Reason = "outside_availability"
	ReasonSchedulingConflict  Reason = "scheduling_conflict"
)

// ConflictMessage is shown verbatim by the frontend.
var ConflictMessage = fmt.Sprintf(
	"This time conflicts with another session. A %d minute gap is required between sessions.",
	int(Gap/time.Minute),
)

// Proposal is a booking candidate.
type Proposal struct {
	CoachID         string
	Start           time.Time
	DurationMinutes int
}

// Result is the outcome of ValidateBooking. The zero value is OK.
type Result struct {
	Reason  Reason
	Message string
}

func (r Result) OK() bool {
	return r.Reason == ""
}

func rejected(reason Reason, msg string) Result {
	return Result{Reason: reason, Message: msg}
}

// ValidateBooking checks a proposal against the duration cap, the coach's
// windows and the existing sessions, in that order. existing must hold every
// non-cancelled session of the coach that could sit within Gap of the
// proposal. The interval whose ID equals excludeID is ignored, so a session
// being rescheduled never conflicts with its own previous time.
//
// A schedule without windows places no availability constraint.
func ValidateBooking(p Proposal, schedule Schedule, existing []Interval, excludeID string) Result {
	if p.DurationMinutes > MaxDurationMinutes {
		return rejected(ReasonDurationExceeded,
			fmt.Sprintf("Sessions can be at most %d minutes long (requested %d).", MaxDurationMinutes, p.DurationMinutes))
	}

	candidate := BookedInterval("", p.Start, p.DurationMinutes)

	if len(schedule.Windows) > 0 {
		loc, err := LoadZone(schedule.Timezone)
		if err != nil {
			return rejected(ReasonOutsideAvailability,
				fmt.Sprintf("The coach has no bookable availability (timezone %q is not recognized).", schedule.Timezone))
		}
		localStart := Project(candidate.Start, loc)
		localEnd := projectEnd(candidate.End, loc)
		if !contained(windowsFor(schedule.Windows, localStart.Weekday), localStart.Clock, localEnd.Clock) {
			return rejected(ReasonOutsideAvailability,
				fmt.Sprintf("The coach is not available on %s %s-%s (%s).",
					localStart.Weekday.Name(), localStart.Clock, localEnd.Clock, loc.String()))
		}
	}

	if conflictsAny(candidate, existing, excludeID) {
		return rejected(ReasonSchedulingConflict, ConflictMessage)
	}
	return Result{}
}

// LookupWindow is how far around a proposal's start the write path must load
// existing sessions. It covers the longest session plus the gap with room to spare.
const LookupWindow = 4 * time.Hour

func windowsFor(windows []Window, day Weekday) []Window {
	var out []Window
	for _, w := range windows {
		if w.Weekday == day {
			out = append(out, w)
		}
	}
	return out
}
