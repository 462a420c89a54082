package availability

import "time"

// Window is one recurring weekly availability block in the coach's local time.
// StartTime and EndTime are zero-padded "HH:mm".
type Window struct {
	Weekday   Weekday `json:"weekday"`
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
}

// Schedule is a coach's timezone plus weekly windows. Overlapping windows
// are allowed and simply union together.
type Schedule struct {
	CoachID  string   `json:"coach_id"`
	Timezone string   `json:"timezone"`
	Windows  []Window `json:"windows"`
}

type Slot struct {
	Start time.Time
	End   time.Time
}

// GenerateSlots returns the bookable SlotDuration slots for every local
// calendar day from rangeStart to rangeEnd inclusive.
//
// The candidate grid is anchored on UTC midnight of each day, not on local
// midnight. For zones with a non-half-hour offset the slots therefore land on
// :15/:45 (or similar) local boundaries, and the tail of the last local day
// that falls on the next UTC date is not walked.
func GenerateSlots(schedule Schedule, booked []Interval, rangeStart, rangeEnd time.Time) []Slot {
	if len(schedule.Windows) == 0 || rangeStart.After(rangeEnd) {
		return nil
	}
	loc, err := LoadZone(schedule.Timezone)
	if err != nil {
		return nil
	}
	byDay := groupByWeekday(schedule.Windows)

	var slots []Slot
	for _, day := range gridDays(rangeStart, rangeEnd, loc) {
		dayEnd := day.Add(24 * time.Hour)
		for start := day; start.Before(dayEnd); start = start.Add(SlotDuration) {
			candidate := Interval{Start: start, End: start.Add(SlotDuration)}
			localStart := Project(candidate.Start, loc)
			localEnd := Project(candidate.End, loc)
			if !contained(byDay[localStart.Weekday], localStart.Clock, localEnd.Clock) {
				continue
			}
			if conflictsAny(candidate, booked, "") {
				continue
			}
			slots = append(slots, Slot{Start: candidate.Start, End: candidate.End})
		}
	}
	return slots
}

// GridSpan reports the instants GenerateSlots walks for the given range.
// Callers use it to bound the session lookup; sessions ending more than Gap
// before Start or starting Gap after End cannot affect the result.
func GridSpan(schedule Schedule, rangeStart, rangeEnd time.Time) (Interval, bool) {
	if len(schedule.Windows) == 0 || rangeStart.After(rangeEnd) {
		return Interval{}, false
	}
	loc, err := LoadZone(schedule.Timezone)
	if err != nil {
		return Interval{}, false
	}
	days := gridDays(rangeStart, rangeEnd, loc)
	return Interval{Start: days[0], End: days[len(days)-1].Add(24 * time.Hour)}, true
}

// gridDays returns UTC midnight of every local calendar date in the range.
func gridDays(rangeStart, rangeEnd time.Time, loc *time.Location) []time.Time {
	first := utcDate(rangeStart.In(loc))
	last := utcDate(rangeEnd.In(loc))
	var days []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func utcDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func groupByWeekday(windows []Window) map[Weekday][]Window {
	out := make(map[Weekday][]Window, 7)
	for _, w := range windows {
		out[w.Weekday] = append(out[w.Weekday], w)
	}
	return out
}

// contained compares zero-padded clocks as strings. An end clock at or before
// the start clock means the span crosses local midnight, which no window covers.
func contained(windows []Window, startClock, endClock string) bool {
	if endClock <= startClock {
		return false
	}
	for _, w := range windows {
		if startClock >= w.StartTime && endClock <= w.EndTime {
			return true
		}
	}
	return false
}
