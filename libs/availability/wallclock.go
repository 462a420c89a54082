package availability

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTimezone is returned for timezone names the tz database does not know.
var ErrInvalidTimezone = errors.New("invalid timezone")

// Weekday is the fixed lowercase code a window is keyed by.
type Weekday string

const (
	Monday    Weekday = "mon"
	Tuesday   Weekday = "tue"
	Wednesday Weekday = "wed"
	Thursday  Weekday = "thu"
	Friday    Weekday = "fri"
	Saturday  Weekday = "sat"
	Sunday    Weekday = "sun"
)

var weekdayCodes = [7]Weekday{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

var weekdayNames = map[Weekday]string{
	Monday:    "Monday",
	Tuesday:   "Tuesday",
	Wednesday: "Wednesday",
	Thursday:  "Thursday",
	Friday:    "Friday",
	Saturday:  "Saturday",
	Sunday:    "Sunday",
}

func WeekdayOf(d time.Weekday) Weekday {
	return weekdayCodes[d]
}

func (w Weekday) Valid() bool {
	_, ok := weekdayNames[w]
	return ok
}

// Name returns the English day name used in user-facing messages.
func (w Weekday) Name() string {
	if n, ok := weekdayNames[w]; ok {
		return n
	}
	return string(w)
}

// ClockLayout is the zero-padded 24-hour layout windows are stored in.
const ClockLayout = "15:04"

// WallClock is an instant as seen on a coach's wall: weekday plus "HH:mm".
type WallClock struct {
	Weekday Weekday
	Clock   string
}

// LoadZone resolves an IANA timezone name. Empty and "Local" are rejected
// since they would resolve to whatever the host runs in.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// Project converts an instant into the wall clock of loc.
func Project(t time.Time, loc *time.Location) WallClock {
	local := t.In(loc)
	return WallClock{
		Weekday: WeekdayOf(local.Weekday()),
		Clock:   local.Format(ClockLayout),
	}
}

// projectEnd is Project for the end of a span. A sub-minute end is rounded up
// to the next minute so that "HH:mm" never reports an end earlier than the instant.
func projectEnd(t time.Time, loc *time.Location) WallClock {
	if r := t.Truncate(time.Minute); !r.Equal(t) {
		t = r.Add(time.Minute)
	}
	return Project(t, loc)
}

// ValidClock reports whether s is a zero-padded "HH:mm" time of day.
func ValidClock(s string) bool {
	if len(s) != len(ClockLayout) {
		return false
	}
	_, err := time.Parse(ClockLayout, s)
	return err == nil
}
