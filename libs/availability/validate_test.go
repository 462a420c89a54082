package availability

import (
	"strings"
	"testing"
	"time"
)

var monday = time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)

func at(hh, mm int) time.Time {
	return monday.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
}

func nineToFive(tz string) Schedule {
	return Schedule{
		CoachID:  "coach-1",
		Timezone: tz,
		Windows:  []Window{{Weekday: Monday, StartTime: "09:00", EndTime: "17:00"}},
	}
}

func TestValidateBooking_Containment(t *testing.T) {
	schedule := nineToFive("UTC")
	cases := []struct {
		name   string
		start  time.Time
		reason Reason
	}{
		{"window start", at(9, 0), ""},
		{"inside", at(12, 15), ""},
		{"ends at window end", at(16, 30), ""},
		{"starts before window", at(8, 45), ReasonOutsideAvailability},
		{"ends after window", at(16, 45), ReasonOutsideAvailability},
		{"crosses midnight", at(23, 45), ReasonOutsideAvailability},
		{"other weekday", at(9, 0).Add(24 * time.Hour), ReasonOutsideAvailability},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ValidateBooking(Proposal{CoachID: "coach-1", Start: tc.start, DurationMinutes: 30}, schedule, nil, "")
			if res.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q (%s)", tc.reason, res.Reason, res.Message)
			}
		})
	}
}

func TestValidateBooking_GapEnforcement(t *testing.T) {
	existing := []Interval{BookedInterval("s-1", at(10, 0), 30)}
	cases := []struct {
		name  string
		start time.Time
		ok    bool
	}{
		{"back to back after", at(10, 30), false},
		{"overlapping", at(10, 15), false},
		{"one minute short after", at(10, 44), false},
		{"exactly gap after", at(10, 45), true},
		{"ends exactly gap before", at(9, 15), true},
		{"ends one minute inside gap before", at(9, 16), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ValidateBooking(Proposal{Start: tc.start, DurationMinutes: 30}, Schedule{}, existing, "")
			if res.OK() != tc.ok {
				t.Fatalf("expected ok=%v, got %q (%s)", tc.ok, res.Reason, res.Message)
			}
			if !tc.ok && res.Reason != ReasonSchedulingConflict {
				t.Fatalf("expected scheduling conflict, got %q", res.Reason)
			}
		})
	}
}

func TestValidateBooking_ConflictMessageNamesGap(t *testing.T) {
	existing := []Interval{BookedInterval("s-1", at(10, 0), 30)}
	res := ValidateBooking(Proposal{Start: at(10, 30), DurationMinutes: 30}, Schedule{}, existing, "")
	if !strings.Contains(res.Message, "15 minute gap") {
		t.Fatalf("expected gap wording, got %q", res.Message)
	}
}

func TestValidateBooking_DurationCapWins(t *testing.T) {
	existing := []Interval{BookedInterval("s-1", at(10, 0), 30)}
	proposals := []Proposal{
		{Start: at(10, 0), DurationMinutes: 31},
		{Start: at(3, 0), DurationMinutes: 31},
		{Start: at(12, 0), DurationMinutes: 31},
	}
	for _, p := range proposals {
		res := ValidateBooking(p, nineToFive("UTC"), existing, "")
		if res.Reason != ReasonDurationExceeded {
			t.Fatalf("expected duration exceeded for %s, got %q", p.Start.Format(time.RFC3339), res.Reason)
		}
	}
	if res := ValidateBooking(Proposal{Start: at(12, 0), DurationMinutes: 30}, nineToFive("UTC"), existing, ""); !res.OK() {
		t.Fatalf("expected 30 minutes to pass, got %q", res.Reason)
	}
}

func TestValidateBooking_EmptyScheduleIsUnconstrained(t *testing.T) {
	for _, start := range []time.Time{at(0, 0), at(3, 17), at(23, 0)} {
		res := ValidateBooking(Proposal{Start: start, DurationMinutes: 15}, Schedule{Timezone: "Invalid/Zone"}, nil, "")
		if !res.OK() {
			t.Fatalf("expected ok at %s, got %q", start.Format(time.RFC3339), res.Reason)
		}
	}
}

func TestValidateBooking_SelfExclusion(t *testing.T) {
	existing := []Interval{
		BookedInterval("s-1", at(10, 0), 30),
		BookedInterval("s-2", at(13, 0), 30),
	}
	p := Proposal{Start: at(10, 15), DurationMinutes: 30}

	if res := ValidateBooking(p, nineToFive("UTC"), existing, ""); res.Reason != ReasonSchedulingConflict {
		t.Fatalf("expected conflict without exclusion, got %q", res.Reason)
	}
	if res := ValidateBooking(p, nineToFive("UTC"), existing, "s-1"); !res.OK() {
		t.Fatalf("expected ok when excluding own interval, got %q", res.Reason)
	}
	p.Start = at(13, 30)
	if res := ValidateBooking(p, nineToFive("UTC"), existing, "s-1"); res.Reason != ReasonSchedulingConflict {
		t.Fatalf("expected conflict with another session, got %q", res.Reason)
	}
}

func TestValidateBooking_OutsideAvailabilityMessage(t *testing.T) {
	const tz = "America/New_York"
	start := mustLocal(t, tz, 2026, 1, 12, 8, 45)
	res := ValidateBooking(Proposal{Start: start, DurationMinutes: 30}, nineToFive(tz), nil, "")
	if res.Reason != ReasonOutsideAvailability {
		t.Fatalf("expected outside availability, got %q", res.Reason)
	}
	for _, part := range []string{"Monday", "08:45-09:15", tz} {
		if !strings.Contains(res.Message, part) {
			t.Fatalf("expected message to contain %q, got %q", part, res.Message)
		}
	}
}

func TestValidateBooking_InvalidTimezoneFailsClosed(t *testing.T) {
	res := ValidateBooking(Proposal{Start: at(10, 0), DurationMinutes: 30}, nineToFive("Nowhere/Atlantis"), nil, "")
	if res.Reason != ReasonOutsideAvailability {
		t.Fatalf("expected outside availability, got %q", res.Reason)
	}
}

func TestValidateBooking_LocalWeekdayDecides(t *testing.T) {
	const tz = "Asia/Tokyo"
	schedule := Schedule{
		Timezone: tz,
		Windows:  []Window{{Weekday: Tuesday, StartTime: "08:00", EndTime: "10:00"}},
	}
	// Monday 23:30 UTC is Tuesday 08:30 in Tokyo.
	res := ValidateBooking(Proposal{Start: at(23, 30), DurationMinutes: 30}, schedule, nil, "")
	if !res.OK() {
		t.Fatalf("expected ok, got %q (%s)", res.Reason, res.Message)
	}
}

func TestValidateBooking_SubMinuteEndStaysInsideWindow(t *testing.T) {
	schedule := nineToFive("UTC")
	cases := []struct {
		name   string
		start  time.Time
		reason Reason
	}{
		{"ends 30s after window", at(16, 30).Add(30 * time.Second), ReasonOutsideAvailability},
		{"ends 1ns after window", at(16, 30).Add(time.Nanosecond), ReasonOutsideAvailability},
		{"ends 30s before window end", at(16, 29).Add(30 * time.Second), ""},
		{"crosses midnight by seconds", at(23, 30).Add(30 * time.Second), ReasonOutsideAvailability},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ValidateBooking(Proposal{Start: tc.start, DurationMinutes: 30}, schedule, nil, "")
			if res.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q (%s)", tc.reason, res.Reason, res.Message)
			}
		})
	}
}
