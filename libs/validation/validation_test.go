package validation

import (
	"errors"
	"testing"
)

type window struct {
	Weekday   string `json:"weekday" validate:"required,weekday"`
	StartTime string `json:"start_time" validate:"required,hhmm"`
	EndTime   string `json:"end_time" validate:"required,hhmm"`
}

type profile struct {
	DisplayName string   `json:"display_name" validate:"max=10"`
	Timezone    string   `json:"timezone" validate:"required,iana_tz"`
	Windows     []window `json:"windows" validate:"dive"`
}

func TestStructAcceptsValidPayload(t *testing.T) {
	p := profile{
		DisplayName: "Ada",
		Timezone:    "Europe/Berlin",
		Windows:     []window{{Weekday: "mon", StartTime: "09:00", EndTime: "17:00"}},
	}
	if err := New().Struct(p); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	p := profile{
		Timezone: "Mars/Base",
		Windows:  []window{{Weekday: "monday", StartTime: "9:00", EndTime: "17:00"}},
	}
	err := New().Struct(p)
	var verrs Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
	got := map[string]string{}
	for _, fe := range verrs {
		got[fe.Field] = fe.Message
	}
	for _, field := range []string{"timezone", "windows[0].weekday", "windows[0].start_time"} {
		if _, ok := got[field]; !ok {
			t.Fatalf("expected error for %s, got %v", field, got)
		}
	}
	if len(got) != 3 {
		t.Fatalf("expected exactly 3 errors, got %v", got)
	}
}
