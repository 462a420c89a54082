package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"
)

func getSlots(h *BookingHandler, query url.Values) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Slots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/coaches/slots?"+query.Encode(), nil))
	return rec
}

func TestSlotsNewYorkMonday(t *testing.T) {
	h := newTestHandler(newFakeStore(tenOClock()), &fakeEvents{}, nyProvider())

	rec := getSlots(h, url.Values{
		"coach_id": {"coach-1"},
		"from":     {"2026-01-12T00:00:00-05:00"},
		"to":       {"2026-01-12T23:59:00-05:00"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var items []slotItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []slotItem{
		{Start: "2026-01-12T14:00:00Z", End: "2026-01-12T14:30:00Z"},
		{Start: "2026-01-12T16:00:00Z", End: "2026-01-12T16:30:00Z"},
		{Start: "2026-01-12T16:30:00Z", End: "2026-01-12T17:00:00Z"},
	}
	if !reflect.DeepEqual(items, want) {
		t.Fatalf("want %v, got %v", want, items)
	}
}

func TestSlotsUnknownCoachIsEmptyArray(t *testing.T) {
	h := newTestHandler(newFakeStore(), &fakeEvents{}, nyProvider())

	rec := getSlots(h, url.Values{
		"coach_id": {"nobody"},
		"from":     {"2026-01-12T00:00:00Z"},
		"to":       {"2026-01-13T00:00:00Z"},
	})
	if rec.Code != http.StatusOK || rec.Body.String() != "[]" {
		t.Fatalf("expected empty array, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestSlotsBadRequests(t *testing.T) {
	h := newTestHandler(newFakeStore(), &fakeEvents{}, nyProvider())
	cases := map[string]url.Values{
		"missing coach": {"from": {"2026-01-12T00:00:00Z"}, "to": {"2026-01-13T00:00:00Z"}},
		"missing to":    {"coach_id": {"coach-1"}, "from": {"2026-01-12T00:00:00Z"}},
		"bad from":      {"coach_id": {"coach-1"}, "from": {"2026-01-12"}, "to": {"2026-01-13T00:00:00Z"}},
		"too long":      {"coach_id": {"coach-1"}, "from": {"2026-01-01T00:00:00Z"}, "to": {"2026-02-02T00:00:00Z"}},
	}
	for name, q := range cases {
		if rec := getSlots(h, q); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestSlotsScheduleSourceDown(t *testing.T) {
	h := newTestHandler(newFakeStore(), &fakeEvents{}, &fakeProvider{err: errors.New("timeout")})

	rec := getSlots(h, url.Values{
		"coach_id": {"coach-1"},
		"from":     {"2026-01-12T00:00:00Z"},
		"to":       {"2026-01-13T00:00:00Z"},
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
