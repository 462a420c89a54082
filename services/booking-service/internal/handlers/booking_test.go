package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/coachbook/libs/availability"
	"github.com/md-rashed-zaman/coachbook/libs/httpx"
	"github.com/md-rashed-zaman/coachbook/libs/outbox"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/storage"
)

type fakeTx struct {
	pgx.Tx
	committed bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { return nil }

type fakeStore struct {
	sessions    map[string]model.Session
	idempotency map[string]storage.IdempotencyRecord
	createErr   error
	tx          *fakeTx
	locked      []string
	nextID      int
}

func newFakeStore(sessions ...model.Session) *fakeStore {
	s := &fakeStore{sessions: map[string]model.Session{}, idempotency: map[string]storage.IdempotencyRecord{}}
	for _, sess := range sessions {
		s.sessions[sess.ID] = sess
	}
	return s
}

func (s *fakeStore) Begin(context.Context) (pgx.Tx, error) {
	s.tx = &fakeTx{}
	return s.tx, nil
}

func (s *fakeStore) LockCoach(_ context.Context, _ pgx.Tx, coachID string) error {
	s.locked = append(s.locked, coachID)
	return nil
}

func (s *fakeStore) LockIdempotencyKey(_ context.Context, _ pgx.Tx, coachID, key string) (storage.IdempotencyRecord, bool, error) {
	rec, ok := s.idempotency[coachID+"/"+key]
	return rec, ok, nil
}

func (s *fakeStore) FinalizeIdempotency(_ context.Context, _ pgx.Tx, coachID, key, sessionID string, statusCode int, response []byte) error {
	s.idempotency[coachID+"/"+key] = storage.IdempotencyRecord{
		CoachID: coachID, IdempotencyKey: key, SessionID: sessionID, StatusCode: statusCode, ResponsePayload: response,
	}
	return nil
}

func (s *fakeStore) Create(_ context.Context, _ pgx.Tx, sess *model.Session) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	s.nextID++
	id := fmt.Sprintf("new-%d", s.nextID)
	stored := *sess
	stored.ID = id
	s.sessions[id] = stored
	return id, nil
}

func (s *fakeStore) GetSessionForUpdate(_ context.Context, _ pgx.Tx, id string) (model.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return model.Session{}, pgx.ErrNoRows
	}
	return sess, nil
}

func (s *fakeStore) Reschedule(_ context.Context, _ pgx.Tx, id string, start time.Time, durationMinutes int) error {
	sess := s.sessions[id]
	sess.ScheduledAt = start
	sess.DurationMinutes = durationMinutes
	s.sessions[id] = sess
	return nil
}

func (s *fakeStore) Cancel(_ context.Context, _ pgx.Tx, id, reason string) (time.Time, error) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sess := s.sessions[id]
	sess.Status = model.StatusCancelled
	sess.CancelledAt = &now
	sess.CancelReason = reason
	s.sessions[id] = sess
	return now, nil
}

func (s *fakeStore) ListScheduled(_ context.Context, coachID string, from, to time.Time) ([]model.Session, error) {
	var out []model.Session
	for _, sess := range s.sessions {
		if sess.CoachID == coachID && sess.Status == model.StatusScheduled &&
			sess.ScheduledAt.Before(to) && sess.EndsAt().After(from) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *fakeStore) ListScheduledTx(ctx context.Context, _ pgx.Tx, coachID string, from, to time.Time) ([]model.Session, error) {
	return s.ListScheduled(ctx, coachID, from, to)
}

func (s *fakeStore) ListByCoach(_ context.Context, coachID string, _ int) ([]model.Session, error) {
	var out []model.Session
	for _, sess := range s.sessions {
		if sess.CoachID == coachID {
			out = append(out, sess)
		}
	}
	return out, nil
}

type fakeEvents struct {
	events []outbox.Event
}

func (f *fakeEvents) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

type fakeProvider struct {
	schedules map[string]availability.Schedule
	err       error
}

func (p *fakeProvider) GetSchedule(_ context.Context, coachID string) (availability.Schedule, bool, error) {
	if p.err != nil {
		return availability.Schedule{}, false, p.err
	}
	s, ok := p.schedules[coachID]
	return s, ok, nil
}

const newYork = "America/New_York"

func nyProvider() *fakeProvider {
	return &fakeProvider{schedules: map[string]availability.Schedule{
		"coach-1": {
			CoachID:  "coach-1",
			Timezone: newYork,
			Windows:  []availability.Window{{Weekday: availability.Monday, StartTime: "09:00", EndTime: "12:00"}},
		},
	}}
}

// 10:00-10:30 New York time on Monday 2026-01-12.
func tenOClock() model.Session {
	return model.Session{
		ID:              "s-1",
		CoachID:         "coach-1",
		StudentID:       "student-1",
		ScheduledAt:     time.Date(2026, 1, 12, 15, 0, 0, 0, time.UTC),
		DurationMinutes: 30,
		Status:          model.StatusScheduled,
	}
}

func newTestHandler(store *fakeStore, events *fakeEvents, provider *fakeProvider) *BookingHandler {
	return NewBookingHandler(store, events, provider, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func post(t *testing.T, handler http.HandlerFunc, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorBody {
	t.Helper()
	var body httpx.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestCreateAcceptsFreeSlot(t *testing.T) {
	store := newFakeStore(tenOClock())
	events := &fakeEvents{}
	h := newTestHandler(store, events, nyProvider())

	rec := post(t, h.Create, `{"coach_id":"coach-1","student_id":"student-2","scheduled_at":"2026-01-12T11:00:00-05:00","duration_minutes":30}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp createSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.SessionID == "" {
		t.Fatalf("expected session id, got %q (%v)", rec.Body.String(), err)
	}
	if !store.tx.committed {
		t.Fatal("expected transaction to commit")
	}
	if len(store.locked) != 1 || store.locked[0] != "coach-1" {
		t.Fatalf("expected coach lock, got %v", store.locked)
	}
	if len(events.events) != 1 || events.events[0].EventType != EventSessionScheduled {
		t.Fatalf("expected one scheduled event, got %+v", events.events)
	}
}

func TestCreateRejectsBackToBack(t *testing.T) {
	store := newFakeStore(tenOClock())
	h := newTestHandler(store, &fakeEvents{}, nyProvider())

	rec := post(t, h.Create, `{"coach_id":"coach-1","student_id":"student-2","scheduled_at":"2026-01-12T10:30:00-05:00","duration_minutes":30}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Reason != string(availability.ReasonSchedulingConflict) || body.Error != availability.ConflictMessage {
		t.Fatalf("unexpected body %+v", body)
	}
	if len(store.sessions) != 1 {
		t.Fatalf("expected no new session, got %d", len(store.sessions))
	}
}

func TestCreateRejectsLongSession(t *testing.T) {
	h := newTestHandler(newFakeStore(), &fakeEvents{}, nyProvider())

	rec := post(t, h.Create, `{"coach_id":"coach-1","student_id":"student-2","scheduled_at":"2026-01-12T09:00:00-05:00","duration_minutes":31}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Reason != string(availability.ReasonDurationExceeded) {
		t.Fatalf("expected duration exceeded, got %+v", body)
	}
}

func TestCreateRejectsOutsideAvailability(t *testing.T) {
	h := newTestHandler(newFakeStore(), &fakeEvents{}, nyProvider())

	rec := post(t, h.Create, `{"coach_id":"coach-1","student_id":"student-2","scheduled_at":"2026-01-12T11:45:00-05:00","duration_minutes":30}`, nil)
	if body := decodeError(t, rec); rec.Code != http.StatusBadRequest || body.Reason != string(availability.ReasonOutsideAvailability) {
		t.Fatalf("expected outside availability, got %d %+v", rec.Code, body)
	}
}

func TestCreateInvalidPayload(t *testing.T) {
	h := newTestHandler(newFakeStore(), &fakeEvents{}, nyProvider())

	rec := post(t, h.Create, `{"coach_id":"coach-1","scheduled_at":"2026-01-12T09:00:00Z","duration_minutes":10}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Reason != "invalid_request" || !strings.Contains(body.Error, "student_id") || !strings.Contains(body.Error, "duration_minutes") {
		t.Fatalf("unexpected body %+v", body)
	}

	rec = post(t, h.Create, `{"coach_id":"coach-1","scheduled_at":"tomorrow"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad time, got %d", rec.Code)
	}
}

func TestCreateConstraintRaceIsConflict(t *testing.T) {
	store := newFakeStore()
	store.createErr = &pgconn.PgError{Code: "23P01"}
	h := newTestHandler(store, &fakeEvents{}, nyProvider())

	rec := post(t, h.Create, `{"coach_id":"coach-1","student_id":"student-2","scheduled_at":"2026-01-12T09:00:00-05:00","duration_minutes":30}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Reason != string(availability.ReasonSchedulingConflict) {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestCreateScheduleSourceDown(t *testing.T) {
	h := newTestHandler(newFakeStore(), &fakeEvents{}, &fakeProvider{err: errors.New("connection refused")})

	rec := post(t, h.Create, `{"coach_id":"coach-1","student_id":"student-2","scheduled_at":"2026-01-12T09:00:00-05:00","duration_minutes":30}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestCreateIdempotencyReplaysResponse(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store, &fakeEvents{}, nyProvider())
	body := `{"coach_id":"coach-1","student_id":"student-2","scheduled_at":"2026-01-12T09:00:00-05:00","duration_minutes":30}`
	headers := map[string]string{"Idempotency-Key": "abc"}

	first := post(t, h.Create, body, headers)
	second := post(t, h.Create, body, headers)
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical bodies, got %q and %q", first.Body.String(), second.Body.String())
	}
	if len(store.sessions) != 1 {
		t.Fatalf("expected a single session, got %d", len(store.sessions))
	}
}

func TestRescheduleExcludesItself(t *testing.T) {
	store := newFakeStore(tenOClock())
	events := &fakeEvents{}
	h := newTestHandler(store, events, nyProvider())

	rec := post(t, h.Reschedule, `{"session_id":"s-1","scheduled_at":"2026-01-12T10:15:00-05:00","duration_minutes":30}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := store.sessions["s-1"].ScheduledAt; !got.Equal(time.Date(2026, 1, 12, 15, 15, 0, 0, time.UTC)) {
		t.Fatalf("unexpected new start %s", got.Format(time.RFC3339))
	}
	if len(events.events) != 1 || events.events[0].EventType != EventSessionRescheduled {
		t.Fatalf("expected rescheduled event, got %+v", events.events)
	}
}

func TestRescheduleUnknownSession(t *testing.T) {
	h := newTestHandler(newFakeStore(), &fakeEvents{}, nyProvider())

	rec := post(t, h.Reschedule, `{"session_id":"missing","scheduled_at":"2026-01-12T10:15:00-05:00","duration_minutes":30}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancelIsIdempotentAndFreesTime(t *testing.T) {
	store := newFakeStore(tenOClock())
	events := &fakeEvents{}
	h := newTestHandler(store, events, nyProvider())

	for i := 0; i < 2; i++ {
		rec := post(t, h.Cancel, `{"session_id":"s-1","reason":"sick"}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
	if len(events.events) != 1 || events.events[0].EventType != EventSessionCancelled {
		t.Fatalf("expected one cancelled event, got %+v", events.events)
	}

	rec := post(t, h.Create, `{"coach_id":"coach-1","student_id":"student-2","scheduled_at":"2026-01-12T10:00:00-05:00","duration_minutes":30}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected cancelled session not to block, got %d", rec.Code)
	}
}

func TestValidateHook(t *testing.T) {
	h := newTestHandler(newFakeStore(tenOClock()), &fakeEvents{}, nyProvider())

	rec := post(t, h.ValidateHook, `{"coach_id":"coach-1","scheduled_at":"2026-01-12T10:45:00-05:00","duration_minutes":30}`, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("expected ok, got %d %s", rec.Code, rec.Body.String())
	}

	rec = post(t, h.ValidateHook, `{"coach_id":"coach-1","scheduled_at":"2026-01-12T10:30:00-05:00","duration_minutes":30}`, nil)
	if body := decodeError(t, rec); rec.Code != http.StatusBadRequest || body.Reason != string(availability.ReasonSchedulingConflict) {
		t.Fatalf("expected conflict, got %d %+v", rec.Code, body)
	}

	rec = post(t, h.ValidateHook, `{"coach_id":"coach-1","scheduled_at":"2026-01-12T10:30:00-05:00","duration_minutes":30,"session_id":"s-1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected own session to be excluded, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestListSessions(t *testing.T) {
	h := newTestHandler(newFakeStore(tenOClock()), &fakeEvents{}, nyProvider())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions?coach_id=coach-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []sessionItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil || len(items) != 1 || items[0].SessionID != "s-1" {
		t.Fatalf("unexpected list %q (%v)", rec.Body.String(), err)
	}

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without coach_id, got %d", rec.Code)
	}
}
