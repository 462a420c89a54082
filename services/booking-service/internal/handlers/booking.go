package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/coachbook/libs/availability"
	"github.com/md-rashed-zaman/coachbook/libs/httpx"
	"github.com/md-rashed-zaman/coachbook/libs/outbox"
	"github.com/md-rashed-zaman/coachbook/libs/validation"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/storage"
)

const (
	EventSessionScheduled   = "booking.session.scheduled.v1"
	EventSessionRescheduled = "booking.session.rescheduled.v1"
	EventSessionCancelled   = "booking.session.cancelled.v1"
)

// Store is the persistence the handlers need. *storage.SessionRepository implements it.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockCoach(ctx context.Context, tx pgx.Tx, coachID string) error
	LockIdempotencyKey(ctx context.Context, tx pgx.Tx, coachID, key string) (storage.IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, tx pgx.Tx, coachID, key, sessionID string, statusCode int, response []byte) error
	Create(ctx context.Context, tx pgx.Tx, s *model.Session) (string, error)
	GetSessionForUpdate(ctx context.Context, tx pgx.Tx, sessionID string) (model.Session, error)
	Reschedule(ctx context.Context, tx pgx.Tx, sessionID string, start time.Time, durationMinutes int) error
	Cancel(ctx context.Context, tx pgx.Tx, sessionID, reason string) (time.Time, error)
	ListScheduled(ctx context.Context, coachID string, from, to time.Time) ([]model.Session, error)
	ListScheduledTx(ctx context.Context, tx pgx.Tx, coachID string, from, to time.Time) ([]model.Session, error)
	ListByCoach(ctx context.Context, coachID string, limit int) ([]model.Session, error)
}

// EventWriter appends events to the outbox inside a transaction.
type EventWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type BookingHandler struct {
	store      Store
	events     EventWriter
	scheduling scheduling.Provider
	validate   *validation.Validator
	logger     *slog.Logger
}

func NewBookingHandler(store Store, events EventWriter, schedulingProvider scheduling.Provider, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		store:      store,
		events:     events,
		scheduling: schedulingProvider,
		validate:   validation.New(),
		logger:     logger,
	}
}

type createSessionRequest struct {
	CoachID         string    `json:"coach_id" validate:"required,max=128"`
	StudentID       string    `json:"student_id" validate:"required,max=128"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"gte=15"`
	Notes           string    `json:"notes" validate:"max=2000"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type rescheduleSessionRequest struct {
	SessionID       string    `json:"session_id" validate:"required"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"gte=15"`
}

type rescheduleSessionResponse struct {
	SessionID       string `json:"session_id"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
}

type cancelSessionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Reason    string `json:"reason" validate:"max=500"`
}

type cancelSessionResponse struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
}

type sessionItem struct {
	SessionID       string `json:"session_id"`
	CoachID         string `json:"coach_id"`
	StudentID       string `json:"student_id"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	Notes           string `json:"notes,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type sessionEvent struct {
	SessionID       string `json:"session_id"`
	CoachID         string `json:"coach_id"`
	StudentID       string `json:"student_id"`
	ScheduledAt     string `json:"scheduled_at"`
	EndsAt          string `json:"ends_at"`
	DurationMinutes int    `json:"duration_minutes"`
	PreviousStart   string `json:"previous_scheduled_at,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func newSessionEvent(s model.Session) sessionEvent {
	return sessionEvent{
		SessionID:       s.ID,
		CoachID:         s.CoachID,
		StudentID:       s.StudentID,
		ScheduledAt:     s.ScheduledAt.UTC().Format(time.RFC3339),
		EndsAt:          s.EndsAt().UTC().Format(time.RFC3339),
		DurationMinutes: s.DurationMinutes,
	}
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	session := &model.Session{
		CoachID:         strings.TrimSpace(req.CoachID),
		StudentID:       strings.TrimSpace(req.StudentID),
		ScheduledAt:     req.ScheduledAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		Status:          model.StatusScheduled,
		Notes:           strings.TrimSpace(req.Notes),
	}

	ctx := r.Context()
	tx, err := h.store.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.store.LockCoach(ctx, tx, session.CoachID); err != nil {
		h.logger.Error("coach lock failed", "err", err, "coach_id", session.CoachID)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.store.LockIdempotencyKey(ctx, tx, session.CoachID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 {
			replayIdempotent(w, rec)
			return
		}
	}

	res, err := h.check(ctx, tx, "create", availability.Proposal{
		CoachID:         session.CoachID,
		Start:           session.ScheduledAt,
		DurationMinutes: session.DurationMinutes,
	}, "")
	if err != nil {
		// Dependency errors leave the idempotency key open so the client can retry with it.
		h.writeCheckError(w, err)
		return
	}
	if !res.OK() {
		body := mustJSON(httpx.ErrorBody{Error: res.Message, Reason: string(res.Reason)})
		if idempotencyKey != "" {
			if err := h.store.FinalizeIdempotency(ctx, tx, session.CoachID, idempotencyKey, "", http.StatusBadRequest, body); err == nil {
				_ = tx.Commit(ctx)
			} else {
				h.logger.Error("failed to finalize idempotency (rejection)", "err", err)
			}
		}
		writeRawJSON(w, http.StatusBadRequest, body)
		return
	}

	id, err := h.store.Create(ctx, tx, session)
	if err != nil {
		if storage.IsConflict(err) {
			h.writeConstraintConflict(w)
			return
		}
		h.logger.Error("create session failed", "err", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	session.ID = id

	if !h.appendEvent(ctx, w, tx, EventSessionScheduled, id, newSessionEvent(*session)) {
		return
	}

	respBody := mustJSON(createSessionResponse{SessionID: id})
	if idempotencyKey != "" {
		if err := h.store.FinalizeIdempotency(ctx, tx, session.CoachID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if storage.IsConflict(err) {
			h.writeConstraintConflict(w)
			return
		}
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.logger.Info("session scheduled", "session_id", id, "coach_id", session.CoachID)
	writeRawJSON(w, http.StatusCreated, respBody)
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	start := req.ScheduledAt.UTC()

	ctx := r.Context()
	tx, err := h.store.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	session, ok := h.loadSession(ctx, w, tx, strings.TrimSpace(req.SessionID))
	if !ok {
		return
	}
	if session.Status != model.StatusScheduled {
		http.Error(w, "session cannot be rescheduled", http.StatusConflict)
		return
	}
	if err := h.store.LockCoach(ctx, tx, session.CoachID); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	res, err := h.check(ctx, tx, "reschedule", availability.Proposal{
		CoachID:         session.CoachID,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
	}, session.ID)
	if err != nil {
		h.writeCheckError(w, err)
		return
	}
	if !res.OK() {
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: res.Message, Reason: string(res.Reason)})
		return
	}

	if err := h.store.Reschedule(ctx, tx, session.ID, start, req.DurationMinutes); err != nil {
		if storage.IsConflict(err) {
			h.writeConstraintConflict(w)
			return
		}
		http.Error(w, "failed to reschedule session", http.StatusInternalServerError)
		return
	}

	previous := session.ScheduledAt
	session.ScheduledAt = start
	session.DurationMinutes = req.DurationMinutes
	evt := newSessionEvent(session)
	evt.PreviousStart = previous.UTC().Format(time.RFC3339)
	if !h.appendEvent(ctx, w, tx, EventSessionRescheduled, session.ID, evt) {
		return
	}

	if err := tx.Commit(ctx); err != nil {
		if storage.IsConflict(err) {
			h.writeConstraintConflict(w)
			return
		}
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rescheduleSessionResponse{
		SessionID:       session.ID,
		ScheduledAt:     start.Format(time.RFC3339),
		DurationMinutes: req.DurationMinutes,
	})
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	reason := strings.TrimSpace(req.Reason)

	ctx := r.Context()
	tx, err := h.store.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	session, ok := h.loadSession(ctx, w, tx, strings.TrimSpace(req.SessionID))
	if !ok {
		return
	}
	if session.Status == model.StatusCancelled && session.CancelledAt != nil {
		writeCancelResponse(w, session.ID, session.CancelledAt.UTC())
		return
	}

	cancelledAt, err := h.store.Cancel(ctx, tx, session.ID, reason)
	if err != nil {
		http.Error(w, "failed to cancel session", http.StatusInternalServerError)
		return
	}

	evt := newSessionEvent(session)
	evt.CancelledAt = cancelledAt.UTC().Format(time.RFC3339)
	evt.Reason = reason
	if !h.appendEvent(ctx, w, tx, EventSessionCancelled, session.ID, evt) {
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeCancelResponse(w, session.ID, cancelledAt.UTC())
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	coachID := strings.TrimSpace(r.URL.Query().Get("coach_id"))
	if coachID == "" {
		http.Error(w, "coach_id required", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	sessions, err := h.store.ListByCoach(r.Context(), coachID, limit)
	if err != nil {
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}

	items := make([]sessionItem, 0, len(sessions))
	for _, s := range sessions {
		item := sessionItem{
			SessionID:       s.ID,
			CoachID:         s.CoachID,
			StudentID:       s.StudentID,
			ScheduledAt:     s.ScheduledAt.UTC().Format(time.RFC3339),
			DurationMinutes: s.DurationMinutes,
			Status:          s.Status,
			Notes:           s.Notes,
			CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339),
		}
		if s.CancelledAt != nil {
			item.CancelledAt = s.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

// check runs the booking validator for p. With a non-nil tx the session
// lookup happens inside it, after the caller has taken the coach lock.
func (h *BookingHandler) check(ctx context.Context, tx pgx.Tx, operation string, p availability.Proposal, excludeID string) (availability.Result, error) {
	schedule, err := scheduling.Fetch(ctx, h.scheduling, p.CoachID)
	if err != nil {
		return availability.Result{}, err
	}

	from := p.Start.Add(-availability.LookupWindow)
	to := p.Start.Add(availability.LookupWindow)
	var sessions []model.Session
	if tx != nil {
		sessions, err = h.store.ListScheduledTx(ctx, tx, p.CoachID, from, to)
	} else {
		sessions, err = h.store.ListScheduled(ctx, p.CoachID, from, to)
	}
	if err != nil {
		return availability.Result{}, errSessionLookup{err}
	}

	res := availability.ValidateBooking(p, schedule, model.Intervals(sessions), excludeID)
	outcome := "ok"
	if !res.OK() {
		outcome = string(res.Reason)
		h.logger.Info("booking rejected", "operation", operation, "coach_id", p.CoachID,
			"reason", res.Reason, "start", p.Start.UTC().Format(time.RFC3339))
	}
	metrics.BookingValidations.WithLabelValues(operation, outcome).Inc()
	return res, nil
}

type errSessionLookup struct{ err error }

func (e errSessionLookup) Error() string { return "load sessions: " + e.err.Error() }
func (e errSessionLookup) Unwrap() error { return e.err }

func (h *BookingHandler) writeCheckError(w http.ResponseWriter, err error) {
	var lookup errSessionLookup
	if errors.As(err, &lookup) {
		h.logger.Error("session lookup failed", "err", err)
		http.Error(w, "failed to load sessions", http.StatusInternalServerError)
		return
	}
	h.logger.Warn("schedule fetch failed", "err", err)
	http.Error(w, "schedule service unavailable", http.StatusServiceUnavailable)
}

func (h *BookingHandler) writeConstraintConflict(w http.ResponseWriter) {
	metrics.BookingValidations.WithLabelValues("constraint", string(availability.ReasonSchedulingConflict)).Inc()
	httpx.WriteJSON(w, http.StatusConflict, httpx.ErrorBody{
		Error:  availability.ConflictMessage,
		Reason: string(availability.ReasonSchedulingConflict),
	})
}

func (h *BookingHandler) loadSession(ctx context.Context, w http.ResponseWriter, tx pgx.Tx, id string) (model.Session, bool) {
	session, err := h.store.GetSessionForUpdate(ctx, tx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "session not found", http.StatusNotFound)
			return model.Session{}, false
		}
		h.logger.Error("load session failed", "err", err, "session_id", id)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return model.Session{}, false
	}
	return session, true
}

func (h *BookingHandler) appendEvent(ctx context.Context, w http.ResponseWriter, tx pgx.Tx, eventType, sessionID string, payload sessionEvent) bool {
	evt, err := outbox.NewEvent("session", sessionID, eventType, payload)
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return false
	}
	if err := h.events.Insert(ctx, tx, evt); err != nil {
		h.logger.Error("outbox insert failed", "err", err, "event_type", eventType)
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return false
	}
	return true
}

func (h *BookingHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: err.Error(), Reason: "invalid_request"})
		return false
	}
	return true
}

func replayIdempotent(w http.ResponseWriter, rec storage.IdempotencyRecord) {
	if len(rec.ResponsePayload) > 0 {
		writeRawJSON(w, rec.StatusCode, rec.ResponsePayload)
		return
	}
	httpx.WriteJSON(w, rec.StatusCode, createSessionResponse{SessionID: rec.SessionID})
}

func writeCancelResponse(w http.ResponseWriter, sessionID string, cancelledAt time.Time) {
	httpx.WriteJSON(w, http.StatusOK, cancelSessionResponse{
		SessionID:   sessionID,
		Status:      model.StatusCancelled,
		CancelledAt: cancelledAt.Format(time.RFC3339),
	})
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func mustJSON(v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return body
}
