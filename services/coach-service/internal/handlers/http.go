package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/coachbook/libs/availability"
	"github.com/md-rashed-zaman/coachbook/libs/httpx"
	"github.com/md-rashed-zaman/coachbook/libs/outbox"
	"github.com/md-rashed-zaman/coachbook/libs/validation"
	"github.com/md-rashed-zaman/coachbook/services/coach-service/internal/storage"
)

const EventScheduleUpdated = "coach.schedule.updated.v1"

// Store is implemented by *storage.Repository.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetProfile(ctx context.Context, coachID string) (storage.Profile, error)
	LockProfile(ctx context.Context, tx pgx.Tx, coachID string) (storage.Profile, error)
	UpsertProfile(ctx context.Context, tx pgx.Tx, p storage.Profile) (storage.Profile, error)
	ListWindows(ctx context.Context, coachID string) ([]storage.Window, error)
	ListWindowsTx(ctx context.Context, tx pgx.Tx, coachID string) ([]storage.Window, error)
	ReplaceWindows(ctx context.Context, tx pgx.Tx, coachID string, windows []availability.Window) ([]storage.Window, error)
	GetSchedule(ctx context.Context, coachID string) (availability.Schedule, bool, error)
}

type EventWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type Handler struct {
	store    Store
	events   EventWriter
	validate *validation.Validator
	logger   *slog.Logger
}

func New(store Store, events EventWriter, logger *slog.Logger) *Handler {
	return &Handler{store: store, events: events, validate: validation.New(), logger: logger}
}

type profileRequest struct {
	DisplayName string `json:"display_name" validate:"max=200"`
	Timezone    string `json:"timezone" validate:"required,iana_tz"`
}

type profileResponse struct {
	CoachID     string `json:"coach_id"`
	DisplayName string `json:"display_name"`
	Timezone    string `json:"timezone"`
	UpdatedAt   string `json:"updated_at"`
}

type windowItem struct {
	ID        string `json:"id,omitempty"`
	Weekday   string `json:"weekday" validate:"required,weekday"`
	StartTime string `json:"start_time" validate:"required,hhmm"`
	EndTime   string `json:"end_time" validate:"required,hhmm"`
}

type availabilityRequest struct {
	Windows []windowItem `json:"windows" validate:"max=200,dive"`
}

type scheduleUpdatedEvent struct {
	CoachID   string                `json:"coach_id"`
	Timezone  string                `json:"timezone"`
	Windows   []availability.Window `json:"windows"`
	UpdatedAt string                `json:"updated_at"`
}

func coachIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Coach-Id"))
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	coachID := coachIDFromHeader(r)
	if coachID == "" {
		http.Error(w, "missing X-Coach-Id", http.StatusBadRequest)
		return
	}

	p, err := h.store.GetProfile(r.Context(), coachID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProfileResponse(p))
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	coachID := coachIDFromHeader(r)
	if coachID == "" {
		http.Error(w, "missing X-Coach-Id", http.StatusBadRequest)
		return
	}

	var req profileRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	tx, err := h.store.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := h.store.UpsertProfile(ctx, tx, storage.Profile{
		CoachID:     coachID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Timezone:    strings.TrimSpace(req.Timezone),
	})
	if err != nil {
		h.logger.Error("profile upsert failed", "err", err, "coach_id", coachID)
		http.Error(w, "failed to update profile", http.StatusInternalServerError)
		return
	}
	windows, err := h.store.ListWindowsTx(ctx, tx, coachID)
	if err != nil {
		http.Error(w, "failed to load availability", http.StatusInternalServerError)
		return
	}
	if !h.appendScheduleUpdated(ctx, w, tx, p, windows) {
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.logger.Info("coach profile updated", "coach_id", coachID, "timezone", p.Timezone)
	httpx.WriteJSON(w, http.StatusOK, toProfileResponse(p))
}

func (h *Handler) ListAvailability(w http.ResponseWriter, r *http.Request) {
	coachID := coachIDFromHeader(r)
	if coachID == "" {
		http.Error(w, "missing X-Coach-Id", http.StatusBadRequest)
		return
	}

	windows, err := h.store.ListWindows(r.Context(), coachID)
	if err != nil {
		http.Error(w, "failed to list availability", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toWindowItems(windows))
}

// ReplaceAvailability swaps the coach's full weekly window set. The coach
// must have a profile, since windows are meaningless without a timezone.
func (h *Handler) ReplaceAvailability(w http.ResponseWriter, r *http.Request) {
	coachID := coachIDFromHeader(r)
	if coachID == "" {
		http.Error(w, "missing X-Coach-Id", http.StatusBadRequest)
		return
	}

	var req availabilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	windows := make([]availability.Window, 0, len(req.Windows))
	var errs validation.Errors
	for i, item := range req.Windows {
		if item.EndTime <= item.StartTime {
			errs = append(errs, validation.FieldError{
				Field:   fmt.Sprintf("windows[%d].end_time", i),
				Message: "must be after start_time",
			})
			continue
		}
		windows = append(windows, availability.Window{
			Weekday:   availability.Weekday(item.Weekday),
			StartTime: item.StartTime,
			EndTime:   item.EndTime,
		})
	}
	if len(errs) > 0 {
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: errs.Error(), Reason: "invalid_request"})
		return
	}

	ctx := r.Context()
	tx, err := h.store.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := h.store.LockProfile(ctx, tx, coachID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "set a timezone on the coach profile first", http.StatusConflict)
			return
		}
		http.Error(w, "failed to load profile", http.StatusInternalServerError)
		return
	}

	stored, err := h.store.ReplaceWindows(ctx, tx, coachID, windows)
	if err != nil {
		h.logger.Error("replace windows failed", "err", err, "coach_id", coachID)
		http.Error(w, "failed to update availability", http.StatusInternalServerError)
		return
	}
	if !h.appendScheduleUpdated(ctx, w, tx, p, stored) {
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.logger.Info("coach availability replaced", "coach_id", coachID, "windows", len(stored))
	httpx.WriteJSON(w, http.StatusOK, toWindowItems(stored))
}

// GetSchedule serves booking-service. Unknown coaches are a 404.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	coachID := strings.TrimSpace(r.URL.Query().Get("coach_id"))
	if coachID == "" {
		http.Error(w, "coach_id required", http.StatusBadRequest)
		return
	}

	schedule, found, err := h.store.GetSchedule(r.Context(), coachID)
	if err != nil {
		h.logger.Error("schedule lookup failed", "err", err, "coach_id", coachID)
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "coach not found", http.StatusNotFound)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, schedule)
}

func (h *Handler) appendScheduleUpdated(ctx context.Context, w http.ResponseWriter, tx pgx.Tx, p storage.Profile, windows []storage.Window) bool {
	schedule := storage.BuildSchedule(p, windows)
	evt, err := outbox.NewEvent("coach", p.CoachID, EventScheduleUpdated, scheduleUpdatedEvent{
		CoachID:   schedule.CoachID,
		Timezone:  schedule.Timezone,
		Windows:   schedule.Windows,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return false
	}
	if err := h.events.Insert(ctx, tx, evt); err != nil {
		h.logger.Error("outbox insert failed", "err", err)
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return false
	}
	return true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
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

func toProfileResponse(p storage.Profile) profileResponse {
	return profileResponse{
		CoachID:     p.CoachID,
		DisplayName: p.DisplayName,
		Timezone:    p.Timezone,
		UpdatedAt:   p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toWindowItems(windows []storage.Window) []windowItem {
	out := make([]windowItem, 0, len(windows))
	for _, w := range windows {
		out = append(out, windowItem{
			ID:        w.ID,
			Weekday:   string(w.Weekday),
			StartTime: w.StartTime,
			EndTime:   w.EndTime,
		})
	}
	return out
}
