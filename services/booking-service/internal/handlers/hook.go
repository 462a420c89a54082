package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/coachbook/libs/availability"
	"github.com/md-rashed-zaman/coachbook/libs/httpx"
)

type validateBookingRequest struct {
	CoachID         string    `json:"coach_id" validate:"required"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"gte=15"`
	SessionID       string    `json:"session_id"`
}

type validateBookingResponse struct {
	OK bool `json:"ok"`
}

// ValidateHook runs the booking rules for a record another system is about to
// write. session_id is the record being updated, if any, and never conflicts
// with itself.
func (h *BookingHandler) ValidateHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req validateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.check(r.Context(), nil, "hook", availability.Proposal{
		CoachID:         strings.TrimSpace(req.CoachID),
		Start:           req.ScheduledAt.UTC(),
		DurationMinutes: req.DurationMinutes,
	}, strings.TrimSpace(req.SessionID))
	if err != nil {
		h.writeCheckError(w, err)
		return
	}
	if !res.OK() {
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: res.Message, Reason: string(res.Reason)})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, validateBookingResponse{OK: true})
}
