package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/coachbook/libs/availability"
	"github.com/md-rashed-zaman/coachbook/libs/httpx"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/coachbook/services/booking-service/internal/scheduling"
)

// MaxSlotRange bounds a single slot query.
const MaxSlotRange = 31 * 24 * time.Hour

type slotItem struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Slots lists bookable slots for coach_id between from and to (RFC 3339, inclusive).
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	coachID := strings.TrimSpace(q.Get("coach_id"))
	if coachID == "" || q.Get("from") == "" || q.Get("to") == "" {
		http.Error(w, "coach_id, from, and to are required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	if to.Sub(from) > MaxSlotRange {
		http.Error(w, "range must not exceed 31 days", http.StatusBadRequest)
		return
	}
	metrics.SlotQueries.Inc()

	ctx := r.Context()
	schedule, err := scheduling.Fetch(ctx, h.scheduling, coachID)
	if err != nil {
		h.logger.Warn("schedule fetch failed", "err", err, "coach_id", coachID)
		http.Error(w, "schedule service unavailable", http.StatusServiceUnavailable)
		return
	}

	items := make([]slotItem, 0)
	span, ok := availability.GridSpan(schedule, from, to)
	if !ok {
		metrics.SlotsReturned.Observe(0)
		httpx.WriteJSON(w, http.StatusOK, items)
		return
	}

	// Cancelled sessions do not block. Sessions further than the gap outside
	// the walked grid cannot affect any candidate.
	sessions, err := h.store.ListScheduled(ctx, coachID, span.Start.Add(-availability.Gap), span.End.Add(availability.Gap))
	if err != nil {
		h.logger.Error("session lookup failed", "err", err, "coach_id", coachID)
		http.Error(w, "failed to load booked sessions", http.StatusInternalServerError)
		return
	}

	for _, s := range availability.GenerateSlots(schedule, model.Intervals(sessions), from, to) {
		items = append(items, slotItem{
			Start: s.Start.UTC().Format(time.RFC3339),
			End:   s.End.UTC().Format(time.RFC3339),
		})
	}
	metrics.SlotsReturned.Observe(float64(len(items)))
	httpx.WriteJSON(w, http.StatusOK, items)
}
