package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookingValidations counts write-path outcomes by operation and reason ("ok" when accepted).
	BookingValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coachbook",
		Subsystem: "booking",
		Name:      "validations_total",
		Help:      "Booking validation outcomes.",
	}, []string{"operation", "reason"})

	SlotQueries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coachbook",
		Subsystem: "booking",
		Name:      "slot_queries_total",
		Help:      "Availability slot queries served.",
	})

	SlotsReturned = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coachbook",
		Subsystem: "booking",
		Name:      "slots_returned",
		Help:      "Number of slots returned per query.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	ScheduleCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coachbook",
		Subsystem: "booking",
		Name:      "schedule_cache_total",
		Help:      "Schedule cache lookups by result.",
	}, []string{"result"})
)

// ObserveScheduleCache matches scheduling.CacheObserver.
func ObserveScheduleCache(result string) {
	ScheduleCache.WithLabelValues(result).Inc()
}
