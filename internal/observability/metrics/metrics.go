package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Booking outcomes used as the "outcome" label.
const (
	OutcomeBooked    = "booked"
	OutcomeConflict  = "conflict"
	OutcomeInvalid   = "invalid"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

// BookingMetrics exposes counters/histograms for availability and booking flows.
type BookingMetrics struct {
	availabilityTotal *prometheus.CounterVec
	bookingsTotal     *prometheus.CounterVec
	slotsPerBooking   *prometheus.HistogramVec
	conflictSlots     *prometheus.CounterVec
	latency           *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		availabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medmitra",
			Subsystem: "appointments",
			Name:      "availability_queries_total",
			Help:      "Availability lookups by resource type and status",
		}, []string{"resource_type", "status"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medmitra",
			Subsystem: "appointments",
			Name:      "booking_requests_total",
			Help:      "Booking requests by resource type and outcome",
		}, []string{"resource_type", "outcome"}),
		slotsPerBooking: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medmitra",
			Subsystem: "appointments",
			Name:      "slots_per_booking",
			Help:      "Consecutive slots requested per booking (party size)",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
		}, []string{"resource_type"}),
		conflictSlots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medmitra",
			Subsystem: "appointments",
			Name:      "conflict_slots_total",
			Help:      "Slots that lost a booking race",
		}, []string{"resource_type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medmitra",
			Subsystem: "appointments",
			Name:      "operation_latency_seconds",
			Help:      "Latency of availability and booking operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.availabilityTotal, m.bookingsTotal, m.slotsPerBooking, m.conflictSlots, m.latency)
	return m
}

func (m *BookingMetrics) ObserveAvailability(resourceType string, ok bool) {
	if m == nil {
		return
	}
	m.availabilityTotal.WithLabelValues(resourceType, strconv.FormatBool(ok)).Inc()
}

func (m *BookingMetrics) ObserveBooking(resourceType, outcome string, slots int) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(resourceType, outcome).Inc()
	if outcome == OutcomeBooked && slots > 0 {
		m.slotsPerBooking.WithLabelValues(resourceType).Observe(float64(slots))
	}
}

func (m *BookingMetrics) ObserveConflicts(resourceType string, slots int) {
	if m == nil || slots <= 0 {
		return
	}
	m.conflictSlots.WithLabelValues(resourceType).Add(float64(slots))
}

func (m *BookingMetrics) ObserveLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(operation).Observe(seconds)
}
