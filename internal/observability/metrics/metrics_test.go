package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveAvailability("doctor", true)
	m.ObserveBooking("doctor", OutcomeBooked, 3)
	m.ObserveBooking("doctor", OutcomeConflict, 2)
	m.ObserveConflicts("doctor", 1)
	m.ObserveLatency("book", 0.05)

	if got := testutil.ToFloat64(m.bookingsTotal.WithLabelValues("doctor", OutcomeBooked)); got != 1 {
		t.Fatalf("expected one booked request, got %v", got)
	}
	if got := testutil.ToFloat64(m.conflictSlots.WithLabelValues("doctor")); got != 1 {
		t.Fatalf("expected one conflict slot, got %v", got)
	}
	if got := testutil.ToFloat64(m.availabilityTotal.WithLabelValues("doctor", "true")); got != 1 {
		t.Fatalf("expected one availability query, got %v", got)
	}

	var metric dto.Metric
	hist, err := m.slotsPerBooking.GetMetricWithLabelValues("doctor")
	if err != nil {
		t.Fatalf("histogram: %v", err)
	}
	if err := hist.(prometheus.Metric).Write(&metric); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() != 1 || metric.GetHistogram().GetSampleSum() != 3 {
		t.Fatalf("conflicting bookings must not be counted as party size: %v", metric.GetHistogram())
	}
}

func TestBookingMetricsDefaultRegistry(t *testing.T) {
	m := NewBookingMetrics(nil)
	m.ObserveBooking("lab", OutcomeInvalid, 0)
	prometheus.DefaultRegisterer.Unregister(m.availabilityTotal)
	prometheus.DefaultRegisterer.Unregister(m.bookingsTotal)
	prometheus.DefaultRegisterer.Unregister(m.slotsPerBooking)
	prometheus.DefaultRegisterer.Unregister(m.conflictSlots)
	prometheus.DefaultRegisterer.Unregister(m.latency)
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveAvailability("doctor", false)
	m.ObserveBooking("doctor", OutcomeError, 1)
	m.ObserveConflicts("doctor", 2)
	m.ObserveLatency("book", 0.1)
}
