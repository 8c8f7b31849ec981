package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics counts conversation turns and booking attempts.
type EngineMetrics struct {
	turnsTotal    *prometheus.CounterVec
	bookingsTotal *prometheus.CounterVec
	escalations   *prometheus.CounterVec
	turnLatency   prometheus.Histogram
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Conversation turns by resulting status and classified intent",
		}, []string{"status", "intent"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "bookings_total",
			Help:      "Booking transaction outcomes",
		}, []string{"outcome"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "callback_escalations_total",
			Help:      "Conversations handed to staff for a callback",
		}, []string{"reason"}),
		turnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "turn_latency_seconds",
			Help:      "Time spent handling one inbound message",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.bookingsTotal, m.escalations, m.turnLatency)
	return m
}

func (m *EngineMetrics) ObserveTurn(status, intent string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(status, intent).Inc()
	m.turnLatency.Observe(seconds)
}

// ObserveBooking records "booked", "conflict" or "error".
func (m *EngineMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) ObserveEscalation(reason string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(reason).Inc()
}
