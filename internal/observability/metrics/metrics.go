package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking and
// payment-reconciliation flows. All methods are nil-receiver safe.
type BookingMetrics struct {
	createdTotal     *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	slotConflicts    *prometheus.CounterVec
	cancellations    *prometheus.CounterVec
	webhookTotal     *prometheus.CounterVec
	webhookLatency   *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		createdTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fixhaven",
			Subsystem: "bookings",
			Name:      "created_total",
			Help:      "Total bookings created",
		}, []string{"payment_method", "status"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fixhaven",
			Subsystem: "bookings",
			Name:      "status_transitions_total",
			Help:      "Total booking status transitions",
		}, []string{"from", "to"}),
		slotConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fixhaven",
			Subsystem: "bookings",
			Name:      "slot_conflicts_total",
			Help:      "Double-booking attempts rejected by the store",
		}, []string{"service_id"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fixhaven",
			Subsystem: "bookings",
			Name:      "cancellations_total",
			Help:      "Total cancellations by refund classification",
		}, []string{"refund_status"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fixhaven",
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Inbound payment-provider webhook events",
		}, []string{"event_type", "outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fixhaven",
			Subsystem: "payments",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.createdTotal, m.transitionsTotal, m.slotConflicts,
		m.cancellations, m.webhookTotal, m.webhookLatency,
	)
	return m
}

func (m *BookingMetrics) ObserveCreated(paymentMethod, status string) {
	if m == nil {
		return
	}
	m.createdTotal.WithLabelValues(paymentMethod, status).Inc()
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObserveSlotConflict(serviceID string) {
	if m == nil {
		return
	}
	m.slotConflicts.WithLabelValues(serviceID).Inc()
}

func (m *BookingMetrics) ObserveCancellation(refundStatus string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(refundStatus).Inc()
}

func (m *BookingMetrics) ObserveWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *BookingMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}
