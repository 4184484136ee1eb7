package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	BookingsTotal      *prometheus.CounterVec
	TransitionsTotal   *prometheus.CounterVec
	SlotConflictsTotal prometheus.Counter

	NotificationsEmitted *prometheus.CounterVec
	NotificationsDropped prometheus.Counter

	SweepDuration    prometheus.Histogram
	ReminderDuration prometheus.Histogram
}

func NewCollector(serviceName string) *Collector {
	return &Collector{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		BookingsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome (created, conflict, rejected).",
		}, []string{"outcome"}),

		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Accepted lifecycle transitions by target status.",
		}, []string{"to"}),

		SlotConflictsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "scheduling",
			Name:      "slot_conflicts_total",
			Help:      "Reservations rejected because the interval was taken.",
		}),

		NotificationsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "notify",
			Name:      "events_emitted_total",
			Help:      "Notification events handed to the dispatcher, by type.",
		}, []string{"type"}),

		NotificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "notify",
			Name:      "events_dropped_total",
			Help:      "Notification events dropped due to a full buffer. Alert if non-zero.",
		}),

		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "worker",
			Name:      "sweep_duration_seconds",
			Help:      "Pending-payment sweep run duration.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 20.0},
		}),

		ReminderDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "worker",
			Name:      "reminder_duration_seconds",
			Help:      "Reminder scan run duration.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 20.0},
		}),
	}
}

// Emitted and Dropped let the collector stand in as the notification
// dispatcher's outcome counter.
func (c *Collector) Emitted(eventType string) {
	c.NotificationsEmitted.WithLabelValues(eventType).Inc()
}

func (c *Collector) Dropped() {
	c.NotificationsDropped.Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
