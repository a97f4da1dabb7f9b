// Package metrics provides Prometheus metrics for the clinic workflow service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	RegistrationsCreated prometheus.Counter
	QueueTransitions     *prometheus.CounterVec
	DispensesCompleted   prometheus.Counter
	DispenseWarnings     prometheus.Counter
	CheckoutsPaid        prometheus.Counter
	StoreRequestDuration *prometheus.HistogramVec
	StoreRequestErrors   *prometheus.CounterVec
	EventsPublished      prometheus.Counter
	EventPublishFailures prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		RegistrationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "registrations_created_total",
			Help: "Total patient registrations created",
		}),
		QueueTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_transitions_total",
			Help: "Total queue status transitions by target status",
		}, []string{"status"}),
		DispensesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispenses_completed_total",
			Help: "Total completed dispense pipelines",
		}),
		DispenseWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispense_warnings_total",
			Help: "Total dispenses that finished with a soft inventory warning",
		}),
		CheckoutsPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkouts_paid_total",
			Help: "Total checkouts marked paid",
		}),
		StoreRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "store_request_duration_seconds",
			Help:    "Record store request duration by HTTP verb",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method"}),
		StoreRequestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_request_errors_total",
			Help: "Record store request errors by HTTP verb",
		}, []string{"method"}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_events_published_total",
			Help: "Total clinic audit events published",
		}),
		EventPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_event_publish_failures_total",
			Help: "Total clinic audit events that failed to publish",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.RegistrationsCreated,
		m.QueueTransitions,
		m.DispensesCompleted,
		m.DispenseWarnings,
		m.CheckoutsPaid,
		m.StoreRequestDuration,
		m.StoreRequestErrors,
		m.EventsPublished,
		m.EventPublishFailures,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveStoreRequest records one gateway round trip.
func (m *Metrics) ObserveStoreRequest(method string, d time.Duration, err error) {
	m.StoreRequestDuration.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		m.StoreRequestErrors.WithLabelValues(method).Inc()
	}
}

// SetBreakerState records a circuit breaker state change.
func (m *Metrics) SetBreakerState(name, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
