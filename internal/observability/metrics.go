package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce       sync.Once
	advisoryFailures   *prometheus.CounterVec
	attemptTransitions *prometheus.CounterVec
	cascadeDuration    *prometheus.HistogramVec
	httpRequestsTotal  *prometheus.CounterVec
	eventsPersisted    *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the proctor.
func RegisterMetrics() {
	registerOnce.Do(func() {
		advisoryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_advisory_failures_total",
			Help: "Heartbeat, audit and notification writes that failed and were swallowed.",
		}, []string{"component"})

		attemptTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_attempt_transitions_total",
			Help: "Attempt status transitions committed, by target status.",
		}, []string{"to"})

		cascadeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proctor_cascade_duration_seconds",
			Help:    "Duration of batch freeze/resume/finish cascades.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"})

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_http_requests_total",
			Help: "Total number of HTTP requests served.",
		}, []string{"method", "route", "status"})

		eventsPersisted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_security_events_persisted_total",
			Help: "Security events flushed by the event worker, by write path.",
		}, []string{"path"})

		prometheus.MustRegister(advisoryFailures, attemptTransitions, cascadeDuration, httpRequestsTotal, eventsPersisted)
	})
}

// AdvisoryFailures exposes the counter for swallowed advisory failures.
func AdvisoryFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return advisoryFailures
}

// AttemptTransitions exposes the counter for committed attempt transitions.
func AttemptTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return attemptTransitions
}

// CascadeDuration exposes the batch cascade latency histogram.
func CascadeDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return cascadeDuration
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// EventsPersisted exposes the counter of flushed security events.
func EventsPersisted() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsPersisted
}

// MetricsHandler exposes the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}
