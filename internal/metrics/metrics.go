// Package metrics collects and exposes Prometheus metrics for the auth lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for auth operations.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailure  = "failure"
	OutcomeEmpty    = "empty"
)

// Recorder is the metrics interface used by session managers and handlers.
type Recorder interface {
	RecordAuthOperation(operation, outcome string)
	RecordProfileFetch(outcome string, duration time.Duration)
	RecordStateTransition(from, to string)
	SetActiveManagers(count int)
	RecordHTTPStatus(statusCode int)
	RecordRateLimited(route string)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	authOperations *prometheus.CounterVec
	profileFetch   *prometheus.HistogramVec
	transitions    *prometheus.CounterVec
	activeManagers prometheus.Gauge
	httpStatus     *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizdesk_auth_operations_total",
			Help: "Auth operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		profileFetch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quizdesk_profile_fetch_seconds",
			Help:    "Profile lookup latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizdesk_session_transitions_total",
			Help: "Session state transitions.",
		}, []string{"from", "to"}),
		activeManagers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quizdesk_session_managers",
			Help: "Session managers currently held in memory.",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizdesk_http_status_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizdesk_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.authOperations,
		c.profileFetch,
		c.transitions,
		c.activeManagers,
		c.httpStatus,
		c.rateLimited,
	)

	return c
}

// RecordAuthOperation counts a sign-in, sign-up, sign-out or restore.
func (c *Collector) RecordAuthOperation(operation, outcome string) {
	c.authOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordProfileFetch observes a profile lookup.
func (c *Collector) RecordProfileFetch(outcome string, duration time.Duration) {
	c.profileFetch.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordStateTransition counts a state change.
func (c *Collector) RecordStateTransition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
}

// SetActiveManagers sets the number of live session managers.
func (c *Collector) SetActiveManagers(count int) {
	c.activeManagers.Set(float64(count))
}

// RecordHTTPStatus counts a response status.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRateLimited counts a throttled request.
func (c *Collector) RecordRateLimited(route string) {
	c.rateLimited.WithLabelValues(route).Inc()
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordAuthOperation(string, string) {}
func (Noop) RecordProfileFetch(string, time.Duration) {}
func (Noop) RecordStateTransition(string, string) {}
func (Noop) SetActiveManagers(int) {}
func (Noop) RecordHTTPStatus(int) {}
func (Noop) RecordRateLimited(string) {}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
