// Package metrics collects and exposes Prometheus metrics for the user service
// and its deletion consumers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records registration, deletion and identity provider metrics.
type Collector struct {
	registrations  *prometheus.CounterVec
	deletions      *prometheus.CounterVec
	idpRequests    *prometheus.CounterVec
	idpLatency     *prometheus.HistogramVec
	deletionEvents *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "user_service_registrations_total",
			Help: "Registration calls by result (created or updated).",
		}, []string{"result"}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "user_service_account_deletions_total",
			Help: "Account deletions by terminal state.",
		}, []string{"state"}),
		idpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "user_service_identity_provider_requests_total",
			Help: "Identity provider admin API calls by operation and status code.",
		}, []string{"operation", "status_code"}),
		idpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "user_service_identity_provider_request_seconds",
			Help:    "Identity provider admin API latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		deletionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "user_service_deletion_events_consumed_total",
			Help: "Account deletion events handled by downstream consumers.",
		}, []string{"service", "outcome"}),
	}

	reg.MustRegister(
		c.registrations,
		c.deletions,
		c.idpRequests,
		c.idpLatency,
		c.deletionEvents,
	)

	return c
}

// RegistrationRecorded counts one successful registration call.
func (c *Collector) RegistrationRecorded(created bool) {
	result := "updated"
	if created {
		result = "created"
	}
	c.registrations.WithLabelValues(result).Inc()
}

// DeletionRecorded counts one deletion that ended in state.
func (c *Collector) DeletionRecorded(state string) {
	c.deletions.WithLabelValues(state).Inc()
}

// ObserveIdentityProviderRequest records one admin API call. A status of 0
// means no response was received.
func (c *Collector) ObserveIdentityProviderRequest(operation string, status int, elapsed time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	c.idpRequests.WithLabelValues(operation, code).Inc()
	c.idpLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// DeletionEventConsumed counts one deletion event handled by service.
// outcome is "processed", "duplicate" or "failed".
func (c *Collector) DeletionEventConsumed(service, outcome string) {
	c.deletionEvents.WithLabelValues(service, outcome).Inc()
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute serves /metrics on its own mux, for processes without an
// API router.
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
