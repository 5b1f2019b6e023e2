// Package metrics exposes the gateway's Prometheus instruments.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument the gateway records into.
type Metrics struct {
	admissionDecisions *prometheus.CounterVec
	keyExhaustions     *prometheus.CounterVec
	providerRequests   *prometheus.CounterVec
	providerDuration   *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	tokensReserved     prometheus.Counter
	tokensConfirmed    prometheus.Counter
}

// New registers the gateway metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the gateway metrics with reg. Tests pass a fresh
// registry to stay clear of global registration state.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		admissionDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keywheel_admission_decisions_total",
			Help: "Admission decisions by provider and outcome.",
		}, []string{"provider", "outcome"}),
		keyExhaustions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keywheel_key_exhaustions_total",
			Help: "Keys reported exhausted by their provider.",
		}, []string{"provider", "key_id"}),
		providerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keywheel_provider_requests_total",
			Help: "Upstream provider calls by result.",
		}, []string{"provider", "result"}),
		providerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keywheel_provider_request_duration_seconds",
			Help:    "Upstream provider call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keywheel_http_requests_total",
			Help: "HTTP requests by path and status code.",
		}, []string{"path", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keywheel_http_request_duration_seconds",
			Help:    "HTTP request latency by path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		tokensReserved: factory.NewCounter(prometheus.CounterOpts{
			Name: "keywheel_tokens_reserved_total",
			Help: "Tokens reserved at admission time.",
		}),
		tokensConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "keywheel_tokens_confirmed_total",
			Help: "Tokens confirmed from provider-reported usage.",
		}),
	}
}

// RecordAdmission counts one admission decision.
func (m *Metrics) RecordAdmission(provider, outcome string) {
	m.admissionDecisions.WithLabelValues(provider, outcome).Inc()
}

// RecordKeyExhaustion counts a provider-side key exhaustion. Key IDs are the
// short public hashes, so the label cardinality stays at the configured key
// count.
func (m *Metrics) RecordKeyExhaustion(provider, keyID string) {
	m.keyExhaustions.WithLabelValues(provider, keyID).Inc()
}

// RecordProviderRequest counts one upstream call and its latency.
func (m *Metrics) RecordProviderRequest(provider, result string, duration time.Duration) {
	m.providerRequests.WithLabelValues(provider, result).Inc()
	m.providerDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordHTTPRequest counts one handled request and its latency.
func (m *Metrics) RecordHTTPRequest(path string, code int, duration time.Duration) {
	m.httpRequests.WithLabelValues(path, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordTokensReserved adds freshly reserved estimate tokens.
func (m *Metrics) RecordTokensReserved(n int) {
	if n > 0 {
		m.tokensReserved.Add(float64(n))
	}
}

// RecordTokensConfirmed adds provider-reported actual tokens.
func (m *Metrics) RecordTokensConfirmed(n int) {
	if n > 0 {
		m.tokensConfirmed.Add(float64(n))
	}
}
