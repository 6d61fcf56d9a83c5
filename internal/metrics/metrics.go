package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storeview_identity"

// Outcome labels for external synchronization.
const (
	OutcomeExisting     = "existing"
	OutcomeCreated      = "created"
	OutcomeSignedIn     = "signed_in"
	OutcomeLookupFailed = "lookup_failed"
	OutcomeCreateFailed = "create_failed"
	OutcomeSignInFailed = "sign_in_failed"
	OutcomeSkipped      = "skipped"
	OutcomeFound        = "found"
)

// Metrics holds the Prometheus collectors for the identity service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	AuthAttempts        *prometheus.CounterVec
	ExternalAuthSync    *prometheus.CounterVec
	TenantLink          *prometheus.CounterVec
	ExternalCallLatency *prometheus.HistogramVec
}

// New registers the collectors with registerer.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		AuthAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Registration and login attempts by flow and result.",
		}, []string{"flow", "result"}),
		ExternalAuthSync: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "external_auth",
			Name:      "sync_total",
			Help:      "External auth provider synchronization steps by outcome.",
		}, []string{"outcome"}),
		TenantLink: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenant_link",
			Name:      "resolutions_total",
			Help:      "VT business link resolutions by outcome.",
		}, []string{"outcome"}),
		ExternalCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "call_duration_seconds",
			Help:      "Latency of calls to external collaborators.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		}, []string{"service", "operation"}),
	}
}

// RecordAuthAttempt counts one registration or login outcome.
func (m *Metrics) RecordAuthAttempt(flow, result string) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(flow, result).Inc()
}

// RecordExternalAuth counts one external auth synchronization step.
func (m *Metrics) RecordExternalAuth(outcome string) {
	if m == nil {
		return
	}
	m.ExternalAuthSync.WithLabelValues(outcome).Inc()
}

// RecordTenantLink counts one business link resolution outcome.
func (m *Metrics) RecordTenantLink(outcome string) {
	if m == nil {
		return
	}
	m.TenantLink.WithLabelValues(outcome).Inc()
}

// ObserveExternalCall records the duration in seconds of one external call.
func (m *Metrics) ObserveExternalCall(service, operation string, seconds float64) {
	if m == nil {
		return
	}
	m.ExternalCallLatency.WithLabelValues(service, operation).Observe(seconds)
}
