package packguard

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	Logins         *prometheus.CounterVec
	TwoFactor      *prometheus.CounterVec
	Refreshes      *prometheus.CounterVec
	CacheRequests  *prometheus.CounterVec
	Authorizations *prometheus.CounterVec
	AuditDropped   prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packguard_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		TwoFactor: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packguard_two_factor_total",
				Help: "Two-factor challenge events by outcome",
			},
			[]string{"outcome"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packguard_refreshes_total",
				Help: "Refresh token exchanges by outcome",
			},
			[]string{"outcome"},
		),
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packguard_cache_requests_total",
				Help: "Cache operations by kind and result",
			},
			[]string{"op", "result"},
		),
		Authorizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packguard_authorizations_total",
				Help: "Document authorization decisions by result and reason",
			},
			[]string{"result", "reason"},
		),
		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "packguard_audit_dropped_total",
				Help: "Audit records dropped because the dispatcher buffer was full",
			},
		),
	}

	reg.MustRegister(m.Logins, m.TwoFactor, m.Refreshes, m.CacheRequests, m.Authorizations, m.AuditDropped)
	return m
}

func (m *Metrics) login(outcome string) {
	if m != nil {
		m.Logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) twoFactor(outcome string) {
	if m != nil {
		m.TwoFactor.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) refresh(outcome string) {
	if m != nil {
		m.Refreshes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) cache(op, result string) {
	if m != nil {
		m.CacheRequests.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) authorization(allowed bool, reason string) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.Authorizations.WithLabelValues(result, reason).Inc()
}

func (m *Metrics) auditDropped() {
	if m != nil {
		m.AuditDropped.Inc()
	}
}
