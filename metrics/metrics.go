// Package metrics defines Prometheus counters for the session lifecycle.
//
// Metric naming follows Prometheus conventions:
//   - choirapp_auth_ prefix for all metrics
//   - _total suffix for counters
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultCancelled = "cancelled"
	ResultEmpty     = "empty"
)

// AuthMetrics groups the session lifecycle counters.
type AuthMetrics struct {
	// LoginsStarted counts authorization requests built.
	LoginsStarted prometheus.Counter
	// Callbacks counts redirect callbacks by result.
	Callbacks *prometheus.CounterVec
	// Renewals counts silent renewals by result.
	Renewals *prometheus.CounterVec
	// Logouts counts sign-outs by provider result.
	Logouts *prometheus.CounterVec
	// Restores counts startup restores by result.
	Restores *prometheus.CounterVec
}

// NewAuthMetrics creates the counters and registers them with reg. A nil reg leaves
// them unregistered.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	m := &AuthMetrics{
		LoginsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "choirapp_auth_logins_started_total",
			Help: "Total number of authorization requests built.",
		}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "choirapp_auth_callbacks_total",
			Help: "Total redirect callbacks handled by result.",
		}, []string{"result"}),
		Renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "choirapp_auth_renewals_total",
			Help: "Total silent renewals by result.",
		}, []string{"result"}),
		Logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "choirapp_auth_logouts_total",
			Help: "Total sign-outs by provider result.",
		}, []string{"result"}),
		Restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "choirapp_auth_restores_total",
			Help: "Total session restores by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.LoginsStarted, m.Callbacks, m.Renewals, m.Logouts, m.Restores)
	}
	return m
}

// A nil *AuthMetrics is valid and records nothing.

func (m *AuthMetrics) LoginStarted() {
	if m == nil {
		return
	}
	m.LoginsStarted.Inc()
}

func (m *AuthMetrics) Callback(result string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(result).Inc()
}

func (m *AuthMetrics) Renewal(result string) {
	if m == nil {
		return
	}
	m.Renewals.WithLabelValues(result).Inc()
}

func (m *AuthMetrics) Logout(result string) {
	if m == nil {
		return
	}
	m.Logouts.WithLabelValues(result).Inc()
}

func (m *AuthMetrics) Restore(result string) {
	if m == nil {
		return
	}
	m.Restores.WithLabelValues(result).Inc()
}
