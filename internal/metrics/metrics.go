// Package metrics счётчики prometheus для решений о доступе.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	GateDecisions   *prometheus.CounterVec
	RateLimitDenied *prometheus.CounterVec
	SanitizerFlags  *prometheus.CounterVec
	AuditFailures   prometheus.Counter
	TrialsExpired   prometheus.Counter
}

// New регистрирует счётчики в reg. Для reg == nil счётчики создаются,
// но нигде не регистрируются.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "access_gateway",
			Name:      "gate_decisions_total",
			Help:      "Gate verdicts by module and reason.",
		}, []string{"module", "reason"}),
		RateLimitDenied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "access_gateway",
			Name:      "rate_limit_denied_total",
			Help:      "Requests rejected by the sliding window limiter.",
		}, []string{"action"}),
		SanitizerFlags: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "access_gateway",
			Name:      "sanitizer_warnings_total",
			Help:      "Sanitizer warnings by module and warning text.",
		}, []string{"module", "warning"}),
		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "access_gateway",
			Name:      "audit_failures_total",
			Help:      "Security events that could not be recorded.",
		}),
		TrialsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: "access_gateway",
			Name:      "trials_expired_total",
			Help:      "Trials flipped to expired by the scheduler.",
		}),
	}
}

// Noop счётчики без регистрации, для тестов и необязательных зависимостей.
func Noop() *Metrics {
	return New(nil)
}
