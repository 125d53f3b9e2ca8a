package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestNew_RegistersCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.GateDecisions.WithLabelValues("resume_analysis", "granted").Inc()
	m.GateDecisions.WithLabelValues("resume_analysis", "granted").Inc()
	m.RateLimitDenied.WithLabelValues("submission").Inc()

	assert.Equal(t, 2.0, counterValue(t, m.GateDecisions.WithLabelValues("resume_analysis", "granted")))
	assert.Equal(t, 1.0, counterValue(t, m.RateLimitDenied.WithLabelValues("submission")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "access_gateway_gate_decisions_total")
	assert.Contains(t, names, "access_gateway_rate_limit_denied_total")
}

func TestNoop_DoesNotPanicOnReuse(t *testing.T) {
	a := Noop()
	b := Noop()
	a.AuditFailures.Inc()
	b.AuditFailures.Inc()
	assert.Equal(t, 1.0, counterValue(t, b.AuditFailures))
}
