package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAndIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.JobsInFlight.Inc()
	m.VerificationCalls.WithLabelValues("witness", "ok").Inc()

	mf, err := reg.Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, f := range mf {
		found[f.GetName()] = true
	}
	require.True(t, found["occultashield_jobs_in_flight"])
	require.True(t, found["occultashield_verification_calls_total"])

	var jobsValue float64
	for _, f := range mf {
		if f.GetName() == "occultashield_jobs_in_flight" {
			jobsValue = getGaugeValue(f.GetMetric())
		}
	}
	require.Equal(t, 1.0, jobsValue)
}

func getGaugeValue(ms []*dto.Metric) float64 {
	if len(ms) == 0 {
		return 0
	}
	return ms[0].GetGauge().GetValue()
}
