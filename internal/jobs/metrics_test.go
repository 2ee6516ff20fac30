package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestTrackerRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	require.NoError(t, metrics.Track("reservation:sweep").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, metrics.Track("reservation:sweep").End(boom), boom)

	require.Equal(t, 1.0, counterValue(t, registry, "odyssey_jobs_total", map[string]string{"job": "reservation:sweep", "status": "success"}))
	require.Equal(t, 1.0, counterValue(t, registry, "odyssey_jobs_total", map[string]string{"job": "reservation:sweep", "status": "failure"}))
	require.Equal(t, 1.0, counterValue(t, registry, "odyssey_jobs_failures_total", map[string]string{"job": "reservation:sweep"}))
}

func TestDomainCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.AddExpired(3)
	metrics.AddExpired(0)
	metrics.CountNotification("notify:approval_needed", nil)
	metrics.CountNotification("notify:approval_needed", errors.New("smtp"))

	require.Equal(t, 3.0, counterValue(t, registry, "odyssey_stock_reservations_expired_total", nil))
	require.Equal(t, 1.0, counterValue(t, registry, "odyssey_stock_notifications_total", map[string]string{"event": "notify:approval_needed", "outcome": "failed"}))

	var nilMetrics *Metrics
	nilMetrics.AddExpired(1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
