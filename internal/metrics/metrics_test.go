package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestNew_RegistersAllSeriesWithoutCollision(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	require.NotNil(t, r.QueueDepth)
	require.NotNil(t, r.ClaimLatency)
}

func TestDedupHits_IncrementsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.DedupHits.WithLabelValues("task", "semantic").Inc()
	r.DedupHits.WithLabelValues("task", "semantic").Inc()
	r.DedupHits.WithLabelValues("task", "exact").Inc()

	require.Equal(t, float64(2), counterValue(t, r.DedupHits.WithLabelValues("task", "semantic")))
	require.Equal(t, float64(1), counterValue(t, r.DedupHits.WithLabelValues("task", "exact")))
}

func TestObserveClaimLatency_RecordsAnObservation(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.ObserveClaimLatency("implement", time.Now().Add(-50*time.Millisecond))

	var m dto.Metric
	require.NoError(t, r.ClaimLatency.WithLabelValues("implement").(prometheus.Histogram).Write(&m))
	require.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
}
