package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("accrual_sweep").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("accrual_sweep").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("accrual_sweep", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("accrual_sweep", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("accrual_sweep")))
}

func TestAddAccruals(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddAccruals("charged", 3)
	m.AddAccruals("failed", 0)
	require.Equal(t, 3.0, testutil.ToFloat64(m.accruals.WithLabelValues("charged")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.accruals.WithLabelValues("failed")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddAccruals("charged", 1)
	require.NoError(t, m.Track("x").End(nil))
}
