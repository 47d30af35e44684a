package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCronMetricsObserveJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronMetrics(reg)
	job := "provisional-sweep"

	m.ObserveJob(job, 250*time.Millisecond, nil)
	m.ObserveJob(job, time.Second, errors.New("db down"))
	m.ObserveJob(job, time.Second, errors.New("db down"))

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(job, "success")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues(job, "failure")))
	require.Positive(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues(job)))
	require.Equal(t, 1, testutil.CollectAndCount(m.duration, "cron_job_duration_seconds"))
}

func TestCronMetricsCycles(t *testing.T) {
	m := NewCronMetrics(prometheus.NewRegistry())
	m.IncCycle("ran")
	m.IncCycle("skipped")
	m.IncCycle("skipped")
	m.IncCycle("")

	require.Equal(t, 2.0, testutil.ToFloat64(m.cycles.WithLabelValues("skipped")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("unknown")))
	require.Equal(t, 3, testutil.CollectAndCount(m.cycles))
}

func TestCronMetricsNilSafe(t *testing.T) {
	var m *CronMetrics
	m.ObserveJob("x", time.Second, nil)
	m.IncCycle("ran")
	NewCronMetrics(nil).ObserveJob("x", time.Second, errors.New("x"))
}
