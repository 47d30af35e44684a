package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronMetrics records cron worker cycles, lease outcomes and per-job results.
type CronMetrics struct {
	duration    *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	cycles      *prometheus.CounterVec
}

// NewCronMetrics registers the cron metrics. A nil registerer yields a
// no-op recorder.
func NewCronMetrics(reg prometheus.Registerer) *CronMetrics {
	if reg == nil {
		return &CronMetrics{}
	}
	m := &CronMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cron_job_duration_seconds",
			Help:    "Duration of cron jobs in seconds.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_runs_total",
			Help: "Cron job executions by result.",
		}, []string{"job", "result"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cron_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_cycles_total",
			Help: "Cron cycles by lease outcome: ran, skipped or lease_lost.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.duration, m.runs, m.lastSuccess, m.cycles)
	return m
}

// ObserveJob records one job execution; a nil err counts as success and
// stamps the last-success gauge.
func (c *CronMetrics) ObserveJob(job string, took time.Duration, err error) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		c.runs.WithLabelValues(job, "failure").Inc()
		return
	}
	c.runs.WithLabelValues(job, "success").Inc()
	c.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

func (c *CronMetrics) IncCycle(outcome string) {
	if c == nil || c.cycles == nil {
		return
	}
	c.cycles.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
