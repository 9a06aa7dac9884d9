package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	pendingStale prometheus.Gauge
	cleaned      *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SetStalePendingMarkers publishes how many pending posting markers have
// waited longer than the staleness window.
func (m *Metrics) SetStalePendingMarkers(count int) {
	if m == nil {
		return
	}
	m.pendingStale.Set(float64(count))
}

// AddCleanedMarkers counts markers removed by the retention cleanup.
func (m *Metrics) AddCleanedMarkers(status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.cleaned.WithLabelValues(status).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	pendingStale := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meridian_pending_markers_stale",
		Help: "Pending posting markers older than the staleness window.",
	})
	cleaned := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_markers_cleaned_total",
		Help: "Markers removed by the retention cleanup, by marker status.",
	}, []string{"status"})
	registerer.MustRegister(runs, failures, duration, pendingStale, cleaned)
	return &Metrics{runs: runs, failures: failures, duration: duration, pendingStale: pendingStale, cleaned: cleaned}
}
