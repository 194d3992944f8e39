package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	corrections *prometheus.CounterVec
	lowStock    *prometheus.GaugeVec
	purged      prometheus.Counter
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

// AddCorrections counts stock levels the rebuild job had to fix for a tenant.
func (m *Metrics) AddCorrections(tenantID int64, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.corrections.WithLabelValues(formatInt(tenantID)).Add(float64(count))
}

// SetLowStock records how many stock levels sit at or below reorder level.
func (m *Metrics) SetLowStock(tenantID int64, count int) {
	if m == nil {
		return
	}
	m.lowStock.WithLabelValues(formatInt(tenantID)).Set(float64(count))
}

// AddPurged counts removed idempotency keys.
func (m *Metrics) AddPurged(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.purged.Add(float64(count))
}

func formatInt(v int64) string {
	if v <= 0 {
		return "0"
	}
	return strconv.FormatInt(v, 10)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	corrections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_jobs_projection_corrections_total",
		Help: "Stock levels rewritten because they disagreed with the ledger.",
	}, []string{"tenant"})
	lowStock := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stockledger_low_stock_levels",
		Help: "Stock levels at or below their reorder level, per tenant.",
	}, []string{"tenant"})
	purged := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_idempotency_keys_purged_total",
		Help: "Expired idempotency keys removed by cleanup.",
	})
	registerer.MustRegister(runs, failures, duration, corrections, lowStock, purged)
	return &Metrics{runs: runs, failures: failures, duration: duration, corrections: corrections, lowStock: lowStock, purged: purged}
}
