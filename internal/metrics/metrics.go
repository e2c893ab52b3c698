// Package metrics exposes prometheus collectors for scheduled jobs and sync runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orderbox"

// Jobs records duration and outcome per scheduled job.
// A nil *Jobs is a no-op.
type Jobs struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
}

func NewJobs(reg prometheus.Registerer) *Jobs {
	if reg == nil {
		return nil
	}
	j := &Jobs{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled jobs in seconds.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"job"}),
		success: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_success_total",
			Help:      "Successful job runs.",
		}, []string{"job"}),
		failure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_failure_total",
			Help:      "Failed job runs.",
		}, []string{"job"}),
	}
	reg.MustRegister(j.duration, j.success, j.failure)
	return j
}

// Observe records one finished run.
func (j *Jobs) Observe(job string, took time.Duration, err error) {
	if j == nil {
		return
	}
	job = label(job)
	j.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		j.failure.WithLabelValues(job).Inc()
		return
	}
	j.success.WithLabelValues(job).Inc()
}

// Sync result labels.
const (
	ResultInserted  = "inserted"
	ResultUpdated   = "updated"
	ResultUnchanged = "unchanged"
	ResultFailed    = "failed"
)

// Sync counts orders written by the sync and reconciliation paths.
// A nil *Sync is a no-op.
type Sync struct {
	orders *prometheus.CounterVec
}

func NewSync(reg prometheus.Registerer) *Sync {
	if reg == nil {
		return nil
	}
	s := &Sync{
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synced_orders_total",
			Help:      "Orders processed by sync runs, by channel and result.",
		}, []string{"channel", "result"}),
	}
	reg.MustRegister(s.orders)
	return s
}

func (s *Sync) Add(channel, result string, n int) {
	if s == nil || n <= 0 {
		return
	}
	s.orders.WithLabelValues(label(channel), result).Add(float64(n))
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
