// Package jobmetrics instruments the signing and reporting background jobs.
package jobmetrics

import (
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes used as the status label.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	lastSuccess   *prometheus.GaugeVec
	signingEvents *prometheus.CounterVec
	overdue       prometheus.Gauge
	now           func() time.Time
}

// NewMetrics registers the job collectors with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stipend_jobs_total",
			Help: "Job executions by job name and outcome (success, failure, skipped).",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stipend_job_duration_seconds",
			Help:    "Duration in seconds of background job executions.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stipend_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		signingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stipend_signing_events_total",
			Help: "Signing service callbacks by kind and whether they changed a student.",
		}, []string{"kind", "outcome"}),
		overdue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stipend_reporting_overdue_obligations",
			Help: "Reporting obligations past their period due date without a submitted report.",
		}),
		now: time.Now,
	}
	registerer.MustRegister(m.runs, m.duration, m.lastSuccess, m.signingEvents, m.overdue)
	return m
}

// Run is one in-flight job execution.
type Run struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Run {
	return &Run{metrics: m, job: job, start: time.Now()}
}

// End records the outcome of the run and returns err unchanged. Errors wrapping
// asynq.SkipRetry count as skipped rather than failed.
func (r *Run) End(err error) error {
	if r == nil || r.metrics == nil {
		return err
	}
	m := r.metrics
	outcome := StatusSuccess
	switch {
	case errors.Is(err, asynq.SkipRetry):
		outcome = StatusSkipped
	case err != nil:
		outcome = StatusFailure
	}
	m.runs.WithLabelValues(r.job, outcome).Inc()
	m.duration.WithLabelValues(r.job).Observe(time.Since(r.start).Seconds())
	if outcome == StatusSuccess {
		m.lastSuccess.WithLabelValues(r.job).Set(float64(m.now().Unix()))
	}
	return err
}

// ObserveSigningEvent counts a processed signing callback by kind and outcome.
func (m *Metrics) ObserveSigningEvent(kind string, applied bool) {
	if m == nil {
		return
	}
	outcome := "ignored"
	if applied {
		outcome = "applied"
	}
	m.signingEvents.WithLabelValues(kind, outcome).Inc()
}

// SetOverdue records the number of overdue reporting obligations.
func (m *Metrics) SetOverdue(n int) {
	if m == nil {
		return
	}
	m.overdue.Set(float64(n))
}
