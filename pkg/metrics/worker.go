package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics instruments the finalization worker. A nil instance is
// valid and records nothing.
type WorkerMetrics struct {
	jobsProcessed    *prometheus.CounterVec
	jobsInFlight     prometheus.Gauge
	finalizeDuration prometheus.Histogram
	claimsTotal      *prometheus.CounterVec
	idlePolls        prometheus.Counter
}

// NewWorkerMetrics creates worker instrumentation, or nil when metrics
// are disabled.
func NewWorkerMetrics() *WorkerMetrics {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}

	return &WorkerMetrics{
		jobsProcessed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixstore_worker_jobs_processed_total",
				Help: "Total number of finalize jobs processed by outcome",
			},
			[]string{"outcome"},
		),
		jobsInFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "pixstore_worker_jobs_in_flight",
				Help: "Current number of finalize jobs being processed",
			},
		),
		finalizeDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "pixstore_worker_finalize_duration_milliseconds",
				Help: "Duration of finalize attempts in milliseconds",
				Buckets: []float64{
					10,    // 10ms - metadata-only outcomes
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms - small images
					1000,  // 1s
					5000,  // 5s - large images
					10000, // 10s
					30000, // 30s
				},
			},
		),
		claimsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pixstore_worker_claims_total",
				Help: "Total number of claim attempts by result",
			},
			[]string{"result"},
		),
		idlePolls: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pixstore_worker_idle_polls_total",
				Help: "Total number of polls that found no due jobs",
			},
		),
	}
}

// ObserveJob records one processed job with its outcome and duration.
func (m *WorkerMetrics) ObserveJob(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(outcome).Inc()
	m.finalizeDuration.Observe(duration.Seconds() * 1000)
}

// RecordInFlight tracks the number of running jobs.
func (m *WorkerMetrics) RecordInFlight(delta int) {
	if m == nil {
		return
	}
	m.jobsInFlight.Add(float64(delta))
}

// RecordClaim records a claim attempt. Result is "won" or "lost".
func (m *WorkerMetrics) RecordClaim(result string) {
	if m == nil {
		return
	}
	m.claimsTotal.WithLabelValues(result).Inc()
}

// RecordIdlePoll records a poll that found no due jobs.
func (m *WorkerMetrics) RecordIdlePoll() {
	if m == nil {
		return
	}
	m.idlePolls.Inc()
}
