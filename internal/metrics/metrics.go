// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stageTicksTotal          *prometheus.CounterVec
	stageTickDurationSeconds *prometheus.HistogramVec
	jobsTotal                *prometheus.CounterVec
	alertsTotal              *prometheus.CounterVec
	collectorRecordsTotal    *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		stageTicksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drawpulse_stage_ticks_total",
				Help: "Total stage ticks, labeled by component and outcome.",
			},
			[]string{"component", "outcome"},
		)

		stageTickDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drawpulse_stage_tick_duration_seconds",
				Help:    "Histogram of stage tick durations, labeled by component.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"component"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drawpulse_jobs_total",
				Help: "Total analysis jobs processed, labeled by type and status.",
			},
			[]string{"job_type", "status"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drawpulse_alerts_total",
				Help: "Total alerts raised, labeled by component and level.",
			},
			[]string{"component", "level"},
		)

		collectorRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drawpulse_collector_records_total",
				Help: "Total collected records, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTick records one stage tick with its duration.
func ObserveTick(component, outcome string, duration time.Duration) {
	stageTicksTotal.WithLabelValues(component, outcome).Inc()
	stageTickDurationSeconds.WithLabelValues(component).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for one type and terminal status.
func ObserveJob(jobType, status string) {
	jobsTotal.WithLabelValues(jobType, status).Inc()
}

// ObserveAlert increments the alert counter.
func ObserveAlert(component, level string) {
	alertsTotal.WithLabelValues(component, level).Inc()
}

// ObserveCollectedRecords adds to the collector record counter for one
// outcome: persisted, duplicate or error.
func ObserveCollectedRecords(outcome string, n int) {
	if n > 0 {
		collectorRecordsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}
