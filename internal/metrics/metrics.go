package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesTotal counts source files by run outcome
	FilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_derivatives_files_total",
			Help: "The total number of source files handled, by outcome",
		},
		[]string{"outcome"},
	)

	// DerivativeBytes measures the size of written derivatives
	DerivativeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_derivatives_derivative_bytes",
			Help:    "The size of written derivatives in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10), // 16KiB to 8MiB
		},
		[]string{"profile"},
	)

	// EncodeAttempts measures how many encodes the quality search needed
	EncodeAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_derivatives_encode_attempts",
			Help:    "The number of encode calls made per derivative",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
		[]string{"profile"},
	)

	// OverBudgetTotal counts derivatives accepted above their target size
	OverBudgetTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_derivatives_over_budget_total",
			Help: "The total number of derivatives written above their target size",
		},
		[]string{"profile"},
	)

	// RunDuration measures the duration of batch runs
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photo_derivatives_run_duration_seconds",
			Help:    "The duration of batch runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // From 100ms to ~200s
		},
	)

	// RunsTotal counts batch runs by result
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_derivatives_runs_total",
			Help: "The total number of batch runs",
		},
		[]string{"status"},
	)

	// LastRunTimestamp records when the last run finished
	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_derivatives_last_run_timestamp_seconds",
			Help: "Unix time of the last completed batch run",
		},
	)
)

// RecordFile records the outcome of one source file.
func RecordFile(outcome string) {
	FilesTotal.WithLabelValues(outcome).Inc()
}

// RecordDerivative records one written derivative.
func RecordDerivative(profile string, size int64, attempts int, withinBudget bool) {
	DerivativeBytes.WithLabelValues(profile).Observe(float64(size))
	EncodeAttempts.WithLabelValues(profile).Observe(float64(attempts))
	if !withinBudget {
		OverBudgetTotal.WithLabelValues(profile).Inc()
	}
}

// RecordRun records a finished batch run.
func RecordRun(status string, duration time.Duration) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(duration.Seconds())
	LastRunTimestamp.SetToCurrentTime()
}
