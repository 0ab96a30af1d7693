package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyscribe_samples_written_total",
			Help: "Total sample mutations by operation",
		},
		[]string{"op"},
	)

	StoreQueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skyscribe_store_query_latency_seconds",
			Help:    "Series store query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	TrainingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skyscribe_training_duration_seconds",
			Help:    "Forecast model training time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"station"},
	)

	PredictionsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyscribe_predictions_total",
			Help: "Total forecast predictions produced",
		},
		[]string{"station"},
	)

	ImportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyscribe_import_runs_total",
			Help: "Total sample import runs",
		},
		[]string{"station", "status"},
	)

	SamplesImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyscribe_samples_imported_total",
			Help: "Total samples stored by imports",
		},
		[]string{"station"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyscribe_http_requests_total",
			Help: "Total HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
)
