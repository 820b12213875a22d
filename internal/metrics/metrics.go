package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Jobs
	JobsSubmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptgallery_jobs_submitted_total",
			Help: "Total number of generation jobs accepted",
		},
	)

	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptgallery_jobs_finished_total",
			Help: "Total number of generation jobs that reached a terminal state",
		},
		[]string{"status"}, // completed, failed
	)

	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptgallery_jobs_in_flight",
			Help: "Generation jobs currently pending or processing",
		},
	)

	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "promptgallery_generation_duration_seconds",
			Help:    "Latency of calls to the image generation backend",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	// Thumbnails
	ThumbnailsGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptgallery_thumbnails_generated_total",
			Help: "Thumbnails rendered from a source image",
		},
	)

	ThumbnailFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptgallery_thumbnail_failures_total",
			Help: "Thumbnail requests that fell back to the original image",
		},
	)
)
