// Package metrics declares the Prometheus collectors for the labeling pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robolabel_analyses_total",
		Help: "Total number of video analyses finished, by status",
	}, []string{"status"})

	ActiveAnalyses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "robolabel_active_analyses",
		Help: "Number of analyses currently running",
	})

	GroupsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robolabel_groups_processed_total",
		Help: "Total number of frame groups sent for labeling, by status",
	}, []string{"status"})

	FramesDecodedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "robolabel_frames_decoded_total",
		Help: "Total number of raw frames decoded across all analyses",
	})

	InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "robolabel_inference_duration_seconds",
		Help:    "Duration of a single labeling call, retries excluded",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	InferenceRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robolabel_inference_retries_total",
		Help: "Total number of labeling call retries",
	}, []string{"attempt"})

	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robolabel_downloads_total",
		Help: "Total number of URL downloads, by status",
	}, []string{"status"})
)
