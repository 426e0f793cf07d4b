// Package metrics exposes Prometheus instrumentation for the music service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job outcomes used as label values.
const (
	OutcomeSuccess    = "success"
	OutcomeInvalid    = "invalid"
	OutcomeGeneration = "generation_failed"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "music",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Total number of handled jobs by outcome",
		},
		[]string{"outcome"},
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "music",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Duration of generation calls in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 240, 480, 960},
		},
	)

	audioBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "music",
			Subsystem: "generation",
			Name:      "audio_bytes",
			Help:      "Size of generated audio files in bytes",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 2, 10),
		},
	)

	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "music",
			Subsystem: "model",
			Name:      "loads_total",
			Help:      "Total model load attempts by result",
		},
		[]string{"result"},
	)

	modelLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "music",
			Subsystem: "model",
			Name:      "load_duration_seconds",
			Help:      "Duration of model loads in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal, generationDuration, audioBytes, modelLoadsTotal, modelLoadDuration)
}

// ObserveJob counts a finished job.
func ObserveJob(outcome string) {
	jobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveGeneration records a successful generation call.
func ObserveGeneration(duration time.Duration, size int) {
	generationDuration.Observe(duration.Seconds())
	audioBytes.Observe(float64(size))
}

// ObserveModelLoad records a model load attempt.
func ObserveModelLoad(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	modelLoadsTotal.WithLabelValues(result).Inc()
	modelLoadDuration.Observe(duration.Seconds())
}
