// Package metrics exposes the prometheus instrumentation surface for
// the OccultaShield pipeline: job concurrency, phase duration and the
// detector/verification hot paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge/histogram the pipeline touches.
// Construct one with NewMetrics and pass it into component
// constructors; there is no package-level singleton so tests can
// instantiate independent registries.
type Metrics struct {
	JobsInFlight prometheus.Gauge

	PhaseDurationSec *prometheus.HistogramVec

	DetectorBatchDurationSec *prometheus.HistogramVec
	DetectorBatchSize        prometheus.Histogram

	VerificationQueueDepth prometheus.Gauge
	VerificationCalls      *prometheus.CounterVec

	CapturesWritten   *prometheus.CounterVec
	TracksBornOrKilled *prometheus.CounterVec

	GraphCacheHits   prometheus.Counter
	GraphCacheMisses prometheus.Counter
}

// NewMetrics registers every metric against reg and returns the
// bundle. Pass prometheus.NewRegistry() in tests to avoid colliding
// with the default global registry across parallel test packages.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "occultashield_jobs_in_flight",
			Help: "Videos currently in an active pipeline phase.",
		}),
		PhaseDurationSec: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "occultashield_phase_duration_seconds",
			Help:    "Wall-clock duration of a pipeline phase.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"phase"}),
		DetectorBatchDurationSec: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "occultashield_detector_batch_duration_seconds",
			Help:    "Duration of one detector-pool batch call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),
		DetectorBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "occultashield_detector_batch_size",
			Help:    "Number of frames in a detector batch.",
			Buckets: []float64{8, 16, 32, 64, 128},
		}),
		VerificationQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "occultashield_verification_queue_depth",
			Help: "Verification groups queued behind the dispatcher's worker semaphore.",
		}),
		VerificationCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "occultashield_verification_calls_total",
			Help: "Witness/verdict calls made by the verification dispatcher.",
		}, []string{"mode", "outcome"}),
		CapturesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "occultashield_captures_written_total",
			Help: "Capture image pairs written by the capture manager.",
		}, []string{"type"}),
		TracksBornOrKilled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "occultashield_tracks_total",
			Help: "Tracks created or removed by the tracker.",
		}, []string{"type", "event"}),
		GraphCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "occultashield_graph_cache_hits_total",
			Help: "Knowledge graph client cache hits.",
		}),
		GraphCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "occultashield_graph_cache_misses_total",
			Help: "Knowledge graph client cache misses.",
		}),
	}
}
