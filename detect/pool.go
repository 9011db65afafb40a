// Package detect is the detector pool (spec.md §4.3): it resolves a
// GPU strategy from available accelerator memory, then runs a
// pluggable Detector over frame batches sized to that strategy. No
// concrete model backend ships in this repo (no inference runtime
// appears anywhere in the example pack); Detector is the seam a real
// YOLO/ONNX backend would implement.
package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GabrielJuan349/occultashield/gpu"
	"github.com/GabrielJuan349/occultashield/log"
	"github.com/GabrielJuan349/occultashield/metrics"
	"github.com/GabrielJuan349/occultashield/track"
	"github.com/GabrielJuan349/occultashield/video"
)

// gpulock serializes every call into a Detector across the whole
// process, per spec.md §5 ("GPU access is serialized by a
// package-level mutex"). Detectors hold it for the duration of one
// batch call; the anonymizer's GPU-effects path does not contend for
// it since, in practice, detection and anonymization never overlap
// for the same video.
var gpulock sync.Mutex

// Detector runs one model (or model ensemble) over a batch of frames
// at the given model size tier, returning one detection list per
// frame in the same order.
type Detector interface {
	DetectBatch(ctx context.Context, frames []video.Frame, modelSize gpu.ModelSize) ([][]track.Detection, error)
}

// Pool ties an Accelerator's strategy resolution to a Detector's
// batch calls, and to the tracker + capture manager that consume its
// output, one video at a time.
type Pool struct {
	accel    gpu.Accelerator
	detector Detector
	metrics  *metrics.Metrics
}

// NewPool wires a Pool. metrics may be nil in tests that don't care
// about instrumentation.
func NewPool(accel gpu.Accelerator, detector Detector, m *metrics.Metrics) *Pool {
	return &Pool{accel: accel, detector: detector, metrics: m}
}

// FrameResult pairs one decoded frame's number with its per-frame
// detections, for the tracker and capture manager to consume without
// re-reading the video.
type FrameResult struct {
	Frame      int64
	Detections []track.Detection
}

// Run decodes videoID's source video batch by batch (sized to the
// resolved GPU strategy), detects each batch and reports the still-open
// frames plus their per-frame results via onBatch. onBatch owns closing
// every frame's Mat once it no longer needs the pixels (the tracker and
// capture manager both read from them before that happens). Run stops
// early if ctx is cancelled, exiting at the next batch boundary per
// spec.md §5's cancellation contract.
func (p *Pool) Run(ctx context.Context, videoID string, reader *video.FrameReader, onBatch func([]video.Frame, []FrameResult) error) error {
	strategy, err := p.accel.Strategy(ctx)
	if err != nil {
		return fmt.Errorf("resolving detector strategy: %w", err)
	}
	log.Log(videoID, "detector pool strategy resolved", "mode", string(strategy.Mode), "model_size", string(strategy.ModelSize), "batch_size", strategy.BatchSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frames, err := reader.ReadBatch(strategy.BatchSize)
		if err != nil {
			return fmt.Errorf("reading frame batch: %w", err)
		}
		if len(frames) == 0 {
			return nil
		}

		results, err := p.detectBatch(ctx, videoID, frames, strategy.ModelSize)
		if err != nil {
			for _, f := range frames {
				f.Close()
			}
			return err
		}
		if err := onBatch(frames, results); err != nil {
			return err
		}
	}
}

func (p *Pool) detectBatch(ctx context.Context, videoID string, frames []video.Frame, modelSize gpu.ModelSize) ([]FrameResult, error) {
	gpulock.Lock()
	defer gpulock.Unlock()

	start := time.Now()
	perFrame, err := p.detector.DetectBatch(ctx, frames, modelSize)
	if p.metrics != nil {
		p.metrics.DetectorBatchDurationSec.WithLabelValues(string(modelSize)).Observe(time.Since(start).Seconds())
		p.metrics.DetectorBatchSize.Observe(float64(len(frames)))
	}
	if err != nil {
		return nil, fmt.Errorf("detector batch: %w", err)
	}
	if len(perFrame) != len(frames) {
		return nil, fmt.Errorf("detector returned %d results for %d frames", len(perFrame), len(frames))
	}

	out := make([]FrameResult, len(frames))
	for i, f := range frames {
		out[i] = FrameResult{Frame: f.Index, Detections: perFrame[i]}
	}
	return out, nil
}
