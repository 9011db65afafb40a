package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/GabrielJuan349/occultashield/capture"
	"github.com/GabrielJuan349/occultashield/detect"
	"github.com/GabrielJuan349/occultashield/domain"
	"github.com/GabrielJuan349/occultashield/log"
	"github.com/GabrielJuan349/occultashield/metrics"
	"github.com/GabrielJuan349/occultashield/progress"
	"github.com/GabrielJuan349/occultashield/track"
	"github.com/GabrielJuan349/occultashield/video"
)

// videoDetectionRunner is the production DetectionRunner: it opens the
// source video, runs the detector pool batch by batch, feeds every
// batch's results through one Tracker and one capture.Manager, and
// accumulates each track's bbox history and captures into a
// domain.Track. Grounded on
// `_examples/original_source/backend/app/services/video_processor.py`'s
// detection loop (probe → frame loop → tracker.update → capture
// manager → per-track accumulation).
type videoDetectionRunner struct {
	pool        *detect.Pool
	trackerCfg  track.Config
	captureCfg  capture.Config
	prober      video.Prober
	capturesDir string
	broker      *progress.Broker
	metrics     *metrics.Metrics
}

// NewVideoDetectionRunner wires a production DetectionRunner.
func NewVideoDetectionRunner(pool *detect.Pool, trackerCfg track.Config, captureCfg capture.Config, prober video.Prober, capturesDir string, broker *progress.Broker, m *metrics.Metrics) *videoDetectionRunner {
	return &videoDetectionRunner{
		pool:        pool,
		trackerCfg:  trackerCfg,
		captureCfg:  captureCfg,
		prober:      prober,
		capturesDir: capturesDir,
		broker:      broker,
		metrics:     m,
	}
}

func (r *videoDetectionRunner) Run(ctx context.Context, videoID, sourcePath string) ([]domain.Track, error) {
	info, err := r.prober.Probe(ctx, videoID, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("probing source video: %w", err)
	}

	reader, err := video.OpenFrameReader(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("opening source video: %w", err)
	}
	defer reader.Close()

	tracker := track.NewTracker(r.trackerCfg)
	defer tracker.Close()
	captureMgr := capture.NewManager(r.captureCfg)
	outputDir := filepath.Join(r.capturesDir, videoID)

	tracks := map[string]*domain.Track{}
	var processedFrames int64

	onBatch := func(frames []video.Frame, results []detect.FrameResult) error {
		defer func() {
			for _, f := range frames {
				f.Close()
			}
		}()

		for i, res := range results {
			frame := frames[i]
			reports := tracker.Update(res.Frame, res.Detections)

			for _, rep := range reports {
				rep.Box.Frame = res.Frame
				tr, ok := tracks[rep.TrackID]
				if !ok {
					tr = &domain.Track{ID: rep.TrackID, Type: rep.Type}
					tracks[rep.TrackID] = tr
					if r.metrics != nil {
						r.metrics.TracksBornOrKilled.WithLabelValues(string(rep.Type), "born").Inc()
					}
				}
				if err := tr.Append(rep.Box); err != nil {
					log.Log(videoID, "dropping out-of-order bbox", "track_id", rep.TrackID, "err", err.Error())
					continue
				}

				if cp, ok := captureMgr.Consider(videoID, rep.TrackID, rep.Type, frame.Mat, res.Frame, rep.Box, info.FPS, outputDir); ok {
					tr.Captures = append(tr.Captures, cp)
					if r.metrics != nil {
						r.metrics.CapturesWritten.WithLabelValues(string(rep.Type)).Inc()
					}
					if r.broker != nil {
						r.broker.Detection(videoID, rep.Type, res.Frame, rep.Box.Confidence)
					}
				}
			}
			processedFrames++
		}

		if r.broker != nil && info.FrameCount > 0 {
			r.broker.Progress(videoID, float64(processedFrames)/float64(info.FrameCount), int(processedFrames), int(info.FrameCount), "")
		}
		return nil
	}

	if err := r.pool.Run(ctx, videoID, reader, onBatch); err != nil {
		return nil, err
	}

	out := make([]domain.Track, 0, len(tracks))
	for _, tr := range tracks {
		out = append(out, *tr)
	}
	return out, nil
}
