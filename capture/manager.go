// Package capture decides, per track and frame, whether to snapshot a
// clean crop and an annotated crop to disk, gated by stability,
// temporal spacing and a per-track quota.
package capture

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/GabrielJuan349/occultashield/domain"
	"github.com/GabrielJuan349/occultashield/log"
)

// Config mirrors config.ProcessingConfig's capture-relevant fields.
type Config struct {
	StabilityThreshold float64
	StabilityFrames    int
	CaptureIntervalSec float64
	MarginPx           int
	JPEGQuality        int
}

func (c Config) withDefaults() Config {
	if c.StabilityThreshold == 0 {
		c.StabilityThreshold = 0.5
	}
	if c.StabilityFrames == 0 {
		c.StabilityFrames = 3
	}
	if c.CaptureIntervalSec == 0 {
		c.CaptureIntervalSec = 1.0
	}
	if c.MarginPx == 0 {
		c.MarginPx = 20
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = 95
	}
	return c
}

type trackState struct {
	stableCount      int
	lastCaptureTime  float64
	capturesSoFar    int
	firstSeenSeconds float64
}

// Manager holds per-track stability/spacing/quota state across the
// life of one video's detection phase. Not safe for concurrent use by
// multiple goroutines on the same track.
type Manager struct {
	cfg   Config
	state map[string]*trackState
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults(), state: map[string]*trackState{}}
}

// Quota returns the maximum number of captures allowed for a track of
// duration d seconds, per spec.md §4.5.
func Quota(d float64) int {
	switch {
	case d < 2:
		return 1
	case d < 4:
		return 2
	case d < 6:
		return 3
	default:
		q := int(math.Floor(d / 2))
		if q > 6 {
			q = 6
		}
		return q
	}
}

// Consider evaluates whether trackID should be captured at this frame.
// frame is the full decoded frame Mat (not closed by this call); fps
// and videoID are used for timestamping and logging. Returns the
// Capture record (with paths populated) and true if a capture was
// written, or false if the policy declined (not an error: skipped
// silently per spec.md §4.5).
func (m *Manager) Consider(
	videoID, trackID string, typ domain.DetectionType,
	frame gocv.Mat, frameNum int64, bbox domain.BoundingBox,
	fps float64, outputDir string,
) (domain.Capture, bool) {
	st, ok := m.state[trackID]
	if !ok {
		st = &trackState{lastCaptureTime: -999, firstSeenSeconds: float64(frameNum) / fps}
		m.state[trackID] = st
	}

	if bbox.Confidence >= m.cfg.StabilityThreshold {
		st.stableCount++
	} else {
		st.stableCount = 0
	}
	if st.stableCount < m.cfg.StabilityFrames {
		return domain.Capture{}, false
	}

	timestamp := float64(frameNum) / fps
	if timestamp-st.lastCaptureTime < m.cfg.CaptureIntervalSec {
		return domain.Capture{}, false
	}

	duration := timestamp - st.firstSeenSeconds
	if st.capturesSoFar >= Quota(duration) {
		return domain.Capture{}, false
	}

	reason := domain.ReasonSpacing
	if st.capturesSoFar == 0 {
		reason = domain.ReasonInitial
	}

	cap, err := m.save(videoID, trackID, typ, frame, frameNum, bbox, timestamp, outputDir)
	if err != nil {
		log.Log(videoID, "capture skipped", "track_id", trackID, "frame", frameNum, "err", err.Error())
		return domain.Capture{}, false
	}
	cap.Reason = reason

	st.lastCaptureTime = timestamp
	st.capturesSoFar++
	return cap, true
}

func (m *Manager) save(
	videoID, trackID string, typ domain.DetectionType,
	frame gocv.Mat, frameNum int64, bbox domain.BoundingBox,
	timestamp float64, outputDir string,
) (domain.Capture, error) {
	trackDir := filepath.Join(outputDir, fmt.Sprintf("track_%s", trackID))
	if err := os.MkdirAll(trackDir, 0o755); err != nil {
		return domain.Capture{}, fmt.Errorf("creating capture directory: %w", err)
	}

	h, w := frame.Rows(), frame.Cols()
	x1 := clampInt(int(bbox.X1)-m.cfg.MarginPx, 0, w)
	y1 := clampInt(int(bbox.Y1)-m.cfg.MarginPx, 0, h)
	x2 := clampInt(int(bbox.X2)+m.cfg.MarginPx, 0, w)
	y2 := clampInt(int(bbox.Y2)+m.cfg.MarginPx, 0, h)
	if x2 <= x1 || y2 <= y1 {
		return domain.Capture{}, fmt.Errorf("empty crop after clipping")
	}

	roi := frame.Region(rect(x1, y1, x2, y2))
	defer roi.Close()
	if roi.Empty() {
		return domain.Capture{}, fmt.Errorf("empty crop region")
	}

	clean := filepath.Join(trackDir, fmt.Sprintf("capture_%d.jpg", frameNum))
	annotated := filepath.Join(trackDir, fmt.Sprintf("capture_%d_bbox.jpg", frameNum))

	if err := writeJPEG(clean, roi, m.cfg.JPEGQuality); err != nil {
		return domain.Capture{}, err
	}

	annotatedMat := roi.Clone()
	defer annotatedMat.Close()
	drawAnnotation(annotatedMat, typ, bbox.Confidence)
	if err := writeJPEG(annotated, annotatedMat, m.cfg.JPEGQuality); err != nil {
		return domain.Capture{}, err
	}

	return domain.Capture{
		Frame:            frameNum,
		ImagePath:        clean,
		AnnotatedPath:    annotated,
		BBox:             bbox,
		TimestampSeconds: timestamp,
	}, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
