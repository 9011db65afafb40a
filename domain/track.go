package domain

import "fmt"

// Track is a tagged identity owned exclusively by the Tracker during
// detection; once detection ends it is read-only. History is ordered
// by strictly increasing frame number.
type Track struct {
	ID            string
	Type          DetectionType
	History       []BoundingBox
	Captures      []Capture
	Age           int
	Hits          int
	// PlateLabelSource records whether a license_plate track came
	// from a plate-specialized model or the vehicle-detector proxy.
	// The tracker does not set it, and DetectionRecord does not carry
	// it, so it is empty on every track this repo produces.
	PlateLabelSource string
}

// Append adds a box to the track's history, enforcing the strictly
// increasing frame invariant.
func (t *Track) Append(b BoundingBox) error {
	if len(t.History) > 0 && b.Frame <= t.History[len(t.History)-1].Frame {
		return fmt.Errorf("track %s: out-of-order frame %d after %d", t.ID, b.Frame, t.History[len(t.History)-1].Frame)
	}
	t.History = append(t.History, b)
	t.Hits++
	return nil
}

func (t Track) FirstFrame() int64 {
	if len(t.History) == 0 {
		return 0
	}
	return t.History[0].Frame
}

func (t Track) LastFrame() int64 {
	if len(t.History) == 0 {
		return 0
	}
	return t.History[len(t.History)-1].Frame
}

func (t Track) AvgConfidence() float64 {
	if len(t.History) == 0 {
		return 0
	}
	var sum float64
	for _, b := range t.History {
		sum += b.Confidence
	}
	return sum / float64(len(t.History))
}

func (t Track) MaxConfidence() float64 {
	var max float64
	for _, b := range t.History {
		if b.Confidence > max {
			max = b.Confidence
		}
	}
	return max
}

// BestCapture returns the Capture with the highest-confidence bbox,
// and false if the track has no captures.
func (t Track) BestCapture() (Capture, bool) {
	if len(t.Captures) == 0 {
		return Capture{}, false
	}
	best := t.Captures[0]
	for _, c := range t.Captures[1:] {
		if c.BBox.Confidence > best.BBox.Confidence {
			best = c
		}
	}
	return best, true
}

// DurationSeconds returns the track's current span in seconds given
// the source frame rate.
func (t Track) DurationSeconds(fps float64) float64 {
	if fps <= 0 || len(t.History) == 0 {
		return 0
	}
	return float64(t.LastFrame()-t.FirstFrame()) / fps
}

// CaptureReason enumerates why a frame was captured for a track.
type CaptureReason string

const (
	ReasonInitial CaptureReason = "initial_stable"
	ReasonSpacing CaptureReason = "interval_elapsed"
)

// Capture is a single stored snapshot of a track at a frame. The
// image file is owned by the filesystem under
// captures/<video_id>/track_<tid>/ and is referenced by exactly one
// Track.
type Capture struct {
	Frame            int64
	ImagePath         string
	AnnotatedPath     string
	BBox              BoundingBox
	Reason            CaptureReason
	TimestampSeconds  float64
}
