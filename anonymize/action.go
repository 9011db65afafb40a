// Package anonymize renders the final video: a pre-pass fills short
// tracking gaps, a main pass applies one pixel effect per marked
// track per frame, and a finalize step strips source metadata via an
// external remuxer.
package anonymize

import (
	"sort"

	"github.com/GabrielJuan349/occultashield/domain"
)

// Action is one track's anonymization instruction: the effect to
// apply and the per-frame geometry to apply it to.
type Action struct {
	TrackID string
	Type    domain.Action // ActionBlur, ActionPixelate or ActionMask
	BBoxes  map[int64]domain.BoundingBox
	// Masks holds a rasterizable polygon per frame, when the
	// detection came from a segmentation model. Absent frames fall
	// back to the bbox rectangle.
	Masks map[int64][]float64
}

func (a Action) sortedFrames() []int64 {
	frames := make([]int64, 0, len(a.BBoxes))
	for f := range a.BBoxes {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
	return frames
}

// Interpolate fills any gap (f1, f2) with 1 < f2-f1 <= maxGap by
// linearly interpolating a bbox for each intervening frame. Gaps
// larger than maxGap are left alone: that span is treated as a
// legitimate track disappearance, not a tracking failure, per
// spec.md §4.10.
func Interpolate(actions []Action, maxGap int) []Action {
	out := make([]Action, len(actions))
	for i, a := range actions {
		out[i] = interpolateOne(a, maxGap)
	}
	return out
}

func interpolateOne(a Action, maxGap int) Action {
	frames := a.sortedFrames()
	if len(frames) < 2 {
		return a
	}

	filled := make(map[int64]domain.BoundingBox, len(a.BBoxes))
	for f, b := range a.BBoxes {
		filled[f] = b
	}

	for i := 0; i+1 < len(frames); i++ {
		f1, f2 := frames[i], frames[i+1]
		gap := f2 - f1
		if gap <= 1 || gap > int64(maxGap) {
			continue
		}
		b1, b2 := a.BBoxes[f1], a.BBoxes[f2]
		for f := f1 + 1; f < f2; f++ {
			t := float64(f-f1) / float64(gap)
			filled[f] = lerpBox(b1, b2, t, f)
		}
	}

	a.BBoxes = filled
	return a
}

func lerpBox(b1, b2 domain.BoundingBox, t float64, frame int64) domain.BoundingBox {
	lerp := func(x1, x2 float64) float64 { return x1 + (x2-x1)*t }
	return domain.BoundingBox{
		X1:         lerp(b1.X1, b2.X1),
		Y1:         lerp(b1.Y1, b2.Y1),
		X2:         lerp(b1.X2, b2.X2),
		Y2:         lerp(b1.Y2, b2.Y2),
		Confidence: lerp(b1.Confidence, b2.Confidence),
		Frame:      frame,
	}
}
