package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielJuan349/occultashield/domain"
)

func box(x1, y1, x2, y2, conf float64, frame int64) domain.BoundingBox {
	return domain.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2, Confidence: conf, Frame: frame}
}

func TestTrackerBirthsNewTrackOnFirstDetection(t *testing.T) {
	tr := NewTracker(Config{})
	defer tr.Close()

	reports := tr.Update(0, []Detection{{Type: domain.TypeFace, Box: box(0, 0, 50, 50, 0.9, 0)}})
	require.Len(t, reports, 1)
	assert.Equal(t, domain.TypeFace, reports[0].Type)
}

func TestTrackerMatchesConsistentMotionAcrossFrames(t *testing.T) {
	tr := NewTracker(Config{IoUThreshold: 0.3})
	defer tr.Close()

	r1 := tr.Update(0, []Detection{{Type: domain.TypeFace, Box: box(0, 0, 50, 50, 0.9, 0)}})
	require.Len(t, r1, 1)
	firstID := r1[0].TrackID

	r2 := tr.Update(1, []Detection{{Type: domain.TypeFace, Box: box(2, 2, 52, 52, 0.9, 1)}})
	require.Len(t, r2, 1)
	assert.Equal(t, firstID, r2[0].TrackID, "small motion should match the same track")
}

func TestTrackerBirthsSeparateTrackForDisjointBox(t *testing.T) {
	tr := NewTracker(Config{IoUThreshold: 0.3})
	defer tr.Close()

	tr.Update(0, []Detection{{Type: domain.TypeFace, Box: box(0, 0, 50, 50, 0.9, 0)}})
	r2 := tr.Update(1, []Detection{{Type: domain.TypeFace, Box: box(500, 500, 550, 550, 0.9, 1)}})
	// Disjoint box creates a second track; the first track is still
	// reported too (coasting, not yet past max_age).
	assert.Len(t, r2, 2)
}

func TestTrackerRemovesTrackPastMaxAge(t *testing.T) {
	tr := NewTracker(Config{IoUThreshold: 0.3, MaxAge: 1})
	defer tr.Close()

	tr.Update(0, []Detection{{Type: domain.TypeFace, Box: box(0, 0, 50, 50, 0.9, 0)}})
	tr.Update(1, nil)
	r3 := tr.Update(2, nil)
	assert.Empty(t, r3, "track should be dead after exceeding max_age with no detections")
}

func TestTrackerSeparatesClasses(t *testing.T) {
	tr := NewTracker(Config{})
	defer tr.Close()

	reports := tr.Update(0, []Detection{
		{Type: domain.TypeFace, Box: box(0, 0, 50, 50, 0.9, 0)},
		{Type: domain.TypePerson, Box: box(0, 0, 50, 50, 0.9, 0)},
	})
	assert.Len(t, reports, 2, "identical boxes of different classes never compete for the same track")
}
