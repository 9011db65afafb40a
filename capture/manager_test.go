package capture

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/GabrielJuan349/occultashield/domain"
)

func TestQuotaByDuration(t *testing.T) {
	cases := []struct {
		d    float64
		want int
	}{
		{0, 1}, {1.9, 1},
		{2, 2}, {3.9, 2},
		{4, 3}, {5.9, 3},
		{6, 3}, {8, 4}, {12, 6}, {100, 6},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Quota(c.d), "d=%v", c.d)
	}
}

func TestConsiderRequiresStabilityFrames(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(Config{StabilityFrames: 3, StabilityThreshold: 0.5, CaptureIntervalSec: 1.0})

	frame := gocv.NewMatWithSize(200, 200, gocv.MatTypeCV8UC3)
	defer frame.Close()

	bbox := domain.BoundingBox{X1: 50, Y1: 50, X2: 100, Y2: 100, Confidence: 0.9}

	// First two stable frames: not yet captured.
	_, ok := m.Consider("v1", "t1", domain.TypeFace, frame, 0, bbox, 30, dir)
	assert.False(t, ok)
	_, ok = m.Consider("v1", "t1", domain.TypeFace, frame, 1, bbox, 30, dir)
	assert.False(t, ok)

	// Third stable frame crosses the stability_frames threshold.
	cap, ok := m.Consider("v1", "t1", domain.TypeFace, frame, 2, bbox, 30, dir)
	require.True(t, ok)
	assert.Equal(t, domain.ReasonInitial, cap.Reason)
	_, err := os.Stat(cap.ImagePath)
	assert.NoError(t, err)
	_, err = os.Stat(cap.AnnotatedPath)
	assert.NoError(t, err)
}

func TestConsiderRespectsSpacing(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(Config{StabilityFrames: 1, CaptureIntervalSec: 1.0})
	frame := gocv.NewMatWithSize(200, 200, gocv.MatTypeCV8UC3)
	defer frame.Close()
	bbox := domain.BoundingBox{X1: 50, Y1: 50, X2: 100, Y2: 100, Confidence: 0.9}

	_, ok := m.Consider("v1", "t1", domain.TypeFace, frame, 0, bbox, 30, dir)
	require.True(t, ok)

	// 10 frames later at 30fps is 1/3s, well under the 1s interval.
	_, ok = m.Consider("v1", "t1", domain.TypeFace, frame, 10, bbox, 30, dir)
	assert.False(t, ok)
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 0, clampInt(-5, 0, 100))
	assert.Equal(t, 100, clampInt(150, 0, 100))
	assert.Equal(t, 50, clampInt(50, 0, 100))
}
