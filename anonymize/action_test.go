package anonymize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GabrielJuan349/occultashield/domain"
)

func TestInterpolateFillsShortGap(t *testing.T) {
	a := Action{
		TrackID: "t1",
		BBoxes: map[int64]domain.BoundingBox{
			0: {X1: 0, Y1: 0, X2: 10, Y2: 10, Frame: 0},
			5: {X1: 50, Y1: 50, X2: 60, Y2: 60, Frame: 5},
		},
	}
	out := Interpolate([]Action{a}, 10)[0]

	assert.Len(t, out.BBoxes, 6)
	mid := out.BBoxes[2]
	assert.InDelta(t, 20, mid.X1, 0.01)
	assert.InDelta(t, 20, mid.Y1, 0.01)
}

func TestInterpolateLeavesLargeGapUntouched(t *testing.T) {
	a := Action{
		TrackID: "t1",
		BBoxes: map[int64]domain.BoundingBox{
			0:  {X1: 0, Y1: 0, X2: 10, Y2: 10, Frame: 0},
			20: {X1: 50, Y1: 50, X2: 60, Y2: 60, Frame: 20},
		},
	}
	out := Interpolate([]Action{a}, 10)[0]
	assert.Len(t, out.BBoxes, 2)
}

func TestInterpolateLeavesAdjacentFramesUntouched(t *testing.T) {
	a := Action{
		TrackID: "t1",
		BBoxes: map[int64]domain.BoundingBox{
			0: {X1: 0, Y1: 0, X2: 10, Y2: 10, Frame: 0},
			1: {X1: 5, Y1: 5, X2: 15, Y2: 15, Frame: 1},
		},
	}
	out := Interpolate([]Action{a}, 10)[0]
	assert.Len(t, out.BBoxes, 2)
}

func TestInterpolateNoOpWithFewerThanTwoFrames(t *testing.T) {
	a := Action{TrackID: "t1", BBoxes: map[int64]domain.BoundingBox{0: {Frame: 0}}}
	out := Interpolate([]Action{a}, 10)[0]
	assert.Len(t, out.BBoxes, 1)
}
