package detect

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/GabrielJuan349/occultashield/domain"
	"github.com/GabrielJuan349/occultashield/gpu"
	"github.com/GabrielJuan349/occultashield/metrics"
	"github.com/GabrielJuan349/occultashield/track"
	"github.com/GabrielJuan349/occultashield/video"
)

type fakeDetector struct {
	perFrame [][]track.Detection
	err      error
}

func (f fakeDetector) DetectBatch(ctx context.Context, frames []video.Frame, modelSize gpu.ModelSize) ([][]track.Detection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.perFrame, nil
}

func framesOf(n int) []video.Frame {
	out := make([]video.Frame, n)
	for i := range out {
		out[i] = video.Frame{Index: int64(i), Mat: gocv.NewMat()}
	}
	return out
}

func TestDetectBatchPairsDetectionsWithFrameIndex(t *testing.T) {
	frames := framesOf(2)
	det := fakeDetector{perFrame: [][]track.Detection{
		{{Type: domain.TypeFace, Box: domain.BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}},
		nil,
	}}
	p := NewPool(gpu.NoAccelerator{}, det, metrics.NewMetrics(prometheus.NewRegistry()))

	results, err := p.detectBatch(context.Background(), "v1", frames, gpu.ModelNano)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(0), results[0].Frame)
	assert.Len(t, results[0].Detections, 1)
	assert.Equal(t, int64(1), results[1].Frame)
	assert.Empty(t, results[1].Detections)
}

func TestDetectBatchErrorsOnFrameCountMismatch(t *testing.T) {
	frames := framesOf(3)
	det := fakeDetector{perFrame: [][]track.Detection{{}}}
	p := NewPool(gpu.NoAccelerator{}, det, metrics.NewMetrics(prometheus.NewRegistry()))

	_, err := p.detectBatch(context.Background(), "v1", frames, gpu.ModelNano)
	assert.Error(t, err)
}

func TestDetectBatchPropagatesDetectorError(t *testing.T) {
	frames := framesOf(1)
	det := fakeDetector{err: assert.AnError}
	p := NewPool(gpu.NoAccelerator{}, det, nil)

	_, err := p.detectBatch(context.Background(), "v1", frames, gpu.ModelNano)
	assert.ErrorIs(t, err, assert.AnError)
}
