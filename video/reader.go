package video

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// FrameReader decodes frames from a source video in order. It wraps
// gocv.VideoCapture with a mutex so concurrent ReadBatch calls on one
// reader never interleave on the underlying capture handle. The
// detector pool and the anonymizer each read through their own
// reader; the capture manager receives frames from the detector pool
// rather than reading them.
type FrameReader struct {
	mu      sync.Mutex
	cap     *gocv.VideoCapture
	frame   int64
	width   int
	height  int
	fps     float64
}

// OpenFrameReader opens path for sequential frame decoding.
func OpenFrameReader(path string) (*FrameReader, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &FrameReader{
		cap:    cap,
		width:  int(cap.Get(gocv.VideoCaptureFrameWidth)),
		height: int(cap.Get(gocv.VideoCaptureFrameHeight)),
		fps:    cap.Get(gocv.VideoCaptureFPS),
	}, nil
}

func (r *FrameReader) Width() int      { return r.width }
func (r *FrameReader) Height() int     { return r.height }
func (r *FrameReader) FPS() float64    { return r.fps }
func (r *FrameReader) Close() error    { return r.cap.Close() }

// ReadBatch decodes up to n sequential frames, returning fewer if the
// stream ends. The returned frame indices are strictly increasing and
// contiguous, satisfying the detector pool's "detection is monotonic
// in frame number" contract (spec §4.3). Callers own the returned
// Mats and must Close() each one.
func (r *FrameReader) ReadBatch(n int) ([]Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		mat := gocv.NewMat()
		ok := r.cap.Read(&mat)
		if !ok || mat.Empty() {
			mat.Close()
			break
		}
		frames = append(frames, Frame{Index: r.frame, Mat: mat})
		r.frame++
	}
	return frames, nil
}

// Frame is one decoded video frame with its source-order index.
type Frame struct {
	Index int64
	Mat   gocv.Mat
}

func (f Frame) Close() error { return f.Mat.Close() }
