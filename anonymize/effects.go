package anonymize

import (
	"hash/fnv"
	"image"
	"image/color"
	"math/rand"

	"gocv.io/x/gocv"

	"github.com/GabrielJuan349/occultashield/domain"
)

// blurKernel/blurSigma are the Gaussian blur's fixed strength. The
// spec leaves sigma "configurable" but no config section names it, so
// OccultaShield ships one conservative default rather than inventing
// a config field with no caller.
const (
	blurKernel = 31
	blurSigma  = 15.0
)

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// boxRegion clips a bbox to the frame bounds and returns its
// image.Rectangle, safe to pass to Mat.Region.
func boxRegion(b domain.BoundingBox, frameW, frameH int) image.Rectangle {
	x1 := clampInt(int(b.X1), 0, frameW)
	y1 := clampInt(int(b.Y1), 0, frameH)
	x2 := clampInt(int(b.X2), 0, frameW)
	y2 := clampInt(int(b.Y2), 0, frameH)
	return image.Rect(x1, y1, x2, y2)
}

// rasterizeMask rasterizes a flat [x,y,x,y,...] polygon, in the
// frame's coordinate system, into a single-channel 0/255 mask sized
// to region and offset into region-local coordinates.
func rasterizeMask(polygon []float64, region image.Rectangle) gocv.Mat {
	mask := gocv.NewMatWithSize(region.Dy(), region.Dx(), gocv.MatTypeCV8UC1)
	if len(polygon) < 6 {
		return mask
	}
	pts := make([]image.Point, 0, len(polygon)/2)
	for i := 0; i+1 < len(polygon); i += 2 {
		pts = append(pts, image.Pt(int(polygon[i])-region.Min.X, int(polygon[i+1])-region.Min.Y))
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()
	gocv.FillPoly(&mask, pv, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	return mask
}

// blendInto composites effected over roi using mask as an alpha
// channel, or fully overwrites roi when mask is the zero Mat (no
// polygon supplied for this detection).
func blendInto(roi, effected, mask gocv.Mat) {
	if mask.Empty() {
		effected.CopyTo(&roi)
		return
	}
	rows, cols, ch := roi.Rows(), roi.Cols(), roi.Channels()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m := float64(mask.GetUCharAt(r, c)) / 255.0
			for k := 0; k < ch; k++ {
				orig := float64(roi.GetUCharAt(r, c*ch+k))
				eff := float64(effected.GetUCharAt(r, c*ch+k))
				roi.SetUCharAt(r, c*ch+k, uint8(orig*(1-m)+eff*m))
			}
		}
	}
}

// applyBlur Gaussian-blurs region in place, blending through mask
// when supplied.
func applyBlur(frame gocv.Mat, region image.Rectangle, mask gocv.Mat) {
	roi := frame.Region(region)
	defer roi.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(roi, &blurred, image.Pt(blurKernel, blurKernel), blurSigma, blurSigma, gocv.BorderDefault)

	blendInto(roi, blurred, mask)
}

// applyPixelate downsamples region to blocks x blocks, adds a noise
// tensor derived deterministically from (trackID, blocks) so the
// pattern is stable across every frame of the same track (a changing
// pattern would betray the effect under frame-to-frame comparison),
// then upsamples nearest-neighbor.
func applyPixelate(frame gocv.Mat, region image.Rectangle, blocks int, trackID string, mask gocv.Mat) {
	if blocks <= 0 {
		blocks = 10
	}
	roi := frame.Region(region)
	defer roi.Close()

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(roi, &small, image.Pt(blocks, blocks), 0, 0, gocv.InterpolationLinear)
	addStableNoise(small, trackID, blocks)

	pixelated := gocv.NewMat()
	defer pixelated.Close()
	gocv.Resize(small, &pixelated, image.Pt(roi.Cols(), roi.Rows()), 0, 0, gocv.InterpolationNearestNeighbor)

	blendInto(roi, pixelated, mask)
}

func addStableNoise(m gocv.Mat, trackID string, blocks int) {
	rng := rand.New(rand.NewSource(noiseSeed(trackID, blocks)))
	rows, cols, ch := m.Rows(), m.Cols(), m.Channels()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			for k := 0; k < ch; k++ {
				v := int(m.GetUCharAt(r, c*ch+k)) + rng.Intn(21) - 10
				m.SetUCharAt(r, c*ch+k, uint8(clampInt(v, 0, 255)))
			}
		}
	}
}

func noiseSeed(trackID string, blocks int) int64 {
	h := fnv.New64a()
	h.Write([]byte(trackID))
	h.Write([]byte{byte(blocks)})
	return int64(h.Sum64())
}

// applyScramble deterministically permutes region's pixels under a
// PRNG seeded by seed. No mask blending: a scrambled region fully
// replaces the original, per spec.md §4.10.
func applyScramble(frame gocv.Mat, region image.Rectangle, seed int64) {
	roi := frame.Region(region)
	defer roi.Close()
	rows, cols, ch := roi.Rows(), roi.Cols(), roi.Channels()
	n := rows * cols
	if n == 0 {
		return
	}

	original := make([]uint8, n*ch)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			for k := 0; k < ch; k++ {
				original[(r*cols+c)*ch+k] = roi.GetUCharAt(r, c*ch+k)
			}
		}
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	rand.New(rand.NewSource(seed)).Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dst := r*cols + c
			src := perm[dst]
			for k := 0; k < ch; k++ {
				roi.SetUCharAt(r, c*ch+k, original[src*ch+k])
			}
		}
	}
}
