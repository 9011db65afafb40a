package track

import (
	"gocv.io/x/gocv"

	"github.com/GabrielJuan349/occultashield/domain"
)

// newBoxKalman builds an 8-state (x1,y1,x2,y2,vx1,vy1,vx2,vy2) / 4-
// measurement Kalman filter seeded at box, matching the Python
// prototype's cv2.KalmanFilter(8, 4) constant-velocity model.
func newBoxKalman(box domain.BoundingBox) *gocv.KalmanFilter {
	kf := gocv.NewKalmanFilter(8, 4)

	measurement := matFromRows([][]float32{
		{1, 0, 0, 0, 0, 0, 0, 0},
		{0, 1, 0, 0, 0, 0, 0, 0},
		{0, 0, 1, 0, 0, 0, 0, 0},
		{0, 0, 0, 1, 0, 0, 0, 0},
	})
	defer measurement.Close()
	kf.SetMeasurementMatrix(measurement)

	transition := matFromRows([][]float32{
		{1, 0, 0, 0, 1, 0, 0, 0},
		{0, 1, 0, 0, 0, 1, 0, 0},
		{0, 0, 1, 0, 0, 0, 1, 0},
		{0, 0, 0, 1, 0, 0, 0, 1},
		{0, 0, 0, 0, 1, 0, 0, 0},
		{0, 0, 0, 0, 0, 1, 0, 0},
		{0, 0, 0, 0, 0, 0, 1, 0},
		{0, 0, 0, 0, 0, 0, 0, 1},
	})
	defer transition.Close()
	kf.SetTransitionMatrix(transition)

	processNoise := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV32F)
	defer processNoise.Close()
	for i := 0; i < 8; i++ {
		processNoise.SetFloatAt(i, i, 0.03)
	}
	kf.SetProcessNoiseCov(processNoise)

	measurementNoise := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV32F)
	defer measurementNoise.Close()
	for i := 0; i < 4; i++ {
		measurementNoise.SetFloatAt(i, i, 0.1)
	}
	kf.SetMeasurementNoiseCov(measurementNoise)

	state := matFromRows([][]float32{
		{float32(box.X1)}, {float32(box.Y1)}, {float32(box.X2)}, {float32(box.Y2)},
		{0}, {0}, {0}, {0},
	})
	defer state.Close()
	kf.SetStatePost(state)

	return &kf
}

func matFromRows(rows [][]float32) gocv.Mat {
	m := gocv.NewMatWithSize(len(rows), len(rows[0]), gocv.MatTypeCV32F)
	for i, row := range rows {
		for j, v := range row {
			m.SetFloatAt(i, j, v)
		}
	}
	return m
}

// predictKalman advances kf one step. When the track has aged (missed
// at least one frame), velocity components are damped first so a
// coasting track doesn't keep drifting at full speed.
func predictKalman(kf *gocv.KalmanFilter, aged bool, damping float64) {
	if aged {
		post := kf.GetStatePost()
		for i := 4; i < 8; i++ {
			post.SetFloatAt(i, 0, post.GetFloatAt(i, 0)*float32(damping))
		}
		kf.SetStatePost(post)
		post.Close()
	}
	pred := kf.Predict()
	defer pred.Close()
}

// predictedBox reads the pre-measurement state for use as the
// tracker's matching target this frame.
func predictedBox(kf *gocv.KalmanFilter, last domain.BoundingBox) domain.BoundingBox {
	pre := kf.GetStatePre()
	defer pre.Close()
	x1, y1 := float64(pre.GetFloatAt(0, 0)), float64(pre.GetFloatAt(1, 0))
	x2, y2 := float64(pre.GetFloatAt(2, 0)), float64(pre.GetFloatAt(3, 0))
	if x2 < x1 {
		x2 = x1 + 1
	}
	if y2 < y1 {
		y2 = y1 + 1
	}
	return domain.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2, Confidence: last.Confidence, Frame: last.Frame + 1}
}

func boxMeasurement(box domain.BoundingBox) gocv.Mat {
	return matFromRows([][]float32{
		{float32(box.X1)}, {float32(box.Y1)}, {float32(box.X2)}, {float32(box.Y2)},
	})
}
