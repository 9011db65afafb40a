package domain

// Minimum area in pixels² below which a detection is discarded at
// source, per detection type.
const (
	MinAreaFace  = 200
	MinAreaOther = 500
)

// DetectionType enumerates the classes the detector pool and tracker
// reason about.
type DetectionType string

const (
	TypeFace         DetectionType = "face"
	TypePerson       DetectionType = "person"
	TypeLicensePlate DetectionType = "license_plate"
	TypeFingerprint  DetectionType = "fingerprint"
	TypeIDDocument   DetectionType = "id_document"
	TypeCreditCard   DetectionType = "credit_card"
	TypeHandBiometric DetectionType = "hand_biometric"
	TypeSignature    DetectionType = "signature"
	TypeUnknown      DetectionType = "unknown"
	TypeHand         DetectionType = "hand"
	TypeHandCrop     DetectionType = "hand_crop"
)

// Ambiguous reports whether t is one of the types that re-label via a
// Witness classification sub-call before verdict dispatch (spec §4.7).
func (t DetectionType) Ambiguous() bool {
	switch t {
	case TypeUnknown, TypeHand, TypeHandCrop:
		return true
	}
	return false
}

// BoundingBox is an axis-aligned box with x2>x1, y2>y1, an optional
// polygon mask when a segmentation model produced one, and a source
// frame index.
type BoundingBox struct {
	X1, Y1, X2, Y2 float64
	Confidence     float64
	Frame          int64
	// Polygon is a flat [x,y,x,y,...] list, nil when no segmentation
	// mask was produced.
	Polygon []float64
}

func (b BoundingBox) Width() float64  { return b.X2 - b.X1 }
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }
func (b BoundingBox) Area() float64   { return b.Width() * b.Height() }

// Valid checks the box invariants and the minimum-area rule for its
// detection type.
func (b BoundingBox) Valid(t DetectionType) bool {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return false
	}
	if b.Confidence < 0 || b.Confidence > 1 {
		return false
	}
	minArea := float64(MinAreaOther)
	if t == TypeFace {
		minArea = MinAreaFace
	}
	return b.Area() >= minArea
}

// IoU computes the intersection-over-union of two boxes, used by the
// tracker's assignment cost matrix.
func (b BoundingBox) IoU(o BoundingBox) float64 {
	ix1, iy1 := max(b.X1, o.X1), max(b.Y1, o.Y1)
	ix2, iy2 := min(b.X2, o.X2), min(b.Y2, o.Y2)
	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
