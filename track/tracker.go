// Package track implements the multi-object tracker: per-class Kalman
// filters predicting box motion, and Hungarian assignment matching
// predictions to each frame's detections.
package track

import (
	"fmt"
	"sort"

	"gocv.io/x/gocv"

	"github.com/GabrielJuan349/occultashield/domain"
)

// Config mirrors config.TrackingConfig without importing the config
// package, so the tracker stays usable from tests with ad-hoc values.
type Config struct {
	IoUThreshold      float64
	MaxAge            int
	MinHitsForConfirmed int
	VelocityDamping   float64
}

// Detection is one detector-pool output for a single frame.
type Detection struct {
	Type domain.DetectionType
	Box  domain.BoundingBox
}

// Report is what the tracker emits for the capture manager: every
// live track, each frame, regardless of whether it was matched this
// frame (spec §4.4 — reporting is not gated on confirmation).
type Report struct {
	TrackID string
	Type    domain.DetectionType
	Box     domain.BoundingBox
}

type liveTrack struct {
	id    string
	typ   domain.DetectionType
	kf    *gocv.KalmanFilter
	last  domain.BoundingBox
	first int64
	hits  int
	age   int
}

// Tracker maintains one Kalman filter per live track, grouped by
// detection type so faces, people and plates never compete for the
// same assignment problem.
type Tracker struct {
	cfg    Config
	tracks map[string]*liveTrack
	nextID int
}

func NewTracker(cfg Config) *Tracker {
	if cfg.IoUThreshold == 0 {
		cfg.IoUThreshold = 0.3
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 30
	}
	if cfg.VelocityDamping == 0 {
		cfg.VelocityDamping = 0.95
	}
	return &Tracker{cfg: cfg, tracks: map[string]*liveTrack{}}
}

// Update advances every live track's Kalman state, matches this
// frame's detections to predictions, updates matched tracks, creates
// tracks for unmatched detections, removes dead tracks, and reports
// every surviving track's current box.
func (t *Tracker) Update(frame int64, detections []Detection) []Report {
	for _, lt := range t.tracks {
		aged := lt.age >= 1
		lt.age++
		predictKalman(lt.kf, aged, t.cfg.VelocityDamping)
	}

	byType := map[domain.DetectionType][]Detection{}
	for _, d := range detections {
		byType[d.Type] = append(byType[d.Type], d)
	}

	types := map[domain.DetectionType]bool{}
	for typ := range byType {
		types[typ] = true
	}
	for _, lt := range t.tracks {
		types[lt.typ] = true
	}

	matchedIDs := map[string]bool{}
	for typ := range types {
		t.matchClass(typ, byType[typ], frame, matchedIDs)
	}

	return t.report()
}

func (t *Tracker) matchClass(typ domain.DetectionType, dets []Detection, frame int64, matchedIDs map[string]bool) {
	var active []*liveTrack
	for _, lt := range t.tracks {
		if lt.typ == typ {
			active = append(active, lt)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].id < active[j].id })

	if len(active) == 0 {
		for _, d := range dets {
			t.birth(typ, d.Box, frame)
		}
		return
	}
	if len(dets) == 0 {
		return
	}

	cost := make([][]float64, len(active))
	for i, lt := range active {
		pred := predictedBox(lt.kf, lt.last)
		cost[i] = make([]float64, len(dets))
		for j, d := range dets {
			iou := pred.IoU(d.Box)
			if iou >= t.cfg.IoUThreshold {
				cost[i][j] = 1.0 - iou
			} else {
				cost[i][j] = hungarianInf
			}
		}
	}

	assignment := HungarianAssign(cost)
	matchedDet := map[int]bool{}
	for i, col := range assignment {
		if col < 0 {
			continue
		}
		lt := active[i]
		meas := boxMeasurement(dets[col].Box)
		corrected := lt.kf.Correct(meas)
		corrected.Close()
		meas.Close()
		lt.last = dets[col].Box
		lt.hits++
		lt.age = 0
		matchedIDs[lt.id] = true
		matchedDet[col] = true
	}

	for j, d := range dets {
		if !matchedDet[j] {
			t.birth(typ, d.Box, frame)
		}
	}
}

func (t *Tracker) birth(typ domain.DetectionType, box domain.BoundingBox, frame int64) {
	t.nextID++
	id := fmt.Sprintf("%s-%d", typ, t.nextID)
	kf := newBoxKalman(box)
	t.tracks[id] = &liveTrack{id: id, typ: typ, kf: kf, last: box, first: frame, hits: 1}
}

func (t *Tracker) report() []Report {
	var dead []string
	var reports []Report
	for id, lt := range t.tracks {
		if lt.age > t.cfg.MaxAge {
			dead = append(dead, id)
			continue
		}
		reports = append(reports, Report{TrackID: lt.id, Type: lt.typ, Box: lt.last})
	}
	for _, id := range dead {
		t.tracks[id].kf.Close()
		delete(t.tracks, id)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].TrackID < reports[j].TrackID })
	return reports
}

// Close releases every live track's Kalman filter. Call once tracking
// is done for a video.
func (t *Tracker) Close() {
	for _, lt := range t.tracks {
		lt.kf.Close()
	}
	t.tracks = map[string]*liveTrack{}
}
