package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GabrielJuan349/occultashield/domain"
)

const (
	tableVideo        = "video"
	tableDetection    = "detection"
	tableVerification = "gdpr_verification"
)

// VideoStore is the narrow persistence collaborator the pipeline
// orchestrator calls into: typed CRUD over the three record kinds it
// owns, built on top of the generic Conn contract from spec.md §6.
type VideoStore struct {
	conn Conn
}

// NewVideoStore wires a VideoStore to conn. Pass NewMemory() in tests,
// a real record-store driver in production.
func NewVideoStore(conn Conn) *VideoStore {
	return &VideoStore{conn: conn}
}

// CreateVideo persists a new video and returns its quoted record ID.
func (s *VideoStore) CreateVideo(ctx context.Context, v domain.Video) (string, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return s.conn.Create(ctx, tableVideo, videoToRecord(v))
}

// GetVideo fetches a video by its bare ID (no table: prefix required).
func (s *VideoStore) GetVideo(ctx context.Context, id string) (domain.Video, error) {
	rec, err := s.conn.Select(ctx, QuoteRecordID(tableVideo, id))
	if err != nil {
		return domain.Video{}, err
	}
	return recordToVideo(rec), nil
}

// UpdateVideo applies a partial patch to a video record, per the
// `db_conn.merge(db_video_id, {...})` contract the original pipeline
// uses for every lifecycle transition. Status transitions should go
// through SetStatus instead, so the editing/anonymizing name mapping
// is applied consistently.
func (s *VideoStore) UpdateVideo(ctx context.Context, id string, patch map[string]any) error {
	return s.conn.Merge(ctx, QuoteRecordID(tableVideo, id), patch)
}

// SetStatus transitions a video's persisted status, applying the
// editing/anonymizing name mapping (spec's open question: the DB
// schema's "editing" enum value and the SSE "anonymizing" event name
// refer to the same phase). errMsg is recorded alongside a transition
// to StatusError and left untouched otherwise.
func (s *VideoStore) SetStatus(ctx context.Context, id string, status domain.Status, errMsg string) error {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return err
	}
	if !v.CanTransitionTo(status) {
		return fmt.Errorf("store: illegal status transition %s -> %s for video %s", v.Status, status, id)
	}
	patch := map[string]any{"status": statusToDB(status)}
	if status == domain.StatusError {
		patch["error_message"] = errMsg
	}
	return s.conn.Merge(ctx, QuoteRecordID(tableVideo, id), patch)
}

// TrySetStatus atomically transitions a video from expected to status,
// reporting false without error if the video's current status is not
// expected. This is the compare-and-set spec.md §4.1's auto-start
// contract requires ("concurrent subscribes must serialize so only
// one launcher wins"); SetStatus alone is a plain write and cannot
// provide that guarantee.
func (s *VideoStore) TrySetStatus(ctx context.Context, id string, expected, status domain.Status) (bool, error) {
	return s.conn.CompareAndSwap(ctx, QuoteRecordID(tableVideo, id), "status", statusToDB(expected), statusToDB(status))
}

// statusToDB/statusFromDB map StatusAnonymizing to and from the
// persisted schema's historical "editing" enum value.
func statusToDB(s domain.Status) string {
	if s == domain.StatusAnonymizing {
		return s.DBName()
	}
	return string(s)
}

func statusFromDB(s string) domain.Status {
	if s == "editing" {
		return domain.StatusAnonymizing
	}
	return domain.Status(s)
}

// DeleteVideo removes a video record. Captures, detections and
// verifications referencing it are the caller's responsibility; the
// store itself does not cascade.
func (s *VideoStore) DeleteVideo(ctx context.Context, id string) error {
	return s.conn.Delete(ctx, QuoteRecordID(tableVideo, id))
}

// VideosByStatus lists every video currently in one of the given
// statuses, used by the orchestrator's crash-recovery sweep (videos
// stuck in processing/verifying/anonymizing get marked error on
// restart).
func (s *VideoStore) VideosByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.Video, error) {
	var out []domain.Video
	for _, status := range statuses {
		recs, err := s.conn.Query(ctx, "SELECT * FROM type::table($table) WHERE status = $value", map[string]any{
			"table": tableVideo,
			"field": "status",
			"value": statusToDB(status),
		})
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			out = append(out, recordToVideo(rec))
		}
	}
	return out, nil
}

// CreateDetection persists a DetectionRecord with a strongly-typed
// back-reference to its video, and returns its quoted record ID.
func (s *VideoStore) CreateDetection(ctx context.Context, rec domain.DetectionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return s.conn.Create(ctx, tableDetection, detectionToRecord(rec))
}

// GetDetection fetches a DetectionRecord by its quoted or bare record ID.
func (s *VideoStore) GetDetection(ctx context.Context, recordID string) (domain.DetectionRecord, error) {
	rec, err := s.conn.Select(ctx, qualify(tableDetection, recordID))
	if err != nil {
		return domain.DetectionRecord{}, err
	}
	return recordToDetection(rec), nil
}

// DetectionsByVideo lists every detection belonging to videoID, used
// to reconstruct anonymization actions in phase 2.
func (s *VideoStore) DetectionsByVideo(ctx context.Context, videoID string) ([]domain.DetectionRecord, error) {
	recs, err := s.conn.Query(ctx, "SELECT * FROM type::table($table) WHERE video_id = $value", map[string]any{
		"table": tableDetection,
		"field": "video_id",
		"value": QuoteRecordID(tableVideo, videoID),
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.DetectionRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordToDetection(rec))
	}
	return out, nil
}

// CreateVerification persists a VerificationRecord with a
// strongly-typed back-reference to its detection.
func (s *VideoStore) CreateVerification(ctx context.Context, rec domain.VerificationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return s.conn.Create(ctx, tableVerification, verificationToRecord(rec))
}

// GetVerification fetches a VerificationRecord by its quoted or bare record ID.
func (s *VideoStore) GetVerification(ctx context.Context, recordID string) (domain.VerificationRecord, error) {
	rec, err := s.conn.Select(ctx, qualify(tableVerification, recordID))
	if err != nil {
		return domain.VerificationRecord{}, err
	}
	return recordToVerification(rec), nil
}

// VerificationsByVideo lists every verification for videoID's
// detections, via a raw join query (detections for the video, then
// verifications per detection) since the fake Conn has no joins.
func (s *VideoStore) VerificationsByVideo(ctx context.Context, videoID string) ([]domain.VerificationRecord, error) {
	detections, err := s.DetectionsByVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	var out []domain.VerificationRecord
	for _, d := range detections {
		recs, err := s.conn.Query(ctx, "SELECT * FROM type::table($table) WHERE detection_id = $value", map[string]any{
			"table": tableVerification,
			"field": "detection_id",
			"value": QuoteRecordID(tableDetection, d.ID),
		})
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			out = append(out, recordToVerification(rec))
		}
	}
	return out, nil
}

// qualify adds the table prefix to a bare record ID if it isn't
// already table-qualified, so callers can pass either form.
func qualify(table, recordID string) string {
	for _, r := range recordID {
		if r == ':' {
			return recordID
		}
	}
	return QuoteRecordID(table, recordID)
}

func videoToRecord(v domain.Video) map[string]any {
	return map[string]any{
		"id":             v.ID,
		"owner_id":       v.OwnerID,
		"filename":       v.Filename,
		"original_path":  v.OriginalPath,
		"width":          v.Width,
		"height":         v.Height,
		"fps":            v.FPS,
		"frame_count":    v.FrameCount,
		"duration_ns":    int64(v.Duration),
		"status":         statusToDB(v.Status),
		"error_message":  v.ErrorMessage,
		"processed_path": v.ProcessedPath,
		"created_at":     v.CreatedAt,
		"updated_at":     v.UpdatedAt,
	}
}

func recordToVideo(rec map[string]any) domain.Video {
	return domain.Video{
		ID:            str(rec["id"]),
		OwnerID:       str(rec["owner_id"]),
		Filename:      str(rec["filename"]),
		OriginalPath:  str(rec["original_path"]),
		Width:         toInt(rec["width"]),
		Height:        toInt(rec["height"]),
		FPS:           toFloat(rec["fps"]),
		FrameCount:    int64(toInt(rec["frame_count"])),
		Duration:      time.Duration(toInt64(rec["duration_ns"])),
		Status:        statusFromDB(str(rec["status"])),
		ErrorMessage:  str(rec["error_message"]),
		ProcessedPath: str(rec["processed_path"]),
		CreatedAt:     toTime(rec["created_at"]),
		UpdatedAt:     toTime(rec["updated_at"]),
	}
}

func detectionToRecord(rec domain.DetectionRecord) map[string]any {
	return map[string]any{
		"id":             rec.ID,
		"video_id":       QuoteRecordID(tableVideo, rec.VideoID),
		"type":           string(rec.Type),
		"track_id":       rec.TrackID,
		"history":        rec.History,
		"captures":       rec.Captures,
		"avg_confidence": rec.AvgConfidence,
		"max_confidence": rec.MaxConfidence,
		"created_at":     rec.CreatedAt,
	}
}

func recordToDetection(rec map[string]any) domain.DetectionRecord {
	out := domain.DetectionRecord{
		ID:            str(rec["id"]),
		VideoID:       bareID(str(rec["video_id"])),
		Type:          domain.DetectionType(str(rec["type"])),
		TrackID:       str(rec["track_id"]),
		AvgConfidence: toFloat(rec["avg_confidence"]),
		MaxConfidence: toFloat(rec["max_confidence"]),
		CreatedAt:     toTime(rec["created_at"]),
	}
	if h, ok := rec["history"].([]domain.BoundingBox); ok {
		out.History = h
	}
	if c, ok := rec["captures"].([]domain.Capture); ok {
		out.Captures = c
	}
	return out
}

func verificationToRecord(rec domain.VerificationRecord) map[string]any {
	return map[string]any{
		"id":                 rec.ID,
		"detection_id":       QuoteRecordID(tableDetection, rec.DetectionID),
		"is_violation":       rec.IsViolation,
		"severity":           string(rec.Severity),
		"violated_articles":  rec.ViolatedArticles,
		"reasoning":          rec.Reasoning,
		"recommended_action": string(rec.RecommendedAction),
		"confidence":         rec.Confidence,
		"max_confidence":     rec.MaxConfidence,
		"vulnerability_type": rec.VulnerabilityType,
		"created_at":         rec.CreatedAt,
	}
}

func recordToVerification(rec map[string]any) domain.VerificationRecord {
	out := domain.VerificationRecord{
		ID:                str(rec["id"]),
		DetectionID:       bareID(str(rec["detection_id"])),
		IsViolation:       toBool(rec["is_violation"]),
		Severity:          domain.Severity(str(rec["severity"])),
		Reasoning:         str(rec["reasoning"]),
		RecommendedAction: domain.Action(str(rec["recommended_action"])),
		Confidence:        toFloat(rec["confidence"]),
		MaxConfidence:     toFloat(rec["max_confidence"]),
		VulnerabilityType: str(rec["vulnerability_type"]),
		CreatedAt:         toTime(rec["created_at"]),
	}
	if a, ok := rec["violated_articles"].([]int); ok {
		out.ViolatedArticles = a
	}
	return out
}

// SaveUserDecision upserts a reviewer's decision, keyed by its
// verification ID (one decision per verification).
func (s *VideoStore) SaveUserDecision(ctx context.Context, d domain.UserDecision) error {
	_, err := s.conn.Create(ctx, "user_decision", map[string]any{
		"id":                  d.VerificationID,
		"verification_id":     QuoteRecordID(tableVerification, d.VerificationID),
		"action":              string(d.Action),
		"confirmed_violation": d.ConfirmedViolation,
		"rejection_reason":    d.RejectionReason,
		"notes":               d.Notes,
		"user_id":             d.UserID,
	})
	return err
}

// GetUserDecision returns the reviewer's decision for a verification,
// and false if none was ever recorded (absence means "no action" per
// spec.md §3).
func (s *VideoStore) GetUserDecision(ctx context.Context, verificationID string) (domain.UserDecision, bool, error) {
	rec, err := s.conn.Select(ctx, QuoteRecordID("user_decision", verificationID))
	if err != nil {
		return domain.UserDecision{}, false, nil
	}
	return domain.UserDecision{
		VerificationID:     bareID(str(rec["verification_id"])),
		Action:             domain.Action(str(rec["action"])),
		ConfirmedViolation: toBool(rec["confirmed_violation"]),
		RejectionReason:    str(rec["rejection_reason"]),
		Notes:              str(rec["notes"]),
		UserID:             str(rec["user_id"]),
	}, true, nil
}

func bareID(recordID string) string {
	return BareID(recordID)
}

// BareID strips a "table:id" (or "table:`id`") record ID down to its
// bare id, the form callers use for in-struct back-references
// (DetectionRecord.VideoID, VerificationRecord.DetectionID, ...).
func BareID(recordID string) string {
	_, id, err := splitRecordID(recordID)
	if err != nil {
		return recordID
	}
	return id
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func toTime(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}
