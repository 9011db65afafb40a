// Package pipeline is the orchestrator (spec.md §4.1, SPEC_FULL.md
// component K): the staged state machine that drives one video from
// upload through detection, verification, human review and
// anonymization, persisting every transition and fanning progress out
// through the broker. Grounded on
// `_examples/original_source/backend/app/services/video_processor.py`'s
// VideoProcessor (start_pipeline/apply_decisions, the zero-detection
// and zero-violation review shortcuts, and the crash-recovery sweep)
// and on the teacher's `pipeline.Coordinator` shape: a narrow set of
// injected collaborator interfaces so tests exercise the state machine
// with fakes instead of real video files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GabrielJuan349/occultashield/anonymize"
	"github.com/GabrielJuan349/occultashield/domain"
	"github.com/GabrielJuan349/occultashield/log"
	"github.com/GabrielJuan349/occultashield/metrics"
	"github.com/GabrielJuan349/occultashield/pipelineerr"
	"github.com/GabrielJuan349/occultashield/progress"
	"github.com/GabrielJuan349/occultashield/store"
	"github.com/GabrielJuan349/occultashield/verify"
)

// DetectionRunner runs the detect→track→capture pipeline over a
// video's source file and returns every track it found. Implemented
// by videoDetectionRunner in production; fakes in tests avoid needing
// a real video file on disk.
type DetectionRunner interface {
	Run(ctx context.Context, videoID, sourcePath string) ([]domain.Track, error)
}

// Verifier dispatches per-track verification. *verify.Dispatcher
// satisfies this directly.
type Verifier interface {
	Verify(ctx context.Context, videoID string, tracks []domain.Track) []verify.Result
}

// Anonymizer renders the final video. *anonymize.Anonymizer satisfies
// this directly.
type Anonymizer interface {
	Run(ctx context.Context, videoID, sourcePath, rawOutputPath, finalOutputPath string, actions []anonymize.Action, meta anonymize.FinalizeMetadata) error
}

// Config controls directory layout and phase-1's deadline.
type Config struct {
	CapturesDir   string
	ProcessedDir  string
	Phase1Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Phase1Timeout <= 0 {
		c.Phase1Timeout = time.Hour
	}
	return c
}

// Orchestrator is the pipeline's single state machine. One instance
// serves every video; per-video serialization comes from each video's
// own status field (a CAS from pending is the only concurrent entry
// point), not from any lock here.
type Orchestrator struct {
	cfg Config

	store      *store.VideoStore
	broker     *progress.Broker
	detector   DetectionRunner
	verifier   Verifier
	anonymizer Anonymizer
	metrics    *metrics.Metrics
}

// NewOrchestrator wires an Orchestrator. metrics may be nil in tests
// that don't care about instrumentation.
func NewOrchestrator(cfg Config, videoStore *store.VideoStore, broker *progress.Broker, detector DetectionRunner, verifier Verifier, anonymizer Anonymizer, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		store:      videoStore,
		broker:     broker,
		detector:   detector,
		verifier:   verifier,
		anonymizer: anonymizer,
		metrics:    m,
	}
}

// Start runs phase 1 for videoID: detection, persistence of
// detections, verification, persistence of verifications, then either
// a shortcut straight to anonymization (zero detections or zero
// violations, per spec.md §4.1) or a pause at waiting_for_review. It
// is idempotent: called on a video that isn't pending (already
// running, or past phase 1), it returns immediately without error,
// satisfying the auto-start contract's "subsequent subscribers observe
// the already-running job".
func (o *Orchestrator) Start(ctx context.Context, videoID string) error {
	v, err := o.store.GetVideo(ctx, videoID)
	if err != nil {
		return pipelineerr.Invalid("VIDEO_NOT_FOUND", "video not found", err).WithDetail(videoID)
	}
	if v.Status != domain.StatusPending {
		return nil
	}
	won, err := o.store.TrySetStatus(ctx, videoID, domain.StatusPending, domain.StatusProcessing)
	if err != nil {
		return pipelineerr.Dependency("STORE_WRITE_FAILED", "transitioning to processing", err)
	}
	if !won {
		// Another subscriber's CAS won the race; that call launches
		// phase 1, this one just observes the already-running job.
		return nil
	}
	v.Status = domain.StatusProcessing

	o.broker.Register(videoID)
	o.broker.PhaseChange(videoID, domain.PhaseDetecting, "starting detection")
	if o.metrics != nil {
		o.metrics.JobsInFlight.Inc()
		defer o.metrics.JobsInFlight.Dec()
	}

	phaseCtx, cancel := context.WithTimeout(ctx, o.cfg.Phase1Timeout)
	defer cancel()

	detectStart := time.Now()
	tracks, err := o.detector.Run(phaseCtx, videoID, v.OriginalPath)
	if o.metrics != nil {
		o.metrics.PhaseDurationSec.WithLabelValues("detect").Observe(time.Since(detectStart).Seconds())
	}
	if err != nil {
		o.cleanupCaptures(videoID)
		return o.markError(ctx, videoID, classifyPhaseError(phaseCtx, "DETECTION_FAILED", "detection phase failed", err))
	}

	detByTrack, err := o.persistTracks(ctx, videoID, tracks)
	if err != nil {
		o.cleanupCaptures(videoID)
		return o.markError(ctx, videoID, pipelineerr.Dependency("STORE_WRITE_FAILED", "persisting detections", err))
	}
	if err := o.store.SetStatus(ctx, videoID, domain.StatusDetected, ""); err != nil {
		o.cleanupCaptures(videoID)
		return o.markError(ctx, videoID, pipelineerr.Dependency("STORE_WRITE_FAILED", "marking detected", err))
	}

	if len(tracks) == 0 {
		log.Log(videoID, "zero detections, skipping review")
		if err := o.anonymizeAndComplete(ctx, videoID, v, nil); err != nil {
			o.cleanupCaptures(videoID)
			return o.markError(ctx, videoID, pipelineerr.Internal("ANONYMIZE_FAILED", "anonymization failed", err))
		}
		return nil
	}

	if err := o.store.SetStatus(ctx, videoID, domain.StatusVerifying, ""); err != nil {
		o.cleanupCaptures(videoID)
		return o.markError(ctx, videoID, pipelineerr.Dependency("STORE_WRITE_FAILED", "marking verifying", err))
	}
	o.broker.PhaseChange(videoID, domain.PhaseVerifying, "verifying detections")
	o.broker.SetVerificationTotal(videoID, len(tracks))

	verifyStart := time.Now()
	results := o.verifier.Verify(phaseCtx, videoID, tracks)
	if o.metrics != nil {
		o.metrics.PhaseDurationSec.WithLabelValues("verify").Observe(time.Since(verifyStart).Seconds())
	}

	if err := o.persistVerifications(ctx, detByTrack, results); err != nil {
		o.cleanupCaptures(videoID)
		return o.markError(ctx, videoID, pipelineerr.Dependency("STORE_WRITE_FAILED", "persisting verifications", err))
	}
	if err := o.store.SetStatus(ctx, videoID, domain.StatusVerified, ""); err != nil {
		o.cleanupCaptures(videoID)
		return o.markError(ctx, videoID, pipelineerr.Dependency("STORE_WRITE_FAILED", "marking verified", err))
	}

	violations := 0
	for _, r := range results {
		if r.Record.IsViolation {
			violations++
		}
	}
	if violations == 0 {
		log.Log(videoID, "zero violations, skipping review")
		if err := o.anonymizeAndComplete(ctx, videoID, v, nil); err != nil {
			o.cleanupCaptures(videoID)
			return o.markError(ctx, videoID, pipelineerr.Internal("ANONYMIZE_FAILED", "anonymization failed", err))
		}
		return nil
	}

	if err := o.store.SetStatus(ctx, videoID, domain.StatusWaitingForReview, ""); err != nil {
		return o.markError(ctx, videoID, pipelineerr.Dependency("STORE_WRITE_FAILED", "marking waiting_for_review", err))
	}
	o.broker.PhaseChange(videoID, domain.PhaseReview, "waiting for reviewer decisions")
	return nil
}

// ApplyDecisions runs phase 2: it records every reviewer decision,
// reconstructs one anonymize.Action per decided verification from the
// persisted verification→detection chain, renders the final video and
// marks the video completed. videoID must currently be
// waiting_for_review.
func (o *Orchestrator) ApplyDecisions(ctx context.Context, videoID string, decisions []domain.UserDecision, userID string) error {
	v, err := o.store.GetVideo(ctx, videoID)
	if err != nil {
		return pipelineerr.Invalid("VIDEO_NOT_FOUND", "video not found", err).WithDetail(videoID)
	}
	if v.Status != domain.StatusWaitingForReview {
		return pipelineerr.Invalid("INVALID_STATE", "video is not waiting for review", nil).WithDetail(string(v.Status))
	}

	for _, d := range decisions {
		d.UserID = userID
		if err := o.store.SaveUserDecision(ctx, d); err != nil {
			return pipelineerr.Dependency("STORE_WRITE_FAILED", "saving user decision", err)
		}
	}

	actions, err := o.buildActions(ctx, videoID)
	if err != nil {
		return o.markError(ctx, videoID, pipelineerr.Dependency("STORE_READ_FAILED", "reconstructing anonymization actions", err))
	}

	if err := o.anonymizeAndComplete(ctx, videoID, v, actions); err != nil {
		return o.markError(ctx, videoID, pipelineerr.Internal("ANONYMIZE_FAILED", "anonymization failed", err))
	}
	return nil
}

// RecoverStuck marks every video found in processing/verifying/
// anonymizing as error, for the startup sweep after a crash (spec.md
// §4.1: "they cannot be resumed mid-phase; retry is a new start").
func (o *Orchestrator) RecoverStuck(ctx context.Context) error {
	stuck, err := o.store.VideosByStatus(ctx, domain.StatusProcessing, domain.StatusVerifying, domain.StatusAnonymizing)
	if err != nil {
		return fmt.Errorf("listing stuck videos: %w", err)
	}
	for _, v := range stuck {
		log.Log(v.ID, "marking video as error on startup recovery", "previous_status", string(v.Status))
		if err := o.store.SetStatus(ctx, v.ID, domain.StatusError, "process restarted mid-phase"); err != nil {
			log.LogError(v.ID, "failed to mark stuck video as error", err)
		}
	}
	return nil
}

// anonymizeAndComplete renders actions over v's source video and marks
// it completed. It is shared by Start's zero-detection/zero-violation
// shortcut and ApplyDecisions; callers decide what to clean up on
// failure (phase 1 deletes captures, phase 2 doesn't).
func (o *Orchestrator) anonymizeAndComplete(ctx context.Context, videoID string, v domain.Video, actions []anonymize.Action) error {
	if err := o.store.SetStatus(ctx, videoID, domain.StatusAnonymizing, ""); err != nil {
		return fmt.Errorf("marking anonymizing: %w", err)
	}
	o.broker.PhaseChange(videoID, domain.PhaseAnonymizing, "rendering anonymized output")

	rawPath := filepath.Join(o.cfg.ProcessedDir, videoID+"_raw.mp4")
	finalPath := filepath.Join(o.cfg.ProcessedDir, videoID+".mp4")
	meta := anonymize.FinalizeMetadata{
		VideoID:         videoID,
		UserDisplayName: v.OwnerID,
		Date:            time.Now().UTC().Format(time.RFC3339),
		EncoderSoftware: "OccultaShield",
	}

	renderStart := time.Now()
	err := o.anonymizer.Run(ctx, videoID, v.OriginalPath, rawPath, finalPath, actions, meta)
	if o.metrics != nil {
		o.metrics.PhaseDurationSec.WithLabelValues("anonymize").Observe(time.Since(renderStart).Seconds())
	}
	if err != nil {
		removeIfExists(rawPath)
		removeIfExists(finalPath)
		return fmt.Errorf("rendering anonymized output: %w", err)
	}

	if err := o.store.UpdateVideo(ctx, videoID, map[string]any{"processed_path": finalPath}); err != nil {
		return fmt.Errorf("recording processed path: %w", err)
	}
	if err := o.store.SetStatus(ctx, videoID, domain.StatusCompleted, ""); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}

	totalDetections, totalViolations := o.summarize(ctx, videoID)
	o.broker.Complete(videoID, totalDetections, totalViolations, "")
	return nil
}

// buildActions reconstructs one anonymize.Action per verification with
// a non-absent, non-none decision, by walking verification→detection
// to recover each track's bbox history. Absence of a decision, or an
// explicit no_modify, both mean "no action" per spec.md §3.
func (o *Orchestrator) buildActions(ctx context.Context, videoID string) ([]anonymize.Action, error) {
	verifications, err := o.store.VerificationsByVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}

	var actions []anonymize.Action
	for _, ver := range verifications {
		decision, found, err := o.store.GetUserDecision(ctx, ver.ID)
		if err != nil {
			return nil, err
		}
		if !found || decision.Action == domain.ActionNone || decision.Action == "no_modify" {
			continue
		}
		det, err := o.store.GetDetection(ctx, ver.DetectionID)
		if err != nil {
			return nil, err
		}
		actions = append(actions, actionFromDetection(det, decision.Action))
	}
	return actions, nil
}

func actionFromDetection(det domain.DetectionRecord, effect domain.Action) anonymize.Action {
	bboxes := make(map[int64]domain.BoundingBox, len(det.History))
	var masks map[int64][]float64
	for _, b := range det.History {
		bboxes[b.Frame] = b
		if b.Polygon != nil {
			if masks == nil {
				masks = map[int64][]float64{}
			}
			masks[b.Frame] = b.Polygon
		}
	}
	return anonymize.Action{TrackID: det.TrackID, Type: effect, BBoxes: bboxes, Masks: masks}
}

func (o *Orchestrator) persistTracks(ctx context.Context, videoID string, tracks []domain.Track) (map[string]string, error) {
	detByTrack := make(map[string]string, len(tracks))
	for _, tr := range tracks {
		rec := domain.DetectionRecord{
			VideoID:       videoID,
			Type:          tr.Type,
			TrackID:       tr.ID,
			History:       tr.History,
			Captures:      tr.Captures,
			AvgConfidence: tr.AvgConfidence(),
			MaxConfidence: tr.MaxConfidence(),
		}
		id, err := o.store.CreateDetection(ctx, rec)
		if err != nil {
			return nil, err
		}
		detByTrack[tr.ID] = store.BareID(id)
	}
	return detByTrack, nil
}

func (o *Orchestrator) persistVerifications(ctx context.Context, detByTrack map[string]string, results []verify.Result) error {
	for _, r := range results {
		detID, ok := detByTrack[r.TrackID]
		if !ok {
			continue
		}
		rec := r.Record
		rec.DetectionID = detID
		if _, err := o.store.CreateVerification(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) summarize(ctx context.Context, videoID string) (detections, violations int) {
	dets, err := o.store.DetectionsByVideo(ctx, videoID)
	if err != nil {
		return 0, 0
	}
	detections = len(dets)

	vers, err := o.store.VerificationsByVideo(ctx, videoID)
	if err != nil {
		return detections, 0
	}
	for _, v := range vers {
		if v.IsViolation {
			violations++
		}
	}
	return detections, violations
}

func (o *Orchestrator) cleanupCaptures(videoID string) {
	dir := filepath.Join(o.cfg.CapturesDir, videoID)
	if err := os.RemoveAll(dir); err != nil {
		log.Log(videoID, "failed to clean up captures directory", "dir", dir, "err", err.Error())
	}
}

func (o *Orchestrator) markError(ctx context.Context, videoID string, err error) error {
	log.LogError(videoID, "pipeline phase failed", err)
	if setErr := o.store.SetStatus(ctx, videoID, domain.StatusError, err.Error()); setErr != nil {
		log.LogError(videoID, "failed to persist error status", setErr)
	}
	o.broker.Error(videoID, err.Error())
	return err
}

func removeIfExists(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.LogNoVideoID("failed to remove partial output file", "path", path, "err", err.Error())
	}
}

// classifyPhaseError maps a phase-1 failure to the right pipelineerr
// Kind: a cancelled/expired phaseCtx wins over whatever error the
// collaborator itself returned, since both produce a context error.
func classifyPhaseError(phaseCtx context.Context, code, message string, cause error) *pipelineerr.Error {
	if errors.Is(phaseCtx.Err(), context.DeadlineExceeded) {
		return pipelineerr.Timeout("PHASE1_TIMEOUT", "phase 1 exceeded its deadline", cause)
	}
	if errors.Is(phaseCtx.Err(), context.Canceled) {
		return pipelineerr.Cancelled("PHASE1_CANCELLED", "phase 1 was cancelled", cause)
	}
	return pipelineerr.Internal(code, message, cause)
}
