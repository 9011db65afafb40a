package pipeline

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielJuan349/occultashield/anonymize"
	"github.com/GabrielJuan349/occultashield/domain"
	"github.com/GabrielJuan349/occultashield/progress"
	"github.com/GabrielJuan349/occultashield/store"
	"github.com/GabrielJuan349/occultashield/verify"
)

type fakeDetectionRunner struct {
	tracks []domain.Track
	err    error
}

func (f fakeDetectionRunner) Run(ctx context.Context, videoID, sourcePath string) ([]domain.Track, error) {
	return f.tracks, f.err
}

type fakeVerifier struct {
	results []verify.Result
}

func (f fakeVerifier) Verify(ctx context.Context, videoID string, tracks []domain.Track) []verify.Result {
	return f.results
}

type fakeAnonymizer struct {
	err        error
	lastVideo  string
	lastActions []anonymize.Action
}

func (f *fakeAnonymizer) Run(ctx context.Context, videoID, sourcePath, rawOutputPath, finalOutputPath string, actions []anonymize.Action, meta anonymize.FinalizeMetadata) error {
	f.lastVideo = videoID
	f.lastActions = actions
	return f.err
}

func newTestOrchestrator(t *testing.T, detector DetectionRunner, verifier Verifier, anonymizer Anonymizer) (*Orchestrator, *store.VideoStore) {
	t.Helper()
	st := store.NewVideoStore(store.NewMemory())
	broker := progress.NewBroker(clock.NewMock())
	t.Cleanup(broker.Stop)
	cfg := Config{CapturesDir: t.TempDir(), ProcessedDir: t.TempDir()}
	return NewOrchestrator(cfg, st, broker, detector, verifier, anonymizer, nil), st
}

func seedPendingVideo(t *testing.T, st *store.VideoStore, id string) domain.Video {
	t.Helper()
	v := domain.Video{ID: id, OwnerID: "user:abc", OriginalPath: "/tmp/in.mp4", Status: domain.StatusPending}
	_, err := st.CreateVideo(context.Background(), v)
	require.NoError(t, err)
	return v
}

func TestStartZeroDetectionsSkipsReviewAndCompletes(t *testing.T) {
	o, st := newTestOrchestrator(t, fakeDetectionRunner{}, fakeVerifier{}, &fakeAnonymizer{})
	seedPendingVideo(t, st, "v1")

	err := o.Start(context.Background(), "v1")
	require.NoError(t, err)

	got, err := st.GetVideo(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.ProcessedPath)
}

func TestStartZeroViolationsSkipsReviewAndCompletes(t *testing.T) {
	tracks := []domain.Track{{ID: "face-1", Type: domain.TypeFace, History: []domain.BoundingBox{{X1: 0, Y1: 0, X2: 20, Y2: 20, Confidence: 0.9, Frame: 0}}}}
	results := []verify.Result{{TrackID: "face-1", Record: domain.VerificationRecord{IsViolation: false}}}
	o, st := newTestOrchestrator(t, fakeDetectionRunner{tracks: tracks}, fakeVerifier{results: results}, &fakeAnonymizer{})
	seedPendingVideo(t, st, "v1")

	err := o.Start(context.Background(), "v1")
	require.NoError(t, err)

	got, err := st.GetVideo(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestStartWithViolationsPausesForReview(t *testing.T) {
	tracks := []domain.Track{{ID: "face-1", Type: domain.TypeFace, History: []domain.BoundingBox{{X1: 0, Y1: 0, X2: 20, Y2: 20, Confidence: 0.9, Frame: 0}}}}
	results := []verify.Result{{TrackID: "face-1", Record: domain.VerificationRecord{IsViolation: true, Severity: domain.SeverityHigh}}}
	o, st := newTestOrchestrator(t, fakeDetectionRunner{tracks: tracks}, fakeVerifier{results: results}, &fakeAnonymizer{})
	seedPendingVideo(t, st, "v1")

	err := o.Start(context.Background(), "v1")
	require.NoError(t, err)

	got, err := st.GetVideo(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingForReview, got.Status)

	dets, err := st.DetectionsByVideo(context.Background(), "v1")
	require.NoError(t, err)
	require.Len(t, dets, 1)

	vers, err := st.VerificationsByVideo(context.Background(), "v1")
	require.NoError(t, err)
	require.Len(t, vers, 1)
	assert.True(t, vers[0].IsViolation)
}

func TestStartIsIdempotentOnceNotPending(t *testing.T) {
	o, st := newTestOrchestrator(t, fakeDetectionRunner{}, fakeVerifier{}, &fakeAnonymizer{})
	seedPendingVideo(t, st, "v1")
	require.NoError(t, st.SetStatus(context.Background(), "v1", domain.StatusProcessing, ""))

	err := o.Start(context.Background(), "v1")
	require.NoError(t, err)

	got, err := st.GetVideo(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
}

func TestStartMarksErrorOnDetectionFailure(t *testing.T) {
	o, st := newTestOrchestrator(t, fakeDetectionRunner{err: assert.AnError}, fakeVerifier{}, &fakeAnonymizer{})
	seedPendingVideo(t, st, "v1")

	err := o.Start(context.Background(), "v1")
	require.Error(t, err)

	got, err := st.GetVideo(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestApplyDecisionsRejectsWrongState(t *testing.T) {
	o, st := newTestOrchestrator(t, fakeDetectionRunner{}, fakeVerifier{}, &fakeAnonymizer{})
	seedPendingVideo(t, st, "v1")

	err := o.ApplyDecisions(context.Background(), "v1", nil, "user:reviewer")
	assert.Error(t, err)
}

func TestApplyDecisionsRendersChosenActionsAndCompletes(t *testing.T) {
	tracks := []domain.Track{{ID: "face-1", Type: domain.TypeFace, History: []domain.BoundingBox{{X1: 0, Y1: 0, X2: 20, Y2: 20, Confidence: 0.9, Frame: 0}}}}
	results := []verify.Result{{TrackID: "face-1", Record: domain.VerificationRecord{IsViolation: true, Severity: domain.SeverityHigh}}}
	anon := &fakeAnonymizer{}
	o, st := newTestOrchestrator(t, fakeDetectionRunner{tracks: tracks}, fakeVerifier{results: results}, anon)
	seedPendingVideo(t, st, "v1")
	require.NoError(t, o.Start(context.Background(), "v1"))

	vers, err := st.VerificationsByVideo(context.Background(), "v1")
	require.NoError(t, err)
	require.Len(t, vers, 1)

	decisions := []domain.UserDecision{{VerificationID: vers[0].ID, Action: domain.ActionBlur, ConfirmedViolation: true}}
	err = o.ApplyDecisions(context.Background(), "v1", decisions, "user:reviewer")
	require.NoError(t, err)

	require.Len(t, anon.lastActions, 1)
	assert.Equal(t, domain.ActionBlur, anon.lastActions[0].Type)
	assert.Equal(t, "face-1", anon.lastActions[0].TrackID)

	got, err := st.GetVideo(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestApplyDecisionsSkipsNoModifyDecisions(t *testing.T) {
	tracks := []domain.Track{{ID: "face-1", Type: domain.TypeFace, History: []domain.BoundingBox{{X1: 0, Y1: 0, X2: 20, Y2: 20, Confidence: 0.9, Frame: 0}}}}
	results := []verify.Result{{TrackID: "face-1", Record: domain.VerificationRecord{IsViolation: true}}}
	anon := &fakeAnonymizer{}
	o, st := newTestOrchestrator(t, fakeDetectionRunner{tracks: tracks}, fakeVerifier{results: results}, anon)
	seedPendingVideo(t, st, "v1")
	require.NoError(t, o.Start(context.Background(), "v1"))

	vers, err := st.VerificationsByVideo(context.Background(), "v1")
	require.NoError(t, err)

	decisions := []domain.UserDecision{{VerificationID: vers[0].ID, Action: domain.ActionNone}}
	err = o.ApplyDecisions(context.Background(), "v1", decisions, "user:reviewer")
	require.NoError(t, err)

	assert.Empty(t, anon.lastActions)
}

func TestRecoverStuckMarksProcessingVideosAsError(t *testing.T) {
	o, st := newTestOrchestrator(t, fakeDetectionRunner{}, fakeVerifier{}, &fakeAnonymizer{})
	seedPendingVideo(t, st, "v1")
	require.NoError(t, st.SetStatus(context.Background(), "v1", domain.StatusVerifying, ""))
	seedPendingVideo(t, st, "v2")

	err := o.RecoverStuck(context.Background())
	require.NoError(t, err)

	got1, err := st.GetVideo(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got1.Status)

	got2, err := st.GetVideo(context.Background(), "v2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got2.Status)
}
