// Package verify dispatches per-track verification work across a
// bounded worker pool, then hands each track's evidence to the judge
// for fusion into one VerificationRecord per track.
package verify

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/GabrielJuan349/occultashield/domain"
	"github.com/GabrielJuan349/occultashield/judge"
	"github.com/GabrielJuan349/occultashield/kg"
	"github.com/GabrielJuan349/occultashield/log"
	"github.com/GabrielJuan349/occultashield/metrics"
	"github.com/GabrielJuan349/occultashield/witness"
)

// Config controls the dispatcher's concurrency.
type Config struct {
	MaxWorkers int
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	return c
}

// Notifier is the subset of the progress broker the dispatcher needs.
// Kept as a narrow local interface so this package doesn't import
// progress and invert the dependency direction.
type Notifier interface {
	VerificationGroupDone(videoID, trackID string, result domain.VerificationRecord)
}

// noopNotifier is used when no Notifier is supplied.
type noopNotifier struct{}

func (noopNotifier) VerificationGroupDone(string, string, domain.VerificationRecord) {}

// Dispatcher fans out one group of work per track, bounded by
// Config.MaxWorkers, and fuses each group's evidence via the judge
// package.
type Dispatcher struct {
	cfg      Config
	witness  *witness.Client
	kg       *kg.Client
	metrics  *metrics.Metrics
	notifier Notifier
}

func NewDispatcher(cfg Config, witnessClient *witness.Client, graph *kg.Client, m *metrics.Metrics, notifier Notifier) *Dispatcher {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		witness:  witnessClient,
		kg:       graph,
		metrics:  m,
		notifier: notifier,
	}
}

// Result is the dispatcher's output for one track.
type Result struct {
	TrackID string
	Record  domain.VerificationRecord
}

// Verify dispatches every track in tracks concurrently (bounded by
// MaxWorkers) and returns one Result per track. A track's captures
// must already exist on disk; verifyTrack reads them via ImagePath.
func (d *Dispatcher) Verify(ctx context.Context, videoID string, tracks []domain.Track) []Result {
	sem := make(chan struct{}, d.cfg.MaxWorkers)
	results := make([]Result, len(tracks))
	var wg sync.WaitGroup

	for i, tr := range tracks {
		wg.Add(1)
		if d.metrics != nil {
			d.metrics.VerificationQueueDepth.Inc()
		}
		go func(i int, tr domain.Track) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if d.metrics != nil {
				d.metrics.VerificationQueueDepth.Dec()
			}

			rec, err := recovered(func() (domain.VerificationRecord, error) {
				return d.verifyTrack(ctx, videoID, tr), nil
			})
			if err != nil {
				log.LogError(videoID, "verification group panicked, recording as non-violation", err)
				rec = judge.Normalize(domain.VerificationRecord{Reasoning: "verification failed: " + err.Error()})
			}
			results[i] = Result{TrackID: tr.ID, Record: rec}
			d.notifier.VerificationGroupDone(videoID, tr.ID, rec)
		}(i, tr)
	}

	wg.Wait()
	return results
}

// verifyTrack runs the per-track verification group: a person track
// gets one DescribePerson call per capture, consolidated and
// classified by the judge; every other track type gets one
// deterministic Verdict call per capture, fused by the judge.
func (d *Dispatcher) verifyTrack(ctx context.Context, videoID string, tr domain.Track) domain.VerificationRecord {
	if len(tr.Captures) == 0 {
		return judge.Normalize(domain.VerificationRecord{Reasoning: "track has no captures to verify"})
	}

	resolvedType := tr.Type
	if tr.Type.Ambiguous() {
		resolvedType = d.witness.Resolve(ctx, videoID, tr.Captures[0].ImagePath, tr.Type)
	}

	var rec domain.VerificationRecord
	if resolvedType == domain.TypePerson {
		rec = d.verifyPersonTrack(ctx, videoID, tr)
	} else {
		rec = d.verifyNonPersonTrack(ctx, videoID, tr, resolvedType)
	}
	return d.appendFineContext(ctx, videoID, rec)
}

// appendFineContext folds each violated article's fine tier into the
// record's reasoning, so a reviewer sees not just which articles were
// violated but what that exposure looks like.
func (d *Dispatcher) appendFineContext(ctx context.Context, videoID string, rec domain.VerificationRecord) domain.VerificationRecord {
	if d.kg == nil || !rec.IsViolation || len(rec.ViolatedArticles) == 0 {
		return rec
	}
	info := d.kg.FineInfo(ctx, videoID, rec.ViolatedArticles[0])
	if info.Description != "" {
		rec.Reasoning += fmt.Sprintf(" (art. %d fine exposure: %s)", info.ArticleNumber, info.Description)
	}
	return rec
}

func (d *Dispatcher) verifyPersonTrack(ctx context.Context, videoID string, tr domain.Track) domain.VerificationRecord {
	descriptions := make([]witness.Description, 0, len(tr.Captures))
	for _, c := range tr.Captures {
		descriptions = append(descriptions, d.witness.DescribePerson(ctx, videoID, c.ImagePath))
	}
	if d.metrics != nil {
		d.metrics.VerificationCalls.WithLabelValues("witness", "ok").Add(float64(len(descriptions)))
	}

	consolidated := judge.Consolidate(descriptions)
	vuln := judge.ClassifyVulnerability(consolidated)

	var snippets []string
	baseArticles := []int{9}
	if d.kg != nil {
		articles := d.kg.ContextFor(ctx, videoID, domain.TypePerson)
		for _, a := range articles {
			baseArticles = append(baseArticles, a.Number)
		}
		snippets = d.kg.HybridSearch(ctx, videoID, vuln.Type, consolidated.Tags, 3)
	}

	rec := judge.PersonVerdict(vuln, consolidated, baseArticles, snippets)
	rec.MaxConfidence = tr.MaxConfidence()
	return judge.Normalize(rec)
}

func (d *Dispatcher) verifyNonPersonTrack(ctx context.Context, videoID string, tr domain.Track, resolvedType domain.DetectionType) domain.VerificationRecord {
	verdicts := make([]witness.RuleVerdict, len(tr.Captures))
	for i := range tr.Captures {
		verdicts[i] = witness.Verdict(resolvedType)
	}
	if d.metrics != nil {
		d.metrics.VerificationCalls.WithLabelValues("rule", "ok").Add(float64(len(verdicts)))
	}

	rec := judge.FuseNonPerson(verdicts)
	if rec.MaxConfidence < tr.MaxConfidence() {
		rec.MaxConfidence = tr.MaxConfidence()
	}
	rec = judge.Normalize(rec)

	if d.kg != nil && rec.IsViolation {
		graph := d.kg.ExplanationGraph(ctx, videoID, resolvedType)
		if len(graph.Concepts) > 0 {
			rec.Reasoning += " (relates to: " + strings.Join(graph.Concepts, ", ") + ")"
		}
	}
	return rec
}

func recovered[T any](f func() (T, error)) (t T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in verification worker: %v\n%s", rec, debug.Stack())
		}
	}()
	return f()
}
