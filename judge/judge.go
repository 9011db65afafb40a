// Package judge is the legal decision core: it consolidates Witness
// perception (or rule-derived verdicts) across a track's frames into
// one VerificationRecord, never letting the vision-LLM output an
// unvalidated legal conclusion.
package judge

import (
	"sort"
	"strings"

	"github.com/GabrielJuan349/occultashield/domain"
	"github.com/GabrielJuan349/occultashield/witness"
)

// vulnerableContexts maps a context keyword to the vulnerability type
// it implies. Exact match, case-insensitive, against the consolidated
// union of tags/environments/context indicators.
var vulnerableContexts = map[string]string{
	"medical":   "medical",
	"minor":     "minor",
	"religious": "religious",
	"political": "political",
	"intimate":  "intimate",
	"ethnic":    "ethnic",
}

var normalContexts = map[string]bool{
	"public_space": true,
	"workplace":    true,
	"commercial":   true,
	"recreational": true,
	"transport":    true,
}

// Vulnerability is the outcome of classifying a person track's
// consolidated context.
type Vulnerability struct {
	Vulnerable bool
	Type       string // "" when not vulnerable
	Confidence float64
}

// Consolidated is the union of a person track's per-frame Witness
// descriptions, built by Consolidate.
type Consolidated struct {
	Tags              []string
	Environments      []string
	ContextIndicators []string
	AgeGroups         []witness.AgeGroup
	VisualSummary     string
}

// Consolidate unions tags/environments/context indicators/age groups
// and concatenates visual summaries across every per-frame Witness
// description for one track.
func Consolidate(descriptions []witness.Description) Consolidated {
	var out Consolidated
	tagSet, envSet, ctxSet, ageSet := map[string]bool{}, map[string]bool{}, map[string]bool{}, map[witness.AgeGroup]bool{}
	var summaries []string

	for _, d := range descriptions {
		for _, t := range d.Tags {
			if !tagSet[t] {
				tagSet[t] = true
				out.Tags = append(out.Tags, t)
			}
		}
		if d.Environment != "" && !envSet[d.Environment] {
			envSet[d.Environment] = true
			out.Environments = append(out.Environments, d.Environment)
		}
		for _, c := range d.ContextIndicators {
			if !ctxSet[c] {
				ctxSet[c] = true
				out.ContextIndicators = append(out.ContextIndicators, c)
			}
		}
		if d.AgeGroup != "" && !ageSet[d.AgeGroup] {
			ageSet[d.AgeGroup] = true
			out.AgeGroups = append(out.AgeGroups, d.AgeGroup)
		}
		if d.VisualSummary != "" {
			summaries = append(summaries, d.VisualSummary)
		}
	}
	out.VisualSummary = strings.Join(summaries, " ")
	return out
}

// ClassifyVulnerability applies the two closed keyword sets from
// spec.md §4.8. Age group child/teenager forces "minor" regardless of
// other matches. No match in either set is treated as normal
// (principle of proportionality).
func ClassifyVulnerability(c Consolidated) Vulnerability {
	for _, ag := range c.AgeGroups {
		if ag == witness.AgeChild || ag == witness.AgeTeenager {
			return Vulnerability{Vulnerable: true, Type: "minor", Confidence: 0.95}
		}
	}

	haystack := append(append(append([]string{}, c.Tags...), c.Environments...), c.ContextIndicators...)
	for _, h := range haystack {
		if vt, ok := vulnerableContexts[strings.ToLower(h)]; ok {
			return Vulnerability{Vulnerable: true, Type: vt, Confidence: 0.9}
		}
	}
	for _, h := range haystack {
		if normalContexts[strings.ToLower(h)] {
			return Vulnerability{Vulnerable: false, Confidence: 0.85}
		}
	}
	return Vulnerability{Vulnerable: false, Confidence: 0.60}
}

// high-severity vulnerability types escalate a person verdict to
// "high" severity rather than "medium".
var highSeverityVulnerabilities = map[string]bool{
	"medical":  true,
	"minor":    true,
	"intimate": true,
}

// PersonVerdict builds the verdict for a person track: vulnerable
// contexts emit a violation with a fused article list and blur
// action; normal contexts emit a non-violation deferring to the face
// track.
func PersonVerdict(v Vulnerability, consolidated Consolidated, baseArticles []int, legalSnippets []string) domain.VerificationRecord {
	if !v.Vulnerable {
		return domain.VerificationRecord{
			IsViolation:       false,
			RecommendedAction: domain.ActionNone,
			Confidence:        v.Confidence,
			Reasoning:         "person context classified as normal; identity is handled by its own face track, not this person track",
		}
	}

	severity := domain.SeverityMedium
	if highSeverityVulnerabilities[v.Type] {
		severity = domain.SeverityHigh
	}

	articles := mergeArticles(baseArticles, nil)
	snippets := legalSnippets
	if len(snippets) > 3 {
		snippets = snippets[:3]
	}
	reasoning := "vulnerable context detected: " + v.Type
	if len(snippets) > 0 {
		reasoning += " — " + strings.Join(snippets, "; ")
	}

	return domain.VerificationRecord{
		IsViolation:       true,
		Severity:          severity,
		ViolatedArticles:  articles,
		VulnerabilityType: v.Type,
		RecommendedAction: domain.ActionBlur,
		Confidence:        v.Confidence,
		Reasoning:         reasoning,
	}
}

// FuseNonPerson combines per-frame rule-derived verdicts for a
// non-person track by union of evidence: violation if any frame
// violates, severity escalates with the count of violating frames,
// articles are the sorted union, action is the most-protective.
func FuseNonPerson(verdicts []witness.RuleVerdict) domain.VerificationRecord {
	var violating []witness.RuleVerdict
	articleSet := map[int]bool{}
	action := domain.ActionNone
	var sumConf, maxConf float64

	for _, v := range verdicts {
		if v.IsViolation {
			violating = append(violating, v)
			for _, a := range v.ViolatedArticles {
				articleSet[a] = true
			}
			action = domain.MostProtective(action, v.RecommendedAction)
		}
		sumConf += v.Confidence
		if v.Confidence > maxConf {
			maxConf = v.Confidence
		}
	}

	rec := domain.VerificationRecord{
		ViolatedArticles:  sortedInts(articleSet),
		RecommendedAction: action,
		MaxConfidence:     maxConf,
	}
	if len(verdicts) > 0 {
		rec.Confidence = sumConf / float64(len(verdicts))
	}
	if len(violating) == 0 {
		rec.IsViolation = false
		rec.Severity = domain.SeverityLow
		rec.Reasoning = "no frame reported a violation for this track"
		return rec
	}

	rec.IsViolation = true
	switch {
	case len(violating) >= 3:
		rec.Severity = domain.SeverityCritical
	case len(violating) == 2:
		rec.Severity = domain.SeverityHigh
	default:
		rec.Severity = violating[0].Severity
	}
	reasons := make([]string, 0, len(violating))
	for _, v := range violating {
		reasons = append(reasons, v.Reasoning)
	}
	rec.Reasoning = strings.Join(dedupe(reasons), "; ")
	return rec
}

func mergeArticles(a, b []int) []int {
	set := map[int]bool{}
	for _, x := range a {
		set[x] = true
	}
	for _, x := range b {
		set[x] = true
	}
	return sortedInts(set)
}

func sortedInts(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Normalize applies defaults for any missing field so a verdict is
// always in a fixed shape before it's persisted, per spec.md §4.8
// step 6.
func Normalize(rec domain.VerificationRecord) domain.VerificationRecord {
	if rec.Severity == "" {
		rec.Severity = domain.SeverityLow
	}
	if rec.RecommendedAction == "" {
		rec.RecommendedAction = domain.ActionNone
	}
	if rec.ViolatedArticles == nil {
		rec.ViolatedArticles = []int{}
	}
	if rec.Reasoning == "" {
		rec.Reasoning = "no reasoning recorded"
	}
	return rec
}
