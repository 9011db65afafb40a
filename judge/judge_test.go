package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GabrielJuan349/occultashield/domain"
	"github.com/GabrielJuan349/occultashield/witness"
)

func TestConsolidateUnionsAndConcatenates(t *testing.T) {
	descs := []witness.Description{
		{VisualSummary: "a person in a hospital gown", Tags: []string{"patient"}, Environment: "medical", AgeGroup: witness.AgeAdult},
		{VisualSummary: "lying on a bed", Tags: []string{"patient", "bedridden"}, Environment: "medical", ContextIndicators: []string{"iv_drip"}, AgeGroup: witness.AgeAdult},
	}
	c := Consolidate(descs)

	assert.ElementsMatch(t, []string{"patient", "bedridden"}, c.Tags)
	assert.Equal(t, []string{"medical"}, c.Environments)
	assert.Equal(t, []string{"iv_drip"}, c.ContextIndicators)
	assert.Equal(t, []witness.AgeGroup{witness.AgeAdult}, c.AgeGroups)
	assert.Equal(t, "a person in a hospital gown lying on a bed", c.VisualSummary)
}

func TestClassifyVulnerabilityMedicalContext(t *testing.T) {
	c := Consolidated{Environments: []string{"medical"}}
	v := ClassifyVulnerability(c)
	assert.True(t, v.Vulnerable)
	assert.Equal(t, "medical", v.Type)
}

func TestClassifyVulnerabilityChildAgeForcesMinorRegardlessOfContext(t *testing.T) {
	c := Consolidated{Environments: []string{"public_space"}, AgeGroups: []witness.AgeGroup{witness.AgeChild}}
	v := ClassifyVulnerability(c)
	assert.True(t, v.Vulnerable)
	assert.Equal(t, "minor", v.Type)
}

func TestClassifyVulnerabilityTeenagerForcesMinor(t *testing.T) {
	c := Consolidated{AgeGroups: []witness.AgeGroup{witness.AgeTeenager}}
	v := ClassifyVulnerability(c)
	assert.True(t, v.Vulnerable)
	assert.Equal(t, "minor", v.Type)
}

func TestClassifyVulnerabilityNormalContext(t *testing.T) {
	c := Consolidated{Environments: []string{"workplace"}}
	v := ClassifyVulnerability(c)
	assert.False(t, v.Vulnerable)
	assert.Equal(t, 0.85, v.Confidence)
}

func TestClassifyVulnerabilityNoMatchDefaultsNormalLowConfidence(t *testing.T) {
	c := Consolidated{Tags: []string{"unrelated_tag"}}
	v := ClassifyVulnerability(c)
	assert.False(t, v.Vulnerable)
	assert.Equal(t, 0.60, v.Confidence)
}

func TestPersonVerdictNormalDefersToFaceTrack(t *testing.T) {
	v := Vulnerability{Vulnerable: false, Confidence: 0.85}
	rec := PersonVerdict(v, Consolidated{}, nil, nil)
	assert.False(t, rec.IsViolation)
	assert.Equal(t, domain.ActionNone, rec.RecommendedAction)
}

func TestPersonVerdictMedicalEscalatesToHighSeverity(t *testing.T) {
	v := Vulnerability{Vulnerable: true, Type: "medical", Confidence: 0.9}
	rec := PersonVerdict(v, Consolidated{}, []int{9}, []string{"article 9 snippet"})
	assert.True(t, rec.IsViolation)
	assert.Equal(t, domain.SeverityHigh, rec.Severity)
	assert.Equal(t, domain.ActionBlur, rec.RecommendedAction)
	assert.Equal(t, []int{9}, rec.ViolatedArticles)
	assert.Contains(t, rec.Reasoning, "medical")
}

func TestPersonVerdictPoliticalIsMediumSeverity(t *testing.T) {
	v := Vulnerability{Vulnerable: true, Type: "political", Confidence: 0.9}
	rec := PersonVerdict(v, Consolidated{}, []int{9}, nil)
	assert.Equal(t, domain.SeverityMedium, rec.Severity)
}

func TestPersonVerdictTruncatesSnippetsToThree(t *testing.T) {
	v := Vulnerability{Vulnerable: true, Type: "minor", Confidence: 0.95}
	rec := PersonVerdict(v, Consolidated{}, []int{9}, []string{"snippet-1", "snippet-2", "snippet-3", "snippet-4"})
	assert.NotContains(t, rec.Reasoning, "snippet-4")
	assert.Contains(t, rec.Reasoning, "snippet-3")
}

func TestFuseNonPersonNoViolations(t *testing.T) {
	rec := FuseNonPerson([]witness.RuleVerdict{
		{IsViolation: false, Confidence: 0.6},
		{IsViolation: false, Confidence: 0.6},
	})
	assert.False(t, rec.IsViolation)
	assert.Equal(t, domain.SeverityLow, rec.Severity)
}

func TestFuseNonPersonSingleViolationKeepsItsSeverity(t *testing.T) {
	rec := FuseNonPerson([]witness.RuleVerdict{
		{IsViolation: true, Severity: domain.SeverityHigh, ViolatedArticles: []int{6}, RecommendedAction: domain.ActionPixelate, Confidence: 0.92, Reasoning: "plate"},
	})
	assert.True(t, rec.IsViolation)
	assert.Equal(t, domain.SeverityHigh, rec.Severity)
	assert.Equal(t, []int{6}, rec.ViolatedArticles)
	assert.Equal(t, domain.ActionPixelate, rec.RecommendedAction)
}

func TestFuseNonPersonTwoViolationsEscalatesToHigh(t *testing.T) {
	rec := FuseNonPerson([]witness.RuleVerdict{
		{IsViolation: true, Severity: domain.SeverityLow, RecommendedAction: domain.ActionBlur, Confidence: 0.9, Reasoning: "r1"},
		{IsViolation: true, Severity: domain.SeverityLow, RecommendedAction: domain.ActionBlur, Confidence: 0.9, Reasoning: "r2"},
	})
	assert.Equal(t, domain.SeverityHigh, rec.Severity)
}

func TestFuseNonPersonThreeOrMoreViolationsEscalatesToCritical(t *testing.T) {
	rec := FuseNonPerson([]witness.RuleVerdict{
		{IsViolation: true, Severity: domain.SeverityLow, RecommendedAction: domain.ActionBlur, Confidence: 0.9, Reasoning: "r1"},
		{IsViolation: true, Severity: domain.SeverityLow, RecommendedAction: domain.ActionBlur, Confidence: 0.9, Reasoning: "r2"},
		{IsViolation: true, Severity: domain.SeverityLow, RecommendedAction: domain.ActionBlur, Confidence: 0.9, Reasoning: "r3"},
	})
	assert.Equal(t, domain.SeverityCritical, rec.Severity)
}

func TestFuseNonPersonArticlesAreSortedUnion(t *testing.T) {
	rec := FuseNonPerson([]witness.RuleVerdict{
		{IsViolation: true, Severity: domain.SeverityHigh, ViolatedArticles: []int{9}, RecommendedAction: domain.ActionBlur, Confidence: 0.9},
		{IsViolation: true, Severity: domain.SeverityHigh, ViolatedArticles: []int{6}, RecommendedAction: domain.ActionPixelate, Confidence: 0.9},
	})
	assert.Equal(t, []int{6, 9}, rec.ViolatedArticles)
}

func TestFuseNonPersonActionIsMostProtective(t *testing.T) {
	rec := FuseNonPerson([]witness.RuleVerdict{
		{IsViolation: true, Severity: domain.SeverityHigh, RecommendedAction: domain.ActionBlur, Confidence: 0.9},
		{IsViolation: true, Severity: domain.SeverityHigh, RecommendedAction: domain.ActionPixelate, Confidence: 0.9},
	})
	assert.Equal(t, domain.ActionPixelate, rec.RecommendedAction)
}

func TestFuseNonPersonConfidenceIsMeanAndMaxIsRecorded(t *testing.T) {
	rec := FuseNonPerson([]witness.RuleVerdict{
		{IsViolation: true, Severity: domain.SeverityHigh, RecommendedAction: domain.ActionBlur, Confidence: 0.8},
		{IsViolation: true, Severity: domain.SeverityHigh, RecommendedAction: domain.ActionBlur, Confidence: 1.0},
	})
	assert.Equal(t, 0.9, rec.Confidence)
	assert.Equal(t, 1.0, rec.MaxConfidence)
}

func TestNormalizeFillsDefaults(t *testing.T) {
	rec := Normalize(domain.VerificationRecord{})
	assert.Equal(t, domain.SeverityLow, rec.Severity)
	assert.Equal(t, domain.ActionNone, rec.RecommendedAction)
	assert.NotNil(t, rec.ViolatedArticles)
	assert.NotEmpty(t, rec.Reasoning)
}
