// Package witness is the vision-LLM client. It never makes a legal
// judgment itself: for person detections it returns an objective
// perceptual description (Witness mode); for every other type it
// returns a deterministic rule-derived verdict the Judge can fuse.
package witness

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/GabrielJuan349/occultashield/domain"
	"github.com/GabrielJuan349/occultashield/kg"
	"github.com/GabrielJuan349/occultashield/log"
)

// ClothingLevel is the Witness's description of how much skin/context
// a person's clothing shows. It never implies a legal conclusion.
type ClothingLevel string

const (
	ClothingFormal    ClothingLevel = "formal"
	ClothingCasual    ClothingLevel = "casual"
	ClothingAthletic  ClothingLevel = "athletic"
	ClothingSwimwear  ClothingLevel = "swimwear"
	ClothingMedical   ClothingLevel = "medical"
	ClothingMinimal   ClothingLevel = "minimal"
	ClothingUniform   ClothingLevel = "uniform"
	ClothingReligious ClothingLevel = "religious"
)

// AgeGroup is a coarse perceptual bucket, never a precise age
// estimate.
type AgeGroup string

const (
	AgeChild    AgeGroup = "child"
	AgeTeenager AgeGroup = "teenager"
	AgeAdult    AgeGroup = "adult"
	AgeElderly  AgeGroup = "elderly"
	AgeUnknown  AgeGroup = "unknown"
)

// Description is the Witness-mode output for a person detection: a
// purely perceptual report, with no violation/severity field.
type Description struct {
	VisualSummary       string
	Tags                []string
	Environment         string
	ClothingLevel       ClothingLevel
	VisibleBiometrics   []string
	ContextIndicators   []string
	AgeGroup            AgeGroup
	Confidence          float64
}

// RuleVerdict is the deterministic rule-derived output for non-person
// detection types.
type RuleVerdict struct {
	IsViolation       bool
	Severity          domain.Severity
	ViolatedArticles  []int
	Reasoning         string
	RecommendedAction domain.Action
	Confidence        float64
}

// Backend is the actual vision-LLM call, kept separate from Client so
// tests can substitute a fake without touching caching/fallback logic.
type Backend interface {
	DescribePerson(ctx context.Context, imagePath string) (Description, error)
	Classify(ctx context.Context, imagePath string) (domain.DetectionType, error)
}

// Client wraps a Backend with the ambiguous-class reclassification
// sub-call, a per-image-path classification cache, and the mock
// fallback required when the backend is unavailable.
type Client struct {
	backend Backend
	kg      *kg.Client
	classificationCache *cache.Cache
}

func NewClient(backend Backend, graph *kg.Client) *Client {
	return &Client{
		backend:             backend,
		kg:                  graph,
		classificationCache: cache.New(30*time.Minute, time.Hour),
	}
}

// Resolve re-labels an ambiguous detection type via one classification
// sub-call, cached per image path, per spec.md §4.7.
func (c *Client) Resolve(ctx context.Context, videoID, imagePath string, typ domain.DetectionType) domain.DetectionType {
	if !typ.Ambiguous() {
		return typ
	}
	if cached, ok := c.classificationCache.Get(imagePath); ok {
		return cached.(domain.DetectionType)
	}
	resolved, err := c.backend.Classify(ctx, imagePath)
	if err != nil {
		log.Log(videoID, "witness classification unavailable, keeping ambiguous type", "image_path", imagePath, "err", err.Error())
		resolved = typ
	}
	c.classificationCache.Set(imagePath, resolved, cache.DefaultExpiration)
	return resolved
}

// DescribePerson runs Witness mode for a person capture. On backend
// failure it returns a mock description whose shape matches the real
// one and whose confidence reflects the uncertainty (≤0.75).
func (c *Client) DescribePerson(ctx context.Context, videoID, imagePath string) Description {
	desc, err := c.backend.DescribePerson(ctx, imagePath)
	if err != nil {
		log.Log(videoID, "witness backend unavailable, returning mock description", "image_path", imagePath, "err", err.Error())
		return c.mockDescription(ctx, videoID)
	}
	return desc
}

// mockDescription builds the degrade-path description used when the
// vision backend is unreachable. Its tags are seeded from the
// knowledge graph's person context (when available) so a downstream
// Judge call still has something concrete to reason about instead of
// a bare "mock" tag.
func (c *Client) mockDescription(ctx context.Context, videoID string) Description {
	tags := []string{"mock"}
	if c.kg != nil {
		for _, a := range c.kg.ContextFor(ctx, videoID, domain.TypePerson) {
			tags = append(tags, a.Title)
		}
	}
	return Description{
		VisualSummary:     "mock: vision backend unavailable",
		Tags:              tags,
		Environment:       "unknown",
		ClothingLevel:     ClothingCasual,
		VisibleBiometrics: nil,
		ContextIndicators: nil,
		AgeGroup:          AgeUnknown,
		Confidence:        0.5,
	}
}

// Verdict computes the deterministic rule-derived verdict for a
// non-person detection type, per the fixed mapping in spec.md §4.7.
// This never calls the LLM backend: the mapping is a pure function of
// detection type, so it cannot be "unavailable".
func Verdict(typ domain.DetectionType) RuleVerdict {
	switch typ {
	case domain.TypeFace, domain.TypeFingerprint, domain.TypeIDDocument, domain.TypeCreditCard, domain.TypeHandBiometric:
		return RuleVerdict{
			IsViolation:       true,
			Severity:          domain.SeverityHigh,
			ViolatedArticles:  []int{9},
			Reasoning:         fmt.Sprintf("%s is an always-violation biometric/identity class under Article 9", typ),
			RecommendedAction: domain.ActionBlur,
			Confidence:        0.97,
		}
	case domain.TypeLicensePlate:
		return RuleVerdict{
			IsViolation:       true,
			Severity:          domain.SeverityHigh,
			ViolatedArticles:  []int{6},
			Reasoning:         "license plates are indirectly identifying personal data under Article 6",
			RecommendedAction: domain.ActionPixelate,
			Confidence:        0.92,
		}
	case domain.TypeSignature:
		return RuleVerdict{
			IsViolation:       true,
			Severity:          domain.SeverityHigh,
			ViolatedArticles:  []int{6},
			Reasoning:         "a handwritten signature is identifying personal data under Article 6",
			RecommendedAction: domain.ActionBlur,
			Confidence:        0.92,
		}
	default:
		return RuleVerdict{
			IsViolation:       false,
			Severity:          domain.SeverityLow,
			RecommendedAction: domain.ActionNone,
			Reasoning:         fmt.Sprintf("%s is not a recognized GDPR-sensitive class", typ),
			Confidence:        0.6,
		}
	}
}
