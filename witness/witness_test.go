package witness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielJuan349/occultashield/domain"
	"github.com/GabrielJuan349/occultashield/kg"
)

type fakeBackend struct {
	describeErr error
	describe    Description
	classifyErr error
	classify    domain.DetectionType
	classifyCalls int
}

func (f *fakeBackend) DescribePerson(context.Context, string) (Description, error) {
	return f.describe, f.describeErr
}

func (f *fakeBackend) Classify(context.Context, string) (domain.DetectionType, error) {
	f.classifyCalls++
	return f.classify, f.classifyErr
}

func TestDescribePersonFallsBackToMockOnError(t *testing.T) {
	backend := &fakeBackend{describeErr: errors.New("backend down")}
	c := NewClient(backend, kg.NewClient("http://127.0.0.1:1", 0))

	desc := c.DescribePerson(context.Background(), "v1", "img.jpg")
	assert.LessOrEqual(t, desc.Confidence, 0.75)
	assert.Contains(t, desc.Tags, "mock")
}

func TestDescribePersonReturnsRealResultOnSuccess(t *testing.T) {
	backend := &fakeBackend{describe: Description{VisualSummary: "a person in a park", Confidence: 0.9}}
	c := NewClient(backend, kg.NewClient("http://127.0.0.1:1", 0))

	desc := c.DescribePerson(context.Background(), "v1", "img.jpg")
	assert.Equal(t, "a person in a park", desc.VisualSummary)
}

func TestResolveSkipsNonAmbiguousTypes(t *testing.T) {
	backend := &fakeBackend{}
	c := NewClient(backend, kg.NewClient("http://127.0.0.1:1", 0))

	got := c.Resolve(context.Background(), "v1", "img.jpg", domain.TypeFace)
	assert.Equal(t, domain.TypeFace, got)
	assert.Equal(t, 0, backend.classifyCalls)
}

func TestResolveCachesClassificationPerImagePath(t *testing.T) {
	backend := &fakeBackend{classify: domain.TypeHand}
	c := NewClient(backend, kg.NewClient("http://127.0.0.1:1", 0))

	first := c.Resolve(context.Background(), "v1", "img.jpg", domain.TypeUnknown)
	second := c.Resolve(context.Background(), "v1", "img.jpg", domain.TypeUnknown)
	require.Equal(t, domain.TypeHand, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.classifyCalls, "second call for the same path must hit the cache")
}

func TestVerdictMapping(t *testing.T) {
	v := Verdict(domain.TypeFace)
	assert.True(t, v.IsViolation)
	assert.Equal(t, domain.SeverityHigh, v.Severity)
	assert.GreaterOrEqual(t, v.Confidence, 0.95)
	assert.Equal(t, domain.ActionBlur, v.RecommendedAction)

	plate := Verdict(domain.TypeLicensePlate)
	assert.True(t, plate.IsViolation)
	assert.GreaterOrEqual(t, plate.Confidence, 0.90)
	assert.Equal(t, domain.ActionPixelate, plate.RecommendedAction)

	other := Verdict(domain.DetectionType("traffic_cone"))
	assert.False(t, other.IsViolation)
}
