package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolateUsesEnvWhenSet(t *testing.T) {
	t.Setenv("OCS_TEST_VAR", "from-env")
	got := interpolate("value = \"${OCS_TEST_VAR:fallback}\"")
	assert.Equal(t, `value = "from-env"`, got)
}

func TestInterpolateUsesDefaultWhenUnset(t *testing.T) {
	os.Unsetenv("OCS_TEST_UNSET")
	got := interpolate("value = \"${OCS_TEST_UNSET:fallback}\"")
	assert.Equal(t, `value = "fallback"`, got)
}

func TestInterpolateKeepsPlaceholderWhenNoDefault(t *testing.T) {
	os.Unsetenv("OCS_TEST_NO_DEFAULT")
	got := interpolate("value = \"${OCS_TEST_NO_DEFAULT}\"")
	assert.Equal(t, `value = "${OCS_TEST_NO_DEFAULT}"`, got)
}

func TestLoadMergesOverTOMLDefaults(t *testing.T) {
	t.Setenv("OCS_MAX_WORKERS", "8")
	dir := t.TempDir()
	path := dir + "/config.toml"
	require.NoError(t, os.WriteFile(path, []byte(`
[verification]
max_workers = ${OCS_MAX_WORKERS:4}

[tracking]
iou_threshold = 0.5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Verification.MaxWorkers)
	assert.Equal(t, 0.5, cfg.Tracking.IoUThreshold)
	// Untouched sections keep their compiled-in defaults.
	assert.Equal(t, 0.95, cfg.Tracking.VelocityDamping)
	assert.Equal(t, 3, cfg.Processing.StabilityFrames)
}

func TestDefaultsMatchSpec(t *testing.T) {
	d := Defaults()
	assert.Equal(t, 0.3, d.Tracking.IoUThreshold)
	assert.Equal(t, 4, d.Verification.MaxWorkers)
	assert.Equal(t, 10, d.Edition.MaxInterpGapFrames)
	assert.Equal(t, int64(42), d.Edition.ScrambleSeed)
}
