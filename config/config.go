// Package config loads OccultaShield's hierarchical TOML configuration
// and resolves ${VAR:default} environment placeholders before
// unmarshalling, mirroring the loader the Python prototype used for
// its detection.yaml.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the fully-resolved, immutable configuration tree. It is
// built once at startup by Load and passed by pointer into every
// component constructor; nothing in this repo reads from a package
// global in a hot path.
type Config struct {
	Detector     DetectorConfig     `toml:"detector"`
	Tracking     TrackingConfig     `toml:"tracking"`
	Processing   ProcessingConfig   `toml:"processing"`
	Storage      StorageConfig      `toml:"storage"`
	Edition      EditionConfig      `toml:"edition"`
	Verification VerificationConfig `toml:"verification"`
}

type DetectorConfig struct {
	FaceConfidenceThreshold float64 `toml:"face_confidence_threshold"`
	PlateModelSpecialized   bool    `toml:"plate_model_specialized"`
	ModelDir                string  `toml:"model_dir"`
}

type TrackingConfig struct {
	IoUThreshold      float64 `toml:"iou_threshold"`
	MaxAge            int     `toml:"max_age"`
	MinHitsForConfirmed int   `toml:"min_hits_for_confirmed"`
	VelocityDamping   float64 `toml:"velocity_damping"`
}

type ProcessingConfig struct {
	StabilityThreshold float64 `toml:"stability_threshold"`
	StabilityFrames    int     `toml:"stability_frames"`
	CaptureIntervalSec float64 `toml:"capture_interval_seconds"`
	CaptureMarginPx    int     `toml:"capture_margin_px"`
	JPEGQuality        int     `toml:"jpeg_quality"`
	Phase1TimeoutSec   int     `toml:"phase1_timeout_seconds"`
}

type StorageConfig struct {
	UploadsDir   string `toml:"uploads_dir"`
	CapturesDir  string `toml:"captures_dir"`
	ProcessedDir string `toml:"processed_dir"`
}

type EditionConfig struct {
	PixelateBlocks    int    `toml:"pixelate_blocks"`
	ScrambleSeed      int64  `toml:"scramble_seed"`
	MaxInterpGapFrames int   `toml:"max_interp_gap_frames"`
	RemuxerPath       string `toml:"remuxer_path"`
	MinMaskAreaFrac   float64 `toml:"min_mask_area_fraction"`
}

type VerificationConfig struct {
	MaxWorkers     int     `toml:"max_workers"`
	GraphCacheTTLSec int   `toml:"graph_cache_ttl_seconds"`
	WitnessTimeoutSec int  `toml:"witness_timeout_seconds"`
}

// Defaults returns the spec's stated defaults, used as a base before a
// TOML file is layered on top.
func Defaults() *Config {
	return &Config{
		Detector: DetectorConfig{
			FaceConfidenceThreshold: 0.5,
			ModelDir:                "models",
		},
		Tracking: TrackingConfig{
			IoUThreshold:        0.3,
			MaxAge:              30,
			MinHitsForConfirmed: 0,
			VelocityDamping:     0.95,
		},
		Processing: ProcessingConfig{
			StabilityThreshold: 0.5,
			StabilityFrames:    3,
			CaptureIntervalSec: 1.0,
			CaptureMarginPx:    20,
			JPEGQuality:        95,
			Phase1TimeoutSec:   3600,
		},
		Storage: StorageConfig{
			UploadsDir:   "storage/uploads",
			CapturesDir:  "storage/captures",
			ProcessedDir: "storage/processed",
		},
		Edition: EditionConfig{
			PixelateBlocks:     10,
			ScrambleSeed:       42,
			MaxInterpGapFrames: 10,
			RemuxerPath:        "ffmpeg",
			MinMaskAreaFrac:    0.001,
		},
		Verification: VerificationConfig{
			MaxWorkers:        4,
			GraphCacheTTLSec:  300,
			WitnessTimeoutSec: 30,
		},
	}
}

var placeholder = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// interpolate replaces ${VAR} / ${VAR:default} placeholders in raw
// with values from the environment, falling back to the inline
// default, and leaving the placeholder untouched (a misconfiguration
// signal) when neither is present.
func interpolate(raw string) string {
	return placeholder.ReplaceAllStringFunc(raw, func(match string) string {
		groups := placeholder.FindStringSubmatch(match)
		name := groups[1]
		hasDefault := strings.Contains(match, ":")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		if hasDefault {
			return groups[2]
		}
		return match
	})
}

// Load reads a TOML config file at path, resolves ${VAR:default}
// environment placeholders, and unmarshals the result on top of
// Defaults().
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	resolved := interpolate(string(raw))

	cfg := Defaults()
	if _, err := toml.Decode(resolved, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
