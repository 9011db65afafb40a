package anonymize

import (
	"context"
	"fmt"
	"os"

	"gocv.io/x/gocv"

	"github.com/GabrielJuan349/occultashield/domain"
	"github.com/GabrielJuan349/occultashield/log"
	"github.com/GabrielJuan349/occultashield/video"
)

// Config mirrors config.EditionConfig's render-relevant fields.
type Config struct {
	PixelateBlocks     int
	ScrambleSeed       int64
	MaxInterpGapFrames int
	MinMaskAreaFrac    float64
	RemuxerPath        string
}

func (c Config) withDefaults() Config {
	if c.PixelateBlocks <= 0 {
		c.PixelateBlocks = 10
	}
	if c.ScrambleSeed == 0 {
		c.ScrambleSeed = 42
	}
	if c.MaxInterpGapFrames <= 0 {
		c.MaxInterpGapFrames = 10
	}
	if c.MinMaskAreaFrac <= 0 {
		c.MinMaskAreaFrac = 0.001
	}
	if c.RemuxerPath == "" {
		c.RemuxerPath = "ffmpeg"
	}
	return c
}

// Anonymizer renders a source video with one pixel effect per marked
// track, then hands the result to a metadata-stripping finalize step.
type Anonymizer struct {
	cfg Config
}

func NewAnonymizer(cfg Config) *Anonymizer {
	return &Anonymizer{cfg: cfg.withDefaults()}
}

// Run interpolates short gaps, re-opens the source, applies every
// action frame by frame, writes the intra-process output to
// rawOutputPath, then finalizes it into finalOutputPath. No audio
// track is retained in either file.
func (a *Anonymizer) Run(ctx context.Context, videoID, sourcePath, rawOutputPath, finalOutputPath string, actions []Action, meta FinalizeMetadata) error {
	actions = Interpolate(actions, a.cfg.MaxInterpGapFrames)

	reader, err := video.OpenFrameReader(sourcePath)
	if err != nil {
		return fmt.Errorf("anonymize: opening source: %w", err)
	}
	defer reader.Close()

	writer, err := gocv.VideoWriterFile(rawOutputPath, "mp4v", reader.FPS(), reader.Width(), reader.Height(), true)
	if err != nil {
		return fmt.Errorf("anonymize: opening output writer: %w", err)
	}
	defer writer.Close()

	frameArea := float64(reader.Width() * reader.Height())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frames, err := reader.ReadBatch(1)
		if err != nil {
			return fmt.Errorf("anonymize: reading frame: %w", err)
		}
		if len(frames) == 0 {
			break
		}
		frame := frames[0]

		for _, act := range actions {
			box, ok := act.BBoxes[frame.Index]
			if !ok {
				continue
			}
			a.applyAction(frame.Mat, act, box, frame.Index, frameArea, reader.Width(), reader.Height())
		}

		if err := writer.Write(frame.Mat); err != nil {
			frame.Close()
			return fmt.Errorf("anonymize: writing frame %d: %w", frame.Index, err)
		}
		frame.Close()
	}

	if err := finalize(ctx, videoID, a.cfg.RemuxerPath, rawOutputPath, finalOutputPath, meta); err != nil {
		log.Log(videoID, "metadata finalize failed, promoting pre-finalize file", "err", err.Error())
		if renameErr := os.Rename(rawOutputPath, finalOutputPath); renameErr != nil {
			return fmt.Errorf("anonymize: promoting pre-finalize file after finalize failure: %w", renameErr)
		}
		return nil
	}
	return nil
}

func (a *Anonymizer) applyAction(frame gocv.Mat, act Action, box domain.BoundingBox, frameIdx int64, frameArea float64, frameW, frameH int) {
	var polygon []float64
	if act.Masks != nil {
		polygon = act.Masks[frameIdx]
	}
	if polygon != nil && box.Area()/frameArea < a.cfg.MinMaskAreaFrac {
		return
	}

	region := boxRegion(box, frameW, frameH)
	if region.Dx() <= 0 || region.Dy() <= 0 {
		return
	}

	var mask gocv.Mat
	if polygon != nil {
		mask = rasterizeMask(polygon, region)
		defer mask.Close()
	}

	switch act.Type {
	case domain.ActionBlur:
		applyBlur(frame, region, mask)
	case domain.ActionPixelate:
		applyPixelate(frame, region, a.cfg.PixelateBlocks, act.TrackID, mask)
	case domain.ActionMask:
		applyScramble(frame, region, a.cfg.ScrambleSeed)
	}
}
