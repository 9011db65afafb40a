package anonymize

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/GabrielJuan349/occultashield/log"
)

// FinalizeMetadata is the fixed set of fields written back onto the
// output container after every pre-existing tag is stripped, per
// spec.md §4.10.
type FinalizeMetadata struct {
	VideoID         string
	UserDisplayName string
	Date            string // ISO 8601, current time at finalize
	EncoderSoftware string
}

// finalize strips all pre-existing metadata/chapters from inputPath
// and writes outputPath with a fixed metadata set, yuv420p, faststart,
// CRF 23, preset fast, and no audio track. If the remuxer binary is
// missing, the caller is expected to keep the pre-finalize file and
// log a warning: this function only reports the error, it does not
// decide the degrade policy.
func finalize(ctx context.Context, videoID, remuxerPath, inputPath, outputPath string, meta FinalizeMetadata) error {
	if _, err := exec.LookPath(remuxerPath); err != nil {
		return fmt.Errorf("remuxer %q not found: %w", remuxerPath, err)
	}

	comment := fmt.Sprintf("Processing ID: %s", meta.VideoID)
	args := []string{
		"-y",
		"-i", inputPath,
		"-map_metadata", "-1",
		"-map_chapters", "-1",
		"-metadata", "title=" + meta.VideoID,
		"-metadata", "artist=" + meta.UserDisplayName,
		"-metadata", "copyright=" + meta.UserDisplayName,
		"-metadata", "date=" + meta.Date,
		"-metadata", "description=Anonymized by OccultaShield",
		"-metadata", "comment=" + comment,
		"-metadata", "encoder=" + meta.EncoderSoftware,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-crf", "23",
		"-preset", "fast",
		"-an",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, remuxerPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("remuxer failed [%s] [%s]: %w", stdout.String(), stderr.String(), err)
	}
	log.Log(videoID, "metadata finalize complete", "output", outputPath)
	return nil
}
