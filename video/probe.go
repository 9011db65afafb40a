// Package video handles source video inspection (ffprobe) and frame
// decoding (gocv) for the detection phase.
package video

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"

	"github.com/GabrielJuan349/occultashield/log"
)

var unsupportedVideoCodecs = []string{"mjpeg", "jpeg", "png"}

// Info is the subset of probed source-video metadata the pipeline
// needs: dimensions, frame rate, duration and the codec used to
// reject unsupported containers up front.
type Info struct {
	Width      int
	Height     int
	FPS        float64
	Duration   time.Duration
	FrameCount int64
	Codec      string
	HasAudio   bool
}

// Prober probes a video file and returns its Info, or a descriptive
// error if the container is unreadable or unsupported.
type Prober interface {
	Probe(ctx context.Context, videoID, path string) (Info, error)
}

// FFProbe shells out to ffprobe via the vansante wrapper, retried with
// exponential backoff for transient I/O errors.
type FFProbe struct{}

func (FFProbe) Probe(ctx context.Context, videoID, path string) (Info, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3)); err != nil {
		log.LogError(videoID, "ffprobe failed", err, "path", path)
		return Info{}, fmt.Errorf("probing %s: %w", path, err)
	}
	return parseProbeOutput(data)
}

func parseProbeOutput(data *ffprobe.ProbeData) (Info, error) {
	stream := data.FirstVideoStream()
	if stream == nil {
		return Info{}, errors.New("no video stream found")
	}
	for _, codec := range unsupportedVideoCodecs {
		if strings.EqualFold(stream.CodecName, codec) {
			return Info{}, fmt.Errorf("unsupported codec %s", stream.CodecName)
		}
	}
	if data.Format == nil {
		return Info{}, errors.New("format information missing")
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return Info{}, errors.New("zero dimensions")
	}

	fps, err := parseFps(stream.AvgFrameRate)
	if err != nil {
		return Info{}, fmt.Errorf("parsing frame rate: %w", err)
	}
	if fps == 0 {
		fps, err = parseFps(stream.RFrameRate)
		if err != nil {
			return Info{}, fmt.Errorf("parsing real frame rate: %w", err)
		}
	}

	duration, err := strconv.ParseFloat(stream.Duration, 64)
	if err != nil {
		duration = data.Format.DurationSeconds
	}
	if duration <= 0 {
		return Info{}, errors.New("zero duration")
	}

	frameCount := int64(0)
	if stream.NbFrames != "" {
		frameCount, _ = strconv.ParseInt(stream.NbFrames, 10, 64)
	}
	if frameCount == 0 && fps > 0 {
		frameCount = int64(duration * fps)
	}

	return Info{
		Width:      stream.Width,
		Height:     stream.Height,
		FPS:        fps,
		Duration:   time.Duration(duration * float64(time.Second)),
		FrameCount: frameCount,
		Codec:      stream.CodecName,
		HasAudio:   data.FirstAudioStream() != nil,
	}, nil
}

func parseFps(framerate string) (float64, error) {
	if framerate == "" {
		return 0, nil
	}
	parts := strings.SplitN(framerate, "/", 2)
	if len(parts) < 2 {
		fps, err := strconv.ParseFloat(framerate, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing framerate: %w", err)
		}
		return fps, nil
	}
	num, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("parsing framerate numerator: %w", err)
	}
	den, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("parsing framerate denominator: %w", err)
	}
	if den == 0 {
		if num == 0 {
			return 0, nil
		}
		return 0, errors.New("invalid framerate denominator 0")
	}
	return float64(num) / float64(den), nil
}
