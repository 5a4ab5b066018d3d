// Package video turns screen recordings into sampled frame streams for keyframe selection.
package video

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	apperrors "scrollstitch/internal/errors"
	"scrollstitch/internal/stitch"
)

// Info describes a decoded stream.
type Info struct {
	FPS        float64       `json:"fps"`
	FrameCount int           `json:"frame_count"`
	Duration   time.Duration `json:"duration"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
}

// Decoder yields every frame of a recording in order and returns io.EOF at the end.
type Decoder interface {
	Next(ctx context.Context) (stitch.Frame, error)
	Info() Info
	Close() error
}

// Options selects and tunes the decoder behind a sampled stream.
type Options struct {
	Decoder        string // "gocv" or "ffmpeg"
	TargetFPS      float64
	DedupeDistance int
	FFmpegPath     string
	FFprobePath    string
}

// Open decodes path with the configured backend and wraps it in a Sampler.
func Open(ctx context.Context, path string, opts Options, logger *slog.Logger) (*Sampler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("video %s", path), err)
	}

	var (
		dec Decoder
		err error
	)
	switch opts.Decoder {
	case "ffmpeg":
		dec, err = OpenFFmpeg(ctx, path, FFmpegOptions{
			FFmpegPath:  opts.FFmpegPath,
			FFprobePath: opts.FFprobePath,
			FPS:         opts.TargetFPS,
		})
	case "", "gocv":
		dec, err = OpenGocv(path)
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown video decoder %q", opts.Decoder), nil)
	}
	if err != nil {
		return nil, apperrors.NewDecoderFailure(fmt.Sprintf("open %s", path), err)
	}

	info := dec.Info()
	logger.Info("Opened video",
		"path", path,
		"decoder", opts.Decoder,
		"fps", info.FPS,
		"frames", info.FrameCount,
		"duration", info.Duration.Round(time.Millisecond),
		"size", fmt.Sprintf("%dx%d", info.Width, info.Height))

	return NewSampler(dec, opts.TargetFPS, opts.DedupeDistance, logger), nil
}
