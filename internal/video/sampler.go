package video

import (
	"context"
	"log/slog"

	"github.com/corona10/goimagehash"

	"scrollstitch/internal/stitch"
)

// Sampler divides a decoder's frame rate down to a target rate and optionally drops
// frames whose difference hash is within DedupeDistance of the last emitted frame.
// A negative distance disables deduplication. Emitted frames are renumbered densely.
type Sampler struct {
	dec      Decoder
	logger   *slog.Logger
	step     float64
	next     float64
	dedupe   int
	lastHash *goimagehash.ImageHash

	raw     int
	emitted int

	Duplicates int
}

func NewSampler(dec Decoder, targetFPS float64, dedupeDistance int, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	step := 1.0
	if fps := dec.Info().FPS; targetFPS > 0 && fps > targetFPS {
		step = fps / targetFPS
	}
	return &Sampler{dec: dec, logger: logger, step: step, dedupe: dedupeDistance}
}

func (s *Sampler) Info() Info { return s.dec.Info() }

// Emitted reports how many frames were passed on.
func (s *Sampler) Emitted() int { return s.emitted }

// Next implements stitch.FrameSource.
func (s *Sampler) Next(ctx context.Context) (stitch.Frame, error) {
	for {
		f, err := s.dec.Next(ctx)
		if err != nil {
			return stitch.Frame{}, err
		}
		raw := s.raw
		s.raw++
		if float64(raw)+1e-9 < s.next {
			continue
		}
		s.next += s.step

		if s.dedupe >= 0 && s.duplicate(f) {
			s.Duplicates++
			continue
		}

		f.Index = s.emitted
		s.emitted++
		return f, nil
	}
}

func (s *Sampler) duplicate(f stitch.Frame) bool {
	hash, err := goimagehash.DifferenceHash(f.Image)
	if err != nil {
		s.logger.Debug("hash failed", "frame", f.Index, "error", err)
		return false
	}
	if s.lastHash != nil {
		dist, err := s.lastHash.Distance(hash)
		if err == nil && dist <= s.dedupe {
			s.logger.Debug("skipping duplicate frame", "frame", f.Index, "distance", dist)
			return true
		}
	}
	s.lastHash = hash
	return false
}

func (s *Sampler) Close() error { return s.dec.Close() }
