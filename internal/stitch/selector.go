package stitch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	apperrors "scrollstitch/internal/errors"
)

// Frame is one decoded, sampled video frame. Index is the position in the sampled stream.
type Frame struct {
	Index     int
	Timestamp time.Duration
	Image     image.Image
}

// FrameSource yields frames in capture order and returns io.EOF once exhausted.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// FrameScorer compares frames against the current reference.
type FrameScorer interface {
	SetReference(ref Frame)
	Score(f Frame) (MatchScore, bool)
}

// MatcherScorer adapts a Matcher to FrameScorer, sampling each reference once.
type MatcherScorer struct {
	matcher *Matcher
	top     PixelBuffer
}

func NewMatcherScorer(m *Matcher) *MatcherScorer {
	return &MatcherScorer{matcher: m}
}

func (s *MatcherScorer) SetReference(ref Frame) {
	s.top = s.matcher.Sample(ref.Image)
}

func (s *MatcherScorer) Score(f Frame) (MatchScore, bool) {
	return s.matcher.EvaluateWithTop(s.top, f.Image)
}

// SelectorOptions tunes keyframe selection.
type SelectorOptions struct {
	BufferSize int
	MinOverlap float64
	MaxOverlap float64
	Budget     time.Duration

	// MergeReference folds each kept frame into a height-capped merged reference instead
	// of replacing it.
	MergeReference bool
	MergeMaxHeight int

	Now func() time.Time
}

// DefaultSelectorOptions returns the stock selection tuning.
func DefaultSelectorOptions() SelectorOptions {
	return SelectorOptions{
		BufferSize:     10,
		MinOverlap:     0.15,
		MaxOverlap:     0.90,
		Budget:         9500 * time.Millisecond,
		MergeMaxHeight: 4000,
		Now:            time.Now,
	}
}

// Selection is the result of a selector run. Segments hold stream indices; a new segment
// starts with the first frame kept after a buffer was discarded.
type Selection struct {
	Frames           []Frame
	Segments         [][]int
	Sampled          int
	DiscardedBuffers int
	Aborted          bool
}

// Flatten returns the kept frames of all segments in capture order.
func (s Selection) Flatten() []Frame {
	return s.Frames
}

// Indices returns the stream indices of the kept frames.
func (s Selection) Indices() []int {
	out := make([]int, len(s.Frames))
	for i, f := range s.Frames {
		out[i] = f.Index
	}
	return out
}

// FrameSelector picks well-separated keyframes from a frame stream using a bounded
// look-ahead buffer.
type FrameSelector struct {
	scorer  FrameScorer
	matcher *Matcher
	opts    SelectorOptions
	logger  *slog.Logger
}

// NewFrameSelector builds a selector. matcher is only needed when MergeReference is set.
func NewFrameSelector(scorer FrameScorer, matcher *Matcher, opts SelectorOptions, logger *slog.Logger) *FrameSelector {
	def := DefaultSelectorOptions()
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.MaxOverlap <= 0 {
		opts.MinOverlap, opts.MaxOverlap = def.MinOverlap, def.MaxOverlap
	}
	if opts.MergeMaxHeight <= 0 {
		opts.MergeMaxHeight = def.MergeMaxHeight
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameSelector{scorer: scorer, matcher: matcher, opts: opts, logger: logger}
}

func (s *FrameSelector) inBand(score MatchScore) bool {
	return score.Ratio >= s.opts.MinOverlap && score.Ratio <= s.opts.MaxOverlap
}

// Select consumes src until it is exhausted or the budget runs out. Fewer than two kept
// frames is an insufficient-input error.
func (s *FrameSelector) Select(ctx context.Context, src FrameSource) (Selection, error) {
	start := s.opts.Now()
	overBudget := func() bool {
		return s.opts.Budget > 0 && s.opts.Now().Sub(start) > s.opts.Budget
	}

	var sel Selection
	first, err := src.Next(ctx)
	if errors.Is(err, io.EOF) {
		return sel, apperrors.NewInsufficientInput("video produced no frames", nil)
	}
	if err != nil {
		return sel, apperrors.NewDecoderFailure("read first frame", err)
	}
	sel.Sampled = 1
	sel.Frames = append(sel.Frames, first)
	sel.Segments = [][]int{{first.Index}}
	broken := false
	ref := first
	s.scorer.SetReference(ref)

	buf := newRing[Frame](s.opts.BufferSize)
	exhausted := false
	for {
		if err := ctx.Err(); err != nil {
			return sel, err
		}
		for !exhausted && !buf.Full() {
			if overBudget() {
				sel.Aborted = true
				break
			}
			f, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				exhausted = true
				break
			}
			if err != nil {
				return sel, apperrors.NewDecoderFailure(fmt.Sprintf("read frame %d", sel.Sampled), err)
			}
			sel.Sampled++
			buf.Push(f)
		}
		if sel.Aborted {
			s.logger.Warn("Frame selection budget exhausted", "budget", s.opts.Budget, "discarded", buf.Len(), "kept", len(sel.Frames))
			buf.Clear()
			break
		}
		if buf.Len() == 0 {
			break
		}

		k, ok := s.search(buf)
		if !ok {
			s.logger.Debug("No acceptable match in look-ahead buffer", "from", buf.At(0).Index, "frames", buf.Len())
			sel.DiscardedBuffers++
			broken = true
			buf.Clear()
			continue
		}
		kept := buf.At(k)
		sel.Frames = append(sel.Frames, kept)
		if broken {
			sel.Segments = append(sel.Segments, nil)
			broken = false
		}
		last := len(sel.Segments) - 1
		sel.Segments[last] = append(sel.Segments[last], kept.Index)
		ref = s.nextReference(ref, kept)
		s.scorer.SetReference(ref)
		buf.DropFront(k + 1)
	}

	if len(sel.Frames) < 2 {
		return sel, apperrors.NewInsufficientInput(fmt.Sprintf("only %d usable frame(s) after selection", len(sel.Frames)), nil)
	}
	return sel, nil
}

// search finds an in-band frame in the buffer, preferring positions nearer the tail. Too
// little scroll moves right; no match or too much scroll moves left.
func (s *FrameSelector) search(buf *ring[Frame]) (int, bool) {
	lo, hi := 0, buf.Len()-1
	found := -1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		score, ok := s.scorer.Score(buf.At(mid))
		switch {
		case ok && s.inBand(score):
			found = mid
			lo = mid + 1
		case ok && score.Ratio > s.opts.MaxOverlap:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return found, found >= 0
}

func (s *FrameSelector) nextReference(ref, kept Frame) Frame {
	if !s.opts.MergeReference || s.matcher == nil {
		return kept
	}
	merged := MergeImages(s.matcher, ref.Image, kept.Image, s.opts.MergeMaxHeight)
	return Frame{Index: kept.Index, Timestamp: kept.Timestamp, Image: merged}
}
