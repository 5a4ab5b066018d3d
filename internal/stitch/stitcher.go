package stitch

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	apperrors "scrollstitch/internal/errors"
)

// Options configures a Stitcher. Zero values fall back to the built-in defaults.
type Options struct {
	Profiles      map[Mode]Profile
	Selector      SelectorOptions
	MaxExhaustive int
	PreviewScale  float64
	NewID         func() string
}

// Stitcher runs whole stitch invocations: ordering or frame selection, overlap
// detection, planning and composition.
type Stitcher struct {
	profiles      map[Mode]Profile
	selector      SelectorOptions
	maxExhaustive int
	previewScale  float64
	newID         func() string
	logger        *slog.Logger
}

func NewStitcher(opts Options, logger *slog.Logger) *Stitcher {
	if logger == nil {
		logger = slog.Default()
	}
	profiles := DefaultProfiles()
	for mode, p := range opts.Profiles {
		profiles[mode] = p
	}
	if opts.MaxExhaustive <= 0 {
		opts.MaxExhaustive = DefaultMaxExhaustive
	}
	if opts.PreviewScale <= 0 || opts.PreviewScale > 1 {
		opts.PreviewScale = 0.5
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Stitcher{
		profiles:      profiles,
		selector:      opts.Selector,
		maxExhaustive: opts.MaxExhaustive,
		previewScale:  opts.PreviewScale,
		newID:         opts.NewID,
		logger:        logger,
	}
}

// Matcher returns a matcher for mode.
func (s *Stitcher) Matcher(mode Mode) *Matcher {
	p, ok := s.profiles[mode]
	if !ok {
		p = DefaultProfile(mode)
	}
	return NewMatcher(p)
}

// StitchImages stitches still images. With reorder set the images are first arranged by
// the match graph; otherwise the given order is authoritative.
func (s *Stitcher) StitchImages(ctx context.Context, mode Mode, images []image.Image, reorder bool) Outcome {
	if len(images) < 2 {
		return Failure{Err: apperrors.NewInsufficientInput(fmt.Sprintf("need at least two images, got %d", len(images)), nil)}
	}
	m := s.Matcher(mode)

	order := identity(len(images))
	if reorder {
		o := NewOrderer(m, s.logger)
		o.MaxExhaustive = s.maxExhaustive
		var err error
		if order, err = o.Order(ctx, images); err != nil {
			return Failure{Err: err}
		}
	}
	ordered := make([]image.Image, len(order))
	for i, idx := range order {
		ordered[i] = images[idx]
	}
	return s.compose(ctx, m, ordered, order)
}

// StitchFrames selects keyframes from src and stitches them in capture order.
func (s *Stitcher) StitchFrames(ctx context.Context, src FrameSource) Outcome {
	selection, err := s.SelectFrames(ctx, src)
	if err != nil {
		return Failure{Err: err}
	}
	return s.ComposeFrames(ctx, selection.Frames)
}

// SelectFrames runs keyframe selection with the video profile.
func (s *Stitcher) SelectFrames(ctx context.Context, src FrameSource) (Selection, error) {
	m := s.Matcher(ModeVideo)
	sel := NewFrameSelector(NewMatcherScorer(m), m, s.selector, s.logger)
	selection, err := sel.Select(ctx, src)
	if err != nil {
		return Selection{}, err
	}
	s.logger.Info("Selected keyframes",
		"sampled", selection.Sampled,
		"kept", len(selection.Frames),
		"segments", len(selection.Segments),
		"discarded_buffers", selection.DiscardedBuffers,
		"aborted", selection.Aborted)
	return selection, nil
}

// ComposeFrames stitches already selected keyframes in the given order.
func (s *Stitcher) ComposeFrames(ctx context.Context, frames []Frame) Outcome {
	if len(frames) < 2 {
		return Failure{Err: apperrors.NewInsufficientInput(fmt.Sprintf("need at least two keyframes, got %d", len(frames)), nil)}
	}
	images := make([]image.Image, len(frames))
	sources := make([]int, len(frames))
	for i, f := range frames {
		images[i] = f.Image
		sources[i] = f.Index
	}
	return s.compose(ctx, s.Matcher(ModeVideo), images, sources)
}

func (s *Stitcher) compose(ctx context.Context, m *Matcher, images []image.Image, sources []int) Outcome {
	sizes := make([]image.Point, len(images))
	for i, img := range images {
		if img == nil {
			return Failure{Err: apperrors.NewValidationError(fmt.Sprintf("image %d is nil", i), nil)}
		}
		sizes[i] = img.Bounds().Size()
	}

	overlaps := make([]*OverlapResult, len(images)-1)
	diffs := make([]float64, 0, len(overlaps))
	for i := range overlaps {
		if err := ctx.Err(); err != nil {
			return Failure{Err: err}
		}
		ov, ok := m.FindOverlap(images[i], images[i+1])
		if !ok {
			s.logger.Debug("No confident overlap, using fallback placement", "upper", i, "lower", i+1)
			continue
		}
		overlaps[i] = &ov
		diffs = append(diffs, ov.Diff)
	}

	plan, err := BuildPlan(s.newID(), m.Profile().Mode, sizes, overlaps)
	if err != nil {
		return Failure{Err: apperrors.NewInternalError("build plan", err)}
	}
	plan.state.Sources = sources
	plan.state.PreviewScale = s.previewScale
	if len(diffs) > 0 {
		plan.state.MeanDiff = stat.Mean(diffs, nil)
	}
	state := plan.Snapshot()

	img, err := Compose(images, state)
	if err != nil {
		return Failure{Err: err}
	}

	s.logger.Info("Composed stitch",
		"plan", state.ID,
		"images", state.Len(),
		"height", state.CanvasHeight(),
		"fallbacks", len(state.Fallback),
		"mean_diff", state.MeanDiff)

	if len(state.Fallback) > 0 {
		return Warning{
			Image:   img,
			Plan:    state,
			Message: fmt.Sprintf("no usable overlap for %d of %d seams; used fallback placement", len(state.Fallback), len(overlaps)),
		}
	}
	return Success{Image: img, Plan: state}
}
