package stitch

import (
	"context"
	"io"
	"slices"
	"testing"
	"time"

	apperrors "scrollstitch/internal/errors"
)

// sliceSource replays frames and advances a fake clock by one second per read.
type sliceSource struct {
	frames []Frame
	pos    int
	clock  *fakeClock
}

func (s *sliceSource) Next(ctx context.Context) (Frame, error) {
	if s.pos >= len(s.frames) {
		return Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	if s.clock != nil {
		s.clock.now = s.clock.now.Add(time.Second)
	}
	return f, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func framesN(n int) []Frame {
	out := make([]Frame, n)
	for i := range out {
		out[i] = Frame{Index: i}
	}
	return out
}

// groupScorer models a scroll where frames 0, 10, 20 and 29 each start a new screenful.
// Frames in the reference's own screenful barely moved; the next screenful's first frame
// overlaps by half; anything else has no overlap.
type groupScorer struct {
	ref   int
	calls int
}

func keyframeGroup(i int) int {
	switch {
	case i < 10:
		return 0
	case i < 20:
		return 1
	case i < 29:
		return 2
	default:
		return 3
	}
}

func (g *groupScorer) SetReference(ref Frame) { g.ref = ref.Index }

func (g *groupScorer) Score(f Frame) (MatchScore, bool) {
	g.calls++
	rg, fg := keyframeGroup(g.ref), keyframeGroup(f.Index)
	switch {
	case fg == rg:
		return MatchScore{Ratio: 0.97}, true
	case fg == rg+1 && (f.Index == 10 || f.Index == 20 || f.Index == 29):
		return MatchScore{Ratio: 0.5}, true
	default:
		return MatchScore{}, false
	}
}

func TestFrameSelectorKeepsKeyframes(t *testing.T) {
	opts := DefaultSelectorOptions()
	opts.Budget = 0
	sel := NewFrameSelector(&groupScorer{}, nil, opts, nil)

	got, err := sel.Select(context.Background(), &sliceSource{frames: framesN(30)})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if want := []int{0, 10, 20, 29}; !slices.Equal(got.Indices(), want) {
		t.Fatalf("expected %v, got %v", want, got.Indices())
	}
	if got.Sampled != 30 {
		t.Fatalf("expected 30 sampled frames, got %d", got.Sampled)
	}
	if got.Aborted {
		t.Fatalf("expected no abort without a budget")
	}
}

func TestFrameSelectorDiscardsUnmatchedBuffer(t *testing.T) {
	scorer := &groupScorer{}
	opts := DefaultSelectorOptions()
	opts.Budget = 0
	// Frames 1..9 are all "no visible scroll" against 0; the stream ends before 10.
	sel := NewFrameSelector(scorer, nil, opts, nil)
	got, err := sel.Select(context.Background(), &sliceSource{frames: framesN(10)})
	if !apperrors.IsKind(err, apperrors.KindInsufficientInput) {
		t.Fatalf("expected insufficient input, got %v", err)
	}
	if got.DiscardedBuffers != 1 {
		t.Fatalf("expected one discarded buffer, got %d", got.DiscardedBuffers)
	}
}

func TestFrameSelectorBudgetAbortWithoutEnoughFrames(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	opts := DefaultSelectorOptions()
	opts.Now = clock.Now

	sel := NewFrameSelector(&groupScorer{}, nil, opts, nil)
	got, err := sel.Select(context.Background(), &sliceSource{frames: framesN(30), clock: clock})
	if !apperrors.IsKind(err, apperrors.KindInsufficientInput) {
		t.Fatalf("expected insufficient input after abort, got %v", err)
	}
	if !got.Aborted {
		t.Fatalf("expected selection to report the abort")
	}
	if len(got.Frames) != 1 {
		t.Fatalf("expected only the seed frame, got %v", got.Indices())
	}
}

func TestFrameSelectorBudgetAbortKeepsEarlierMatches(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	opts := DefaultSelectorOptions()
	opts.Budget = 15500 * time.Millisecond
	opts.Now = clock.Now

	sel := NewFrameSelector(&groupScorer{}, nil, opts, nil)
	got, err := sel.Select(context.Background(), &sliceSource{frames: framesN(30), clock: clock})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !got.Aborted {
		t.Fatalf("expected abort")
	}
	if want := []int{0, 10}; !slices.Equal(got.Indices(), want) {
		t.Fatalf("expected %v, got %v", want, got.Indices())
	}
}

func TestFrameSelectorEmptyStream(t *testing.T) {
	sel := NewFrameSelector(&groupScorer{}, nil, DefaultSelectorOptions(), nil)
	if _, err := sel.Select(context.Background(), &sliceSource{}); !apperrors.IsKind(err, apperrors.KindInsufficientInput) {
		t.Fatalf("expected insufficient input, got %v", err)
	}
}

func TestFrameSelectorWithMatcher(t *testing.T) {
	m := NewMatcherForMode(ModeVideo)
	frames := []Frame{
		{Index: 0, Image: strip(0, 400, 200, 4)},
		{Index: 1, Image: strip(10, 400, 200, 4)},
		{Index: 2, Image: strip(120, 400, 200, 4)},
	}
	opts := DefaultSelectorOptions()
	opts.Budget = 0
	sel := NewFrameSelector(NewMatcherScorer(m), m, opts, nil)
	got, err := sel.Select(context.Background(), &sliceSource{frames: frames})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if want := []int{0, 2}; !slices.Equal(got.Indices(), want) {
		t.Fatalf("expected %v, got %v", want, got.Indices())
	}
}

type funcScorer struct {
	ref   int
	score func(ref, idx int) (MatchScore, bool)
}

func (f *funcScorer) SetReference(ref Frame) { f.ref = ref.Index }
func (f *funcScorer) Score(fr Frame) (MatchScore, bool) { return f.score(f.ref, fr.Index) }

func TestFrameSelectorStartsSegmentAfterDiscard(t *testing.T) {
	scorer := &funcScorer{score: func(ref, idx int) (MatchScore, bool) {
		if ref == 0 && idx == 15 {
			return MatchScore{Ratio: 0.5}, true
		}
		return MatchScore{}, false
	}}
	opts := DefaultSelectorOptions()
	opts.Budget = 0
	got, err := NewFrameSelector(scorer, nil, opts, nil).Select(context.Background(), &sliceSource{frames: framesN(21)})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if want := []int{0, 15}; !slices.Equal(got.Indices(), want) {
		t.Fatalf("expected %v, got %v", want, got.Indices())
	}
	if len(got.Segments) != 2 || !slices.Equal(got.Segments[1], []int{15}) {
		t.Fatalf("expected second segment to start at 15, got %v", got.Segments)
	}
	if got.DiscardedBuffers != 2 {
		t.Fatalf("expected two discarded buffers, got %d", got.DiscardedBuffers)
	}
}
