package stitch

import (
	"context"
	"image"
	"log/slog"
	"slices"
	"testing"
)

func TestOrdererChainThenLeftovers(t *testing.T) {
	images := []image.Image{
		strip(0, 200, 100, 7),   // 0: unrelated
		strip(200, 200, 100, 1), // 1: chain tail
		strip(0, 200, 100, 1),   // 2: chain head
		strip(0, 200, 100, 9),   // 3: unrelated
		strip(100, 200, 100, 1), // 4: chain middle
	}
	o := NewOrderer(NewMatcherForMode(ModeGeneric), slog.Default())
	order, err := o.Order(context.Background(), images)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if want := []int{2, 4, 1, 0, 3}; !slices.Equal(order, want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
}

func TestOrdererIdentityWithoutChain(t *testing.T) {
	images := []image.Image{strip(0, 200, 100, 1), strip(0, 200, 100, 2), strip(0, 200, 100, 3)}
	o := NewOrderer(NewMatcherForMode(ModeGeneric), nil)
	order, err := o.Order(context.Background(), images)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if want := []int{0, 1, 2}; !slices.Equal(order, want) {
		t.Fatalf("expected identity order, got %v", order)
	}
}

// tableScorer scores samples by their source width, which the tests use as an image id.
type tableScorer map[[2]int]float64

func (s tableScorer) Sample(img image.Image) PixelBuffer {
	return PixelBuffer{Width: img.Bounds().Dx()}
}

func (s tableScorer) Score(top, bottom PixelBuffer) (MatchScore, bool) {
	d, ok := s[[2]int{top.Width, bottom.Width}]
	return MatchScore{Diff: d, Ratio: 0.5}, ok
}

func idImages(n int) []image.Image {
	out := make([]image.Image, n)
	for i := range out {
		out[i] = image.NewRGBA(image.Rect(0, 0, i, 1))
	}
	return out
}

func TestOrdererPrefersLowerCumulativeDiff(t *testing.T) {
	scorer := tableScorer{
		{0, 1}: 10, {1, 2}: 10,
		{0, 2}: 1, {2, 1}: 1,
	}
	o := NewOrderer(scorer, nil)
	order, err := o.Order(context.Background(), idImages(3))
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if want := []int{0, 2, 1}; !slices.Equal(order, want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
}

func TestOrdererGreedyBeyondLimit(t *testing.T) {
	scorer := tableScorer{{3, 1}: 2, {1, 0}: 2, {0, 2}: 2}
	o := NewOrderer(scorer, nil)
	o.MaxExhaustive = 2
	order, err := o.Order(context.Background(), idImages(5))
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if want := []int{3, 1, 0, 2, 4}; !slices.Equal(order, want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
}

func TestOrdererHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := NewOrderer(NewMatcherForMode(ModeGeneric), nil)
	if _, err := o.Order(ctx, idImages(3)); err == nil {
		t.Fatalf("expected cancelled context error")
	}
}
