package stitch

import (
	"image"
	"testing"
)

func TestFindOverlapSharedHundredRows(t *testing.T) {
	upper := strip(0, 200, 100, 1)
	lower := strip(100, 200, 100, 1)

	m := NewMatcherForMode(ModeGeneric)
	res, ok := m.FindOverlap(upper, lower)
	if !ok {
		t.Fatalf("expected overlap to be found")
	}
	if res.Overlap < 95 || res.Overlap > 105 {
		t.Fatalf("expected overlap near 100px, got %d", res.Overlap)
	}
	if res.Diff > 1 {
		t.Fatalf("expected near-zero diff, got %.2f", res.Diff)
	}
	if res.TopY-res.BottomY != 100 {
		t.Fatalf("expected cut rows 100px apart, got top=%d bottom=%d", res.TopY, res.BottomY)
	}
	if res.TopY != 150 || res.BottomY != 50 {
		t.Fatalf("expected midpoint cut 150/50, got %d/%d", res.TopY, res.BottomY)
	}
}

func TestFindOverlapNoSharedContent(t *testing.T) {
	m := NewMatcherForMode(ModeGeneric)
	if res, ok := m.FindOverlap(strip(0, 200, 100, 1), strip(0, 200, 100, 2)); ok {
		t.Fatalf("expected no overlap, got %+v", res)
	}
}

func TestFindOverlapReversedPair(t *testing.T) {
	m := NewMatcherForMode(ModeGeneric)
	first := strip(0, 200, 100, 3)
	second := strip(100, 200, 100, 3)
	if _, ok := m.FindOverlap(second, first); ok {
		t.Fatalf("expected reversed pair to be rejected")
	}
	if _, ok := m.FindOverlap(first, second); !ok {
		t.Fatalf("expected forward pair to match")
	}
}

func TestFindOverlapKeepsForwardMatchOverRepeatedTail(t *testing.T) {
	upper := strip(0, 200, 100, 1)
	lower := strip(20, 200, 100, 1)
	tintRed(lower, 0, 200, 6)
	// The lower tail repeats the upper image's early rows.
	copyRows(lower, upper, 120, 200, 20)

	m := NewMatcherForMode(ModeGeneric)
	res, ok := m.FindOverlap(upper, lower)
	if !ok {
		t.Fatalf("expected the forward overlap to survive the repeated tail")
	}
	if res.TopY-res.BottomY != 20 {
		t.Fatalf("expected cut rows 20px apart, got top=%d bottom=%d", res.TopY, res.BottomY)
	}
}

func TestMatchIgnoresUpwardReverseCandidate(t *testing.T) {
	p := bufferProfile(4)
	p.SampleDepths = []float64{0}
	p.ReverseDepths = []float64{0.5}
	m := NewMatcher(p)

	top := make([]uint8, 20)
	for y := range top {
		top[y] = uint8(10 + 12*y)
	}
	bottom := make([]uint8, 20)
	for r := range bottom {
		bottom[r] = top[min(r+2, 19)]
	}
	for r := 0; r < 4; r++ {
		bottom[r] = top[r+2] + 3
	}
	// Exact repeat of the upper head at the lower image's midpoint.
	copy(bottom[10:14], top[0:4])

	got, ok := m.match(rowBuffer(top, 4), rowBuffer(bottom, 4), true)
	if !ok {
		t.Fatalf("expected the forward candidate to be kept")
	}
	if got.shift() != 2 || got.diff != 3 {
		t.Fatalf("expected shift 2 diff 3, got %+v", got)
	}
}

func TestMatchAdoptsBetterDownwardReverseCandidate(t *testing.T) {
	p := bufferProfile(4)
	p.SampleDepths = []float64{0.25}
	p.ReverseDepths = []float64{0}
	m := NewMatcher(p)

	top := make([]uint8, 20)
	for y := range top {
		top[y] = uint8(10 + 12*y)
	}
	bottom := make([]uint8, 20)
	for r := range bottom {
		bottom[r] = top[min(r+2, 19)]
	}
	// Noise over the primary sample band only.
	for r := 5; r < 9; r++ {
		bottom[r] += 3
	}

	got, ok := m.match(rowBuffer(top, 4), rowBuffer(bottom, 4), true)
	if !ok {
		t.Fatalf("expected a match")
	}
	if got.s != 0 || got.shift() != 2 || got.diff != 0 {
		t.Fatalf("expected the exact reverse candidate at shift 2, got %+v", got)
	}
}

func TestSearchTieBreakDoesNotDriftOnGradient(t *testing.T) {
	p := bufferProfile(8)
	p.SampleDepths = []float64{0}
	m := NewMatcher(p)

	const shift = 10
	top := make([]uint8, 60)
	bottom := make([]uint8, 60)
	for y := range top {
		top[y] = uint8(0.3 * float64(y))
		bottom[y] = uint8(0.3 * float64(y+shift))
	}

	got, ok := m.search(rowBuffer(top, 4), rowBuffer(bottom, 4), false, false)
	if !ok {
		t.Fatalf("expected a candidate")
	}
	if got.diff > p.TieEpsilon {
		t.Fatalf("expected diff within %.2f of the minimum, got %.3f", p.TieEpsilon, got.diff)
	}
	if got.shift() < shift || got.shift() > shift+2 {
		t.Fatalf("expected shift near %d, got %d", shift, got.shift())
	}
}

func TestFindOverlapDeterministic(t *testing.T) {
	m := NewMatcherForMode(ModeListContent)
	upper := strip(0, 240, 120, 5)
	lower := strip(140, 240, 120, 5)

	first, ok1 := m.FindOverlap(upper, lower)
	second, ok2 := m.FindOverlap(upper, lower)
	if ok1 != ok2 || first != second {
		t.Fatalf("expected identical results, got %+v/%v and %+v/%v", first, ok1, second, ok2)
	}
}

func TestFindOverlapBounds(t *testing.T) {
	for _, mode := range []Mode{ModeGeneric, ModeVideo, ModeListContent} {
		m := NewMatcherForMode(mode)
		for shift := 20; shift <= 180; shift += 20 {
			upper := strip(0, 200, 100, 11)
			lower := strip(shift, 200, 100, 11)
			res, ok := m.FindOverlap(upper, lower)
			if !ok {
				continue
			}
			if res.TopY < 0 || res.TopY > 200 || res.BottomY < 0 || res.BottomY > 200 {
				t.Fatalf("%s shift %d: cut out of bounds %+v", mode, shift, res)
			}
			if res.Overlap > 100 {
				t.Fatalf("%s shift %d: overlap %d exceeds half the upper image", mode, shift, res.Overlap)
			}
		}
	}
}

func TestFindOverlapDegenerateInput(t *testing.T) {
	m := NewMatcherForMode(ModeGeneric)
	tiny := image.NewRGBA(image.Rect(0, 0, 2, 2))
	if _, ok := m.FindOverlap(tiny, strip(0, 200, 100, 1)); ok {
		t.Fatalf("expected empty downsample to never match")
	}
	if _, ok := m.FindOverlap(nil, tiny); ok {
		t.Fatalf("expected nil image to never match")
	}
	if buf := Downsample(tiny, 0.2); !buf.Empty() {
		t.Fatalf("expected empty buffer for 2x2 input at 0.2, got %dx%d", buf.Width, buf.Height)
	}
}

func TestEvaluateOverlapRatio(t *testing.T) {
	m := NewMatcherForMode(ModeGeneric)
	upper := strip(0, 200, 100, 1)
	lower := strip(100, 200, 100, 1)

	score, ok := m.EvaluateOverlapRatio(upper, lower)
	if !ok {
		t.Fatalf("expected a score")
	}
	if score.Ratio < 0.45 || score.Ratio > 0.55 {
		t.Fatalf("expected ratio near 0.5, got %.3f", score.Ratio)
	}

	top := m.Sample(upper)
	again, ok := m.EvaluateWithTop(top, lower)
	if !ok || again != score {
		t.Fatalf("expected precomputed top to give the same score, got %+v", again)
	}
}

func TestRefineSnapsToTrueShift(t *testing.T) {
	m := NewMatcherForMode(ModeGeneric)
	upper := strip(0, 200, 100, 1)
	lower := strip(100, 200, 100, 1)
	if got := m.refine(upper, lower, 98, 25); got != 100 {
		t.Fatalf("expected refine to snap 98 onto 100, got %d", got)
	}
}

func TestMidpointCutClampsOverlap(t *testing.T) {
	top, bottom, overlap := midpointCut(20, 200, 200, 0.5)
	if overlap != 100 {
		t.Fatalf("expected overlap clamped to 100, got %d", overlap)
	}
	if top != 70 || bottom != 50 {
		t.Fatalf("expected cut 70/50, got %d/%d", top, bottom)
	}
}

func TestProfilesValidate(t *testing.T) {
	for mode, p := range DefaultProfiles() {
		if err := p.Validate(); err != nil {
			t.Fatalf("profile %s invalid: %v", mode, err)
		}
	}
	bad := GenericProfile()
	bad.HeaderRatio, bad.FooterRatio = 0.6, 0.5
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected header/footer overlap to be rejected")
	}
	if mode, err := ParseMode("list-content"); err != nil || mode != ModeListContent {
		t.Fatalf("expected list-content alias, got %v %v", mode, err)
	}
	if _, err := ParseMode("diagonal"); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}
