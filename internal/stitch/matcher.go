package stitch

import (
	"image"
	"math"
)

// OverlapResult is the cut between two vertically adjacent images, in native pixels.
// TopY is the last row of the upper image to keep and BottomY the first row of the lower
// image to draw; both sit at the midpoint of the detected overlap band.
type OverlapResult struct {
	TopY    int     `json:"top_y"`
	BottomY int     `json:"bottom_y"`
	Overlap int     `json:"overlap"`
	Diff    float64 `json:"diff"`
}

// MatchScore is the quality of the best alignment without any cut placement. Ratio is
// the overlap height as a fraction of the lower image's height.
type MatchScore struct {
	Diff  float64 `json:"diff"`
	Ratio float64 `json:"ratio"`
}

// Matcher locates the vertical overlap between two images under one Profile. A Matcher is
// stateless after construction and safe for concurrent use.
type Matcher struct {
	profile Profile
}

// NewMatcher returns a matcher bound to profile.
func NewMatcher(profile Profile) *Matcher {
	return &Matcher{profile: profile}
}

// NewMatcherForMode returns a matcher using the built-in profile for mode.
func NewMatcherForMode(mode Mode) *Matcher {
	return NewMatcher(DefaultProfile(mode))
}

func (m *Matcher) Profile() Profile {
	return m.profile
}

// Sample downsamples img at the profile's scale.
func (m *Matcher) Sample(img image.Image) PixelBuffer {
	return Downsample(img, m.profile.Scale)
}

// candidate is one (sample start, upper row) alignment in downsampled rows.
type candidate struct {
	diff float64
	y    int
	s    int
}

func (c candidate) shift() int {
	return c.y - c.s
}

// FindOverlap returns the midpoint cut between upper and lower. ok is false when no
// alignment clears the threshold, which callers treat as a fallback placement.
func (m *Matcher) FindOverlap(upper, lower image.Image) (OverlapResult, bool) {
	if upper == nil || lower == nil {
		return OverlapResult{}, false
	}
	top, bottom := m.Sample(upper), m.Sample(lower)
	best, ok := m.match(top, bottom, true)
	if !ok {
		return OverlapResult{}, false
	}

	shift := m.toNative(best.shift())
	shift = m.refine(upper, lower, shift, m.toNative(best.s))

	topY, bottomY, overlap := midpointCut(shift, upper.Bounds().Dy(), lower.Bounds().Dy(), m.profile.MaxOverlapFrac)
	return OverlapResult{TopY: topY, BottomY: bottomY, Overlap: overlap, Diff: best.diff}, true
}

// EvaluateOverlapRatio scores upper against lower without refinement or cut placement.
func (m *Matcher) EvaluateOverlapRatio(upper, lower image.Image) (MatchScore, bool) {
	if upper == nil || lower == nil {
		return MatchScore{}, false
	}
	return m.Score(m.Sample(upper), m.Sample(lower))
}

// EvaluateWithTop is EvaluateOverlapRatio against an already sampled upper image.
func (m *Matcher) EvaluateWithTop(top PixelBuffer, lower image.Image) (MatchScore, bool) {
	if lower == nil {
		return MatchScore{}, false
	}
	return m.Score(top, m.Sample(lower))
}

// Score compares two sampled buffers. Unlike FindOverlap it always scans the whole upper
// content window, so near-duplicates report a high ratio instead of no match.
func (m *Matcher) Score(top, bottom PixelBuffer) (MatchScore, bool) {
	best, ok := m.match(top, bottom, false)
	if !ok {
		return MatchScore{}, false
	}
	overlap := min(top.Height-best.shift(), bottom.Height)
	if overlap < 0 {
		overlap = 0
	}
	return MatchScore{Diff: best.diff, Ratio: float64(overlap) / float64(bottom.Height)}, true
}

// match runs the primary search and the order-sanity check. Accepted candidates always
// describe a downward continuation (non-negative shift). forCut applies LowerHalfOnly.
func (m *Matcher) match(top, bottom PixelBuffer, forCut bool) (candidate, bool) {
	if top.Empty() || bottom.Empty() {
		return candidate{}, false
	}
	best, ok := m.search(top, bottom, false, forCut && m.profile.LowerHalfOnly)
	if !ok || best.diff >= m.profile.Threshold {
		return candidate{}, false
	}

	// A reverse candidate only replaces the primary when it still places the lower image
	// downward; repeated content can otherwise pull the cut above the upper image.
	if best.y < top.Height/2 && len(m.profile.ReverseDepths) > 0 {
		rev, ok := m.search(top, bottom, true, false)
		if ok && rev.shift() >= 0 && rev.diff < m.profile.Threshold && rev.diff < best.diff {
			best = rev
		}
	}

	if best.shift() < 0 {
		return candidate{}, false
	}
	return best, true
}

// search slides sample bands of the lower buffer through the upper content window. In
// reverse mode the bands come from the lower image's tail and only the upper image's
// early rows are scanned.
func (m *Matcher) search(top, bottom PixelBuffer, reverse, lowerHalf bool) (candidate, bool) {
	p := m.profile
	upWin := p.contentWindow(top.Height)
	lowWin := p.contentWindow(bottom.Height)
	band := p.bandRows(lowWin.size())
	if band <= 0 || upWin.size() < band {
		return candidate{}, false
	}

	yMin, yMax := upWin.start, upWin.end-band
	depths := p.SampleDepths
	switch {
	case reverse:
		depths = p.ReverseDepths
		if half := top.Height / 2; yMax > half {
			yMax = half
		}
	case lowerHalf:
		if half := top.Height / 2; yMin < half {
			yMin = half
		}
	}
	if yMax < yMin {
		return candidate{}, false
	}

	tp, bp := bufferPlane(top), bufferPlane(bottom)
	minDiff := math.Inf(1)
	var near []candidate
	for _, s := range sampleStarts(lowWin, band, depths) {
		for y := yMin; y <= yMax; y++ {
			limit := math.Min(p.Threshold, minDiff+p.TieEpsilon)
			d := bandDiff(tp, bp, y, s, band, p.ColumnStride, limit)
			if math.IsInf(d, 1) {
				continue
			}
			minDiff = math.Min(minDiff, d)
			near = append(near, candidate{diff: d, y: y, s: s})
		}
	}
	return pickCandidate(near, minDiff+p.TieEpsilon)
}

// pickCandidate returns the candidate with the largest shift among those whose diff is
// at most cutoff. Equal shifts keep the lower diff.
func pickCandidate(cands []candidate, cutoff float64) (candidate, bool) {
	var best candidate
	found := false
	for _, c := range cands {
		if c.diff > cutoff {
			continue
		}
		if !found || c.shift() > best.shift() || (c.shift() == best.shift() && c.diff < best.diff) {
			best, found = c, true
		}
	}
	return best, found
}

func sampleStarts(w window, band int, depths []float64) []int {
	starts := make([]int, 0, len(depths))
	seen := make(map[int]bool, len(depths))
	for _, depth := range depths {
		s := w.start + int(depth*float64(w.size()))
		if s+band > w.end {
			s = w.end - band
		}
		if s < w.start || seen[s] {
			continue
		}
		seen[s] = true
		starts = append(starts, s)
	}
	return starts
}

func (m *Matcher) toNative(v int) int {
	return int(math.Round(float64(v) / m.profile.Scale))
}

// refine nudges a native shift by up to one downsampled pixel, comparing a narrow band
// at full resolution. The original shift is kept unless a nudge beats RefineThreshold.
func (m *Matcher) refine(upper, lower image.Image, shift, anchor int) int {
	p := m.profile
	rows := p.RefineRows
	radius := int(math.Ceil(1 / p.Scale))
	upperH, lowerH := upper.Bounds().Dy(), lower.Bounds().Dy()
	if rows <= 0 || anchor < 0 || anchor+rows > lowerH {
		return shift
	}
	y0 := max(anchor+shift-radius, 0)
	y1 := min(anchor+shift+radius+rows, upperH)
	if y1-y0 < rows {
		return shift
	}

	lo := rgbaPlane(rowsRGBA(lower, anchor, anchor+rows))
	up := rgbaPlane(rowsRGBA(upper, y0, y1))

	best, bestDiff := shift, math.Inf(1)
	for step := 0; step <= radius; step++ {
		for _, cand := range []int{shift - step, shift + step} {
			y := anchor + cand
			if cand < 0 || y < y0 || y+rows > y1 {
				continue
			}
			d := bandDiff(up, lo, y, anchor, rows, p.ColumnStride, math.Inf(1))
			if d < bestDiff {
				best, bestDiff = cand, d
			}
			if step == 0 {
				break
			}
		}
	}
	if bestDiff < p.RefineThreshold {
		return best
	}
	return shift
}

// midpointCut converts a native shift into the clamped midpoint cut.
func midpointCut(shift, upperH, lowerH int, maxFrac float64) (topY, bottomY, overlap int) {
	topY, bottomY = max(shift, 0), max(-shift, 0)
	overlap = min(upperH-topY, lowerH-bottomY)
	if limit := int(float64(upperH) * maxFrac); overlap > limit {
		overlap = limit
	}
	if overlap < 0 {
		overlap = 0
	}
	topY = clampInt(topY+overlap/2, 0, upperH)
	bottomY = clampInt(bottomY+overlap/2, 0, lowerH)
	return topY, bottomY, overlap
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// plane is a row-addressable RGBA pixel view; y0 is the image row stored at pix[0].
type plane struct {
	pix    []byte
	stride int
	width  int
	y0     int
}

func bufferPlane(b PixelBuffer) plane {
	return plane{pix: b.Pix, stride: b.Width * 4, width: b.Width}
}

func rgbaPlane(img *image.RGBA) plane {
	return plane{pix: img.Pix, stride: img.Stride, width: img.Rect.Dx(), y0: img.Rect.Min.Y}
}

// bandDiff is the mean absolute RGB difference between rows [ya, ya+rows) of a and
// [yb, yb+rows) of b over every stride-th column. Narrower inputs are centred. It returns
// +Inf as soon as the running total proves the mean will exceed limit.
func bandDiff(a, b plane, ya, yb, rows, stride int, limit float64) float64 {
	w := min(a.width, b.width)
	if w <= 0 || rows <= 0 {
		return math.Inf(1)
	}
	ax, bx := (a.width-w)/2, (b.width-w)/2
	cols := (w + stride - 1) / stride
	total := rows * cols * 3
	budget := math.Inf(1)
	if !math.IsInf(limit, 1) {
		budget = limit * float64(total)
	}

	sum := 0
	for r := 0; r < rows; r++ {
		ra := (ya-a.y0+r)*a.stride + ax*4
		rb := (yb-b.y0+r)*b.stride + bx*4
		for x := 0; x < w; x += stride {
			pa, pb := ra+x*4, rb+x*4
			sum += absDiff(a.pix[pa], b.pix[pb]) +
				absDiff(a.pix[pa+1], b.pix[pb+1]) +
				absDiff(a.pix[pa+2], b.pix[pb+2])
		}
		if float64(sum) > budget {
			return math.Inf(1)
		}
	}
	return float64(sum) / float64(total)
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
