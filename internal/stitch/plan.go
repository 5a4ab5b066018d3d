package stitch

import (
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"
)

// ErrOffsetBeforePrevious is returned when an adjustment would move an image above its
// predecessor. The plan is left unchanged.
var ErrOffsetBeforePrevious = errors.New("offset would precede the previous image")

// PlanState is an immutable snapshot of a stitch plan. Offsets are canvas rows before the
// top crop is applied; SelfStarts are the rows each image skips because its predecessor
// already covers them. MeanDiff averages the band diff of the matched seams.
type PlanState struct {
	ID         string `json:"id"`
	Mode       Mode   `json:"mode"`
	Widths     []int  `json:"widths"`
	Heights    []int  `json:"heights"`
	Offsets    []int  `json:"offsets"`
	SelfStarts []int  `json:"self_starts"`
	Fallback   []int  `json:"fallback"`
	Sources    []int  `json:"sources,omitempty"`
	TopCrop    int    `json:"top_crop"`
	BottomCrop int    `json:"bottom_crop"`

	PreviewScale float64 `json:"preview_scale,omitempty"`
	MeanDiff     float64 `json:"mean_diff"`
}

func (s PlanState) Len() int { return len(s.Heights) }

// IsFallback reports whether image i was placed without a usable overlap: none was found,
// or its cut fell above the rows its predecessor draws.
func (s PlanState) IsFallback(i int) bool {
	return slices.Contains(s.Fallback, i)
}

// CanvasWidth is the widest image.
func (s PlanState) CanvasWidth() int {
	w := 0
	for _, v := range s.Widths {
		w = max(w, v)
	}
	return w
}

// CanvasHeight is the composed height after both crops.
func (s PlanState) CanvasHeight() int {
	n := s.Len()
	if n == 0 {
		return 0
	}
	last := n - 1
	h := s.Offsets[last] + (s.Heights[last] - s.BottomCrop - s.SelfStarts[last]) - s.TopCrop
	return max(h, 0)
}

// span returns the source rows [from, to) that image i contributes and its canvas row.
func (s PlanState) span(i int) (from, to, dstY int) {
	from = s.SelfStarts[i]
	if i == s.Len()-1 {
		to = s.Heights[i] - s.BottomCrop
	} else {
		to = from + s.Offsets[i+1] - s.Offsets[i]
	}
	dstY = s.Offsets[i] - s.TopCrop
	if i == 0 {
		from += s.TopCrop
		dstY += s.TopCrop
	}
	to = min(to, s.Heights[i])
	return from, max(to, from), dstY
}

// Validate checks the structural invariants of a snapshot.
func (s PlanState) Validate() error {
	n := s.Len()
	if len(s.Widths) != n || len(s.Offsets) != n || len(s.SelfStarts) != n {
		return fmt.Errorf("plan %s: inconsistent lengths", s.ID)
	}
	for i := 1; i < n; i++ {
		if s.Offsets[i] < s.Offsets[i-1] {
			return fmt.Errorf("plan %s: offset %d decreases", s.ID, i)
		}
	}
	for _, i := range s.Fallback {
		if i < 0 || i >= n {
			return fmt.Errorf("plan %s: fallback index %d out of range", s.ID, i)
		}
	}
	return nil
}

func (s PlanState) clone() PlanState {
	s.Widths = slices.Clone(s.Widths)
	s.Heights = slices.Clone(s.Heights)
	s.Offsets = slices.Clone(s.Offsets)
	s.SelfStarts = slices.Clone(s.SelfStarts)
	s.Fallback = slices.Clone(s.Fallback)
	s.Sources = slices.Clone(s.Sources)
	return s
}

// Plan is a mutable stitch plan. Adjustments are applied atomically; readers only ever
// see complete snapshots.
type Plan struct {
	mu    sync.RWMutex
	state PlanState
}

// BuildPlan places images top to bottom. overlaps[i] is the cut between image i and
// image i+1; a nil entry means the lower image is stacked below the upper at full height.
func BuildPlan(id string, mode Mode, sizes []image.Point, overlaps []*OverlapResult) (*Plan, error) {
	n := len(sizes)
	if n == 0 {
		return nil, fmt.Errorf("plan %s: no images", id)
	}
	if len(overlaps) != n-1 {
		return nil, fmt.Errorf("plan %s: %d overlaps for %d images", id, len(overlaps), n)
	}

	st := PlanState{
		ID:         id,
		Mode:       mode,
		Widths:     make([]int, n),
		Heights:    make([]int, n),
		Offsets:    make([]int, n),
		SelfStarts: make([]int, n),
		Fallback:   []int{},
	}
	for i, sz := range sizes {
		st.Widths[i], st.Heights[i] = sz.X, sz.Y
	}
	for i := 1; i < n; i++ {
		prev := i - 1
		if ov := overlaps[prev]; ov != nil {
			st.SelfStarts[i] = ov.BottomY
			st.Offsets[i] = st.Offsets[prev] + max(ov.TopY-st.SelfStarts[prev], 0)
			// The cut lies in rows the previous image does not draw, so the seam repeats
			// content; leave it for manual adjustment.
			if ov.TopY < st.SelfStarts[prev] {
				st.Fallback = append(st.Fallback, i)
			}
			continue
		}
		st.SelfStarts[i] = 0
		st.Offsets[i] = st.Offsets[prev] + max(st.Heights[prev]-st.SelfStarts[prev], 0)
		st.Fallback = append(st.Fallback, i)
	}
	return &Plan{state: st}, nil
}

// RestorePlan rebuilds a plan from a stored snapshot.
func RestorePlan(state PlanState) (*Plan, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return &Plan{state: state.clone()}, nil
}

// Snapshot returns a copy of the current state.
func (p *Plan) Snapshot() PlanState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.clone()
}

// AdjustTopCrop moves the global top crop by delta, clamped to the first image.
func (p *Plan) AdjustTopCrop(delta int) PlanState {
	p.mu.Lock()
	defer p.mu.Unlock()
	limit := p.state.Heights[0] - 1
	if p.state.Len() > 1 {
		limit = p.state.Offsets[1] - p.state.Offsets[0]
	}
	p.state.TopCrop = clampInt(p.state.TopCrop+delta, 0, max(limit, 0))
	return p.state.clone()
}

// AdjustBottomCrop moves the global bottom crop by delta, clamped to the last image.
func (p *Plan) AdjustBottomCrop(delta int) PlanState {
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.state.Len() - 1
	limit := p.state.Heights[last] - p.state.SelfStarts[last]
	p.state.BottomCrop = clampInt(p.state.BottomCrop+delta, 0, max(limit, 0))
	return p.state.clone()
}

// AdjustInteriorOffset shifts image index and every image after it by delta. It clears
// the fallback flag on index. A delta that would move the image above its predecessor is
// rejected with ErrOffsetBeforePrevious and changes nothing.
func (p *Plan) AdjustInteriorOffset(index, delta int) (PlanState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index <= 0 || index >= p.state.Len() {
		return p.state.clone(), fmt.Errorf("plan %s: index %d is not an interior image", p.state.ID, index)
	}
	if p.state.Offsets[index]+delta < p.state.Offsets[index-1] {
		return p.state.clone(), ErrOffsetBeforePrevious
	}
	for i := index; i < p.state.Len(); i++ {
		p.state.Offsets[i] += delta
	}
	p.state.Fallback = slices.DeleteFunc(p.state.Fallback, func(i int) bool { return i == index })
	if index == 1 {
		p.state.TopCrop = min(p.state.TopCrop, p.state.Offsets[1]-p.state.Offsets[0])
	}
	return p.state.clone(), nil
}
