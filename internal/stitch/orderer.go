package stitch

import (
	"context"
	"image"
	"log/slog"
	"math"
	"math/bits"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// DefaultMaxExhaustive bounds the exact chain search; larger sets use a greedy walk.
const DefaultMaxExhaustive = 16

// BufferScorer samples images and scores pairs of samples. *Matcher implements it.
type BufferScorer interface {
	Sample(img image.Image) PixelBuffer
	Score(top, bottom PixelBuffer) (MatchScore, bool)
}

// Orderer arranges an unordered image set into the best stitching sequence.
type Orderer struct {
	scorer        BufferScorer
	logger        *slog.Logger
	MaxExhaustive int
}

func NewOrderer(scorer BufferScorer, logger *slog.Logger) *Orderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orderer{scorer: scorer, logger: logger, MaxExhaustive: DefaultMaxExhaustive}
}

// MatchGraph builds the directed match graph: an edge i->j weighted by diff exists when
// image i can sit directly above image j.
func (o *Orderer) MatchGraph(ctx context.Context, images []image.Image) (*simple.WeightedDirectedGraph, error) {
	g := simple.NewWeightedDirectedGraph(0, math.Inf(1))
	samples := make([]PixelBuffer, len(images))
	for i, img := range images {
		g.AddNode(simple.Node(i))
		samples[i] = o.scorer.Sample(img)
	}
	for i := range images {
		for j := range images {
			if i == j {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			score, ok := o.scorer.Score(samples[i], samples[j])
			if !ok {
				continue
			}
			g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(i), simple.Node(j), score.Diff))
		}
	}
	return g, nil
}

// Order returns a permutation of image indices: the best chain followed by the unmatched
// images in their original order, or the identity when no chain of two exists.
func (o *Orderer) Order(ctx context.Context, images []image.Image) ([]int, error) {
	n := len(images)
	if n < 2 {
		return identity(n), nil
	}
	g, err := o.MatchGraph(ctx, images)
	if err != nil {
		return nil, err
	}

	if n > o.MaxExhaustive {
		o.logger.Info("Image set too large for exhaustive ordering, using greedy chain", "images", n, "limit", o.MaxExhaustive)
	}
	chain := BestChain(g, n, o.MaxExhaustive)
	if len(chain) < 2 {
		o.logger.Debug("No overlap chain found, keeping input order", "images", n)
		return identity(n), nil
	}

	o.logger.Debug("Resolved image order", "chain", chain, "edges", g.Edges().Len())
	return appendLeftovers(chain, n), nil
}

// BestChain returns the best chain through the match graph over nodes 0..n-1: the longest,
// then the lowest cumulative diff, then the lowest start index. Graphs with more than
// maxExhaustive nodes use a greedy walk instead of the exact search.
func BestChain(g *simple.WeightedDirectedGraph, n, maxExhaustive int) []int {
	if n <= maxExhaustive {
		return longestChain(g, n)
	}
	return greedyChain(g, n)
}

// chainState is the best path ending at last that visits exactly the nodes in its mask.
type chainState struct {
	valid bool
	diff  float64
	start int
	prev  int
}

// better orders candidate chains of equal length: lower cumulative diff, then lower
// start index.
func (c chainState) better(o chainState) bool {
	if !o.valid {
		return true
	}
	if c.diff != o.diff {
		return c.diff < o.diff
	}
	return c.start < o.start
}

// longestChain is an exact search over (visited set, last node) states, which bounds the
// otherwise exponential path enumeration at 2^n * n states.
func longestChain(g graph.Weighted, n int) []int {
	states := make([][]chainState, 1<<n)
	for i := 0; i < n; i++ {
		states[1<<i] = make([]chainState, n)
		states[1<<i][i] = chainState{valid: true, start: i, prev: -1}
	}

	bestMask, bestLast := 0, -1
	var best chainState
	for mask := 1; mask < len(states); mask++ {
		row := states[mask]
		if row == nil {
			continue
		}
		for last := 0; last < n; last++ {
			st := row[last]
			if !st.valid {
				continue
			}
			if l, bl := bits.OnesCount(uint(mask)), bits.OnesCount(uint(bestMask)); bestLast < 0 || l > bl || (l == bl && st.better(best)) {
				bestMask, bestLast, best = mask, last, st
			}
			for next := 0; next < n; next++ {
				if mask&(1<<next) != 0 {
					continue
				}
				w, ok := g.Weight(int64(last), int64(next))
				if !ok || last == next {
					continue
				}
				nm := mask | 1<<next
				if states[nm] == nil {
					states[nm] = make([]chainState, n)
				}
				cand := chainState{valid: true, diff: st.diff + w, start: st.start, prev: last}
				if cand.better(states[nm][next]) {
					states[nm][next] = cand
				}
			}
		}
	}
	if bestLast < 0 {
		return nil
	}

	chain := make([]int, 0, bits.OnesCount(uint(bestMask)))
	for mask, last := bestMask, bestLast; last >= 0; {
		chain = append(chain, last)
		prev := states[mask][last].prev
		mask &^= 1 << last
		last = prev
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// greedyChain follows the cheapest unvisited edge from every start and keeps the best walk.
func greedyChain(g *simple.WeightedDirectedGraph, n int) []int {
	var best []int
	bestDiff := math.Inf(1)
	for start := 0; start < n; start++ {
		visited := map[int]bool{start: true}
		chain := []int{start}
		total := 0.0
		for cur := start; ; {
			next, nextW := -1, math.Inf(1)
			to := g.From(int64(cur))
			for to.Next() {
				id := int(to.Node().ID())
				if visited[id] {
					continue
				}
				if w, _ := g.Weight(int64(cur), int64(id)); w < nextW || (w == nextW && id < next) {
					next, nextW = id, w
				}
			}
			if next < 0 {
				break
			}
			visited[next] = true
			chain = append(chain, next)
			total += nextW
			cur = next
		}
		if len(chain) > len(best) || (len(chain) == len(best) && total < bestDiff) {
			best, bestDiff = chain, total
		}
	}
	return best
}

func appendLeftovers(chain []int, n int) []int {
	used := make(map[int]bool, len(chain))
	out := make([]int, 0, n)
	for _, i := range chain {
		used[i] = true
		out = append(out, i)
	}
	for i := 0; i < n; i++ {
		if !used[i] {
			out = append(out, i)
		}
	}
	return out
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
