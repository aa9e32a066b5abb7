package solver

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
)

const (
	defaultMaxNodes = 5000
	integralityTol  = 1e-6
	pruneTol        = 1e-9
)

// BranchAndBound solves a Problem by branch and bound over LP relaxations
// solved with gonum's simplex. It dives depth-first until it holds an
// integer solution, then always expands the open node with the lowest bound
// and stops as soon as no open node can beat the incumbent.
type BranchAndBound struct {
	// MaxNodes caps the number of relaxations solved. When reached, the best
	// integer solution found so far is returned with Optimal unset.
	MaxNodes int
}

func NewBranchAndBound(maxNodes int) *BranchAndBound {
	if maxNodes <= 0 {
		maxNodes = defaultMaxNodes
	}
	return &BranchAndBound{MaxNodes: maxNodes}
}

// bnbNode is a subproblem: variable bounds plus the relaxation bound of its
// parent.
type bnbNode struct {
	lo, hi []float64
	bound  float64
	depth  int
}

// nodeHeap orders open nodes by bound, deeper first on ties.
type nodeHeap []*bnbNode

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].bound != h[j].bound {
		return h[i].bound < h[j].bound
	}
	return h[i].depth > h[j].depth
}
func (h nodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)   { *h = append(*h, x.(*bnbNode)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

// search is the state of one Solve call.
type search struct {
	m        *model
	best     float64
	bestX    []float64
	dive     []*bnbNode
	open     nodeHeap
	nodes    int
	failures int
	lastErr  error
}

func (s *search) push(n *bnbNode) {
	if s.bestX == nil {
		s.dive = append(s.dive, n)
		return
	}
	heap.Push(&s.open, n)
}

func (s *search) pop() *bnbNode {
	if k := len(s.dive); k > 0 {
		n := s.dive[k-1]
		s.dive = s.dive[:k-1]
		return n
	}
	return heap.Pop(&s.open).(*bnbNode)
}

func (s *search) pending() int {
	return len(s.dive) + s.open.Len()
}

// incumbent records x as the best integer solution and hands every node
// still waiting for the dive to the best-first queue.
func (s *search) incumbent(x []float64) {
	s.best, s.bestX = s.m.objective(x), x
	for _, n := range s.dive {
		heap.Push(&s.open, n)
	}
	s.dive = nil
}

// bound turns a relaxation value into a lower bound for the integer
// solutions below it.
func (s *search) bound(obj float64) float64 {
	if s.m.integralObj {
		return math.Ceil(obj - integralityTol)
	}
	return obj
}

func (s *search) prunes(bound float64) bool {
	return bound >= s.best-pruneTol
}

// exhausted reports whether no open node can improve on the incumbent.
func (s *search) exhausted() bool {
	return s.bestX != nil && len(s.dive) == 0 && s.open.Len() > 0 && s.prunes(s.open[0].bound)
}

// Solve runs the search. A feasible start set on p becomes the first
// incumbent. When the node limit or ctx stops the search early, the
// incumbent is returned with Optimal unset, or ErrLimit when there is none.
func (b *BranchAndBound) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	m := compile(p)
	s := &search{m: m, best: math.Inf(1)}
	if start := p.Start(); start != nil && m.feasible(start) {
		s.incumbent(m.round(start))
	}
	s.push(m.root())

	var stopped error
	for s.pending() > 0 {
		if s.exhausted() {
			s.open = s.open[:0]
			break
		}
		if s.nodes >= b.MaxNodes {
			stopped = fmt.Errorf("node limit %d reached", b.MaxNodes)
			break
		}
		if err := ctx.Err(); err != nil {
			stopped = err
			break
		}

		node := s.pop()
		if s.prunes(node.bound) {
			continue
		}
		s.nodes++

		obj, x, err := relaxContext(ctx, m, node.lo, node.hi)
		switch {
		case errors.Is(err, ErrInfeasible):
			continue
		case errors.Is(err, ErrUnbounded):
			return nil, err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			stopped = err
		case err != nil:
			s.failures++
			s.lastErr = err
			continue
		}
		if stopped != nil {
			break
		}

		bound := s.bound(obj)
		if s.prunes(bound) {
			continue
		}
		j := mostFractional(m, x)
		if j < 0 {
			s.incumbent(m.round(x))
			continue
		}

		v := x[j]
		down := &bnbNode{lo: node.lo, hi: withBound(node.hi, j, math.Floor(v)), bound: bound, depth: node.depth + 1}
		up := &bnbNode{lo: withBound(node.lo, j, math.Ceil(v)), hi: node.hi, bound: bound, depth: node.depth + 1}
		// while diving, the nearer branch is explored first
		if v-math.Floor(v) < 0.5 {
			s.push(up)
			s.push(down)
		} else {
			s.push(down)
			s.push(up)
		}
	}

	if s.bestX == nil {
		switch {
		case stopped != nil:
			return nil, fmt.Errorf("%w: %w", ErrLimit, stopped)
		case s.failures > 0:
			return nil, fmt.Errorf("%w: %d relaxations failed, last: %w", ErrInternal, s.failures, s.lastErr)
		default:
			return nil, ErrInfeasible
		}
	}
	return &Solution{
		Objective: s.best,
		Values:    s.bestX,
		Optimal:   stopped == nil && s.failures == 0,
		Nodes:     s.nodes,
	}, nil
}

func withBound(bounds []float64, j int, v float64) []float64 {
	out := make([]float64, len(bounds))
	copy(out, bounds)
	out[j] = v
	return out
}

// mostFractional returns the integer variable farthest from integrality, or -1.
func mostFractional(m *model, x []float64) int {
	idx, worst := -1, integralityTol
	for j, v := range m.vars {
		if v.Kind != Integer {
			continue
		}
		f := math.Abs(x[j] - math.Round(x[j]))
		if f > worst {
			idx, worst = j, f
		}
	}
	return idx
}
