package service

import (
	"math"
	"sort"

	"github.com/pjsph/slam/internal/models"
)

// maxSwapRounds bounds the local search of warmStart.
const maxSwapRounds = 64

// warmStart looks for a two-team split without the solver: the closest pair
// of rating-contiguous blocks, improved by swaps between the teams and the
// rest of the pool for as long as the gap between the team sums shrinks.
// It returns a full assignment in variable order, or nil.
func (f *Formulation) warmStart() []float64 {
	if f.cfg.Teams != 2 {
		return nil
	}
	size := f.cfg.GroupSize

	var order []int
	for i, ok := range f.eligible {
		if ok {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return f.ratings[order[a]] < f.ratings[order[b]] })

	var blocks [][]int
	for s := range order {
		block := make([]int, 0, size)
		ids := make(map[models.PlayerID]bool, size)
		for k := s; k < len(order) && len(block) < size; k++ {
			if i := order[k]; !ids[f.players[i]] {
				ids[f.players[i]] = true
				block = append(block, i)
			}
		}
		if len(block) == size && f.within(block[0], block[size-1]) {
			blocks = append(blocks, block)
		}
	}

	var a, b []int
	best := math.Inf(1)
	for x := range blocks {
		for y := x + 1; y < len(blocks); y++ {
			if !f.disjoint(blocks[x], blocks[y]) {
				continue
			}
			if d := math.Abs(f.sum(blocks[x]) - f.sum(blocks[y])); d < best {
				best, a, b = d, blocks[x], blocks[y]
			}
		}
	}
	if a == nil {
		return nil
	}
	a = append([]int(nil), a...)
	b = append([]int(nil), b...)
	f.improve(a, b)

	sa, sb := f.sum(a), f.sum(b)
	if sa < sb {
		a, b, sa, sb = b, a, sb, sa
	}
	n := float64(size)
	if (sa-sb)/n > f.cfg.FairnessCap() {
		return nil
	}

	values := make([]float64, f.problem.NumVariables())
	for _, i := range a {
		values[f.assign[i][0]] = 1
	}
	for _, i := range b {
		values[f.assign[i][1]] = 1
	}
	values[f.avg[0]] = sa / n
	values[f.avg[1]] = sb / n
	values[f.z] = (sa - sb) / n
	values[f.gap] = sa - sb
	return values
}

// improve applies the best gap-reducing move until none is left. A move
// swaps one member of a with one of b, or replaces a member of either team
// with an unused entry; every move keeps both teams within the bound.
func (f *Formulation) improve(a, b []int) {
	for round := 0; round < maxSwapRounds; round++ {
		d := f.sum(a) - f.sum(b)
		if d == 0 {
			return
		}
		used := make(map[models.PlayerID]bool, len(a)+len(b))
		for _, i := range a {
			used[f.players[i]] = true
		}
		for _, i := range b {
			used[f.players[i]] = true
		}

		bestGap := math.Abs(d)
		apply := func() {}
		try := func(next float64, move func()) {
			if g := math.Abs(next); g < bestGap {
				bestGap, apply = g, move
			}
		}

		for p, i := range a {
			for q, j := range b {
				ri, rj := float64(f.ratings[i]), float64(f.ratings[j])
				if f.fits(a, p, j) && f.fits(b, q, i) {
					try(d-2*(ri-rj), func() { a[p], b[q] = j, i })
				}
			}
		}
		for o, ok := range f.eligible {
			if !ok || used[f.players[o]] {
				continue
			}
			ro := float64(f.ratings[o])
			for p, i := range a {
				if f.fits(a, p, o) {
					try(d-float64(f.ratings[i])+ro, func() { a[p] = o })
				}
			}
			for q, j := range b {
				if f.fits(b, q, o) {
					try(d+float64(f.ratings[j])-ro, func() { b[q] = o })
				}
			}
		}

		if bestGap >= math.Abs(d) {
			return
		}
		apply()
	}
}

// fits reports whether entry i can take slot p of team without breaking the
// rating-gap bound.
func (f *Formulation) fits(team []int, p, i int) bool {
	for k, j := range team {
		if k != p && !f.within(i, j) {
			return false
		}
	}
	return true
}

func (f *Formulation) disjoint(a, b []int) bool {
	ids := make(map[models.PlayerID]bool, len(a))
	for _, i := range a {
		ids[f.players[i]] = true
	}
	for _, j := range b {
		if ids[f.players[j]] {
			return false
		}
	}
	return true
}

func (f *Formulation) sum(team []int) float64 {
	var s float64
	for _, i := range team {
		s += float64(f.ratings[i])
	}
	return s
}
