package service

import (
	"fmt"
	"math"

	"github.com/pjsph/slam/internal/models"
	"github.com/pjsph/slam/pkg/solver"
)

// FormulationConfig parameterises the team-balancing program.
type FormulationConfig struct {
	GroupSize      int
	Teams          int
	RatingGapBound float64
}

// FairnessCap is the largest allowed gap between team average ratings.
func (c FormulationConfig) FairnessCap() float64 {
	return c.RatingGapBound / float64(2*c.GroupSize)
}

// Formulation is the balanced-team assignment program for one pool of
// queued players. Pool index i corresponds to players[i].
//
//	x[i,t] in {0,1}  player i plays on team t
//	avg[t] >= 0      average rating of team t
//	z >= 0           fairness slack, at most the fairness cap
//	gap in Z, >= 0   N*z, minimised
//
// Closeness is written per player rather than per pair: if i plays on t,
// at least N-1 of its teammates come from the entries within the rating-gap
// bound of i. With team sizes pinned by the fill rows this admits exactly
// the assignments whose same-team pairs all respect the bound. Entries with
// fewer than N-1 close entries are fixed off every team.
//
// Teams are ordered by average, so a split and its relabelling are not both
// searched and a single band between the first and last team bounds z. The
// band width times N is a difference of rating sums, hence the integer gap.
type Formulation struct {
	cfg       FormulationConfig
	problem   *solver.Problem
	players   []models.PlayerID
	ratings   []models.Rating
	near      [][]int
	eligible  []bool
	assign    [][]solver.Var
	avg       []solver.Var
	z         solver.Var
	gap       solver.Var
	closeness int
	warm      bool
}

// BuildFormulation lays out the program for the given pool. players and
// ratings are parallel slices. When a two-team split can be found directly
// it is set as the solver's starting point.
func BuildFormulation(players []models.PlayerID, ratings []models.Rating, cfg FormulationConfig) *Formulation {
	f := &Formulation{
		cfg:     cfg,
		problem: solver.NewProblem(),
		players: players,
		ratings: ratings,
	}
	p := f.problem
	n := len(players)
	teams := cfg.Teams
	size := float64(cfg.GroupSize)

	f.near = make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if j != i && players[j] != players[i] && f.within(i, j) {
				f.near[i] = append(f.near[i], j)
			}
		}
	}
	f.eligible = make([]bool, n)
	for i := range f.eligible {
		f.eligible[i] = len(f.near[i]) >= cfg.GroupSize-1
	}

	f.assign = make([][]solver.Var, n)
	for i := 0; i < n; i++ {
		upper := 1.0
		if !f.eligible[i] {
			upper = 0
		}
		f.assign[i] = make([]solver.Var, teams)
		for t := 0; t < teams; t++ {
			f.assign[i][t] = p.AddVariable(fmt.Sprintf("x[%d,%d]", i, t), solver.Integer, 0, upper)
		}
	}
	f.avg = make([]solver.Var, teams)
	for t := 0; t < teams; t++ {
		f.avg[t] = p.AddNonNegative(fmt.Sprintf("avg[%d]", t))
	}
	f.z = p.AddNonNegative("z")
	f.gap = p.AddVariable("gap", solver.Integer, 0, math.Inf(1))

	// each player on at most one team
	for i := 0; i < n; i++ {
		terms := make([]solver.Term, teams)
		for t := 0; t < teams; t++ {
			terms[t] = solver.T(1, f.assign[i][t])
		}
		p.AddConstraint(fmt.Sprintf("once[%d]", i), solver.LE, 1, terms...)
	}

	// a player queued more than once joins a match at most once
	seen := make(map[models.PlayerID][]int)
	for i, id := range players {
		seen[id] = append(seen[id], i)
	}
	for i, id := range players {
		idxs := seen[id]
		if len(idxs) < 2 || idxs[0] != i {
			continue
		}
		var terms []solver.Term
		for _, k := range idxs {
			for t := 0; t < teams; t++ {
				terms = append(terms, solver.T(1, f.assign[k][t]))
			}
		}
		p.AddConstraint(fmt.Sprintf("distinct[%d]", id), solver.LE, 1, terms...)
	}

	for t := 0; t < teams; t++ {
		fill := make([]solver.Term, n)
		def := make([]solver.Term, 0, n+1)
		def = append(def, solver.T(size, f.avg[t]))
		for i := 0; i < n; i++ {
			fill[i] = solver.T(1, f.assign[i][t])
			def = append(def, solver.T(-float64(ratings[i]), f.assign[i][t]))
		}
		p.AddConstraint(fmt.Sprintf("fill[%d]", t), solver.EQ, size, fill...)
		p.AddConstraint(fmt.Sprintf("avg[%d]", t), solver.EQ, 0, def...)
	}

	if cfg.GroupSize > 1 {
		for i := 0; i < n; i++ {
			if !f.eligible[i] || !f.hasFarEntry(i) {
				continue
			}
			for t := 0; t < teams; t++ {
				terms := []solver.Term{solver.T(-(size - 1), f.assign[i][t])}
				for _, j := range f.near[i] {
					if f.eligible[j] {
						terms = append(terms, solver.T(1, f.assign[j][t]))
					}
				}
				p.AddConstraint(fmt.Sprintf("close[%d,%d]", i, t), solver.GE, 0, terms...)
				f.closeness++
			}
		}
	}

	for t := 0; t+1 < teams; t++ {
		p.AddConstraint(fmt.Sprintf("order[%d]", t), solver.GE, 0,
			solver.T(1, f.avg[t]), solver.T(-1, f.avg[t+1]))
	}
	if teams > 1 {
		p.AddConstraint("band", solver.LE, 0,
			solver.T(1, f.avg[0]), solver.T(-1, f.avg[teams-1]), solver.T(-1, f.z))
	}
	p.AddConstraint("band.cap", solver.LE, cfg.FairnessCap(), solver.T(1, f.z))
	p.AddConstraint("scale", solver.EQ, 0, solver.T(size, f.z), solver.T(-1, f.gap))

	p.Minimize(solver.T(1, f.gap))

	if start := f.warmStart(); start != nil {
		p.SetStart(start)
		f.warm = true
	}
	return f
}

// within reports whether entries i and j may share a team.
func (f *Formulation) within(i, j int) bool {
	return float64(models.Gap(f.ratings[i], f.ratings[j])) <= f.cfg.RatingGapBound
}

// hasFarEntry reports whether some other eligible player is too far from i
// to share its team.
func (f *Formulation) hasFarEntry(i int) bool {
	for j := range f.players {
		if j != i && f.eligible[j] && f.players[j] != f.players[i] && !f.within(i, j) {
			return true
		}
	}
	return false
}

func (f *Formulation) Problem() *solver.Problem {
	return f.problem
}

// ClosenessRows is the number of per-player closeness constraints.
func (f *Formulation) ClosenessRows() int {
	return f.closeness
}

// Excluded is the number of pool entries that cannot join any team.
func (f *Formulation) Excluded() int {
	n := 0
	for _, ok := range f.eligible {
		if !ok {
			n++
		}
	}
	return n
}

// WarmStarted reports whether a starting split was handed to the solver.
func (f *Formulation) WarmStarted() bool {
	return f.warm
}

// Teams reads the pool indices assigned to each team from a solution. Values
// are rounded to {0,1}; a solution that does not fill every team with
// exactly GroupSize distinct players is rejected.
func (f *Formulation) Teams(sol *solver.Solution) ([][]int, error) {
	teams := make([][]int, f.cfg.Teams)
	taken := make(map[int]bool)
	for i := range f.assign {
		for t, v := range f.assign[i] {
			if sol.Value(v) < 0.5 {
				continue
			}
			if taken[i] {
				return nil, fmt.Errorf("%w: pool entry %d assigned twice", solver.ErrInternal, i)
			}
			taken[i] = true
			teams[t] = append(teams[t], i)
		}
	}
	for t, members := range teams {
		if len(members) != f.cfg.GroupSize {
			return nil, fmt.Errorf("%w: team %d has %d players, want %d",
				solver.ErrInternal, t, len(members), f.cfg.GroupSize)
		}
	}
	return teams, nil
}

// Average returns the solved average rating of team t.
func (f *Formulation) Average(sol *solver.Solution, t int) float64 {
	return sol.Value(f.avg[t])
}

// Slack returns the solved fairness slack.
func (f *Formulation) Slack(sol *solver.Solution) float64 {
	return sol.Value(f.z)
}
