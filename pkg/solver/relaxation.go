package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	simplexTol = 1e-9
	fixTol     = 1e-9
	feasTol    = 1e-7
	// artificial columns cost bigMScale times the largest objective and row
	// coefficient
	bigMScale = 1e3
)

// model is a Problem with merged terms and a dense objective. It is built
// once per solve and only read afterwards.
type model struct {
	vars []Variable
	rows []Constraint
	obj  []float64
	// integralObj is set when every integer-feasible point has an integral
	// objective value, which lets relaxation bounds be rounded up.
	integralObj bool
}

func compile(p *Problem) *model {
	m := &model{
		vars:        p.vars,
		rows:        make([]Constraint, len(p.cons)),
		obj:         make([]float64, len(p.vars)),
		integralObj: true,
	}
	for _, t := range p.objective {
		m.obj[t.Var] += t.Coef
	}
	for j, c := range m.obj {
		if c != 0 && (p.vars[j].Kind != Integer || c != math.Trunc(c)) {
			m.integralObj = false
		}
	}
	for i, c := range p.cons {
		m.rows[i] = Constraint{Name: c.Name, Sense: c.Sense, RHS: c.RHS, Terms: mergeTerms(c.Terms)}
	}
	return m
}

// mergeTerms sums repeated variables and drops zero coefficients.
func mergeTerms(terms []Term) []Term {
	out := make([]Term, 0, len(terms))
	pos := make(map[Var]int, len(terms))
	for _, t := range terms {
		if k, ok := pos[t.Var]; ok {
			out[k].Coef += t.Coef
			continue
		}
		pos[t.Var] = len(out)
		out = append(out, t)
	}
	n := 0
	for _, t := range out {
		if t.Coef != 0 {
			out[n] = t
			n++
		}
	}
	return out[:n]
}

func (m *model) root() *bnbNode {
	n := len(m.vars)
	root := &bnbNode{lo: make([]float64, n), hi: make([]float64, n), bound: math.Inf(-1)}
	for j, v := range m.vars {
		root.lo[j] = v.Lower
		root.hi[j] = v.Upper
		if v.Kind == Integer {
			root.lo[j] = math.Ceil(v.Lower - integralityTol)
			if !math.IsInf(v.Upper, 1) {
				root.hi[j] = math.Floor(v.Upper + integralityTol)
			}
		}
	}
	return root
}

func (m *model) objective(x []float64) float64 {
	var f float64
	for j, c := range m.obj {
		f += c * x[j]
	}
	return f
}

// round snaps integer variables of x to the nearest integer.
func (m *model) round(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	for j, v := range m.vars {
		if v.Kind == Integer {
			out[j] = math.Round(out[j])
		}
	}
	return out
}

// feasible reports whether x meets every bound, integrality requirement and
// row of m within tolerance.
func (m *model) feasible(x []float64) bool {
	if len(x) != len(m.vars) {
		return false
	}
	for j, v := range m.vars {
		if math.IsNaN(x[j]) || x[j] < v.Lower-feasTol || x[j] > v.Upper+feasTol {
			return false
		}
		if v.Kind == Integer && math.Abs(x[j]-math.Round(x[j])) > integralityTol {
			return false
		}
	}
	for _, r := range m.rows {
		var lhs float64
		for _, t := range r.Terms {
			lhs += t.Coef * x[t.Var]
		}
		if !satisfied(r.Sense, lhs-r.RHS, feasTol*(1+math.Abs(r.RHS))) {
			return false
		}
	}
	return true
}

// satisfied reports whether lhs - rhs = d is acceptable for the sense.
func satisfied(s Sense, d, tol float64) bool {
	switch s {
	case LE:
		return d <= tol
	case GE:
		return d >= -tol
	default:
		return math.Abs(d) <= tol
	}
}

// stdRow is one row of the shifted program before sign normalisation.
type stdRow struct {
	terms []Term
	sense Sense
	rhs   float64
}

type relaxResult struct {
	obj float64
	x   []float64
	err error
}

// relaxContext runs relax and gives up with ctx.Err() once ctx is done. A
// simplex call cannot be interrupted, so an abandoned one finishes in the
// background and its result is dropped.
func relaxContext(ctx context.Context, m *model, lo, hi []float64) (float64, []float64, error) {
	if ctx.Done() == nil {
		return relax(m, lo, hi)
	}
	done := make(chan relaxResult, 1)
	go func() {
		obj, x, err := relax(m, lo, hi)
		done <- relaxResult{obj: obj, x: x, err: err}
	}()
	select {
	case r := <-done:
		return r.obj, r.x, r.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// relax solves the LP relaxation of m within [lo, hi].
//
// Variables are shifted to x' = x - lo so that x' >= 0 holds. Fixed
// variables are substituted out, and an upper bound gets its own row only
// when no constraint row already implies it. Every row carries either a
// slack that is feasible at x' = 0 or an artificial column, so the simplex
// starts from a known basis without a phase one of its own.
func relax(m *model, lo, hi []float64) (float64, []float64, error) {
	n := len(m.vars)
	fixed := make([]bool, n)
	implied := make([]float64, n)
	for j := 0; j < n; j++ {
		if hi[j] < lo[j]-fixTol {
			return 0, nil, ErrInfeasible
		}
		fixed[j] = hi[j]-lo[j] <= fixTol
		implied[j] = math.Inf(1)
	}

	var rows []stdRow
	for _, c := range m.rows {
		rhs := c.RHS
		live := make([]Term, 0, len(c.Terms))
		for _, t := range c.Terms {
			rhs -= t.Coef * lo[t.Var]
			if !fixed[t.Var] {
				live = append(live, t)
			}
		}
		if len(live) == 0 {
			if !satisfied(c.Sense, -rhs, feasTol*(1+math.Abs(c.RHS))) {
				return 0, nil, ErrInfeasible
			}
			continue
		}
		rows = append(rows, stdRow{terms: live, sense: c.Sense, rhs: rhs})
		impliedBounds(implied, live, c.Sense, rhs)
	}
	for j := 0; j < n; j++ {
		if fixed[j] || math.IsInf(hi[j], 1) {
			continue
		}
		width := hi[j] - lo[j]
		if implied[j] <= width+fixTol {
			continue
		}
		rows = append(rows, stdRow{terms: []Term{{Var: Var(j), Coef: 1}}, sense: LE, rhs: width})
	}

	x := make([]float64, n)
	copy(x, lo)

	col := make([]int, n)
	for j := range col {
		col[j] = -1
	}
	for _, r := range rows {
		for _, t := range r.terms {
			col[t.Var] = 0
		}
	}
	numCols := 0
	for j := 0; j < n; j++ {
		if col[j] < 0 {
			// a free column with no upper bound row runs off to infinity
			if !fixed[j] && m.obj[j] < 0 {
				return 0, nil, ErrUnbounded
			}
			continue
		}
		col[j] = numCols
		numCols++
	}
	if len(rows) == 0 {
		return m.objective(x), x, nil
	}

	sf := newStandardForm(m, rows, col, numCols)
	optX, err := sf.solve()
	if err != nil {
		return 0, nil, err
	}
	for j := 0; j < n; j++ {
		if col[j] >= 0 {
			x[j] = lo[j] + optX[col[j]]
		}
	}
	return m.objective(x), x, nil
}

// impliedBounds tightens implied with the upper bounds a row forces on its
// shifted variables when all of its coefficients share a sign that makes
// the row a ceiling.
func impliedBounds(implied []float64, terms []Term, s Sense, rhs float64) {
	pos, neg := true, true
	for _, t := range terms {
		if t.Coef < 0 {
			pos = false
		} else {
			neg = false
		}
	}
	switch {
	case s == LE && pos, s == GE && neg, s == EQ && (pos || neg):
	default:
		return
	}
	for _, t := range terms {
		if b := rhs / t.Coef; b < implied[t.Var] {
			implied[t.Var] = b
		}
	}
}

// standardForm is min c'x, Ax = b, x >= 0 with b >= 0 and a feasible
// starting basis of slack and artificial columns.
type standardForm struct {
	a       *mat.Dense
	b       []float64
	c       []float64
	basis   []int
	numReal int // structural and slack columns; artificials follow
	bNorm   float64
}

func newStandardForm(m *model, rows []stdRow, col []int, numCols int) *standardForm {
	nr := len(rows)
	slacks, arts := 0, 0
	negate := make([]bool, nr)
	needArt := make([]bool, nr)
	for i, r := range rows {
		switch r.sense {
		case LE:
			slacks++
			negate[i] = r.rhs < 0
			needArt[i] = negate[i]
		case GE:
			slacks++
			negate[i] = r.rhs <= 0
			needArt[i] = !negate[i]
		case EQ:
			negate[i] = r.rhs < 0
			needArt[i] = true
		}
		if needArt[i] {
			arts++
		}
	}

	total := numCols + slacks + arts
	sf := &standardForm{
		a:       mat.NewDense(nr, total, nil),
		b:       make([]float64, nr),
		c:       make([]float64, total),
		basis:   make([]int, nr),
		numReal: numCols + slacks,
	}

	maxObj, maxCoef := 1.0, 1.0
	for j, k := range col {
		if k >= 0 {
			sf.c[k] = m.obj[j]
			maxObj = math.Max(maxObj, math.Abs(m.obj[j]))
		}
	}

	slack, art := numCols, numCols+slacks
	for i, r := range rows {
		sign := 1.0
		if negate[i] {
			sign = -1
		}
		for _, t := range r.terms {
			k := col[t.Var]
			sf.a.Set(i, k, sf.a.At(i, k)+sign*t.Coef)
			maxCoef = math.Max(maxCoef, math.Abs(t.Coef))
		}
		sf.b[i] = sign * r.rhs
		sf.bNorm = math.Max(sf.bNorm, sf.b[i])

		switch r.sense {
		case LE:
			sf.a.Set(i, slack, sign)
			sf.basis[i] = slack
			slack++
		case GE:
			sf.a.Set(i, slack, -sign)
			sf.basis[i] = slack
			slack++
		}
		if needArt[i] {
			sf.a.Set(i, art, 1)
			sf.basis[i] = art
			art++
		}
	}

	bigM := bigMScale * maxObj * maxCoef
	for k := sf.numReal; k < total; k++ {
		sf.c[k] = bigM
	}
	return sf
}

func (sf *standardForm) tol() float64 {
	return feasTol * (1 + sf.bNorm)
}

func (sf *standardForm) artificials() bool {
	_, total := sf.a.Dims()
	return total > sf.numReal
}

// solve returns the optimal column values. The penalised problem answers
// almost every node; when it leaves an artificial column in use or reports
// an unbounded ray, a pure phase one settles feasibility and gonum's own
// start is used on the real columns.
func (sf *standardForm) solve() ([]float64, error) {
	_, optX, err := simplex(sf.c, sf.a, sf.b, sf.basis)
	switch {
	case err == nil && !sf.usesArtificial(optX):
		return optX, nil
	case err == nil, errors.Is(err, lp.ErrUnbounded):
		if !sf.artificials() {
			return nil, ErrUnbounded
		}
	default:
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	_, total := sf.a.Dims()
	phaseOne := make([]float64, total)
	for k := sf.numReal; k < total; k++ {
		phaseOne[k] = 1
	}
	infeas, _, err := simplex(phaseOne, sf.a, sf.b, sf.basis)
	if err != nil {
		return nil, fmt.Errorf("%w: phase one: %w", ErrInternal, err)
	}
	if infeas > sf.tol() {
		return nil, ErrInfeasible
	}

	nr, _ := sf.a.Dims()
	realCols := sf.a.Slice(0, nr, 0, sf.numReal)
	_, optX, err = simplex(sf.c[:sf.numReal], realCols, sf.b, nil)
	switch {
	case err == nil:
		return optX, nil
	case errors.Is(err, lp.ErrInfeasible):
		return nil, ErrInfeasible
	case errors.Is(err, lp.ErrUnbounded):
		return nil, ErrUnbounded
	default:
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
}

func (sf *standardForm) usesArtificial(x []float64) bool {
	for k := sf.numReal; k < len(x); k++ {
		if x[k] > sf.tol() {
			return true
		}
	}
	return false
}

// simplex calls lp.Simplex and turns its panics on malformed input into
// errors.
func simplex(c []float64, a mat.Matrix, b []float64, basis []int) (f float64, x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: simplex: %v", ErrInternal, r)
		}
	}()
	return lp.Simplex(c, a, b, simplexTol, basis)
}
