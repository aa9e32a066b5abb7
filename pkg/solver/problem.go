// Package solver describes mixed-integer linear programs and solves them.
//
// A Problem is a set of bounded variables, linear constraints and a linear
// objective to minimise. Any backend satisfying Solver can be substituted;
// BranchAndBound is the in-process default.
package solver

import (
	"context"
	"fmt"
	"math"
)

type VarKind int

const (
	Continuous VarKind = iota
	Integer
)

// Var is a handle to a variable of a Problem.
type Var int

type Variable struct {
	Name  string
	Kind  VarKind
	Lower float64
	Upper float64 // math.Inf(1) when unbounded above
}

type Sense int

const (
	LE Sense = iota
	GE
	EQ
)

func (s Sense) String() string {
	switch s {
	case LE:
		return "<="
	case GE:
		return ">="
	case EQ:
		return "="
	default:
		return fmt.Sprintf("Sense(%d)", int(s))
	}
}

// Term is coef * var.
type Term struct {
	Var  Var
	Coef float64
}

// T is shorthand for a Term.
func T(coef float64, v Var) Term {
	return Term{Var: v, Coef: coef}
}

type Constraint struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
}

// Problem is a minimisation over non-negative, finitely lower-bounded variables.
type Problem struct {
	vars      []Variable
	cons      []Constraint
	objective []Term
	start     []float64
}

func NewProblem() *Problem {
	return &Problem{}
}

// AddVariable adds a variable with bounds [lower, upper]. Lower must be finite.
func (p *Problem) AddVariable(name string, kind VarKind, lower, upper float64) Var {
	p.vars = append(p.vars, Variable{Name: name, Kind: kind, Lower: lower, Upper: upper})
	return Var(len(p.vars) - 1)
}

// AddBinary adds an integer variable bounded to [0, 1].
func (p *Problem) AddBinary(name string) Var {
	return p.AddVariable(name, Integer, 0, 1)
}

// AddNonNegative adds a continuous variable bounded below by zero.
func (p *Problem) AddNonNegative(name string) Var {
	return p.AddVariable(name, Continuous, 0, math.Inf(1))
}

func (p *Problem) AddConstraint(name string, sense Sense, rhs float64, terms ...Term) {
	p.cons = append(p.cons, Constraint{Name: name, Terms: terms, Sense: sense, RHS: rhs})
}

// Minimize sets the objective.
func (p *Problem) Minimize(terms ...Term) {
	p.objective = terms
}

// SetStart offers a known assignment, in variable order, as the first
// incumbent. Backends check it and ignore it when it is not feasible.
func (p *Problem) SetStart(values []float64) {
	p.start = append([]float64(nil), values...)
}

func (p *Problem) Start() []float64 {
	return p.start
}

func (p *Problem) NumVariables() int {
	return len(p.vars)
}

func (p *Problem) NumConstraints() int {
	return len(p.cons)
}

func (p *Problem) Variable(v Var) Variable {
	return p.vars[v]
}

func (p *Problem) Constraints() []Constraint {
	return p.cons
}

func (p *Problem) Objective() []Term {
	return p.objective
}

func (p *Problem) validate() error {
	for i, v := range p.vars {
		if math.IsInf(v.Lower, 0) || math.IsNaN(v.Lower) {
			return fmt.Errorf("%w: variable %d (%s) has no finite lower bound", ErrInternal, i, v.Name)
		}
	}
	check := func(terms []Term) error {
		for _, t := range terms {
			if int(t.Var) < 0 || int(t.Var) >= len(p.vars) {
				return fmt.Errorf("%w: term references unknown variable %d", ErrInternal, t.Var)
			}
		}
		return nil
	}
	for _, c := range p.cons {
		if err := check(c.Terms); err != nil {
			return err
		}
	}
	return check(p.objective)
}

// Solution holds variable values in Problem order.
type Solution struct {
	Objective float64
	Values    []float64
	// Optimal is false when the search stopped at its node limit or deadline
	// holding an incumbent that it could not prove optimal.
	Optimal bool
	Nodes   int
}

func (s *Solution) Value(v Var) float64 {
	return s.Values[v]
}

// Solver is the contract of a MILP backend: an assignment (optimal unless
// Solution.Optimal says otherwise) or one of ErrInfeasible, ErrUnbounded,
// ErrLimit or ErrInternal, possibly wrapped.
type Solver interface {
	Solve(ctx context.Context, p *Problem) (*Solution, error)
}
