package solver

import "errors"

// Typed solver failures. Infeasible is an expected outcome; ErrLimit means the
// search ran out of nodes or time before finding any integer solution.
var (
	ErrInfeasible = errors.New("solver: problem is infeasible")
	ErrUnbounded  = errors.New("solver: problem is unbounded")
	ErrLimit      = errors.New("solver: search limit reached")
	ErrInternal   = errors.New("solver: internal failure")
)
