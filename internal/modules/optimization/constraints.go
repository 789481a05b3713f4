// Package optimization finds long-only, fully invested weights whose factor
// exposure tracks a target exposure vector.
package optimization

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// feasibilityTolerance is the slack allowed when checking l·n ≤ 1 ≤ u·n.
const feasibilityTolerance = 1e-12

// SumTolerance is the largest |Σw − 1| a returned weight vector may have.
const SumTolerance = 1e-6

var (
	// ErrInfeasibleConstraints means the bounds and Σw = 1 cannot hold together.
	ErrInfeasibleConstraints = errors.New("infeasible constraints")
	// ErrDidNotConverge means the iteration cap or deadline was hit first.
	ErrDidNotConverge = errors.New("optimization did not converge")
	// ErrEmptyUniverse means there are no assets to allocate to.
	ErrEmptyUniverse = errors.New("no investable assets")
)

// Constraints are uniform per-asset weight bounds. Σw = 1 is implicit.
type Constraints struct {
	LowerBound float64 `json:"min_weight" yaml:"min_weight"`
	UpperBound float64 `json:"max_weight" yaml:"max_weight"`
}

// DefaultConstraints allows any long-only allocation.
func DefaultConstraints() Constraints {
	return Constraints{LowerBound: 0, UpperBound: 1}
}

// UnmarshalJSON decodes over DefaultConstraints so an omitted bound keeps its
// default.
func (c *Constraints) UnmarshalJSON(data []byte) error {
	type bounds Constraints
	v := bounds(DefaultConstraints())
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = Constraints(v)
	return nil
}

// IsZero reports whether no bound was set.
func (c Constraints) IsZero() bool {
	return c == Constraints{}
}

// Validate reports ErrInfeasibleConstraints unless 0 ≤ l ≤ u ≤ 1 and
// l·n ≤ 1 ≤ u·n for n assets.
func (c Constraints) Validate(n int) error {
	if n <= 0 {
		return ErrEmptyUniverse
	}
	l, u := c.LowerBound, c.UpperBound
	if math.IsNaN(l) || math.IsNaN(u) || l < 0 || u > 1 || l > u {
		return fmt.Errorf("%w: bounds must satisfy 0 ≤ min (%g) ≤ max (%g) ≤ 1",
			ErrInfeasibleConstraints, l, u)
	}
	nf := float64(n)
	if l*nf > 1+feasibilityTolerance {
		return fmt.Errorf("%w: min weight %g × %d assets = %g > 1",
			ErrInfeasibleConstraints, l, n, l*nf)
	}
	if u*nf < 1-feasibilityTolerance {
		return fmt.Errorf("%w: max weight %g × %d assets = %g < 1",
			ErrInfeasibleConstraints, u, n, u*nf)
	}
	return nil
}

// FullyConstrained reports whether the bounds leave exactly one feasible
// point, the equal-weight portfolio.
func (c Constraints) FullyConstrained(n int) bool {
	nf := float64(n)
	return math.Abs(c.LowerBound*nf-1) <= feasibilityTolerance ||
		math.Abs(c.UpperBound*nf-1) <= feasibilityTolerance
}

// Contains reports whether w is feasible: every weight within bounds and the
// sum within tol of 1.
func (c Constraints) Contains(w []float64, tol float64) bool {
	var sum float64
	for _, v := range w {
		if v < c.LowerBound || v > c.UpperBound || math.IsNaN(v) {
			return false
		}
		sum += v
	}
	return math.Abs(sum-1) <= tol
}

// EqualWeights returns the 1/n portfolio.
func EqualWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}
