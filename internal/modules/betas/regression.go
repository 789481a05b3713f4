package betas

import (
	"fmt"
	"math"

	"github.com/aristath/factorfit/internal/modules/factors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultConditionLimit is the largest design-matrix condition number accepted
// before a regression is treated as singular.
const DefaultConditionLimit = 1e10

// designMatrix builds the L×(K+1) regressor matrix: an intercept column
// followed by the factor returns in set order.
func designMatrix(table *factors.ReturnTable) *mat.Dense {
	l, k := table.Observations(), len(table.Factors)
	x := mat.NewDense(l, k+1, nil)
	for p := 0; p < l; p++ {
		x.Set(p, 0, 1)
	}
	for j, f := range table.Factors {
		col := table.FactorReturns[f]
		for p := 0; p < l; p++ {
			x.Set(p, j+1, col[p])
		}
	}
	return x
}

// checkDesign reports whether OLS is solvable for this design: at least K+1
// observations and full column rank.
func checkDesign(x *mat.Dense, conditionLimit float64) error {
	l, cols := x.Dims()
	if l < cols {
		return fmt.Errorf("%w: %d observations for %d factors (need at least %d)",
			ErrInsufficientData, l, cols-1, cols)
	}
	cond := mat.Cond(x, 2)
	if math.IsNaN(cond) || math.IsInf(cond, 0) || cond > conditionLimit {
		return fmt.Errorf("%w: factor returns are linearly dependent (condition number %.3g)",
			ErrSingularRegression, cond)
	}
	return nil
}

// fit regresses y on all factors jointly and returns betas, alpha and R².
func fit(x *mat.Dense, y []float64) (betas []float64, alpha, rSquared float64, err error) {
	l, cols := x.Dims()
	if len(y) != l {
		return nil, 0, 0, fmt.Errorf("response has %d observations, design has %d", len(y), l)
	}

	var qr mat.QR
	qr.Factorize(x)

	var coef mat.VecDense
	if err := qr.SolveVecTo(&coef, false, mat.NewVecDense(l, y)); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrSingularRegression, err)
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &coef)

	betas = make([]float64, cols-1)
	for j := range betas {
		betas[j] = coef.AtVec(j + 1)
	}
	alpha = coef.AtVec(0)

	return betas, alpha, rSquaredOf(fitted.RawVector().Data, y), nil
}

// rSquaredOf is the squared correlation between fitted and actual values.
// A response without variance has nothing to explain and scores 0.
func rSquaredOf(fitted, actual []float64) float64 {
	if stat.Variance(actual, nil) == 0 || stat.Variance(fitted, nil) == 0 {
		return 0
	}
	r := stat.Correlation(fitted, actual, nil)
	r2 := r * r
	if math.IsNaN(r2) {
		return 0
	}
	return math.Min(1, math.Max(0, r2))
}
