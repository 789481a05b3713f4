// Package exposure aggregates asset betas into portfolio factor exposures.
package exposure

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Aggregate returns exposure[f] = Σ_i w[i]·β[i][f] for an N×K beta matrix.
func Aggregate(weights []float64, betas mat.Matrix) ([]float64, error) {
	n, k := betas.Dims()
	if n == 0 || k == 0 {
		return nil, fmt.Errorf("empty beta matrix (%d×%d)", n, k)
	}
	if len(weights) != n {
		return nil, fmt.Errorf("weights have %d entries, beta matrix has %d rows", len(weights), n)
	}
	out := mat.NewVecDense(k, nil)
	out.MulVec(betas.T(), mat.NewVecDense(n, weights))
	return out.RawVector().Data, nil
}

// Aggregator evaluates exposures and tracking error against one beta matrix
// without allocating. Not safe for concurrent use.
type Aggregator struct {
	betas    *mat.Dense
	betasT   *mat.Dense // K×N
	n, k     int
	w        *mat.VecDense
	exposure *mat.VecDense
	residual *mat.VecDense
	grad     *mat.VecDense
}

// NewAggregator binds an aggregator to betas. The matrix is read, never written.
func NewAggregator(betas *mat.Dense) *Aggregator {
	n, k := betas.Dims()
	return &Aggregator{
		betas:    betas,
		betasT:   mat.DenseCopyOf(betas.T()),
		n:        n,
		k:        k,
		w:        mat.NewVecDense(n, nil),
		exposure: mat.NewVecDense(k, nil),
		residual: mat.NewVecDense(k, nil),
		grad:     mat.NewVecDense(n, nil),
	}
}

// Dims returns the number of assets and factors.
func (a *Aggregator) Dims() (assets, factors int) {
	return a.n, a.k
}

// Exposure computes the portfolio exposure of w. The returned slice is owned by
// the aggregator and overwritten by the next call.
func (a *Aggregator) Exposure(w []float64) []float64 {
	a.load(w)
	a.exposure.MulVec(a.betasT, a.w)
	return a.exposure.RawVector().Data
}

// TrackingErrorSquared returns Σ_f (exposure[f] − target[f])².
func (a *Aggregator) TrackingErrorSquared(w, target []float64) float64 {
	a.residualOf(w, target)
	return mat.Dot(a.residual, a.residual)
}

// Gradient writes ∇ TrackingErrorSquared(w) = 2·B·(Bᵀw − t) into dst and
// returns the objective value at w.
func (a *Aggregator) Gradient(dst, w, target []float64) float64 {
	a.residualOf(w, target)
	a.grad.MulVec(a.betas, a.residual)
	a.grad.ScaleVec(2, a.grad)
	copy(dst, a.grad.RawVector().Data)
	return mat.Dot(a.residual, a.residual)
}

func (a *Aggregator) residualOf(w, target []float64) {
	if len(target) != a.k {
		panic(fmt.Sprintf("exposure: target has %d entries, want %d", len(target), a.k))
	}
	a.Exposure(w)
	copy(a.residual.RawVector().Data, a.exposure.RawVector().Data)
	floats.Sub(a.residual.RawVector().Data, target)
}

func (a *Aggregator) load(w []float64) {
	if len(w) != a.n {
		panic(fmt.Sprintf("exposure: weights have %d entries, want %d", len(w), a.n))
	}
	copy(a.w.RawVector().Data, w)
}
