package optimization

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// projectCappedSimplex writes into dst the Euclidean projection of v onto
// {w : Σw = 1, lo ≤ w ≤ hi}. The set must be non-empty (lo·n ≤ 1 ≤ hi·n).
//
// The projection is clip(v − τ, lo, hi) for the τ at which the clipped sum is
// 1; the sum is monotone in τ so τ is found by bisection.
func projectCappedSimplex(dst, v []float64, lo, hi float64) {
	tLo := floats.Min(v) - hi // every coordinate clips to hi: sum = n·hi ≥ 1
	tHi := floats.Max(v) - lo // every coordinate clips to lo: sum = n·lo ≤ 1

	for iter := 0; iter < 200; iter++ {
		mid := 0.5 * (tLo + tHi)
		if mid <= tLo || mid >= tHi {
			break
		}
		if clippedSum(v, mid, lo, hi) > 1 {
			tLo = mid
		} else {
			tHi = mid
		}
	}

	tau := 0.5 * (tLo + tHi)
	for i, x := range v {
		dst[i] = clamp(x-tau, lo, hi)
	}

	// bisection leaves a residual of a few ulps; spread it over coordinates
	// that can still move in the needed direction
	for pass := 0; pass < 4; pass++ {
		r := 1 - floats.Sum(dst)
		if math.Abs(r) <= 1e-15 {
			return
		}
		free := 0
		for _, x := range dst {
			if (r > 0 && x < hi) || (r < 0 && x > lo) {
				free++
			}
		}
		if free == 0 {
			return
		}
		share := r / float64(free)
		for i, x := range dst {
			if (r > 0 && x < hi) || (r < 0 && x > lo) {
				dst[i] = clamp(x+share, lo, hi)
			}
		}
	}
}

func clippedSum(v []float64, tau, lo, hi float64) float64 {
	var s float64
	for _, x := range v {
		s += clamp(x-tau, lo, hi)
	}
	return s
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
