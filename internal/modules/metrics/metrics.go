// Package metrics derives diversification and tracking statistics from a
// solved weight vector.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DisplayThreshold is the weight above which an asset counts as a holding.
const DisplayThreshold = 0.001

var (
	// ErrZeroWeights means the weights carry no mass; Σw² = 0 has no inverse.
	ErrZeroWeights = errors.New("weights are all zero")
	// ErrInvalidWeights means a weight is negative or not finite.
	ErrInvalidWeights = errors.New("invalid weights")
)

// Report summarizes one portfolio.
type Report struct {
	TrackingError        float64 `json:"tracking_error"`
	DiversificationRatio float64 `json:"diversification_ratio"`
	EffectiveAssets      float64 `json:"effective_assets"`
	MaxSingleWeight      float64 `json:"max_single_weight"`
	Holdings             int     `json:"holdings"`
}

// Compute builds a Report from weights and the achieved and target exposures.
func Compute(weights, exposure, target []float64) (Report, error) {
	hhi, err := herfindahl(weights)
	if err != nil {
		return Report{}, err
	}
	te, err := TrackingError(exposure, target)
	if err != nil {
		return Report{}, err
	}
	return Report{
		TrackingError:        te,
		DiversificationRatio: 1 - hhi,
		EffectiveAssets:      1 / hhi,
		MaxSingleWeight:      floats.Max(weights),
		Holdings:             Holdings(weights, DisplayThreshold),
	}, nil
}

// TrackingError is sqrt(Σ_f (exposure[f] − target[f])²).
func TrackingError(exposure, target []float64) (float64, error) {
	if len(exposure) != len(target) {
		return 0, fmt.Errorf("exposure has %d factors, target has %d", len(exposure), len(target))
	}
	return floats.Distance(exposure, target, 2), nil
}

// DiversificationRatio is 1 − Σw², in [0, 1 − 1/N] for valid weights.
func DiversificationRatio(weights []float64) (float64, error) {
	hhi, err := herfindahl(weights)
	if err != nil {
		return 0, err
	}
	return 1 - hhi, nil
}

// EffectiveAssets is 1 / Σw², in [1, N] for valid weights.
func EffectiveAssets(weights []float64) (float64, error) {
	hhi, err := herfindahl(weights)
	if err != nil {
		return 0, err
	}
	return 1 / hhi, nil
}

// MaxSingleWeight returns the largest weight.
func MaxSingleWeight(weights []float64) (float64, error) {
	if _, err := herfindahl(weights); err != nil {
		return 0, err
	}
	return floats.Max(weights), nil
}

// Holdings counts weights strictly above threshold.
func Holdings(weights []float64, threshold float64) int {
	n := 0
	for _, w := range weights {
		if w > threshold {
			n++
		}
	}
	return n
}

// herfindahl returns Σw² after checking the weights are usable.
func herfindahl(weights []float64) (float64, error) {
	if len(weights) == 0 {
		return 0, ErrZeroWeights
	}
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return 0, fmt.Errorf("%w: weight %d is %v", ErrInvalidWeights, i, w)
		}
	}
	hhi := floats.Dot(weights, weights)
	if hhi == 0 {
		return 0, ErrZeroWeights
	}
	return hhi, nil
}
