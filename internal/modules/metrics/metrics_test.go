package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_EqualWeightsTen(t *testing.T) {
	w := make([]float64, 10)
	for i := range w {
		w[i] = 0.1
	}

	r, err := Compute(w, []float64{1, 0.2}, []float64{1, 0.2})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, r.DiversificationRatio, 1e-12)
	assert.InDelta(t, 10.0, r.EffectiveAssets, 1e-12)
	assert.Equal(t, 0.1, r.MaxSingleWeight)
	assert.Equal(t, 0.0, r.TrackingError)
	assert.Equal(t, 10, r.Holdings)
}

func TestCompute_Concentrated(t *testing.T) {
	r, err := Compute([]float64{1, 0, 0}, []float64{1.3, 0.4}, []float64{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.DiversificationRatio)
	assert.Equal(t, 1.0, r.EffectiveAssets)
	assert.Equal(t, 1.0, r.MaxSingleWeight)
	assert.InDelta(t, 0.5, r.TrackingError, 1e-12)
	assert.Equal(t, 1, r.Holdings)
}

func TestCompute_Errors(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		wantErr error
	}{
		{"empty", nil, ErrZeroWeights},
		{"all zero", []float64{0, 0, 0}, ErrZeroWeights},
		{"negative", []float64{1.2, -0.2}, ErrInvalidWeights},
		{"nan", []float64{math.NaN(), 1}, ErrInvalidWeights},
		{"inf", []float64{math.Inf(1), 0}, ErrInvalidWeights},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.weights, []float64{1}, []float64{1})
			assert.ErrorIs(t, err, tt.wantErr)

			_, err = DiversificationRatio(tt.weights)
			assert.ErrorIs(t, err, tt.wantErr)
			_, err = EffectiveAssets(tt.weights)
			assert.ErrorIs(t, err, tt.wantErr)
			_, err = MaxSingleWeight(tt.weights)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := Compute([]float64{1}, []float64{1, 2}, []float64{1})
	assert.Error(t, err)
}

func TestRanges(t *testing.T) {
	w := []float64{0.5, 0.3, 0.15, 0.05}
	dr, err := DiversificationRatio(w)
	require.NoError(t, err)
	ea, err := EffectiveAssets(w)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, dr, 0.0)
	assert.LessOrEqual(t, dr, 1-1.0/4)
	assert.GreaterOrEqual(t, ea, 1.0)
	assert.LessOrEqual(t, ea, 4.0)
	assert.InDelta(t, 1/(1-dr), ea, 1e-12)
}

func TestHoldings(t *testing.T) {
	assert.Equal(t, 2, Holdings([]float64{0.5, 0.4995, 0.0005}, DisplayThreshold))
	assert.Equal(t, 0, Holdings(nil, DisplayThreshold))
	assert.Equal(t, 1, Holdings([]float64{0.001, 0.999}, DisplayThreshold))
}
