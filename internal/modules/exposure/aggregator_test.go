package exposure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testBetas() *mat.Dense {
	return mat.NewDense(4, 3, []float64{
		1.2, 0.3, -0.1,
		0.8, -0.2, 0.4,
		1.0, 0.0, 0.0,
		0.5, 0.9, 0.2,
	})
}

func TestAggregate(t *testing.T) {
	e, err := Aggregate([]float64{0.25, 0.25, 0.25, 0.25}, testBetas())
	require.NoError(t, err)
	require.Len(t, e, 3)
	assert.InDelta(t, 0.875, e[0], 1e-12)
	assert.InDelta(t, 0.25, e[1], 1e-12)
	assert.InDelta(t, 0.125, e[2], 1e-12)

	_, err = Aggregate([]float64{1}, testBetas())
	assert.Error(t, err)
}

func TestAggregate_Linear(t *testing.T) {
	b := testBetas()
	w1 := []float64{0.1, 0.2, 0.3, 0.4}
	w2 := []float64{0.7, 0.0, 0.1, 0.2}

	e1, err := Aggregate(w1, b)
	require.NoError(t, err)
	e2, err := Aggregate(w2, b)
	require.NoError(t, err)

	for _, a := range []float64{0, 0.25, 0.5, 0.9, 1} {
		mix := make([]float64, len(w1))
		for i := range mix {
			mix[i] = a*w1[i] + (1-a)*w2[i]
		}
		got, err := Aggregate(mix, b)
		require.NoError(t, err)
		for f := range got {
			assert.InDelta(t, a*e1[f]+(1-a)*e2[f], got[f], 1e-12, "a=%v factor %d", a, f)
		}
	}
}

func TestAggregator_MatchesAggregate(t *testing.T) {
	b := testBetas()
	agg := NewAggregator(b)
	n, k := agg.Dims()
	assert.Equal(t, 4, n)
	assert.Equal(t, 3, k)

	w := []float64{0.4, 0.1, 0.3, 0.2}
	want, err := Aggregate(w, b)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, agg.Exposure(w), 1e-12)
}

func TestAggregator_TrackingErrorAndGradient(t *testing.T) {
	agg := NewAggregator(testBetas())
	w := []float64{0.25, 0.25, 0.25, 0.25}
	target := []float64{1, 0, 0}

	// exposure (0.875, 0.25, 0.125) → residual (-0.125, 0.25, 0.125)
	te2 := agg.TrackingErrorSquared(w, target)
	assert.InDelta(t, 0.09375, te2, 1e-12)

	grad := make([]float64, 4)
	value := agg.Gradient(grad, w, target)
	assert.InDelta(t, te2, value, 1e-15)

	// central finite differences
	const h = 1e-6
	for i := range w {
		up := append([]float64(nil), w...)
		dn := append([]float64(nil), w...)
		up[i] += h
		dn[i] -= h
		numeric := (agg.TrackingErrorSquared(up, target) - agg.TrackingErrorSquared(dn, target)) / (2 * h)
		assert.InDelta(t, numeric, grad[i], 1e-8)
	}
}

func TestAggregator_DoesNotAllocate(t *testing.T) {
	agg := NewAggregator(testBetas())
	w := []float64{0.25, 0.25, 0.25, 0.25}
	target := []float64{1, 0, 0}
	grad := make([]float64, 4)

	allocs := testing.AllocsPerRun(100, func() {
		agg.Gradient(grad, w, target)
	})
	assert.LessOrEqual(t, allocs, 2.0)
}

func TestAggregator_PanicsOnDimensionMismatch(t *testing.T) {
	agg := NewAggregator(testBetas())
	assert.Panics(t, func() { agg.Exposure([]float64{1}) })
	assert.Panics(t, func() { agg.TrackingErrorSquared([]float64{0.25, 0.25, 0.25, 0.25}, []float64{1}) })
}
