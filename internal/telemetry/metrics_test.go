package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/factorfit/internal/modules/betas"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCache struct {
	data map[string][]byte
	err  error
}

func (s *stubCache) Get(_ context.Context, _, key string) ([]byte, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *stubCache) Set(_ context.Context, _, key string, data []byte, _ time.Duration) error {
	s.data[key] = data
	return nil
}

func (s *stubCache) Delete(_ context.Context, _, key string) error {
	delete(s.data, key)
	return nil
}

func (s *stubCache) Clear(context.Context, string) error {
	s.data = map[string][]byte{}
	return nil
}

func TestNewMetrics_Independent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.ObserveOptimization("projected_gradient", "converged", 10, 0.01, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.OptimizationsTotal.WithLabelValues("projected_gradient", "converged")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.OptimizationsTotal.WithLabelValues("projected_gradient", "converged")))
}

func TestObserveEstimation(t *testing.T) {
	m := NewMetrics()
	diag := &betas.Diagnostics{Failures: []betas.AssetFailure{
		{Asset: "A", Kind: betas.KindInsufficientData},
		{Asset: "B", Kind: betas.KindInsufficientData},
		{Asset: "C", Kind: betas.KindSingularRegression},
	}}

	m.ObserveEstimation(diag, nil, time.Millisecond)
	m.ObserveEstimation(nil, errors.New("bad table"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EstimationsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EstimationsTotal.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AssetFailures.WithLabelValues(betas.KindInsufficientData)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AssetFailures.WithLabelValues(betas.KindSingularRegression)))
}

func TestInstrumentCache(t *testing.T) {
	m := NewMetrics()
	stub := &stubCache{data: map[string][]byte{"k": []byte("v")}}
	cache := m.InstrumentCache(stub)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, betas.CacheNamespace, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, _ = cache.Get(ctx, betas.CacheNamespace, "missing")
	assert.False(t, ok)
	stub.err = errors.New("disk")
	_, _, err = cache.Get(ctx, betas.CacheNamespace, "k")
	assert.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(betas.CacheNamespace, "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(betas.CacheNamespace, "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(betas.CacheNamespace, "error")))

	require.NoError(t, cache.Set(ctx, betas.CacheNamespace, "n", []byte("x"), time.Hour))
	assert.Equal(t, []byte("x"), stub.data["n"])
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.ObserveOptimization("penalty", "max_iterations_reached", 500, 0.2, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `factorfit_optimizer_runs_total{method="penalty",status="max_iterations_reached"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
