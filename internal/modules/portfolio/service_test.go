package portfolio

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/aristath/factorfit/internal/events"
	"github.com/aristath/factorfit/internal/modules/betas"
	"github.com/aristath/factorfit/internal/modules/factors"
	"github.com/aristath/factorfit/internal/modules/optimization"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[ns+"/"+key]
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, ns, key string, data []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[ns+"/"+key] = data
	return nil
}

func (c *memoryCache) Delete(_ context.Context, ns, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, ns+"/"+key)
	return nil
}

func (c *memoryCache) Clear(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string][]byte)
	return nil
}

func (c *memoryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.EventData
}

func (e *recordingEmitter) Emit(_ string, data events.EventData) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, data)
}

func (e *recordingEmitter) types() []events.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.EventType, len(e.events))
	for i, d := range e.events {
		out[i] = d.EventType()
	}
	return out
}

type recordingRecorder struct {
	mu            sync.Mutex
	optimizations []string
	estimations   int
}

func (r *recordingRecorder) ObserveOptimization(_, status string, _ int, _ float64, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.optimizations = append(r.optimizations, status)
}

func (r *recordingRecorder) ObserveEstimation(*betas.Diagnostics, error, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.estimations++
}

func newTestService(t *testing.T) (*Service, *memoryCache, *recordingEmitter, *recordingRecorder) {
	t.Helper()
	cache := newMemoryCache()
	svc := NewService(betas.DefaultOptions(), cache,
		optimization.NewOptimizer(optimization.DefaultOptions(), zerolog.Nop()), zerolog.Nop())
	emitter := &recordingEmitter{}
	recorder := &recordingRecorder{}
	svc.SetEmitter(emitter)
	svc.SetRecorder(recorder)
	return svc, cache, emitter, recorder
}

func sampleRequest() Request {
	return Request{
		Table:       factors.GenerateSample(factors.DefaultSampleOptions()).Table,
		Targets:     factors.TargetExposure{factors.Market: 1.0, factors.Size: 0.2, factors.Value: 0.1, factors.Profitability: 0.15},
		Constraints: optimization.Constraints{LowerBound: 0, UpperBound: 0.25},
	}
}

func TestService_Optimize(t *testing.T) {
	svc, cache, emitter, recorder := newTestService(t)
	req := sampleRequest()

	res, err := svc.Optimize(context.Background(), req)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.CreatedAt.IsZero())
	assert.Equal(t, factors.DefaultFactors().Names(), res.Factors)
	assert.Len(t, res.Weights, len(req.Table.Assets))
	assert.Len(t, res.Exposures, 4)
	assert.NotEmpty(t, res.BetasKey)
	assert.Equal(t, betas.PolicyExclude, res.Diagnostics.Policy)

	var total float64
	for _, w := range res.Weights {
		total += w.Weight
		assert.GreaterOrEqual(t, w.Weight, 0.0)
		assert.LessOrEqual(t, w.Weight, 0.25)
		assert.Len(t, w.Betas, 4)
	}
	assert.InDelta(t, 1.0, total, optimization.SumTolerance)

	assert.InDelta(t, res.Metrics.TrackingError, distance(res.ExposureVector(), res.TargetVector()), 1e-12)
	assert.Equal(t, req.Table.AssetIDs(), assetIDs(res.Weights))

	assert.Equal(t, 1, cache.len())
	assert.Equal(t, []events.EventType{events.BetasEstimated, events.OptimizationCompleted}, emitter.types())
	assert.Len(t, recorder.optimizations, 1)
	assert.Equal(t, 1, recorder.estimations)
}

func TestService_OptimizeReusesCachedBetas(t *testing.T) {
	svc, cache, _, _ := newTestService(t)
	req := sampleRequest()

	a, err := svc.Optimize(context.Background(), req)
	require.NoError(t, err)
	b, err := svc.Optimize(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.BetasKey, b.BetasKey)
	assert.Equal(t, a.WeightVector(), b.WeightVector())
	assert.Equal(t, 1, cache.len())

	require.NoError(t, svc.InvalidateBetas(context.Background(), a.BetasKey))
	assert.Equal(t, 0, cache.len())
}

func TestService_OptimizeZeroConstraintsUseDefaults(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	req := sampleRequest()
	req.Constraints = optimization.Constraints{}

	res, err := svc.Optimize(context.Background(), req)
	require.NoError(t, err)

	var total float64
	for _, w := range res.Weights {
		total += w.Weight
		assert.GreaterOrEqual(t, w.Weight, 0.0)
		assert.LessOrEqual(t, w.Weight, 1.0)
	}
	assert.InDelta(t, 1.0, total, optimization.SumTolerance)
}

func TestService_OptimizeInfeasible(t *testing.T) {
	svc, _, emitter, recorder := newTestService(t)
	req := sampleRequest()
	req.Constraints = optimization.Constraints{LowerBound: 0.2, UpperBound: 1}

	res, err := svc.Optimize(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, optimization.ErrInfeasibleConstraints)
	assert.Equal(t, KindInfeasibleConstraints, ErrorKind(err))

	assert.Equal(t, []events.EventType{events.BetasEstimated, events.OptimizationFailed}, emitter.types())
	assert.Equal(t, []string{string(optimization.StatusInfeasible)}, recorder.optimizations)
}

func TestService_OptimizeMisaligned(t *testing.T) {
	svc, _, emitter, _ := newTestService(t)
	req := sampleRequest()
	req.Table.Assets[3].Returns = req.Table.Assets[3].Returns[1:]

	_, err := svc.Optimize(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, KindDataMisalignment, ErrorKind(err))
	assert.Equal(t, []events.EventType{events.OptimizationFailed}, emitter.types())
}

func TestService_OptimizeUnknownFactor(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	req := sampleRequest()
	req.Targets = factors.TargetExposure{"MOM": 0.3}

	_, err := svc.Optimize(context.Background(), req)
	assert.Equal(t, KindUnknownFactor, ErrorKind(err))
}

func TestService_OptimizeNotConverged(t *testing.T) {
	svc, _, emitter, _ := newTestService(t)
	req := sampleRequest()
	req.Solver = &optimization.Options{MaxIterations: 1}
	req.Targets = factors.TargetExposure{factors.Market: 3}

	res, err := svc.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, optimization.StatusMaxIterationsReached, res.Status)
	assert.Equal(t, 1, res.Iterations)
	require.NotNil(t, res.Fallback)
	assert.Len(t, res.Fallback.Weights, len(res.Weights))
	assert.Contains(t, emitter.types(), events.OptimizationCompleted)
}

func TestService_FailurePolicies(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	opts := factors.DefaultSampleOptions()
	opts.Months = 4 // fewer observations than regression parameters
	req := Request{
		Table:       factors.GenerateSample(opts).Table,
		Targets:     factors.TargetExposure{factors.Market: 1},
		Constraints: optimization.DefaultConstraints(),
	}

	_, err := svc.Optimize(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, KindEmptyUniverse, ErrorKind(err))

	req.Policy = betas.PolicyDefault
	res, err := svc.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.Diagnostics.Degraded, len(req.Table.Assets))
	for _, w := range res.Weights {
		assert.True(t, w.Degraded)
		assert.InDelta(t, 1/float64(len(res.Weights)), w.Weight, 1e-12)
	}

	req.Policy = "drop"
	_, err = svc.Optimize(context.Background(), req)
	assert.Equal(t, KindInvalidInput, ErrorKind(err))
}

func TestService_OptimizeCancelled(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Optimize(ctx, sampleRequest())
	require.Error(t, err)
	assert.Equal(t, KindCancelled, ErrorKind(err))
}

func TestService_Export(t *testing.T) {
	svc, _, emitter, _ := newTestService(t)
	res, err := svc.Optimize(context.Background(), sampleRequest())
	require.NoError(t, err)

	_, _, err = svc.Export(context.Background(), res, CSVOptions{}, true)
	assert.ErrorIs(t, err, ErrUploadDisabled)

	fake := &fakeUploader{}
	svc.SetExporter(newS3Exporter(fake, "bucket", "exports", zerolog.Nop()))
	assert.True(t, svc.CanUpload())

	data, location, err := svc.Export(context.Background(), res, CSVOptions{IncludeBetas: true}, true)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Asset,Weight,Weight %,Mkt-RF Beta,SMB Beta,HML Beta,RMW Beta\n")
	assert.Equal(t, "s3://bucket/exports/"+ExportName(res), location)
	assert.Equal(t, data, fake.body)
	assert.Contains(t, emitter.types(), events.PortfolioExported)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, KindDidNotConverge, ErrorKind(optimization.ErrDidNotConverge))
	assert.Equal(t, KindCancelled, ErrorKind(context.DeadlineExceeded))
	assert.Equal(t, KindInternal, ErrorKind(assert.AnError))
}

func assetIDs(w []AssetWeight) []string {
	ids := make([]string, len(w))
	for i, aw := range w {
		ids[i] = aw.Asset
	}
	return ids
}

func distance(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s)
}
