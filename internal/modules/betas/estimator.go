package betas

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/aristath/factorfit/internal/modules/factors"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long cached estimates stay valid.
const DefaultCacheTTL = 24 * time.Hour

// Options configures an Estimator.
type Options struct {
	Policy         FailurePolicy
	Workers        int     // max concurrent regressions; <= 0 uses GOMAXPROCS
	ConditionLimit float64 // <= 0 uses DefaultConditionLimit
	CacheTTL       time.Duration
}

// DefaultOptions excludes failed assets and regresses on all available CPUs.
func DefaultOptions() Options {
	return Options{
		Policy:         PolicyExclude,
		Workers:        runtime.GOMAXPROCS(0),
		ConditionLimit: DefaultConditionLimit,
		CacheTTL:       DefaultCacheTTL,
	}
}

// Estimator fits per-asset factor models and assembles a beta Matrix.
type Estimator struct {
	opts  Options
	cache Cache
	group singleflight.Group
	log   zerolog.Logger
}

// NewEstimator creates a new beta estimator.
func NewEstimator(opts Options, log zerolog.Logger) *Estimator {
	if opts.Policy == "" {
		opts.Policy = PolicyExclude
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.ConditionLimit <= 0 {
		opts.ConditionLimit = DefaultConditionLimit
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	return &Estimator{
		opts: opts,
		log:  log.With().Str("component", "beta_estimator").Logger(),
	}
}

// SetCache enables caching of estimates. Optional: without a cache every call
// recomputes.
func (e *Estimator) SetCache(cache Cache) {
	e.cache = cache
}

// Policy returns the configured failure policy.
func (e *Estimator) Policy() FailurePolicy {
	return e.opts.Policy
}

// Estimate returns the beta matrix for table, using the cache when configured.
// Per-asset failures are recorded in the matrix diagnostics; only invalid or
// misaligned input and cancellation return an error.
func (e *Estimator) Estimate(ctx context.Context, table *factors.ReturnTable) (*Matrix, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}

	key := e.Key(table)

	if m, ok := e.fromCache(ctx, key); ok {
		return m, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("beta estimation cancelled: %w", err)
	}

	// Concurrent callers with identical input share one computation. It runs
	// detached from any single caller; each caller waits on its own context.
	shared := context.WithoutCancel(ctx)
	ch := e.group.DoChan(key, func() (interface{}, error) {
		m, err := e.EstimateUncached(shared, table)
		if err != nil {
			return nil, err
		}
		m.key = key
		e.toCache(shared, key, m)
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("beta estimation cancelled: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Matrix), nil
	}
}

// Key returns the cache key Estimate uses for table.
func (e *Estimator) Key(table *factors.ReturnTable) string {
	return HashTable(table, e.opts.Policy, e.opts.ConditionLimit)
}

// EstimateUncached runs the regressions without touching the cache.
func (e *Estimator) EstimateUncached(ctx context.Context, table *factors.ReturnTable) (*Matrix, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	n := len(table.Assets)
	x := designMatrix(table)
	designErr := checkDesign(x, e.opts.ConditionLimit)

	type outcome struct {
		row Row
		err error
	}
	outcomes := make([]outcome, n)

	if designErr == nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.Workers)
		for i := 0; i < n; i++ {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				b, alpha, r2, err := fit(x, table.ExcessReturns(i))
				outcomes[i] = outcome{
					row: Row{Asset: table.Assets[i].ID, Betas: b, Alpha: alpha, RSquared: r2},
					err: err,
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("beta estimation cancelled: %w", err)
		}
	} else {
		for i := range outcomes {
			outcomes[i] = outcome{row: Row{Asset: table.Assets[i].ID}, err: designErr}
		}
	}

	diag := Diagnostics{
		Policy:       e.opts.Policy,
		Observations: table.Observations(),
	}
	rows := make([]Row, 0, n)
	for _, o := range outcomes {
		if o.err == nil {
			rows = append(rows, o.row)
			diag.Estimated++
			continue
		}

		failure := AssetFailure{Asset: o.row.Asset, Message: o.err.Error()}
		switch {
		case errors.Is(o.err, ErrInsufficientData):
			failure.Kind = KindInsufficientData
			diag.InsufficientData++
		default:
			failure.Kind = KindSingularRegression
			diag.Singular++
		}

		if e.opts.Policy == PolicyDefault {
			rows = append(rows, defaultRow(o.row.Asset, table.Factors, failure.Kind))
			diag.Degraded = append(diag.Degraded, o.row.Asset)
		} else {
			failure.Excluded = true
			diag.Excluded = append(diag.Excluded, o.row.Asset)
		}
		diag.Failures = append(diag.Failures, failure)
	}

	m, err := NewMatrix(table.Factors, rows, diag)
	if err != nil {
		return nil, err
	}

	event := e.log.Info()
	if diag.HasFailures() {
		event = e.log.Warn()
	}
	event.
		Int("assets", n).
		Int("factors", len(table.Factors)).
		Int("observations", diag.Observations).
		Int("estimated", diag.Estimated).
		Int("insufficient_data", diag.InsufficientData).
		Int("singular", diag.Singular).
		Str("policy", string(e.opts.Policy)).
		Dur("duration", time.Since(start)).
		Msg("Estimated factor betas")

	return m, nil
}

// Invalidate drops one cached estimate.
func (e *Estimator) Invalidate(ctx context.Context, key string) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Delete(ctx, CacheNamespace, key)
}

// ClearCache drops every cached estimate.
func (e *Estimator) ClearCache(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Clear(ctx, CacheNamespace)
}

func (e *Estimator) fromCache(ctx context.Context, key string) (*Matrix, bool) {
	if e.cache == nil {
		return nil, false
	}
	data, ok, err := e.cache.Get(ctx, CacheNamespace, key)
	if err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("Failed to read cached betas, recalculating")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("Failed to decode cached betas, recalculating")
		return nil, false
	}
	m, err := FromSnapshot(snap)
	if err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("Cached betas are invalid, recalculating")
		return nil, false
	}
	m.key = key
	e.log.Debug().Str("key", key).Int("assets", m.Len()).Msg("Using cached betas")
	return m, true
}

func (e *Estimator) toCache(ctx context.Context, key string, m *Matrix) {
	if e.cache == nil {
		return
	}
	data, err := msgpack.Marshal(m.Snapshot())
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to encode betas for cache")
		return
	}
	if err := e.cache.Set(ctx, CacheNamespace, key, data, e.opts.CacheTTL); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("Failed to cache betas")
		return
	}
	e.log.Debug().Str("key", key).Msg("Cached betas")
}
