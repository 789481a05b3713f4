// Package portfolio orchestrates beta estimation, optimization and reporting
// for one factor-targeting request.
package portfolio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/factorfit/internal/events"
	"github.com/aristath/factorfit/internal/modules/betas"
	"github.com/aristath/factorfit/internal/modules/factors"
	"github.com/aristath/factorfit/internal/modules/optimization"
	"github.com/aristath/factorfit/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const moduleName = "portfolio"

// Recorder receives service measurements.
type Recorder interface {
	ObserveOptimization(method, status string, iterations int, trackingError float64, elapsed time.Duration)
	ObserveEstimation(diag *betas.Diagnostics, err error, elapsed time.Duration)
}

// Emitter publishes service events.
type Emitter interface {
	Emit(module string, data events.EventData)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOptimization(string, string, int, float64, time.Duration) {}
func (nopRecorder) ObserveEstimation(*betas.Diagnostics, error, time.Duration)       {}

type nopEmitter struct{}

func (nopEmitter) Emit(string, events.EventData) {}

// Request is one optimization request.
type Request struct {
	Table       *factors.ReturnTable     `json:"table"`
	Targets     factors.TargetExposure   `json:"targets"`
	// Constraints defaults to optimization.DefaultConstraints when zero.
	Constraints optimization.Constraints `json:"constraints"`
	// Policy overrides the service failure policy when set.
	Policy betas.FailurePolicy `json:"policy,omitempty"`
	// Solver overrides the service optimizer options when set.
	Solver *optimization.Options `json:"solver,omitempty"`
}

// Service orchestrates estimation, optimization and reporting.
// Safe for concurrent use.
type Service struct {
	estimators    map[betas.FailurePolicy]*betas.Estimator
	defaultPolicy betas.FailurePolicy
	optimizer     *optimization.Optimizer
	exporter      Exporter
	timeout       time.Duration
	recorder      Recorder
	emitter       Emitter
	now           func() time.Time
	log           zerolog.Logger
}

// NewService creates a service with one estimator per failure policy sharing
// cache. cache may be nil.
func NewService(estimatorOpts betas.Options, cache betas.Cache, optimizer *optimization.Optimizer, log zerolog.Logger) *Service {
	defaultPolicy, err := betas.ParseFailurePolicy(string(estimatorOpts.Policy))
	if err != nil {
		defaultPolicy = betas.PolicyExclude
	}

	estimators := make(map[betas.FailurePolicy]*betas.Estimator, 2)
	for _, policy := range []betas.FailurePolicy{betas.PolicyExclude, betas.PolicyDefault} {
		opts := estimatorOpts
		opts.Policy = policy
		est := betas.NewEstimator(opts, log)
		if cache != nil {
			est.SetCache(cache)
		}
		estimators[policy] = est
	}

	return &Service{
		estimators:    estimators,
		defaultPolicy: defaultPolicy,
		optimizer:     optimizer,
		recorder:      nopRecorder{},
		emitter:       nopEmitter{},
		now:           time.Now,
		log:           log.With().Str("service", "portfolio").Logger(),
	}
}

// SetRecorder installs a measurement sink.
func (s *Service) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.recorder = r
}

// SetEmitter installs an event sink.
func (s *Service) SetEmitter(e Emitter) {
	if e == nil {
		e = nopEmitter{}
	}
	s.emitter = e
}

// SetExporter installs the upload sink used by Export. nil disables uploads.
func (s *Service) SetExporter(e Exporter) {
	s.exporter = e
}

// CanUpload reports whether an export sink is configured.
func (s *Service) CanUpload() bool {
	return s.exporter != nil
}

// SetTimeout bounds each Optimize call; zero disables the bound.
func (s *Service) SetTimeout(d time.Duration) {
	s.timeout = d
}

// DefaultPolicy returns the failure policy used when a request sets none.
func (s *Service) DefaultPolicy() betas.FailurePolicy {
	return s.defaultPolicy
}

func (s *Service) estimator(policy betas.FailurePolicy) (*betas.Estimator, error) {
	if policy == "" {
		policy = s.defaultPolicy
	}
	est, ok := s.estimators[policy]
	if !ok {
		return nil, fmt.Errorf("%w: unknown failure policy %q", factors.ErrInvalidTable, policy)
	}
	return est, nil
}

// Estimate returns the beta matrix for table under policy (empty for the
// service default), using the shared cache.
func (s *Service) Estimate(ctx context.Context, table *factors.ReturnTable, policy betas.FailurePolicy) (*betas.Matrix, error) {
	est, err := s.estimator(policy)
	if err != nil {
		return nil, err
	}

	timer := utils.NewTimer("estimate_betas", s.log)
	m, err := est.Estimate(ctx, table)
	elapsed := timer.Stop()
	if err != nil {
		s.recorder.ObserveEstimation(nil, err, elapsed)
		return nil, err
	}

	diag := m.Diagnostics()
	s.recorder.ObserveEstimation(&diag, nil, elapsed)
	s.emitter.Emit(moduleName, &events.BetasEstimatedData{
		Key:          m.Key(),
		Assets:       len(table.Assets),
		Estimated:    diag.Estimated,
		Failed:       len(diag.Failures),
		Policy:       string(diag.Policy),
		Observations: diag.Observations,
	})
	return m, nil
}

// InvalidateBetas drops one cached estimate. Keys embed the policy, and all
// estimators share one cache namespace.
func (s *Service) InvalidateBetas(ctx context.Context, key string) error {
	if err := s.estimators[s.defaultPolicy].Invalidate(ctx, key); err != nil {
		return err
	}
	s.emitter.Emit(moduleName, &events.BetasCacheInvalidatedData{Key: key})
	return nil
}

// ClearBetas drops every cached estimate.
func (s *Service) ClearBetas(ctx context.Context) error {
	if err := s.estimators[s.defaultPolicy].ClearCache(ctx); err != nil {
		return err
	}
	s.emitter.Emit(moduleName, &events.BetasCacheInvalidatedData{})
	return nil
}

// Optimize runs one request end to end.
//
// Non-convergence is not an error: the Result carries the best iterate, the
// equal-weight fallback and Success=false. Misaligned or invalid input,
// infeasible constraints and an empty universe return an error.
func (s *Service) Optimize(ctx context.Context, req Request) (*Result, error) {
	runID := uuid.New().String()
	log := s.log.With().Str("run_id", runID).Logger()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.optimize(ctx, runID, req)
	if err != nil {
		log.Warn().Err(err).Str("kind", ErrorKind(err)).Msg("Optimization failed")
		s.emitter.Emit(moduleName, &events.OptimizationFailedData{
			RunID: runID,
			Kind:  ErrorKind(err),
			Error: err.Error(),
		})
		return nil, err
	}

	log.Info().
		Str("status", string(res.Status)).
		Int("assets", len(res.Weights)).
		Int("iterations", res.Iterations).
		Float64("tracking_error", res.Metrics.TrackingError).
		Msg("Optimization completed")
	return res, nil
}

func (s *Service) optimize(ctx context.Context, runID string, req Request) (*Result, error) {
	if err := req.Table.Validate(); err != nil {
		return nil, err
	}
	target, err := req.Targets.Vector(req.Table.Factors)
	if err != nil {
		return nil, err
	}

	matrix, err := s.Estimate(ctx, req.Table, req.Policy)
	if err != nil {
		return nil, err
	}
	betaDense := matrix.Dense()
	if betaDense == nil {
		return nil, fmt.Errorf("%w: every asset failed beta estimation", optimization.ErrEmptyUniverse)
	}

	optimizer := s.optimizer
	if req.Solver != nil {
		optimizer = optimization.NewOptimizer(*req.Solver, s.log)
	}
	method := string(optimizer.Options().Method)

	constraints := req.Constraints
	if constraints.IsZero() {
		constraints = optimization.DefaultConstraints()
	}

	timer := utils.NewTimer("optimize_weights", s.log)
	out, err := optimizer.Optimize(ctx, betaDense, target, constraints)
	elapsed := timer.Stop()
	if out != nil {
		s.recorder.ObserveOptimization(method, string(out.Status), out.Iterations, out.TrackingError, elapsed)
	}
	if err != nil && !errors.Is(err, optimization.ErrDidNotConverge) {
		return nil, err
	}

	res, err := buildResult(runID, s.now().UTC(), matrix, target, out)
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(moduleName, &events.OptimizationCompletedData{
		RunID:         runID,
		Status:        string(res.Status),
		Success:       res.Success,
		Assets:        len(res.Weights),
		Iterations:    res.Iterations,
		TrackingError: res.Metrics.TrackingError,
		DurationMs:    elapsed.Milliseconds(),
	})
	return res, nil
}

// ErrUploadDisabled is returned by Export when an upload is requested without
// a configured sink.
var ErrUploadDisabled = errors.New("export upload not configured")

// Export renders r as CSV and, when upload is set, stores it through the
// configured exporter. The returned location is empty without upload.
func (s *Service) Export(ctx context.Context, r *Result, opts CSVOptions, upload bool) ([]byte, string, error) {
	if upload && s.exporter == nil {
		return nil, "", ErrUploadDisabled
	}

	rows := ExportRows(r)
	var buf bytes.Buffer
	if err := WriteCSV(&buf, r.Factors, rows, opts); err != nil {
		return nil, "", err
	}

	var location string
	if upload {
		var err error
		location, err = s.exporter.Export(ctx, ExportName(r), buf.Bytes())
		if err != nil {
			return nil, "", err
		}
	}

	s.emitter.Emit(moduleName, &events.PortfolioExportedData{
		RunID:    r.RunID,
		Rows:     len(rows),
		Location: location,
	})
	return buf.Bytes(), location, nil
}
