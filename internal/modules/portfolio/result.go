package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/factorfit/internal/modules/betas"
	"github.com/aristath/factorfit/internal/modules/factors"
	"github.com/aristath/factorfit/internal/modules/metrics"
	"github.com/aristath/factorfit/internal/modules/optimization"
)

// AssetWeight is one asset's allocation.
type AssetWeight struct {
	Asset    string    `json:"asset"`
	Weight   float64   `json:"weight"`
	Betas    []float64 `json:"betas"`
	Degraded bool      `json:"degraded,omitempty"`
}

// FactorExposure is the achieved exposure to one factor.
type FactorExposure struct {
	Factor    string  `json:"factor"`
	Target    float64 `json:"target"`
	Portfolio float64 `json:"portfolio"`
}

// FallbackPortfolio is the equal-weight alternative offered when the
// optimizer stopped before converging.
type FallbackPortfolio struct {
	Weights       []AssetWeight    `json:"weights"`
	Exposures     []FactorExposure `json:"exposures"`
	TrackingError float64          `json:"tracking_error"`
}

// Result is the outcome of one optimization run.
type Result struct {
	RunID       string              `json:"run_id"`
	CreatedAt   time.Time           `json:"created_at"`
	Factors     []string            `json:"factors"`
	Weights     []AssetWeight       `json:"weights"`
	Exposures   []FactorExposure    `json:"exposures"`
	Metrics     metrics.Report      `json:"metrics"`
	Diagnostics betas.Diagnostics   `json:"diagnostics"`
	BetasKey    string              `json:"betas_key,omitempty"`
	Status      optimization.Status `json:"status"`
	Success     bool                `json:"success"`
	Message     string              `json:"message"`
	Iterations  int                 `json:"iterations"`
	Method      optimization.Method `json:"method"`
	Fallback    *FallbackPortfolio  `json:"fallback,omitempty"`
}

// WeightVector returns weights in asset order.
func (r *Result) WeightVector() []float64 {
	w := make([]float64, len(r.Weights))
	for i, aw := range r.Weights {
		w[i] = aw.Weight
	}
	return w
}

// TargetVector returns target exposures in factor order.
func (r *Result) TargetVector() []float64 {
	t := make([]float64, len(r.Exposures))
	for i, e := range r.Exposures {
		t[i] = e.Target
	}
	return t
}

// ExposureVector returns achieved exposures in factor order.
func (r *Result) ExposureVector() []float64 {
	e := make([]float64, len(r.Exposures))
	for i, x := range r.Exposures {
		e[i] = x.Portfolio
	}
	return e
}

func buildResult(runID string, createdAt time.Time, matrix *betas.Matrix, target []float64, out *optimization.Result) (*Result, error) {
	report, err := metrics.Compute(out.Weights, out.Exposure, target)
	if err != nil {
		return nil, fmt.Errorf("optimizer returned unusable weights: %w", err)
	}

	res := &Result{
		RunID:       runID,
		CreatedAt:   createdAt,
		Factors:     matrix.Factors().Names(),
		Weights:     assetWeights(matrix, out.Weights),
		Exposures:   factorExposures(matrix.Factors(), target, out.Exposure),
		Metrics:     report,
		Diagnostics: matrix.Diagnostics(),
		BetasKey:    matrix.Key(),
		Status:      out.Status,
		Success:     out.Success,
		Message:     out.Message,
		Iterations:  out.Iterations,
		Method:      out.Method,
	}
	if out.Fallback != nil {
		res.Fallback = &FallbackPortfolio{
			Weights:       assetWeights(matrix, out.Fallback.Weights),
			Exposures:     factorExposures(matrix.Factors(), target, out.Fallback.Exposure),
			TrackingError: out.Fallback.TrackingError,
		}
	}
	return res, nil
}

func assetWeights(matrix *betas.Matrix, w []float64) []AssetWeight {
	rows := matrix.Rows()
	out := make([]AssetWeight, len(rows))
	for i, r := range rows {
		out[i] = AssetWeight{
			Asset:    r.Asset,
			Weight:   w[i],
			Betas:    r.Betas,
			Degraded: r.Degraded,
		}
	}
	return out
}

func factorExposures(set factors.FactorSet, target, exposure []float64) []FactorExposure {
	out := make([]FactorExposure, len(set))
	for j, f := range set {
		out[j] = FactorExposure{Factor: string(f), Target: target[j], Portfolio: exposure[j]}
	}
	return out
}

// Error kinds reported to API clients.
const (
	KindDataMisalignment      = "data_misalignment"
	KindInvalidInput          = "invalid_input"
	KindUnknownFactor         = "unknown_factor"
	KindInfeasibleConstraints = "infeasible_constraints"
	KindEmptyUniverse         = "empty_universe"
	KindDidNotConverge        = "did_not_converge"
	KindDataIntegrity         = "data_integrity"
	KindCancelled             = "cancelled"
	KindInternal              = "internal"
)

// ErrorKind classifies err for API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, factors.ErrDataMisalignment):
		return KindDataMisalignment
	case errors.Is(err, factors.ErrUnknownFactor):
		return KindUnknownFactor
	case errors.Is(err, factors.ErrInvalidTable):
		return KindInvalidInput
	case errors.Is(err, optimization.ErrInfeasibleConstraints):
		return KindInfeasibleConstraints
	case errors.Is(err, optimization.ErrEmptyUniverse):
		return KindEmptyUniverse
	case errors.Is(err, optimization.ErrDidNotConverge):
		return KindDidNotConverge
	case errors.Is(err, metrics.ErrZeroWeights), errors.Is(err, metrics.ErrInvalidWeights):
		return KindDataIntegrity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
