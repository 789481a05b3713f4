package optimization

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/aristath/factorfit/internal/modules/exposure"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Method selects the solver.
type Method string

const (
	// MethodProjectedGradient is accelerated projected gradient with adaptive
	// restart. Every iterate is feasible.
	MethodProjectedGradient Method = "projected_gradient"
	// MethodPenalty minimizes a penalized objective with BFGS (Nelder-Mead on
	// failure), then projects and polishes with projected gradient.
	MethodPenalty Method = "penalty"
)

// ParseMethod validates a solver name; empty selects MethodProjectedGradient.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodProjectedGradient:
		return MethodProjectedGradient, nil
	case MethodPenalty:
		return MethodPenalty, nil
	default:
		return "", fmt.Errorf("unknown solver %q (want %q or %q)", s, MethodProjectedGradient, MethodPenalty)
	}
}

// Solver defaults.
const (
	DefaultMaxIterations  = 1000
	DefaultTolerance      = 1e-10
	DefaultObjectiveFloor = 1e-14
)

// Options configures an Optimizer.
type Options struct {
	Method         Method
	MaxIterations  int
	Tolerance      float64 // max-norm of the projected gradient step
	ObjectiveFloor float64 // squared tracking error treated as exact
}

// DefaultOptions returns the projected-gradient solver with default limits.
func DefaultOptions() Options {
	return Options{
		Method:         MethodProjectedGradient,
		MaxIterations:  DefaultMaxIterations,
		Tolerance:      DefaultTolerance,
		ObjectiveFloor: DefaultObjectiveFloor,
	}
}

// Optimizer minimizes squared exposure tracking error
//
//	Σ_f (Σ_i w_i·β_if − t_f)²  subject to  Σw = 1,  l ≤ w_i ≤ u.
//
// It holds no per-call state and is safe for concurrent use.
type Optimizer struct {
	opts Options
	log  zerolog.Logger
}

// NewOptimizer creates a new factor-exposure optimizer.
func NewOptimizer(opts Options, log zerolog.Logger) *Optimizer {
	if opts.Method == "" {
		opts.Method = MethodProjectedGradient
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.ObjectiveFloor <= 0 {
		opts.ObjectiveFloor = DefaultObjectiveFloor
	}
	return &Optimizer{
		opts: opts,
		log:  log.With().Str("component", "factor_optimizer").Logger(),
	}
}

// Options returns the effective options.
func (o *Optimizer) Options() Options {
	return o.opts
}

// Optimize solves for weights over the N×K beta matrix.
//
// Infeasible constraints return a Result with StatusInfeasible and
// ErrInfeasibleConstraints before any iteration. Hitting the iteration cap or
// a context deadline returns the best iterate with ErrDidNotConverge.
// Dimension mismatches return a nil Result.
func (o *Optimizer) Optimize(ctx context.Context, betas *mat.Dense, target []float64, c Constraints) (*Result, error) {
	if betas == nil {
		return nil, ErrEmptyUniverse
	}
	n, k := betas.Dims()
	if n == 0 {
		return nil, ErrEmptyUniverse
	}
	if len(target) != k {
		return nil, fmt.Errorf("target has %d factors, beta matrix has %d", len(target), k)
	}
	for f, t := range target {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("target exposure %d is not finite", f)
		}
	}

	r := &run{
		opt:    o,
		agg:    exposure.NewAggregator(betas),
		betas:  betas,
		target: target,
		c:      c,
		n:      n,
		status: StatusInitialized,
		log:    o.log.With().Int("assets", n).Int("factors", k).Str("method", string(o.opts.Method)).Logger(),
	}

	if err := c.Validate(n); err != nil {
		r.transition(StatusInfeasible)
		r.log.Warn().Err(err).Msg("Rejected infeasible constraints")
		return &Result{
			Status:  StatusInfeasible,
			Message: err.Error(),
			Method:  o.opts.Method,
		}, err
	}

	if c.FullyConstrained(n) {
		r.transition(StatusConverged)
		return r.result(EqualWeights(n), 0, "bounds admit only the equal-weight portfolio"), nil
	}

	switch o.opts.Method {
	case MethodPenalty:
		return r.solvePenalty(ctx)
	default:
		// feasible whenever Validate passed: l ≤ 1/n ≤ u
		return r.solveProjectedGradient(ctx, EqualWeights(n), o.opts.MaxIterations, 0)
	}
}

// run is the state of one Optimize call.
type run struct {
	opt    *Optimizer
	agg    *exposure.Aggregator
	betas  *mat.Dense
	target []float64
	c      Constraints
	n      int
	status Status
	log    zerolog.Logger
}

func (r *run) transition(to Status) {
	if !canTransition(r.status, to) {
		panic(fmt.Sprintf("optimization: invalid transition %s → %s", r.status, to))
	}
	r.status = to
}

// solveProjectedGradient runs FISTA from the feasible point x0. prior counts
// iterations already spent by a preceding solver.
func (r *run) solveProjectedGradient(ctx context.Context, x0 []float64, maxIter, prior int) (*Result, error) {
	opts := r.opt.opts
	lo, hi := r.c.LowerBound, r.c.UpperBound

	lip := lipschitz(r.betas)
	if lip <= 0 {
		// every feasible portfolio has the same exposure
		r.transition(StatusConverged)
		return r.result(x0, prior, "objective is constant over the feasible set"), nil
	}
	step := 1 / lip

	n := r.n
	x := append([]float64(nil), x0...)
	xPrev := append([]float64(nil), x0...)
	y := append([]float64(nil), x0...)
	xNext := make([]float64, n)
	grad := make([]float64, n)

	fx := r.agg.TrackingErrorSquared(x, r.target)
	best := append([]float64(nil), x...)
	bestF := fx
	t := 1.0

	r.transition(StatusIterating)

	if fx <= opts.ObjectiveFloor {
		r.transition(StatusConverged)
		return r.result(x, prior, "target exposure matched"), nil
	}

	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return r.notConverged(best, prior+iter-1, fmt.Errorf("%w: %w", ErrDidNotConverge, err))
		}

		r.agg.Gradient(grad, y, r.target)
		for i := range xNext {
			xNext[i] = y[i] - step*grad[i]
		}
		projectCappedSimplex(xNext, xNext, lo, hi)

		fNext := r.agg.TrackingErrorSquared(xNext, r.target)

		// adaptive restart: drop momentum when the objective goes up
		if fNext > fx && t > 1 {
			t = 1
			copy(y, x)
			continue
		}

		var moved float64
		for i := range xNext {
			moved = math.Max(moved, math.Abs(xNext[i]-y[i]))
		}

		copy(xPrev, x)
		copy(x, xNext)
		fx = fNext
		if fx < bestF {
			bestF = fx
			copy(best, x)
		}

		if fx <= opts.ObjectiveFloor {
			r.transition(StatusConverged)
			return r.result(x, prior+iter, "target exposure matched"), nil
		}
		if moved < opts.Tolerance {
			r.transition(StatusConverged)
			return r.result(best, prior+iter, "projected gradient step below tolerance"), nil
		}

		tNext := (1 + math.Sqrt(1+4*t*t)) / 2
		beta := (t - 1) / tNext
		for i := range y {
			y[i] = x[i] + beta*(x[i]-xPrev[i])
		}
		t = tNext

		if iter%100 == 0 {
			r.log.Debug().Int("iteration", prior+iter).Float64("objective", fx).Msg("Optimizer progress")
		}
	}

	return r.notConverged(best, prior+maxIter,
		fmt.Errorf("%w: reached %d iterations", ErrDidNotConverge, prior+maxIter))
}

func (r *run) notConverged(best []float64, iterations int, err error) (*Result, error) {
	r.transition(StatusMaxIterationsReached)

	res := r.result(best, iterations, err.Error())

	eq := EqualWeights(r.n)
	eqExposure := append([]float64(nil), r.agg.Exposure(eq)...)
	res.Fallback = &Fallback{
		Weights:       eq,
		Exposure:      eqExposure,
		TrackingError: math.Sqrt(r.agg.TrackingErrorSquared(eq, r.target)),
	}

	r.log.Warn().
		Int("iterations", iterations).
		Float64("tracking_error", res.TrackingError).
		Float64("fallback_tracking_error", res.Fallback.TrackingError).
		Msg("Optimizer stopped before converging")

	return res, err
}

func (r *run) result(w []float64, iterations int, message string) *Result {
	weights := append([]float64(nil), w...)
	te2 := r.agg.TrackingErrorSquared(weights, r.target)
	res := &Result{
		Weights:              weights,
		Exposure:             append([]float64(nil), r.agg.Exposure(weights)...),
		TrackingError:        math.Sqrt(te2),
		TrackingErrorSquared: te2,
		Iterations:           iterations,
		Status:               r.status,
		Success:              r.status == StatusConverged,
		Message:              message,
		Method:               r.opt.opts.Method,
	}
	if res.Success {
		r.log.Debug().
			Int("iterations", iterations).
			Float64("tracking_error", res.TrackingError).
			Msg("Optimizer converged")
	}
	return res
}

// lipschitz returns the gradient Lipschitz constant of the objective along
// directions with Σd = 0: 2·λmax(B̃ᵀB̃) for the column-centred betas B̃.
// Every iterate and momentum point sums to 1, so all steps lie in that
// subspace.
func lipschitz(betas *mat.Dense) float64 {
	n, k := betas.Dims()
	centered := mat.DenseCopyOf(betas)
	col := make([]float64, n)
	for j := 0; j < k; j++ {
		mat.Col(col, j, betas)
		mean := floats.Sum(col) / float64(n)
		for i := range col {
			centered.Set(i, j, col[i]-mean)
		}
	}

	var gram mat.SymDense
	gram.SymOuterK(1, centered.T())

	var eig mat.EigenSym
	if !eig.Factorize(&gram, false) {
		// Frobenius norm bounds the spectral norm
		fro := mat.Norm(centered, 2)
		return 2 * fro * fro
	}
	lmax := floats.Max(eig.Values(nil))
	if lmax <= 1e-300 {
		return 0
	}
	return 2 * lmax
}
