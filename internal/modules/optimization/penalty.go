package optimization

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// penaltyWeight scales the (Σw − 1)² term of the penalized objective.
const penaltyWeight = 1000.0

// solvePenalty minimizes tracking error plus a sum-to-one penalty over
// box-clipped weights, then projects the minimizer onto the feasible set and
// polishes it with projected gradient.
func (r *run) solvePenalty(ctx context.Context) (*Result, error) {
	lo, hi := r.c.LowerBound, r.c.UpperBound
	clipped := make([]float64, r.n)
	clip := func(x []float64) []float64 {
		for i, v := range x {
			clipped[i] = clamp(v, lo, hi)
		}
		return clipped
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xProj := clip(x)
			sum := floats.Sum(xProj)
			return r.agg.TrackingErrorSquared(xProj, r.target) + penaltyWeight*(sum-1)*(sum-1)
		},
		Grad: func(grad, x []float64) {
			xProj := clip(x)
			r.agg.Gradient(grad, xProj, r.target)
			sum := floats.Sum(xProj)
			for i := range grad {
				grad[i] += 2 * penaltyWeight * (sum - 1)
			}
		},
	}

	initial := EqualWeights(r.n)
	// the polish keeps at least half of the iteration budget
	budget := r.opt.opts.MaxIterations / 2
	if budget < 1 {
		budget = 1
	}
	newSettings := func() *optimize.Settings {
		return &optimize.Settings{
			MajorIterations: budget,
			Converger:       newContextConverger(ctx),
		}
	}

	successStatuses := map[optimize.Status]bool{
		optimize.Success:             true,
		optimize.GradientThreshold:   true,
		optimize.FunctionConvergence: true,
	}

	start := initial
	used := 0
	result, err := optimize.Minimize(problem, initial, newSettings(), &optimize.BFGS{})
	if (err != nil || !successStatuses[result.Status]) && ctx.Err() == nil {
		r.log.Debug().Err(err).Msg("BFGS did not converge, trying Nelder-Mead")
		result, err = optimize.Minimize(problem, initial, newSettings(), &optimize.NelderMead{})
	}
	switch {
	case err != nil:
		r.log.Warn().Err(err).Msg("Penalty solver failed, polishing from equal weights")
	case result != nil:
		start = append([]float64(nil), result.X...)
		used = result.Stats.MajorIterations
		if !successStatuses[result.Status] {
			r.log.Debug().Str("status", fmt.Sprint(result.Status)).Msg("Penalty solver stopped early, polishing its best point")
		}
	}

	projectCappedSimplex(start, start, lo, hi)

	remaining := r.opt.opts.MaxIterations - used
	if remaining < 1 {
		remaining = 1
	}
	return r.solveProjectedGradient(ctx, start, remaining, used)
}

// contextConverger ends a gonum run once ctx is done and otherwise defers to
// gonum's default function-value converger.
type contextConverger struct {
	ctx   context.Context
	inner optimize.Converger
}

func newContextConverger(ctx context.Context) *contextConverger {
	return &contextConverger{
		ctx:   ctx,
		inner: &optimize.FunctionConverge{Absolute: 1e-10, Iterations: 100},
	}
}

func (c *contextConverger) Init(dim int) {
	c.inner.Init(dim)
}

func (c *contextConverger) Converged(loc *optimize.Location) optimize.Status {
	if c.ctx.Err() != nil {
		return optimize.RuntimeLimit
	}
	return c.inner.Converged(loc)
}
