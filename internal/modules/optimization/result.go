package optimization

// Status is the state of one optimization call.
//
//	Initialized → Iterating → Converged | MaxIterationsReached
//	Initialized → InfeasibleConstraints
//	Initialized → Converged (fully constrained, no iterations)
type Status string

const (
	StatusInitialized          Status = "initialized"
	StatusIterating            Status = "iterating"
	StatusConverged            Status = "converged"
	StatusMaxIterationsReached Status = "max_iterations_reached"
	StatusInfeasible           Status = "infeasible_constraints"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusConverged, StatusMaxIterationsReached, StatusInfeasible:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusInitialized: {StatusIterating, StatusConverged, StatusInfeasible},
	StatusIterating:   {StatusConverged, StatusMaxIterationsReached},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Fallback is the equal-weight alternative offered when the solver stops
// before converging.
type Fallback struct {
	Weights       []float64 `json:"weights"`
	Exposure      []float64 `json:"exposure"`
	TrackingError float64   `json:"tracking_error"`
}

// Result is the outcome of one optimization call. On MaxIterationsReached
// Weights hold the best iterate found and Fallback the equal-weight portfolio;
// the caller decides which to use.
type Result struct {
	Weights              []float64 `json:"weights"`
	Exposure             []float64 `json:"exposure"`
	TrackingError        float64   `json:"tracking_error"`
	TrackingErrorSquared float64   `json:"tracking_error_squared"`
	Iterations           int       `json:"iterations"`
	Status               Status    `json:"status"`
	Success              bool      `json:"success"`
	Message              string    `json:"message"`
	Method               Method    `json:"method"`
	Fallback             *Fallback `json:"fallback,omitempty"`
}
