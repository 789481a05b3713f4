// Package betas estimates per-asset factor sensitivities by joint OLS regression.
package betas

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/factorfit/internal/modules/factors"
	"gonum.org/v1/gonum/mat"
)

// Estimation error kinds. Both are recovered per asset and never abort a batch.
var (
	ErrInsufficientData   = errors.New("insufficient data")
	ErrSingularRegression = errors.New("singular regression")
)

// FailurePolicy decides what happens to an asset whose regression fails.
type FailurePolicy string

const (
	// PolicyExclude drops failed assets from the investable universe.
	PolicyExclude FailurePolicy = "exclude"
	// PolicyDefault substitutes conservative betas (market 1, others 0) and flags the row degraded.
	PolicyDefault FailurePolicy = "default"
)

// ParseFailurePolicy validates a policy name; empty selects PolicyExclude.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyExclude:
		return PolicyExclude, nil
	case PolicyDefault:
		return PolicyDefault, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want %q or %q)", s, PolicyExclude, PolicyDefault)
	}
}

// Row is one asset's regression output.
type Row struct {
	Asset    string    `json:"asset" msgpack:"asset"`
	Betas    []float64 `json:"betas" msgpack:"betas"`
	Alpha    float64   `json:"alpha" msgpack:"alpha"`
	RSquared float64   `json:"r_squared" msgpack:"r_squared"`
	Degraded bool      `json:"degraded,omitempty" msgpack:"degraded"`
	Reason   string    `json:"reason,omitempty" msgpack:"reason"`
}

func (r Row) clone() Row {
	r.Betas = append([]float64(nil), r.Betas...)
	return r
}

// Failure kinds reported in diagnostics.
const (
	KindInsufficientData   = "insufficient_data"
	KindSingularRegression = "singular_regression"
)

// AssetFailure describes one asset whose regression failed.
type AssetFailure struct {
	Asset    string `json:"asset" msgpack:"asset"`
	Kind     string `json:"kind" msgpack:"kind"`
	Message  string `json:"message" msgpack:"message"`
	Excluded bool   `json:"excluded" msgpack:"excluded"`
}

// Diagnostics aggregates per-asset estimation failures.
type Diagnostics struct {
	Policy           FailurePolicy  `json:"policy" msgpack:"policy"`
	Observations     int            `json:"observations" msgpack:"observations"`
	Estimated        int            `json:"estimated" msgpack:"estimated"`
	InsufficientData int            `json:"insufficient_data" msgpack:"insufficient_data"`
	Singular         int            `json:"singular" msgpack:"singular"`
	Excluded         []string       `json:"excluded" msgpack:"excluded"`
	Degraded         []string       `json:"degraded" msgpack:"degraded"`
	Failures         []AssetFailure `json:"failures" msgpack:"failures"`
}

// HasFailures reports whether any asset failed estimation.
func (d Diagnostics) HasFailures() bool {
	return len(d.Failures) > 0
}

func (d Diagnostics) clone() Diagnostics {
	d.Excluded = append([]string(nil), d.Excluded...)
	d.Degraded = append([]string(nil), d.Degraded...)
	d.Failures = append([]AssetFailure(nil), d.Failures...)
	return d
}

// Matrix maps assets to factor betas, alpha and fit quality. It is immutable:
// every accessor returns a copy.
type Matrix struct {
	factors     factors.FactorSet
	rows        []Row
	diagnostics Diagnostics
	key         string
}

// Snapshot is the serializable form of a Matrix.
type Snapshot struct {
	Factors     []string    `json:"factors" msgpack:"factors"`
	Rows        []Row       `json:"rows" msgpack:"rows"`
	Diagnostics Diagnostics `json:"diagnostics" msgpack:"diagnostics"`
	Key         string      `json:"key,omitempty" msgpack:"key"`
}

// NewMatrix builds a matrix from rows; every row must have one beta per factor.
func NewMatrix(set factors.FactorSet, rows []Row, diag Diagnostics) (*Matrix, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rows))
	copied := make([]Row, len(rows))
	for i, r := range rows {
		if len(r.Betas) != len(set) {
			return nil, fmt.Errorf("row %s has %d betas, expected %d", r.Asset, len(r.Betas), len(set))
		}
		if seen[r.Asset] {
			return nil, fmt.Errorf("duplicate asset %s", r.Asset)
		}
		seen[r.Asset] = true
		copied[i] = r.clone()
	}
	return &Matrix{
		factors:     append(factors.FactorSet(nil), set...),
		rows:        copied,
		diagnostics: diag.clone(),
	}, nil
}

// FromSnapshot rebuilds a matrix from its serialized form.
func FromSnapshot(s Snapshot) (*Matrix, error) {
	set := make(factors.FactorSet, len(s.Factors))
	for i, name := range s.Factors {
		set[i] = factors.Factor(name)
	}
	m, err := NewMatrix(set, s.Rows, s.Diagnostics)
	if err != nil {
		return nil, err
	}
	m.key = s.Key
	return m, nil
}

// Snapshot returns a serializable copy.
func (m *Matrix) Snapshot() Snapshot {
	return Snapshot{
		Factors:     m.factors.Names(),
		Rows:        m.Rows(),
		Diagnostics: m.diagnostics.clone(),
		Key:         m.key,
	}
}

// MarshalJSON encodes the snapshot.
func (m *Matrix) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Snapshot())
}

// Factors returns the column order.
func (m *Matrix) Factors() factors.FactorSet {
	return append(factors.FactorSet(nil), m.factors...)
}

// Len is the number of rows (investable assets).
func (m *Matrix) Len() int {
	return len(m.rows)
}

// Key is the cache key of the input the matrix was estimated from, if any.
func (m *Matrix) Key() string {
	return m.key
}

// Assets returns asset identifiers in row order.
func (m *Matrix) Assets() []string {
	ids := make([]string, len(m.rows))
	for i, r := range m.rows {
		ids[i] = r.Asset
	}
	return ids
}

// Row returns a copy of row i.
func (m *Matrix) Row(i int) Row {
	return m.rows[i].clone()
}

// Lookup returns the row of the given asset.
func (m *Matrix) Lookup(asset string) (Row, bool) {
	for _, r := range m.rows {
		if r.Asset == asset {
			return r.clone(), true
		}
	}
	return Row{}, false
}

// Rows returns copies of all rows.
func (m *Matrix) Rows() []Row {
	rows := make([]Row, len(m.rows))
	for i, r := range m.rows {
		rows[i] = r.clone()
	}
	return rows
}

// Diagnostics returns the estimation diagnostics.
func (m *Matrix) Diagnostics() Diagnostics {
	return m.diagnostics.clone()
}

// Dense returns a fresh N×K matrix of betas in row and factor order.
func (m *Matrix) Dense() *mat.Dense {
	if len(m.rows) == 0 {
		return nil
	}
	d := mat.NewDense(len(m.rows), len(m.factors), nil)
	for i, r := range m.rows {
		d.SetRow(i, r.Betas)
	}
	return d
}

// defaultRow returns the conservative substitute for a failed asset: market
// beta 1 (first factor when the set has no market factor), others 0.
func defaultRow(asset string, set factors.FactorSet, reason string) Row {
	b := make([]float64, len(set))
	market := set.Index(factors.Market)
	if market < 0 {
		market = 0
	}
	b[market] = 1.0
	return Row{
		Asset:    asset,
		Betas:    b,
		Degraded: true,
		Reason:   reason,
	}
}
