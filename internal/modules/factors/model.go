// Package factors defines the return data consumed by beta estimation:
// factor sets, aligned return tables and target exposures.
package factors

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrDataMisalignment is returned when return series do not share identical
// period alignment and length. Misaligned data is never truncated.
var ErrDataMisalignment = errors.New("data misalignment")

// ErrInvalidTable is returned for structurally invalid input (empty universe,
// duplicate identifiers, non-finite values).
var ErrInvalidTable = errors.New("invalid return table")

// ErrUnknownFactor is returned when a target references a factor outside the set.
var ErrUnknownFactor = errors.New("unknown factor")

// Factor is a named systematic return driver.
type Factor string

// Fama-French style factors used by default.
const (
	Market        Factor = "Mkt-RF"
	Size          Factor = "SMB"
	Value         Factor = "HML"
	Profitability Factor = "RMW"
)

// FactorSet is an ordered list of factors. Its order is the column order of
// every beta, target and exposure vector in the system.
type FactorSet []Factor

// DefaultFactors returns the four-factor set (market, size, value, profitability).
func DefaultFactors() FactorSet {
	return FactorSet{Market, Size, Value, Profitability}
}

// Validate checks that the set is non-empty and free of blank or duplicate names.
func (fs FactorSet) Validate() error {
	if len(fs) == 0 {
		return fmt.Errorf("%w: factor set is empty", ErrInvalidTable)
	}
	seen := make(map[Factor]bool, len(fs))
	for _, f := range fs {
		if f == "" {
			return fmt.Errorf("%w: blank factor name", ErrInvalidTable)
		}
		if seen[f] {
			return fmt.Errorf("%w: duplicate factor %q", ErrInvalidTable, f)
		}
		seen[f] = true
	}
	return nil
}

// Index returns the column of f, or -1.
func (fs FactorSet) Index(f Factor) int {
	for i, candidate := range fs {
		if candidate == f {
			return i
		}
	}
	return -1
}

// Names returns the factor names as plain strings.
func (fs FactorSet) Names() []string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = string(f)
	}
	return names
}

// ReturnSeries is an ordered sequence of (period, value) pairs for one asset,
// factor or the risk-free rate.
type ReturnSeries struct {
	ID      string      `json:"id"`
	Periods []time.Time `json:"periods"`
	Values  []float64   `json:"values"`
}

// AssetReturns holds one asset's periodic returns on the table's periods.
type AssetReturns struct {
	ID      string    `json:"id"`
	Returns []float64 `json:"returns"`
}

// ReturnTable is the time-aligned input of one estimation run.
type ReturnTable struct {
	Periods       []time.Time          `json:"periods"`
	Factors       FactorSet            `json:"factors"`
	FactorReturns map[Factor][]float64 `json:"factor_returns"`
	RiskFree      []float64            `json:"risk_free"`
	Assets        []AssetReturns       `json:"assets"`
}

// Validate checks the alignment invariant: every series has exactly one value
// per table period, periods are strictly increasing and all values are finite.
func (t *ReturnTable) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil table", ErrInvalidTable)
	}
	if err := t.Factors.Validate(); err != nil {
		return err
	}

	n := len(t.Periods)
	if n == 0 {
		return fmt.Errorf("%w: no periods", ErrDataMisalignment)
	}
	for i := 1; i < n; i++ {
		if !t.Periods[i].After(t.Periods[i-1]) {
			return fmt.Errorf("%w: periods not strictly increasing at index %d (%s after %s)",
				ErrDataMisalignment, i, t.Periods[i].Format(time.DateOnly), t.Periods[i-1].Format(time.DateOnly))
		}
	}

	if len(t.RiskFree) != n {
		return fmt.Errorf("%w: risk-free series has %d values, expected %d", ErrDataMisalignment, len(t.RiskFree), n)
	}
	if err := checkFinite("risk-free", t.RiskFree); err != nil {
		return err
	}

	for _, f := range t.Factors {
		values, ok := t.FactorReturns[f]
		if !ok {
			return fmt.Errorf("%w: no return series for factor %s", ErrDataMisalignment, f)
		}
		if len(values) != n {
			return fmt.Errorf("%w: factor %s has %d values, expected %d", ErrDataMisalignment, f, len(values), n)
		}
		if err := checkFinite("factor "+string(f), values); err != nil {
			return err
		}
	}

	if len(t.Assets) == 0 {
		return fmt.Errorf("%w: no assets", ErrInvalidTable)
	}
	seen := make(map[string]bool, len(t.Assets))
	for _, a := range t.Assets {
		if a.ID == "" {
			return fmt.Errorf("%w: blank asset identifier", ErrInvalidTable)
		}
		if seen[a.ID] {
			return fmt.Errorf("%w: duplicate asset %s", ErrInvalidTable, a.ID)
		}
		seen[a.ID] = true
		if len(a.Returns) != n {
			return fmt.Errorf("%w: asset %s has %d values, expected %d", ErrDataMisalignment, a.ID, len(a.Returns), n)
		}
		if err := checkFinite("asset "+a.ID, a.Returns); err != nil {
			return err
		}
	}

	return nil
}

// AssetIDs returns asset identifiers in table order.
func (t *ReturnTable) AssetIDs() []string {
	ids := make([]string, len(t.Assets))
	for i, a := range t.Assets {
		ids[i] = a.ID
	}
	return ids
}

// Observations is the number of aligned periods.
func (t *ReturnTable) Observations() int {
	return len(t.Periods)
}

// ExcessReturns returns asset i's return minus the risk-free rate, period by period.
func (t *ReturnTable) ExcessReturns(i int) []float64 {
	returns := t.Assets[i].Returns
	excess := make([]float64, len(returns))
	for p, r := range returns {
		excess[p] = r - t.RiskFree[p]
	}
	return excess
}

// Align builds a table from independently supplied series. Every series must
// carry exactly the same periods as the risk-free series; nothing is dropped
// or reindexed.
func Align(assets []ReturnSeries, factorSeries map[Factor]ReturnSeries, set FactorSet, riskFree ReturnSeries) (*ReturnTable, error) {
	if len(riskFree.Periods) != len(riskFree.Values) {
		return nil, fmt.Errorf("%w: risk-free series has %d periods and %d values",
			ErrDataMisalignment, len(riskFree.Periods), len(riskFree.Values))
	}

	periods := append([]time.Time(nil), riskFree.Periods...)

	table := &ReturnTable{
		Periods:       periods,
		Factors:       append(FactorSet(nil), set...),
		FactorReturns: make(map[Factor][]float64, len(set)),
		RiskFree:      append([]float64(nil), riskFree.Values...),
		Assets:        make([]AssetReturns, 0, len(assets)),
	}

	for _, f := range set {
		series, ok := factorSeries[f]
		if !ok {
			return nil, fmt.Errorf("%w: no return series for factor %s", ErrDataMisalignment, f)
		}
		if err := samePeriods(string(f), periods, series); err != nil {
			return nil, err
		}
		table.FactorReturns[f] = append([]float64(nil), series.Values...)
	}

	for _, a := range assets {
		if err := samePeriods(a.ID, periods, a); err != nil {
			return nil, err
		}
		table.Assets = append(table.Assets, AssetReturns{
			ID:      a.ID,
			Returns: append([]float64(nil), a.Values...),
		})
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

func samePeriods(name string, periods []time.Time, s ReturnSeries) error {
	if len(s.Periods) != len(periods) || len(s.Values) != len(periods) {
		return fmt.Errorf("%w: series %s has %d periods and %d values, expected %d",
			ErrDataMisalignment, name, len(s.Periods), len(s.Values), len(periods))
	}
	for i, p := range s.Periods {
		if !p.Equal(periods[i]) {
			return fmt.Errorf("%w: series %s period %d is %s, expected %s",
				ErrDataMisalignment, name, i, p.Format(time.DateOnly), periods[i].Format(time.DateOnly))
		}
	}
	return nil
}

func checkFinite(name string, values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s has non-finite value at period %d", ErrInvalidTable, name, i)
		}
	}
	return nil
}
