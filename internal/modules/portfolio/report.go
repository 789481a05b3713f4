package portfolio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aristath/factorfit/internal/modules/metrics"
)

// summaryTopHoldings is the number of holdings listed by Summary.
const summaryTopHoldings = 10

// ExposureRow compares achieved and target exposure for one factor.
type ExposureRow struct {
	Factor        string   `json:"factor"`
	Target        float64  `json:"target"`
	Portfolio     float64  `json:"portfolio"`
	Difference    float64  `json:"difference"`
	DifferencePct *float64 `json:"difference_pct"` // nil when the target is zero
	SquaredError  float64  `json:"squared_error"`
}

// ExposureComparison lists per-factor targets against the portfolio.
func ExposureComparison(r *Result) []ExposureRow {
	rows := make([]ExposureRow, len(r.Exposures))
	for i, e := range r.Exposures {
		diff := e.Portfolio - e.Target
		row := ExposureRow{
			Factor:       e.Factor,
			Target:       e.Target,
			Portfolio:    e.Portfolio,
			Difference:   diff,
			SquaredError: diff * diff,
		}
		if e.Target != 0 {
			pct := diff / e.Target * 100
			row.DifferencePct = &pct
		}
		rows[i] = row
	}
	return rows
}

// TopHoldings returns holdings above the display threshold, largest first,
// ties broken by asset id. n ≤ 0 returns all of them.
func TopHoldings(r *Result, n int) []AssetWeight {
	held := make([]AssetWeight, 0, len(r.Weights))
	for _, w := range r.Weights {
		if w.Weight > metrics.DisplayThreshold {
			held = append(held, w)
		}
	}
	sortByWeight(held)
	if n > 0 && len(held) > n {
		held = held[:n]
	}
	return held
}

func sortByWeight(w []AssetWeight) {
	sort.SliceStable(w, func(i, j int) bool {
		if w[i].Weight != w[j].Weight {
			return w[i].Weight > w[j].Weight
		}
		return w[i].Asset < w[j].Asset
	})
}

// Summary renders a plain-text report of the run.
func Summary(r *Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Factor Portfolio Summary\n")
	fmt.Fprintf(&b, "Generated on: %s\n", r.CreatedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "Run: %s\n", r.RunID)
	if !r.Success {
		fmt.Fprintf(&b, "Status: %s (%s)\n", r.Status, r.Message)
	}

	fmt.Fprintf(&b, "\nTarget Exposures:\n")
	for _, e := range r.Exposures {
		fmt.Fprintf(&b, "- %s: %.3f (portfolio %.3f)\n", e.Factor, e.Target, e.Portfolio)
	}

	fmt.Fprintf(&b, "\nPortfolio Metrics:\n")
	fmt.Fprintf(&b, "- Tracking Error: %.4f\n", r.Metrics.TrackingError)
	fmt.Fprintf(&b, "- Number of Holdings: %d\n", r.Metrics.Holdings)
	fmt.Fprintf(&b, "- Diversification Ratio: %.3f\n", r.Metrics.DiversificationRatio)
	fmt.Fprintf(&b, "- Effective Assets: %.1f\n", r.Metrics.EffectiveAssets)
	fmt.Fprintf(&b, "- Max Single Weight: %.1f%%\n", r.Metrics.MaxSingleWeight*100)

	if d := r.Diagnostics; d.HasFailures() {
		fmt.Fprintf(&b, "\nEstimation Failures (%s policy):\n", d.Policy)
		for _, f := range d.Failures {
			fmt.Fprintf(&b, "- %s: %s\n", f.Asset, f.Kind)
		}
	}

	fmt.Fprintf(&b, "\nTop Holdings:\n")
	for _, h := range TopHoldings(r, summaryTopHoldings) {
		fmt.Fprintf(&b, "- %s: %.3f\n", h.Asset, h.Weight)
	}

	return b.String()
}
