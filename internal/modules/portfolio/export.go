package portfolio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"
)

// ExportRow is one line of an exported allocation.
type ExportRow struct {
	Asset     string          `json:"asset"`
	Weight    float64         `json:"weight"`
	WeightPct decimal.Decimal `json:"weight_pct"`
	Betas     []float64       `json:"betas,omitempty"`
}

// CSVOptions controls WriteCSV.
type CSVOptions struct {
	// IncludeBetas appends one column per factor.
	IncludeBetas bool
	// MinWeight drops rows at or below this weight.
	MinWeight float64
}

var hundred = decimal.NewFromInt(100)

// ExportRows flattens the allocation, sorted by weight descending and then
// by asset id. Percentages are rounded half away from zero to 2 dp.
func ExportRows(r *Result) []ExportRow {
	weights := append([]AssetWeight(nil), r.Weights...)
	sortByWeight(weights)

	rows := make([]ExportRow, len(weights))
	for i, w := range weights {
		rows[i] = ExportRow{
			Asset:     w.Asset,
			Weight:    w.Weight,
			WeightPct: decimal.NewFromFloat(w.Weight).Mul(hundred).Round(2),
			Betas:     append([]float64(nil), w.Betas...),
		}
	}
	return rows
}

// WriteCSV writes rows with the header "Asset,Weight,Weight %". factorNames
// label the beta columns when opts.IncludeBetas is set.
func WriteCSV(w io.Writer, factorNames []string, rows []ExportRow, opts CSVOptions) error {
	cw := csv.NewWriter(w)

	header := []string{"Asset", "Weight", "Weight %"}
	if opts.IncludeBetas {
		for _, f := range factorNames {
			header = append(header, f+" Beta")
		}
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, row := range rows {
		if row.Weight <= opts.MinWeight && opts.MinWeight > 0 {
			continue
		}
		record := []string{
			row.Asset,
			strconv.FormatFloat(row.Weight, 'f', 6, 64),
			row.WeightPct.StringFixed(2),
		}
		if opts.IncludeBetas {
			if len(row.Betas) != len(factorNames) {
				return fmt.Errorf("row %s has %d betas, expected %d", row.Asset, len(row.Betas), len(factorNames))
			}
			for _, b := range row.Betas {
				record = append(record, strconv.FormatFloat(b, 'f', 3, 64))
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row %s: %w", row.Asset, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
