package factors

import (
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultUniverse is the demo universe of liquid U.S. stocks and ETFs.
var DefaultUniverse = []string{
	// Broad market ETFs
	"SPY", "QQQ", "IWM", "VTI", "VOO", "VEA", "VWO", "AGG", "BND", "VTV", "VUG",
	// Large caps across sectors
	"AAPL", "MSFT", "GOOGL", "AMZN", "META", "TSLA", "BRK-B", "JNJ", "V", "PG",
	"JPM", "UNH", "HD", "BAC", "NVDA", "MA", "DIS", "ADBE", "CRM", "NFLX",
	// Sector ETFs
	"XLF", "XLE", "XLK", "XLV", "XLU", "XLI", "XLP", "XLY",
}

// SampleOptions controls GenerateSample.
type SampleOptions struct {
	Seed    uint64
	Months  int
	Start   time.Time // first month; periods are month ends
	Assets  []string
	IdioVol float64   // stdev of the asset-specific residual
	Factors FactorSet
}

// DefaultSampleOptions mirrors the demo data set: 36 months from January 2022.
func DefaultSampleOptions() SampleOptions {
	return SampleOptions{
		Seed:    42,
		Months:  36,
		Start:   time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC),
		Assets:  DefaultUniverse,
		IdioVol: 0.03,
		Factors: DefaultFactors(),
	}
}

// factor return distributions (monthly mean, stdev)
var sampleFactorMoments = map[Factor][2]float64{
	Market:        {0.008, 0.04},
	Size:          {0.002, 0.03},
	Value:         {0.001, 0.03},
	Profitability: {0.001, 0.02},
}

// loading distributions used to draw each asset's true betas
var sampleLoadingMoments = map[Factor][2]float64{
	Market:        {1.0, 0.25},
	Size:          {0.1, 0.3},
	Value:         {0.0, 0.2},
	Profitability: {0.05, 0.15},
}

// Sample is a generated table together with the loadings used to build it.
type Sample struct {
	Table     *ReturnTable
	TrueBetas map[string][]float64
}

// GenerateSample builds a deterministic demo table. Asset returns are
// rf + alpha + Σ beta·factor + noise, so regression recovers the drawn betas.
func GenerateSample(opts SampleOptions) *Sample {
	if opts.Months <= 0 {
		opts.Months = 36
	}
	if len(opts.Factors) == 0 {
		opts.Factors = DefaultFactors()
	}
	if len(opts.Assets) == 0 {
		opts.Assets = DefaultUniverse
	}
	if opts.Start.IsZero() {
		opts.Start = time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)
	}

	src := rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)
	draw := func(mu, sigma float64) float64 {
		return distuv.Normal{Mu: mu, Sigma: sigma, Src: src}.Rand()
	}

	periods := make([]time.Time, opts.Months)
	for i := range periods {
		// day 0 of the following month is the last day of this one
		periods[i] = time.Date(opts.Start.Year(), opts.Start.Month()+time.Month(i+1), 0, 0, 0, 0, 0, time.UTC)
	}

	table := &ReturnTable{
		Periods:       periods,
		Factors:       append(FactorSet(nil), opts.Factors...),
		FactorReturns: make(map[Factor][]float64, len(opts.Factors)),
		RiskFree:      make([]float64, opts.Months),
		Assets:        make([]AssetReturns, 0, len(opts.Assets)),
	}

	for _, f := range opts.Factors {
		moments, ok := sampleFactorMoments[f]
		if !ok {
			moments = [2]float64{0, 0.02}
		}
		values := make([]float64, opts.Months)
		for p := range values {
			values[p] = draw(moments[0], moments[1])
		}
		table.FactorReturns[f] = values
	}
	for p := range table.RiskFree {
		table.RiskFree[p] = draw(0.002, 0.005)
	}

	sample := &Sample{Table: table, TrueBetas: make(map[string][]float64, len(opts.Assets))}
	for _, id := range opts.Assets {
		betas := make([]float64, len(opts.Factors))
		for j, f := range opts.Factors {
			moments, ok := sampleLoadingMoments[f]
			if !ok {
				moments = [2]float64{0, 0.2}
			}
			betas[j] = draw(moments[0], moments[1])
		}
		alpha := draw(0, 0.002)

		returns := make([]float64, opts.Months)
		for p := range returns {
			r := table.RiskFree[p] + alpha
			for j, f := range opts.Factors {
				r += betas[j] * table.FactorReturns[f][p]
			}
			if opts.IdioVol > 0 {
				r += draw(0, opts.IdioVol)
			}
			returns[p] = r
		}

		table.Assets = append(table.Assets, AssetReturns{ID: id, Returns: returns})
		sample.TrueBetas[id] = betas
	}

	return sample
}
