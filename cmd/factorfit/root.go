package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/factorfit/internal/modules/betas"
	"github.com/aristath/factorfit/internal/modules/factors"
	"github.com/aristath/factorfit/internal/modules/optimization"
	"github.com/aristath/factorfit/internal/modules/portfolio"
	"github.com/aristath/factorfit/pkg/logger"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	logLevel    string
	presetsFile string
}

func (g *globalOptions) logger() zerolog.Logger {
	return logger.New(logger.Config{Level: g.logLevel, Pretty: true, Output: os.Stderr})
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           "factorfit",
		Short:         "Factor-exposure portfolio construction",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.presetsFile, "presets", "", "YAML file replacing the built-in target presets")

	root.AddCommand(sampleCmd(g))
	root.AddCommand(presetsCmd(g))
	root.AddCommand(betasCmd(g))
	root.AddCommand(optimizeCmd(g))
	root.AddCommand(exportCmd(g))
	return root
}

// tableFlags select the return table: a JSON file or the generated sample.
type tableFlags struct {
	tablePath string
	sample    bool
	seed      uint64
	months    int
	policy    string
}

func (f *tableFlags) register(cmd *cobra.Command) {
	defaults := factors.DefaultSampleOptions()
	cmd.Flags().StringVar(&f.tablePath, "table", "", "JSON return table file")
	cmd.Flags().BoolVar(&f.sample, "sample", false, "Use the generated sample table")
	cmd.Flags().Uint64Var(&f.seed, "seed", defaults.Seed, "Sample seed")
	cmd.Flags().IntVar(&f.months, "months", defaults.Months, "Sample length in months")
	cmd.Flags().StringVar(&f.policy, "policy", "", "Failure policy for assets that cannot be estimated (exclude, default)")
}

func (f *tableFlags) load() (*factors.ReturnTable, error) {
	switch {
	case f.sample && f.tablePath != "":
		return nil, fmt.Errorf("--table and --sample are mutually exclusive")
	case f.sample:
		opts := factors.DefaultSampleOptions()
		opts.Seed = f.seed
		opts.Months = f.months
		return factors.GenerateSample(opts).Table, nil
	case f.tablePath != "":
		return readTable(f.tablePath)
	default:
		return nil, fmt.Errorf("one of --table or --sample is required")
	}
}

func (f *tableFlags) failurePolicy() (betas.FailurePolicy, error) {
	if f.policy == "" {
		return "", nil
	}
	return betas.ParseFailurePolicy(f.policy)
}

// problemFlags describe one optimization request.
type problemFlags struct {
	tableFlags
	targets       []string
	preset        string
	minWeight     float64
	maxWeight     float64
	solver        string
	maxIterations int
}

func (f *problemFlags) register(cmd *cobra.Command) {
	f.tableFlags.register(cmd)
	defaults := optimization.DefaultConstraints()
	cmd.Flags().StringArrayVar(&f.targets, "target", nil, "Target exposure as FACTOR=VALUE (repeatable)")
	cmd.Flags().StringVar(&f.preset, "preset", "", "Named target preset")
	cmd.Flags().Float64Var(&f.minWeight, "min-weight", defaults.LowerBound, "Lower bound per asset weight")
	cmd.Flags().Float64Var(&f.maxWeight, "max-weight", defaults.UpperBound, "Upper bound per asset weight")
	cmd.Flags().StringVar(&f.solver, "solver", "", "Solver (projected_gradient, penalty)")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", optimization.DefaultMaxIterations, "Solver iteration cap")
}

func (f *problemFlags) request(presets []factors.Preset) (portfolio.Request, error) {
	table, err := f.load()
	if err != nil {
		return portfolio.Request{}, err
	}
	policy, err := f.failurePolicy()
	if err != nil {
		return portfolio.Request{}, err
	}

	var targets factors.TargetExposure
	switch {
	case f.preset != "" && len(f.targets) > 0:
		return portfolio.Request{}, fmt.Errorf("--target and --preset are mutually exclusive")
	case f.preset != "":
		preset, ok := factors.FindPreset(presets, f.preset)
		if !ok {
			return portfolio.Request{}, fmt.Errorf("unknown preset %q", f.preset)
		}
		targets = preset.Targets
	case len(f.targets) > 0:
		targets, err = parseTargets(f.targets)
		if err != nil {
			return portfolio.Request{}, err
		}
	default:
		return portfolio.Request{}, fmt.Errorf("one of --target or --preset is required")
	}

	method, err := optimization.ParseMethod(f.solver)
	if err != nil {
		return portfolio.Request{}, err
	}

	return portfolio.Request{
		Table:       table,
		Targets:     targets,
		Constraints: optimization.Constraints{LowerBound: f.minWeight, UpperBound: f.maxWeight},
		Policy:      policy,
		Solver: &optimization.Options{
			Method:        method,
			MaxIterations: f.maxIterations,
		},
	}, nil
}

// parseTargets reads FACTOR=VALUE pairs.
func parseTargets(pairs []string) (factors.TargetExposure, error) {
	targets := make(factors.TargetExposure, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid target %q (want FACTOR=VALUE)", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid target %q: %w", pair, err)
		}
		factor := factors.Factor(strings.TrimSpace(name))
		if _, dup := targets[factor]; dup {
			return nil, fmt.Errorf("duplicate target for %s", factor)
		}
		targets[factor] = v
	}
	return targets, nil
}

func (g *globalOptions) presets() ([]factors.Preset, error) {
	return factors.LoadPresets(g.presetsFile)
}

// newService builds an uncached service; each CLI run estimates once.
func newService(log zerolog.Logger) *portfolio.Service {
	return portfolio.NewService(betas.DefaultOptions(), nil,
		optimization.NewOptimizer(optimization.DefaultOptions(), log), log)
}
