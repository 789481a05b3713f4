package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/factorfit/internal/modules/factors"
	"github.com/aristath/factorfit/internal/modules/portfolio"
)

func sampleCmd(g *globalOptions) *cobra.Command {
	var (
		seed   uint64
		months int
	)
	defaults := factors.DefaultSampleOptions()
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print the generated sample return table as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if months <= 0 {
				return fmt.Errorf("--months must be positive")
			}
			opts := factors.DefaultSampleOptions()
			opts.Seed = seed
			opts.Months = months
			return writeJSON(cmd.OutOrStdout(), factors.GenerateSample(opts).Table)
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", defaults.Seed, "Sample seed")
	cmd.Flags().IntVar(&months, "months", defaults.Months, "Sample length in months")
	return cmd
}

func presetsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List target exposure presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			presets, err := g.presets()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), presets)
		},
	}
}

func betasCmd(g *globalOptions) *cobra.Command {
	f := &tableFlags{}
	cmd := &cobra.Command{
		Use:   "betas",
		Short: "Estimate factor betas and print them as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := f.load()
			if err != nil {
				return err
			}
			policy, err := f.failurePolicy()
			if err != nil {
				return err
			}
			m, err := newService(g.logger()).Estimate(cmd.Context(), table, policy)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), m)
		},
	}
	f.register(cmd)
	return cmd
}

func optimizeCmd(g *globalOptions) *cobra.Command {
	f := &problemFlags{}
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Solve for weights matching the target exposures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := solve(cmd, g, f)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), portfolio.Summary(res))
			return err
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}

func exportCmd(g *globalOptions) *cobra.Command {
	f := &problemFlags{}
	var (
		includeBetas bool
		hideBelow    float64
		output       string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Solve and write the weights as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hideBelow < 0 {
				return fmt.Errorf("--hide-below must not be negative")
			}
			res, err := solve(cmd, g, f)
			if err != nil {
				return err
			}
			data, _, err := newService(g.logger()).Export(cmd.Context(), res,
				portfolio.CSVOptions{IncludeBetas: includeBetas, MinWeight: hideBelow}, false)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&includeBetas, "betas", false, "Include per-factor beta columns")
	cmd.Flags().Float64Var(&hideBelow, "hide-below", 0, "Drop rows with weight at or below this value")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

// solve runs one optimization. A result that did not converge is returned
// with a warning on stderr.
func solve(cmd *cobra.Command, g *globalOptions, f *problemFlags) (*portfolio.Result, error) {
	presets, err := g.presets()
	if err != nil {
		return nil, err
	}
	req, err := f.request(presets)
	if err != nil {
		return nil, err
	}
	res, err := newService(g.logger()).Optimize(cmd.Context(), req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", portfolio.ErrorKind(err), err)
	}
	if !res.Success {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: optimizer stopped early (%s): %s\n", res.Status, res.Message)
	}
	return res, nil
}

func readTable(path string) (*factors.ReturnTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer file.Close()

	var table factors.ReturnTable
	if err := json.NewDecoder(file).Decode(&table); err != nil {
		return nil, fmt.Errorf("failed to decode table %s: %w", path, err)
	}
	return &table, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
