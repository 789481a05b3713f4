package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/factorfit/internal/modules/factors"
	"github.com/aristath/factorfit/internal/modules/portfolio"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestSampleCommand_RoundTripsThroughTable(t *testing.T) {
	out, _, err := run(t, "sample", "--months", "24", "--seed", "7")
	require.NoError(t, err)

	var table factors.ReturnTable
	require.NoError(t, json.Unmarshal([]byte(out), &table))
	require.NoError(t, table.Validate())
	assert.Equal(t, 24, table.Observations())
	assert.Len(t, table.Assets, len(factors.DefaultUniverse))

	path := filepath.Join(t.TempDir(), "table.json")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o644))

	out, _, err = run(t, "betas", "--table", path)
	require.NoError(t, err)
	var snapshot struct {
		Factors []string `json:"factors"`
		Rows    []struct {
			Asset string    `json:"asset"`
			Betas []float64 `json:"betas"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snapshot))
	assert.Equal(t, factors.DefaultFactors().Names(), snapshot.Factors)
	assert.Len(t, snapshot.Rows, len(factors.DefaultUniverse))
}

func TestOptimizeCommand_Summary(t *testing.T) {
	out, _, err := run(t, "optimize", "--sample",
		"--target", "Mkt-RF=1.0", "--target", "SMB=0.2", "--target", "HML=0.1", "--target", "RMW=0.15",
		"--max-weight", "0.25")
	require.NoError(t, err)

	assert.Contains(t, out, "Factor Portfolio Summary")
	assert.Contains(t, out, "- Mkt-RF: 1.000")
	assert.Contains(t, out, "Top Holdings:")
	assert.NotContains(t, out, "Status:")
}

func TestOptimizeCommand_JSONWithPreset(t *testing.T) {
	out, _, err := run(t, "optimize", "--sample", "--preset", "market", "--solver", "penalty", "--json")
	require.NoError(t, err)

	var res portfolio.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "penalty", string(res.Method))

	var total float64
	for _, w := range res.Weights {
		assert.GreaterOrEqual(t, w.Weight, 0.0)
		total += w.Weight
	}
	assert.InDelta(t, 1.0, total, 1e-6)
}

func TestOptimizeCommand_NonConvergenceWarns(t *testing.T) {
	out, stderr, err := run(t, "optimize", "--sample", "--target", "Mkt-RF=3", "--max-iterations", "1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "warning: optimizer stopped early")
	assert.Contains(t, out, "Status:")
}

func TestExportCommand(t *testing.T) {
	out, _, err := run(t, "export", "--sample", "--preset", "market", "--betas")
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, len(factors.DefaultUniverse)+1)
	assert.Equal(t, []string{"Asset", "Weight", "Weight %", "Mkt-RF Beta", "SMB Beta", "HML Beta", "RMW Beta"}, records[0])

	path := filepath.Join(t.TempDir(), "weights.csv")
	_, stderr, err := run(t, "export", "--sample", "--preset", "market", "--hide-below", "0.01", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	records, err = csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(records), len(factors.DefaultUniverse)+1)
	assert.Equal(t, []string{"Asset", "Weight", "Weight %"}, records[0])
}

func TestPresetsCommand(t *testing.T) {
	out, _, err := run(t, "presets")
	require.NoError(t, err)

	var presets []factors.Preset
	require.NoError(t, json.Unmarshal([]byte(out), &presets))
	assert.Len(t, presets, len(factors.DefaultPresets()))
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no table", []string{"optimize", "--target", "Mkt-RF=1"}, "--table or --sample"},
		{"both tables", []string{"betas", "--sample", "--table", "x.json"}, "mutually exclusive"},
		{"no targets", []string{"optimize", "--sample"}, "--target or --preset"},
		{"bad target", []string{"optimize", "--sample", "--target", "Mkt-RF"}, "FACTOR=VALUE"},
		{"duplicate target", []string{"optimize", "--sample", "--target", "SMB=1", "--target", "SMB=2"}, "duplicate target"},
		{"unknown preset", []string{"optimize", "--sample", "--preset", "nope"}, "unknown preset"},
		{"unknown factor", []string{"optimize", "--sample", "--target", "MOM=1"}, portfolio.KindUnknownFactor},
		{"infeasible", []string{"optimize", "--sample", "--target", "Mkt-RF=1", "--max-weight", "0.01"}, portfolio.KindInfeasibleConstraints},
		{"policy", []string{"betas", "--sample", "--policy", "drop"}, "unknown failure policy"},
		{"solver", []string{"optimize", "--sample", "--preset", "market", "--solver", "slsqp"}, "unknown solver"},
		{"missing file", []string{"betas", "--table", "does-not-exist.json"}, "failed to open table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseTargets(t *testing.T) {
	targets, err := parseTargets([]string{"Mkt-RF=1.0", " HML = -0.2 "})
	require.NoError(t, err)
	assert.Equal(t, factors.TargetExposure{"Mkt-RF": 1.0, "HML": -0.2}, targets)
}
