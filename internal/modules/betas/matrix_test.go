package betas

import (
	"encoding/json"
	"testing"

	"github.com/aristath/factorfit/internal/modules/factors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func twoFactorMatrix(t *testing.T) *Matrix {
	t.Helper()
	m, err := NewMatrix(
		factors.FactorSet{factors.Market, factors.Size},
		[]Row{
			{Asset: "AAA", Betas: []float64{1.1, 0.2}, Alpha: 0.001, RSquared: 0.8},
			{Asset: "BBB", Betas: []float64{0.9, -0.1}, Alpha: -0.002, RSquared: 0.6},
		},
		Diagnostics{Policy: PolicyExclude, Observations: 36, Estimated: 2},
	)
	require.NoError(t, err)
	return m
}

func TestParseFailurePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    FailurePolicy
		wantErr bool
	}{
		{"", PolicyExclude, false},
		{"exclude", PolicyExclude, false},
		{" DEFAULT ", PolicyDefault, false},
		{"zero", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFailurePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewMatrix_Validation(t *testing.T) {
	set := factors.FactorSet{factors.Market, factors.Size}

	_, err := NewMatrix(set, []Row{{Asset: "AAA", Betas: []float64{1}}}, Diagnostics{})
	assert.Error(t, err)

	_, err = NewMatrix(set, []Row{
		{Asset: "AAA", Betas: []float64{1, 0}},
		{Asset: "AAA", Betas: []float64{1, 0}},
	}, Diagnostics{})
	assert.Error(t, err)
}

func TestMatrix_Immutable(t *testing.T) {
	rows := []Row{{Asset: "AAA", Betas: []float64{1, 0}}}
	m, err := NewMatrix(factors.FactorSet{factors.Market, factors.Size}, rows, Diagnostics{})
	require.NoError(t, err)

	rows[0].Betas[0] = 99
	assert.Equal(t, 1.0, m.Row(0).Betas[0])

	r := m.Row(0)
	r.Betas[0] = 42
	assert.Equal(t, 1.0, m.Row(0).Betas[0])

	d := m.Dense()
	d.Set(0, 0, 7)
	assert.Equal(t, 1.0, m.Dense().At(0, 0))

	f := m.Factors()
	f[0] = "X"
	assert.Equal(t, factors.Market, m.Factors()[0])
}

func TestMatrix_Accessors(t *testing.T) {
	m := twoFactorMatrix(t)

	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []string{"AAA", "BBB"}, m.Assets())

	row, ok := m.Lookup("BBB")
	require.True(t, ok)
	assert.Equal(t, -0.1, row.Betas[1])

	_, ok = m.Lookup("ZZZ")
	assert.False(t, ok)

	d := m.Dense()
	assert.Equal(t, 0.9, d.At(1, 0))
	assert.Equal(t, 0.2, d.At(0, 1))
}

func TestMatrix_SnapshotRoundTrip(t *testing.T) {
	m := twoFactorMatrix(t)
	m.key = "abc"

	data, err := msgpack.Marshal(m.Snapshot())
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, msgpack.Unmarshal(data, &snap))
	back, err := FromSnapshot(snap)
	require.NoError(t, err)

	assert.Equal(t, m.Rows(), back.Rows())
	assert.Equal(t, m.Factors(), back.Factors())
	assert.Equal(t, "abc", back.Key())
	assert.Equal(t, 36, back.Diagnostics().Observations)
}

func TestMatrix_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(twoFactorMatrix(t))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []interface{}{"Mkt-RF", "SMB"}, decoded["factors"])
	rows := decoded["rows"].([]interface{})
	assert.Len(t, rows, 2)
	assert.Equal(t, "AAA", rows[0].(map[string]interface{})["asset"])
}
