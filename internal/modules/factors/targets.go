package factors

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// TargetExposure maps factors to the desired portfolio exposure.
// Factors absent from the map target zero exposure.
type TargetExposure map[Factor]float64

// Vector returns the targets as a dense vector in factor-set order.
func (te TargetExposure) Vector(set FactorSet) ([]float64, error) {
	for f, v := range te {
		if set.Index(f) < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFactor, f)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: target for %s is not finite", ErrInvalidTable, f)
		}
	}
	vec := make([]float64, len(set))
	for i, f := range set {
		vec[i] = te[f]
	}
	return vec, nil
}

// Preset is a named target exposure.
type Preset struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Targets     TargetExposure `yaml:"targets" json:"targets"`
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// DefaultPresets returns the built-in target presets.
func DefaultPresets() []Preset {
	return []Preset{
		{
			Name:        "market",
			Description: "Plain market exposure, no style tilts",
			Targets:     TargetExposure{Market: 1.0, Size: 0, Value: 0, Profitability: 0},
		},
		{
			Name:        "balanced-tilt",
			Description: "Market with small size, value and profitability tilts",
			Targets:     TargetExposure{Market: 1.0, Size: 0.2, Value: 0.1, Profitability: 0.15},
		},
		{
			Name:        "small-value",
			Description: "Small-cap value tilt",
			Targets:     TargetExposure{Market: 1.0, Size: 0.3, Value: 0.3, Profitability: 0},
		},
		{
			Name:        "quality",
			Description: "Tilt toward robust profitability",
			Targets:     TargetExposure{Market: 1.0, Size: 0.1, Value: 0.1, Profitability: 0.15},
		},
		{
			Name:        "defensive",
			Description: "Below-market beta with a large-cap quality tilt",
			Targets:     TargetExposure{Market: 0.7, Size: -0.2, Value: 0, Profitability: 0.2},
		},
	}
}

// LoadPresets reads presets from a YAML file of the form
//
//	presets:
//	  - name: market
//	    targets: {Mkt-RF: 1.0}
//
// An empty path returns DefaultPresets.
func LoadPresets(path string) ([]Preset, error) {
	if path == "" {
		return DefaultPresets(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}
	return ParsePresets(data)
}

// ParsePresets decodes presets from YAML.
func ParsePresets(data []byte) ([]Preset, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}
	seen := make(map[string]bool, len(file.Presets))
	for _, p := range file.Presets {
		if p.Name == "" {
			return nil, fmt.Errorf("preset without name")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate preset %q", p.Name)
		}
		seen[p.Name] = true
	}
	sort.SliceStable(file.Presets, func(i, j int) bool {
		return file.Presets[i].Name < file.Presets[j].Name
	})
	return file.Presets, nil
}

// FindPreset returns the preset with the given name.
func FindPreset(presets []Preset, name string) (Preset, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}
