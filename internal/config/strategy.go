package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wangqi/tailscan/internal/scoring"
)

// Strategy preset names.
const (
	PresetConservative = "conservative"
	PresetBalanced     = "balanced"
	PresetAggressive   = "aggressive"
)

// StrategyParams bundles the scoring parameters with the risk band
// thresholds used for level labeling.
type StrategyParams struct {
	scoring.Params `yaml:",inline"`

	ModerateRiskThreshold float64 `yaml:"moderate_risk_threshold"`
	HighRiskThreshold     float64 `yaml:"high_risk_threshold"`
}

// PresetParams returns the named preset's parameter set.
func PresetParams(name string) (StrategyParams, error) {
	base := StrategyParams{
		Params:                scoring.DefaultParams(),
		ModerateRiskThreshold: 40,
		HighRiskThreshold:     60,
	}

	switch name {
	case PresetConservative:
		base.MaxPctChg = 4.0
		base.MaxVolumeRatio = 2.0
		base.MaxPositionRatio = 0.70
		base.RiskCeiling = 70
		base.ModerateRiskThreshold = 30
		base.HighRiskThreshold = 50
	case PresetBalanced, "":
		// DefaultParams is the balanced preset.
	case PresetAggressive:
		base.MinPctChg = 2.0
		base.MaxPctChg = 8.0
		base.MinVolumeRatio = 1.5
		base.MaxVolumeRatio = 4.0
		base.MaxPositionRatio = 0.95
		base.RiskCeiling = 90
		base.ModerateRiskThreshold = 50
		base.HighRiskThreshold = 70
	default:
		return StrategyParams{}, fmt.Errorf("unknown strategy preset: %s", name)
	}
	return base, nil
}

// LoadStrategy resolves the effective strategy parameters: the named preset
// overlaid with the YAML file when one is configured.
func LoadStrategy(preset, file string) (StrategyParams, error) {
	params, err := PresetParams(preset)
	if err != nil {
		return StrategyParams{}, err
	}
	if file == "" {
		return params, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return StrategyParams{}, fmt.Errorf("failed to read strategy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return StrategyParams{}, fmt.Errorf("failed to parse strategy file: %w", err)
	}
	return params, nil
}
