package sizing

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/cryptorisk/internal/domain/factors"
)

// Band is an inclusive [Min, Max] range, written in YAML as [min, max].
type Band struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the band.
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// UnmarshalYAML accepts a two-element sequence.
func (b *Band) UnmarshalYAML(value *yaml.Node) error {
	var pair []float64
	if err := value.Decode(&pair); err != nil {
		return fmt.Errorf("band must be [min, max]: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("band must have 2 elements, got %d", len(pair))
	}
	b.Min, b.Max = pair[0], pair[1]
	return nil
}

// MarshalYAML writes the band as [min, max].
func (b Band) MarshalYAML() (interface{}, error) {
	return []float64{b.Min, b.Max}, nil
}

// KellyConfig holds the Kelly inputs and their scaling.
type KellyConfig struct {
	WinProbability float64 `yaml:"win_probability" json:"win_probability"`
	WinLossRatio   float64 `yaml:"win_loss_ratio" json:"win_loss_ratio"`
	Cap            float64 `yaml:"cap" json:"cap"`
	SafetyFactor   float64 `yaml:"safety_factor" json:"safety_factor"`
	MinSamples     int     `yaml:"min_samples" json:"min_samples"` // closed trades before empirical inputs replace the configured ones
}

// Config contains position sizing configuration
type Config struct {
	BasePositionPct          float64               `yaml:"base_position_pct" json:"base_position_pct"`
	MinPositionPct           float64               `yaml:"min_position_pct" json:"min_position_pct"`
	MaxPositionPct           float64               `yaml:"max_position_pct" json:"max_position_pct"`
	AbsoluteMin              float64               `yaml:"absolute_min" json:"absolute_min"`
	AbsoluteMax              float64               `yaml:"absolute_max" json:"absolute_max"`
	EntryThreshold           float64               `yaml:"entry_threshold" json:"entry_threshold"`
	Kelly                    KellyConfig           `yaml:"kelly" json:"kelly"`
	FactorLimits             map[factors.Name]Band `yaml:"factor_limits" json:"factor_limits"`
	MaxFactorExposure        float64               `yaml:"max_factor_exposure" json:"max_factor_exposure"`
	ExposureFactors          []factors.Name        `yaml:"exposure_factors" json:"exposure_factors"`
	TargetIdiosyncraticRatio float64               `yaml:"target_idiosyncratic_ratio" json:"target_idiosyncratic_ratio"`
	MaxLeverage              float64               `yaml:"max_leverage" json:"max_leverage"`
	MaxOpenPositions         int                   `yaml:"max_open_positions" json:"max_open_positions"`

	// SystematicCeiling is copied from the exit rules; entries above it are
	// skipped. Zero disables the check.
	SystematicCeiling float64 `yaml:"-" json:"systematic_ceiling,omitempty"`
}

// DefaultConfig returns the production sizing configuration
func DefaultConfig() Config {
	return Config{
		BasePositionPct: 0.10,
		MinPositionPct:  0.01,
		MaxPositionPct:  0.10,
		AbsoluteMin:     0.1,
		AbsoluteMax:     5.0,
		EntryThreshold:  0.3,
		Kelly: KellyConfig{
			WinProbability: 0.55,
			WinLossRatio:   3.57,
			Cap:            1.0,
			SafetyFactor:   0.25,
			MinSamples:     20,
		},
		FactorLimits: map[factors.Name]Band{
			factors.MarketBeta: {Min: -1.5, Max: 2.5},
			factors.Volatility: {Min: 0, Max: 3.0},
			factors.Momentum:   {Min: -2.0, Max: 3.0},
			factors.Liquidity:  {Min: 0.5, Max: 5.0},
		},
		MaxFactorExposure:        2.0,
		ExposureFactors:          []factors.Name{factors.MarketBeta, factors.EcosystemBeta, factors.Momentum, factors.Size},
		TargetIdiosyncraticRatio: 0.6,
		MaxLeverage:              2.0,
		MaxOpenPositions:         10,
	}
}

// Validate returns configuration problems, empty when valid
func (c Config) Validate() []string {
	var problems []string
	if c.MinPositionPct <= 0 || c.MaxPositionPct > 1 || c.MinPositionPct > c.MaxPositionPct {
		problems = append(problems, "sizing: need 0 < min_position_pct <= max_position_pct <= 1")
	}
	if c.AbsoluteMin < 0 || c.AbsoluteMax <= 0 || c.AbsoluteMin > c.AbsoluteMax {
		problems = append(problems, "sizing: need 0 <= absolute_min <= absolute_max, absolute_max > 0")
	}
	if c.BasePositionPct <= 0 || c.BasePositionPct > 1 {
		problems = append(problems, "sizing.base_position_pct must be in (0,1]")
	}
	if c.EntryThreshold < -1 || c.EntryThreshold >= 1 {
		problems = append(problems, "sizing.entry_threshold must be in [-1,1)")
	}
	k := c.Kelly
	if k.WinProbability <= 0 || k.WinProbability >= 1 {
		problems = append(problems, "sizing.kelly.win_probability must be in (0,1)")
	}
	if k.WinLossRatio <= 0 {
		problems = append(problems, "sizing.kelly.win_loss_ratio must be positive")
	}
	if k.Cap <= 0 || k.Cap > 1 {
		problems = append(problems, "sizing.kelly.cap must be in (0,1]")
	}
	if k.SafetyFactor <= 0 || k.SafetyFactor > 1 {
		problems = append(problems, "sizing.kelly.safety_factor must be in (0,1]")
	}
	for _, name := range c.limitNames() {
		if _, ok := (factors.Snapshot{}).Get(name); !ok {
			problems = append(problems, fmt.Sprintf("sizing.factor_limits: unknown factor %q", name))
		}
		if b := c.FactorLimits[name]; b.Min > b.Max {
			problems = append(problems, fmt.Sprintf("sizing.factor_limits.%s: min exceeds max", name))
		}
	}
	for _, name := range c.ExposureFactors {
		if _, ok := (factors.Snapshot{}).Get(name); !ok {
			problems = append(problems, fmt.Sprintf("sizing.exposure_factors: unknown factor %q", name))
		}
	}
	if c.MaxFactorExposure <= 0 {
		problems = append(problems, "sizing.max_factor_exposure must be positive")
	}
	if c.TargetIdiosyncraticRatio < 0 || c.TargetIdiosyncraticRatio > 1 {
		problems = append(problems, "sizing.target_idiosyncratic_ratio must be in [0,1]")
	}
	if c.MaxLeverage <= 0 {
		problems = append(problems, "portfolio.max_leverage must be positive")
	}
	if c.MaxOpenPositions <= 0 {
		problems = append(problems, "portfolio.max_open_positions must be positive")
	}
	return problems
}

// limitNames returns the banded factors in a stable order.
func (c Config) limitNames() []factors.Name {
	names := make([]factors.Name, 0, len(c.FactorLimits))
	for n := range c.FactorLimits {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
