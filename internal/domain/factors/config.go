package factors

// HorizonWeights weights the 1h/6h/24h returns in the momentum factor.
type HorizonWeights struct {
	H1  float64 `yaml:"h1" json:"h1"`
	H6  float64 `yaml:"h6" json:"h6"`
	H24 float64 `yaml:"h24" json:"h24"`
}

// SizeThresholds are the market-cap bucket edges in USD.
type SizeThresholds struct {
	Micro float64 `yaml:"micro" json:"micro"`
	Small float64 `yaml:"small" json:"small"`
	Mid   float64 `yaml:"mid" json:"mid"`
}

// SystematicWeights combine |market_beta| and |ecosystem_beta|.
type SystematicWeights struct {
	Market    float64 `yaml:"market" json:"market"`
	Ecosystem float64 `yaml:"ecosystem" json:"ecosystem"`
}

// Config contains factor model configuration
type Config struct {
	MomentumWeights        HorizonWeights    `yaml:"momentum_weights" json:"momentum_weights"`
	MomentumGain           float64           `yaml:"momentum_gain" json:"momentum_gain"`
	AssumedMarketReturn    float64           `yaml:"assumed_market_return" json:"assumed_market_return"`       // fraction, used when no benchmark is observed
	AssumedEcosystemReturn float64           `yaml:"assumed_ecosystem_return" json:"assumed_ecosystem_return"` // fraction
	BetaBound              float64           `yaml:"beta_bound" json:"beta_bound"`
	ReferenceVolatility    float64           `yaml:"reference_volatility" json:"reference_volatility"`
	VolatilityCap          float64           `yaml:"volatility_cap" json:"volatility_cap"`
	SizeThresholds         SizeThresholds    `yaml:"size_thresholds" json:"size_thresholds"`
	SystematicWeights      SystematicWeights `yaml:"systematic_weights" json:"systematic_weights"`
	SystematicCap          float64           `yaml:"systematic_cap" json:"systematic_cap"`
}

// DefaultConfig returns the production factor configuration
func DefaultConfig() Config {
	return Config{
		MomentumWeights:        HorizonWeights{H1: 0.2, H6: 0.3, H24: 0.5},
		MomentumGain:           2.0,
		AssumedMarketReturn:    0.02,
		AssumedEcosystemReturn: 0.025,
		BetaBound:              3.0,
		ReferenceVolatility:    100.0,
		VolatilityCap:          10.0,
		SizeThresholds:         SizeThresholds{Micro: 100_000, Small: 1_000_000, Mid: 10_000_000},
		SystematicWeights:      SystematicWeights{Market: 0.6, Ecosystem: 0.4},
		SystematicCap:          0.8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MomentumWeights == (HorizonWeights{}) {
		c.MomentumWeights = d.MomentumWeights
	}
	if c.MomentumGain <= 0 {
		c.MomentumGain = d.MomentumGain
	}
	if c.AssumedMarketReturn == 0 {
		c.AssumedMarketReturn = d.AssumedMarketReturn
	}
	if c.AssumedEcosystemReturn == 0 {
		c.AssumedEcosystemReturn = d.AssumedEcosystemReturn
	}
	if c.BetaBound <= 0 {
		c.BetaBound = d.BetaBound
	}
	if c.ReferenceVolatility <= 0 {
		c.ReferenceVolatility = d.ReferenceVolatility
	}
	if c.VolatilityCap <= 0 {
		c.VolatilityCap = d.VolatilityCap
	}
	if c.SizeThresholds == (SizeThresholds{}) {
		c.SizeThresholds = d.SizeThresholds
	}
	if c.SystematicWeights == (SystematicWeights{}) {
		c.SystematicWeights = d.SystematicWeights
	}
	if c.SystematicCap <= 0 {
		c.SystematicCap = d.SystematicCap
	}
	return c
}

// Validate returns configuration problems, empty when valid
func (c Config) Validate() []string {
	var problems []string
	w := c.MomentumWeights
	if w.H1 < 0 || w.H6 < 0 || w.H24 < 0 {
		problems = append(problems, "factors.momentum_weights must be non-negative")
	}
	if c.SystematicCap < 0 || c.SystematicCap > 1 {
		problems = append(problems, "factors.systematic_cap must be in [0,1]")
	}
	if t := c.SizeThresholds; t != (SizeThresholds{}) && !(t.Micro < t.Small && t.Small < t.Mid) {
		problems = append(problems, "factors.size_thresholds must be strictly ascending")
	}
	return problems
}
