package risk

// Config contains portfolio risk assessment configuration
type Config struct {
	VaRConfidence      float64 `yaml:"var_confidence" json:"var_confidence"`
	CVaRConfidence     float64 `yaml:"cvar_confidence" json:"cvar_confidence"`
	HorizonPeriods     float64 `yaml:"var_horizon_periods" json:"var_horizon_periods"`
	PeriodsPerYear     float64 `yaml:"periods_per_year" json:"periods_per_year"`
	SharpeTarget       float64 `yaml:"sharpe_target" json:"sharpe_target"`
	SharpeCritical     float64 `yaml:"sharpe_critical" json:"sharpe_critical"`
	VaRLimit           float64 `yaml:"var_limit" json:"var_limit"`
	DrawdownLimit      float64 `yaml:"drawdown_limit" json:"drawdown_limit"`
	VolatilityLimit    float64 `yaml:"volatility_limit" json:"volatility_limit"`
	CriticalMultiple   float64 `yaml:"critical_multiple" json:"critical_multiple"`
	CorrelationLimit   float64 `yaml:"correlation_limit" json:"correlation_limit"`
	ConcentrationLimit float64 `yaml:"concentration_limit" json:"concentration_limit"`
	RebalanceThreshold float64 `yaml:"rebalance_threshold" json:"rebalance_threshold"`
	ReturnWindow       int     `yaml:"return_window" json:"return_window"`
	MinReturnSamples   int     `yaml:"min_return_samples" json:"min_return_samples"`
}

// DefaultConfig returns production risk limits
func DefaultConfig() Config {
	return Config{
		VaRConfidence:      0.95,
		CVaRConfidence:     0.95,
		HorizonPeriods:     1,
		PeriodsPerYear:     252,
		SharpeTarget:       2.0,
		SharpeCritical:     0.5,
		VaRLimit:           0.05,
		DrawdownLimit:      0.15,
		VolatilityLimit:    0.5,
		CriticalMultiple:   1.5,
		CorrelationLimit:   0.7,
		ConcentrationLimit: 0.5,
		RebalanceThreshold: 0.1,
		ReturnWindow:       90,
		MinReturnSamples:   2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.VaRConfidence == 0 {
		c.VaRConfidence = d.VaRConfidence
	}
	if c.CVaRConfidence == 0 {
		c.CVaRConfidence = d.CVaRConfidence
	}
	if c.HorizonPeriods <= 0 {
		c.HorizonPeriods = d.HorizonPeriods
	}
	if c.PeriodsPerYear <= 0 {
		c.PeriodsPerYear = d.PeriodsPerYear
	}
	if c.SharpeTarget == 0 {
		c.SharpeTarget = d.SharpeTarget
	}
	if c.SharpeCritical == 0 {
		c.SharpeCritical = d.SharpeCritical
	}
	if c.VaRLimit == 0 {
		c.VaRLimit = d.VaRLimit
	}
	if c.DrawdownLimit == 0 {
		c.DrawdownLimit = d.DrawdownLimit
	}
	if c.VolatilityLimit == 0 {
		c.VolatilityLimit = d.VolatilityLimit
	}
	if c.CriticalMultiple == 0 {
		c.CriticalMultiple = d.CriticalMultiple
	}
	if c.CorrelationLimit == 0 {
		c.CorrelationLimit = d.CorrelationLimit
	}
	if c.ConcentrationLimit == 0 {
		c.ConcentrationLimit = d.ConcentrationLimit
	}
	if c.RebalanceThreshold == 0 {
		c.RebalanceThreshold = d.RebalanceThreshold
	}
	if c.ReturnWindow <= 0 {
		c.ReturnWindow = d.ReturnWindow
	}
	if c.MinReturnSamples < 2 {
		c.MinReturnSamples = d.MinReturnSamples
	}
	return c
}

// Validate returns configuration problems, empty when valid
func (c Config) Validate() []string {
	var problems []string
	inOpenUnit := func(name string, v float64) {
		if v <= 0 || v >= 1 {
			problems = append(problems, "risk."+name+" must be in (0,1)")
		}
	}
	inOpenUnit("var_confidence", c.VaRConfidence)
	inOpenUnit("cvar_confidence", c.CVaRConfidence)
	inOpenUnit("correlation_limit", c.CorrelationLimit)
	if c.SharpeCritical > c.SharpeTarget {
		problems = append(problems, "risk.sharpe_critical must not exceed sharpe_target")
	}
	for _, lim := range []struct {
		name  string
		value float64
	}{
		{"var_limit", c.VaRLimit},
		{"drawdown_limit", c.DrawdownLimit},
		{"volatility_limit", c.VolatilityLimit},
		{"periods_per_year", c.PeriodsPerYear},
	} {
		if lim.value <= 0 {
			problems = append(problems, "risk."+lim.name+" must be positive")
		}
	}
	if c.CriticalMultiple < 1 {
		problems = append(problems, "risk.critical_multiple must be at least 1")
	}
	return problems
}
