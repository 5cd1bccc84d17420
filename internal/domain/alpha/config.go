package alpha

// Weights are the combiner weights per signal kind.
type Weights struct {
	Momentum           float64 `yaml:"momentum" json:"momentum"`
	MeanReversion      float64 `yaml:"mean_reversion" json:"mean_reversion"`
	VolumeBreakout     float64 `yaml:"volume_breakout" json:"volume_breakout"`
	CrossSectional     float64 `yaml:"cross_sectional" json:"cross_sectional"`
	ExternalPrediction float64 `yaml:"external_prediction" json:"external_prediction"`
}

// For returns the weight of kind k.
func (w Weights) For(k Kind) float64 {
	switch k {
	case Momentum:
		return w.Momentum
	case MeanReversion:
		return w.MeanReversion
	case VolumeBreakout:
		return w.VolumeBreakout
	case CrossSectional:
		return w.CrossSectional
	case ExternalPrediction:
		return w.ExternalPrediction
	}
	return 0
}

// Config contains signal and combiner configuration
type Config struct {
	Weights            Weights        `yaml:"weights" json:"weights"`
	RSIOversold        float64        `yaml:"rsi_oversold" json:"rsi_oversold"`
	RSIOverbought      float64        `yaml:"rsi_overbought" json:"rsi_overbought"`
	TrendBonus         float64        `yaml:"trend_bonus" json:"trend_bonus"`
	BreakoutSteps      []BreakoutStep `yaml:"breakout_steps" json:"breakout_steps"`
	DecayHalfLifeHours float64        `yaml:"decay_halflife_hours" json:"decay_halflife_hours"`
	Amplification      Amplification  `yaml:"winner_amplification" json:"winner_amplification"`
}

// DefaultConfig returns the production signal configuration
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Momentum:           0.3,
			MeanReversion:      0.2,
			VolumeBreakout:     0.2,
			CrossSectional:     0.0,
			ExternalPrediction: 0.3,
		},
		RSIOversold:   30,
		RSIOverbought: 70,
		TrendBonus:    1.5,
		BreakoutSteps: []BreakoutStep{
			{Ratio: 1.5, Score: 0.25},
			{Ratio: 2.0, Score: 0.5},
			{Ratio: 3.0, Score: 1.0},
		},
		DecayHalfLifeHours: 24,
		Amplification:      Amplification{
			WindowHours: 24,
			MinTrades:   10,
			MinSharpe:   2.0,
			ScaleFactor: 1.0,
			MaxScale:    1.5,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.RSIOversold == 0 && c.RSIOverbought == 0 {
		c.RSIOversold, c.RSIOverbought = d.RSIOversold, d.RSIOverbought
	}
	if c.TrendBonus <= 0 {
		c.TrendBonus = d.TrendBonus
	}
	if len(c.BreakoutSteps) == 0 {
		c.BreakoutSteps = d.BreakoutSteps
	}
	if c.DecayHalfLifeHours <= 0 {
		c.DecayHalfLifeHours = d.DecayHalfLifeHours
	}
	return c
}

// Validate returns configuration problems, empty when valid
func (c Config) Validate() []string {
	var problems []string
	for _, k := range Kinds {
		if c.Weights.For(k) < 0 {
			problems = append(problems, "signals.weights."+k.String()+" must be non-negative")
		}
	}
	if c.RSIOversold >= c.RSIOverbought {
		problems = append(problems, "signals.rsi_oversold must be below rsi_overbought")
	}
	for i := 1; i < len(c.BreakoutSteps); i++ {
		if c.BreakoutSteps[i].Ratio <= c.BreakoutSteps[i-1].Ratio {
			problems = append(problems, "signals.breakout_steps must be ascending by ratio")
			break
		}
	}
	if c.DecayHalfLifeHours < 0 {
		problems = append(problems, "alpha.decay_halflife_hours must be positive")
	}
	if a := c.Amplification; a.Enabled {
		if a.WindowHours <= 0 {
			problems = append(problems, "signals.winner_amplification.performance_window_hours must be positive")
		}
		if a.MinTrades < 2 {
			problems = append(problems, "signals.winner_amplification.min_trades must be at least 2")
		}
		if a.ScaleFactor <= 0 || a.MaxScale < 1 {
			problems = append(problems, "signals.winner_amplification needs scale_factor > 0 and max_scale >= 1")
		}
	}
	return problems
}
