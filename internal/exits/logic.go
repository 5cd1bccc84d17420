package exits

import (
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/ledger"
)

// ExitReason represents the reason for exit with precedence
type ExitReason int

const (
	NoExit         ExitReason = iota
	StopLoss                  // Highest precedence: price at or below the stop
	TrailingStop              // Armed trailing stop crossed
	AlphaExhausted            // Decayed alpha below the exhaustion threshold
	RiskIncreased             // Volatility doubled since entry or systematic risk too high
	TimeLimit                 // Mean-reversion trade held too long while in profit
	Opportunity               // Alpha faded while in profit, capital is better used elsewhere
	PartialExit               // Staged profit level (lowest precedence, partial only)
)

func (er ExitReason) String() string {
	switch er {
	case NoExit:
		return "no_exit"
	case StopLoss:
		return "stop_loss"
	case TrailingStop:
		return "trailing_stop"
	case AlphaExhausted:
		return "alpha_exhausted"
	case RiskIncreased:
		return "risk_increased"
	case TimeLimit:
		return "time_limit"
	case Opportunity:
		return "better_opportunity"
	case PartialExit:
		return "partial_exit"
	default:
		return "unknown"
	}
}

// MarshalText encodes the reason by name.
func (er ExitReason) MarshalText() ([]byte, error) {
	return []byte(er.String()), nil
}

// Full reports whether the reason liquidates the whole remainder.
func (er ExitReason) Full() bool {
	return er != NoExit && er != PartialExit
}

// Instruction is the outcome of one exit evaluation.
type Instruction struct {
	PositionID   string              `json:"position_id"`
	Asset        string              `json:"asset"`
	Timestamp    time.Time           `json:"timestamp"`
	ShouldExit   bool                `json:"should_exit"`
	Reason       ExitReason          `json:"reason"`
	TriggeredBy  string              `json:"triggered_by,omitempty"`
	Level        int                 `json:"level,omitempty"` // 1-based staged level for a partial exit
	Amount       float64             `json:"amount"`
	CurrentPrice float64             `json:"current_price"`
	EntryPrice   float64             `json:"entry_price"`
	PnLPct       float64             `json:"pnl_pct"`
	HoursHeld    float64             `json:"hours_held"`
	CurrentAlpha float64             `json:"current_alpha"`
	Trailing     ledger.TrailingStop `json:"trailing_stop"`
}

// Level is one staged profit-taking step.
type Level struct {
	Threshold float64 `yaml:"threshold" json:"threshold"` // profit, 0.2 meaning +20%
	Fraction  float64 `yaml:"fraction" json:"fraction"`   // share of the remaining amount
}

// TrailingConfig configures the ratcheting stop.
type TrailingConfig struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	ActivationPct float64 `yaml:"activation_pct" json:"activation_pct"` // profit that arms the stop
	TrailDistance float64 `yaml:"trail_distance" json:"trail_distance"` // fraction below the high
}

// Config contains exit rule configuration
type Config struct {
	StopLossPct          float64        `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	Levels               []Level        `yaml:"levels" json:"levels"`
	Trailing             TrailingConfig `yaml:"trailing_stop" json:"trailing_stop"`
	ExhaustionThreshold  float64        `yaml:"exhaustion_threshold" json:"exhaustion_threshold"`
	VolatilityMultiple   float64        `yaml:"volatility_multiple" json:"volatility_multiple"`
	SystematicCeiling    float64        `yaml:"systematic_ceiling" json:"systematic_ceiling"`
	MeanReversionMaxHold time.Duration  `yaml:"mean_reversion_max_hold" json:"mean_reversion_max_hold"`
	MeanReversionTag     string         `yaml:"mean_reversion_tag" json:"mean_reversion_tag"`
	OpportunityAlpha     float64        `yaml:"opportunity_alpha" json:"opportunity_alpha"` // zero disables
}

// DefaultExitConfig returns production-ready exit configuration
func DefaultExitConfig() *Config {
	return &Config{
		StopLossPct: 0.05,
		Levels: []Level{
			{Threshold: 0.20, Fraction: 0.25},
			{Threshold: 0.50, Fraction: 0.25},
			{Threshold: 1.00, Fraction: 0.25},
			{Threshold: 2.00, Fraction: 0.25},
		},
		Trailing: TrailingConfig{
			Enabled:       true,
			ActivationPct: 3.0,
			TrailDistance: 0.20,
		},
		ExhaustionThreshold:  -0.2,
		VolatilityMultiple:   2.0,
		SystematicCeiling:    0.8,
		MeanReversionMaxHold: 24 * time.Hour,
		MeanReversionTag:     "mean_reversion",
		OpportunityAlpha:     0.1,
	}
}

// Validate returns configuration problems, empty when valid
func (c Config) Validate() []string {
	var problems []string
	if c.StopLossPct <= 0 || c.StopLossPct >= 1 {
		problems = append(problems, "exits.stop_loss_pct must be in (0,1)")
	}
	for i, l := range c.Levels {
		if l.Threshold <= 0 {
			problems = append(problems, fmt.Sprintf("exits.levels[%d].threshold must be positive", i))
		}
		if l.Fraction <= 0 || l.Fraction > 1 {
			problems = append(problems, fmt.Sprintf("exits.levels[%d].fraction must be in (0,1]", i))
		}
		if i > 0 && l.Threshold <= c.Levels[i-1].Threshold {
			problems = append(problems, "exits.levels must be strictly ascending by threshold")
		}
	}
	if c.Trailing.Enabled {
		if c.Trailing.ActivationPct <= 0 {
			problems = append(problems, "exits.trailing_stop.activation_pct must be positive")
		}
		if c.Trailing.TrailDistance <= 0 || c.Trailing.TrailDistance >= 1 {
			problems = append(problems, "exits.trailing_stop.trail_distance must be in (0,1)")
		}
	}
	if c.ExhaustionThreshold >= 0 {
		problems = append(problems, "exits.exhaustion_threshold must be negative")
	}
	if c.VolatilityMultiple <= 1 {
		problems = append(problems, "exits.volatility_multiple must exceed 1")
	}
	if c.SystematicCeiling <= 0 || c.SystematicCeiling > 1 {
		problems = append(problems, "exits.systematic_ceiling must be in (0,1]")
	}
	if c.OpportunityAlpha < 0 || c.OpportunityAlpha >= 1 {
		problems = append(problems, "exits.opportunity_alpha must be in [0,1)")
	}
	if c.MeanReversionMaxHold < 0 {
		problems = append(problems, "exits.mean_reversion_max_hold must not be negative")
	}
	return problems
}

// Inputs contains all data required for exit evaluation
type Inputs struct {
	Position     ledger.Position
	Factors      factors.Snapshot // current tick
	CurrentAlpha float64          // decayed alpha attributed to the position
	Now          time.Time
}

// ExitEvaluator evaluates exit conditions with proper precedence. It is pure:
// trailing-stop changes are returned in the instruction, never stored.
type ExitEvaluator struct {
	config *Config
}

// NewExitEvaluator creates a new exit evaluator
func NewExitEvaluator(config *Config) *ExitEvaluator {
	if config == nil {
		config = DefaultExitConfig()
	}
	return &ExitEvaluator{config: config}
}

// Config returns the evaluator configuration.
func (ee *ExitEvaluator) Config() Config {
	return *ee.config
}

// EvaluateExit performs exit evaluation with proper precedence. A closed
// position always yields no instruction.
func (ee *ExitEvaluator) EvaluateExit(in Inputs) Instruction {
	p := in.Position
	result := Instruction{
		PositionID:   p.ID,
		Asset:        p.Asset,
		Timestamp:    in.Now,
		Reason:       NoExit,
		CurrentPrice: p.CurrentPrice,
		EntryPrice:   p.EntryPrice,
		PnLPct:       p.PnLPct(),
		HoursHeld:    in.Now.Sub(p.EntryTime).Hours(),
		CurrentAlpha: in.CurrentAlpha,
		Trailing:     p.Trailing,
	}
	if p.Status == ledger.StatusClosed || p.Remaining() <= 0 {
		return result
	}
	result.Trailing = ee.nextTrailing(p, in.Now)

	// Evaluate full exits in precedence order (highest to lowest)

	// 1. Stop loss
	if ee.evaluateStopLoss(p) {
		ee.full(&result, p, StopLoss, fmt.Sprintf("Price %.6f <= stop %.6f",
			p.CurrentPrice, p.EntryPrice*(1-ee.config.StopLossPct)))
	}

	// 2. Trailing stop
	if !result.ShouldExit && ee.evaluateTrailingStop(p, result.Trailing) {
		ee.full(&result, p, TrailingStop, fmt.Sprintf("Price %.6f <= trailing stop %.6f (high %.6f)",
			p.CurrentPrice, result.Trailing.StopPrice, result.Trailing.HighestPrice))
	}

	// 3. Alpha exhaustion
	if !result.ShouldExit && in.CurrentAlpha < ee.config.ExhaustionThreshold {
		ee.full(&result, p, AlphaExhausted, fmt.Sprintf("Alpha %.3f < %.3f", in.CurrentAlpha, ee.config.ExhaustionThreshold))
	}

	// 4. Risk escalation
	if !result.ShouldExit {
		if trigger, ok := ee.evaluateRisk(p, in.Factors); ok {
			ee.full(&result, p, RiskIncreased, trigger)
		}
	}

	// 5. Time limit for mean-reversion trades
	if !result.ShouldExit && ee.evaluateTimeLimit(p, in.Now) {
		ee.full(&result, p, TimeLimit, fmt.Sprintf("Held %.1f hours >= %.1f hour limit in profit",
			result.HoursHeld, ee.config.MeanReversionMaxHold.Hours()))
	}

	// 6. Faded alpha on a winning position
	if !result.ShouldExit && ee.config.OpportunityAlpha > 0 &&
		in.CurrentAlpha < ee.config.OpportunityAlpha && result.PnLPct > 0 {
		ee.full(&result, p, Opportunity, fmt.Sprintf("Alpha %.3f < %.3f with profit %.1f%%",
			in.CurrentAlpha, ee.config.OpportunityAlpha, result.PnLPct*100))
	}

	// 7. Staged partial exits, lowest unfired level first, one per tick
	if !result.ShouldExit {
		if i, ok := ee.nextLevel(p); ok {
			lvl := ee.config.Levels[i]
			result.ShouldExit = true
			result.Reason = PartialExit
			result.Level = i + 1
			result.Amount = lvl.Fraction * p.Remaining()
			result.TriggeredBy = fmt.Sprintf("Profit %.1f%% >= level %d at %.1f%%, exit %.0f%% of remaining",
				result.PnLPct*100, i+1, lvl.Threshold*100, lvl.Fraction*100)
		}
	}

	return result
}

func (ee *ExitEvaluator) full(result *Instruction, p ledger.Position, reason ExitReason, trigger string) {
	result.ShouldExit = true
	result.Reason = reason
	result.Amount = p.Remaining()
	result.TriggeredBy = trigger
}

func (ee *ExitEvaluator) evaluateStopLoss(p ledger.Position) bool {
	return p.CurrentPrice <= p.EntryPrice*(1-ee.config.StopLossPct)
}

// nextTrailing arms the stop once profit reaches activation and ratchets it up
// with the high-water mark. The returned stop never falls below the stored one.
func (ee *ExitEvaluator) nextTrailing(p ledger.Position, now time.Time) ledger.TrailingStop {
	ts := p.Trailing
	cfg := ee.config.Trailing
	if !cfg.Enabled {
		return ts
	}
	if !ts.Activated {
		if p.PnLPct() < cfg.ActivationPct {
			return ts
		}
		ts.Activated = true
		ts.ActivatedAt = now
	}
	ts.HighestPrice = math.Max(ts.HighestPrice, p.CurrentPrice)
	ts.StopPrice = math.Max(ts.StopPrice, ts.HighestPrice*(1-cfg.TrailDistance))
	return ts
}

func (ee *ExitEvaluator) evaluateTrailingStop(p ledger.Position, ts ledger.TrailingStop) bool {
	return ee.config.Trailing.Enabled && ts.Activated && p.CurrentPrice <= ts.StopPrice
}

func (ee *ExitEvaluator) evaluateRisk(p ledger.Position, f factors.Snapshot) (string, bool) {
	entryVol := p.EntryFactors.Volatility
	if entryVol > 0 && f.Volatility > ee.config.VolatilityMultiple*entryVol {
		return fmt.Sprintf("Volatility %.2f > %.1fx entry %.2f", f.Volatility, ee.config.VolatilityMultiple, entryVol), true
	}
	if f.SystematicRisk > ee.config.SystematicCeiling {
		return fmt.Sprintf("Systematic risk %.2f > ceiling %.2f", f.SystematicRisk, ee.config.SystematicCeiling), true
	}
	return "", false
}

func (ee *ExitEvaluator) evaluateTimeLimit(p ledger.Position, now time.Time) bool {
	if ee.config.MeanReversionMaxHold <= 0 || p.Tag != ee.config.MeanReversionTag {
		return false
	}
	return now.Sub(p.EntryTime) >= ee.config.MeanReversionMaxHold && p.PnLPct() > 0
}

func (ee *ExitEvaluator) nextLevel(p ledger.Position) (int, bool) {
	pnl := p.PnLPct()
	for i, lvl := range ee.config.Levels {
		if p.LevelFired(i + 1) {
			continue
		}
		if pnl >= lvl.Threshold {
			return i, true
		}
		return 0, false
	}
	return 0, false
}

// Summary describes the staged-exit state of a position.
type Summary struct {
	FiredLevels     []float64 `json:"fired_levels"`
	RemainingLevels []float64 `json:"remaining_levels"`
	TrailingArmed   bool      `json:"trailing_armed"`
	StopPrice       float64   `json:"stop_price,omitempty"`
}

// Summarize reports fired and pending levels for p.
func (ee *ExitEvaluator) Summarize(p ledger.Position) Summary {
	s := Summary{TrailingArmed: p.Trailing.Activated, StopPrice: p.Trailing.StopPrice}
	for i, lvl := range ee.config.Levels {
		if p.LevelFired(i + 1) {
			s.FiredLevels = append(s.FiredLevels, lvl.Threshold)
		} else {
			s.RemainingLevels = append(s.RemainingLevels, lvl.Threshold)
		}
	}
	return s
}
