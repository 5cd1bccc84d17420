// Package sizing converts alpha and portfolio risk into a bounded position size.
package sizing

import (
	"math"

	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/domain/risk"
)

// Skip reasons reported with a zero-size decision.
const (
	SkipRiskGate       = "risk_gate_closed"
	SkipAlpha          = "alpha_below_threshold"
	SkipPositionExists = "position_exists"
	SkipNoEdge         = "no_edge"
	SkipInfeasible     = "infeasible_bounds"
	SkipNoCapital      = "no_portfolio_value"
	SkipSystematicRisk = "systematic_risk_above_ceiling"
)

// Request is everything the sizer needs for one candidate.
type Request struct {
	Asset          string
	Alpha          float64
	Factors        factors.Snapshot
	Risk           risk.Snapshot
	Holdings       []risk.Holding
	PortfolioValue float64
}

// Decision is the sized amount plus every intermediate multiplier.
type Decision struct {
	Asset              string   `json:"asset"`
	Notional           float64  `json:"notional"` // quote units
	Pct                float64  `json:"pct"`      // of portfolio value
	SkipReason         string   `json:"skip_reason,omitempty"`
	Kelly              float64  `json:"kelly"`
	WinProbability     float64  `json:"win_probability"`
	WinLossRatio       float64  `json:"win_loss_ratio"`
	EmpiricalKelly     bool     `json:"empirical_kelly"`
	RiskParity         float64  `json:"risk_parity"`
	FactorConstraint   float64  `json:"factor_constraint"`
	ExposureConstraint float64  `json:"exposure_constraint"`
	LimitConstraint    float64  `json:"limit_constraint"`
	VolatilityScalar   float64  `json:"volatility_scalar"`
	AlphaMultiplier    float64  `json:"alpha_multiplier"`
	RawPct             float64  `json:"raw_pct"`
	Lower              float64  `json:"lower"`
	Upper              float64  `json:"upper"`
	Breaches           []string `json:"breaches,omitempty"`
}

// Sized reports whether the decision opens a position.
func (d Decision) Sized() bool {
	return d.Notional > 0
}

// Sizer computes Kelly-based position sizes.
type Sizer struct {
	config   Config
	outcomes *OutcomeTracker
}

// NewSizer creates a sizer. outcomes may be nil, in which case the configured
// Kelly inputs are always used.
func NewSizer(config Config, outcomes *OutcomeTracker) *Sizer {
	return &Sizer{config: config, outcomes: outcomes}
}

// Config returns the sizer configuration.
func (s *Sizer) Config() Config {
	return s.config
}

// Size returns the notional to buy, zero with a skip reason when no trade is allowed.
func (s *Sizer) Size(req Request) Decision {
	d := Decision{Asset: req.Asset}
	c := s.config

	switch {
	case !req.Risk.CanTrade:
		d.SkipReason = SkipRiskGate
		return d
	case !(req.Alpha > c.EntryThreshold):
		d.SkipReason = SkipAlpha
		return d
	case holds(req.Holdings, req.Asset):
		d.SkipReason = SkipPositionExists
		return d
	case c.SystematicCeiling > 0 && req.Factors.SystematicRisk > c.SystematicCeiling:
		d.SkipReason = SkipSystematicRisk
		return d
	case !(req.PortfolioValue > 0) || math.IsInf(req.PortfolioValue, 0):
		d.SkipReason = SkipNoCapital
		return d
	}

	d.Lower = math.Max(c.MinPositionPct*req.PortfolioValue, c.AbsoluteMin)
	d.Upper = math.Min(c.MaxPositionPct*req.PortfolioValue, c.AbsoluteMax)
	if d.Lower > d.Upper {
		d.SkipReason = SkipInfeasible
		return d
	}

	d.WinProbability, d.WinLossRatio, d.EmpiricalKelly = s.outcomes.Inputs(c.Kelly)
	d.Kelly = Kelly(d.WinProbability, d.WinLossRatio, c.Kelly.Cap) * c.Kelly.SafetyFactor
	d.RiskParity = RiskParity(risk.AverageVolatility(req.Holdings), req.Factors.Volatility, len(req.Holdings) > 0)
	d.FactorConstraint, d.Breaches = s.factorConstraint(req.Factors)
	exposure, exposureBreaches := s.exposureConstraint(req)
	d.ExposureConstraint = exposure
	d.Breaches = append(d.Breaches, exposureBreaches...)
	d.VolatilityScalar = VolatilityScalar(req.Factors.Volatility)
	d.AlphaMultiplier = math.Min(req.Alpha*2, 2.0)

	raw := c.BasePositionPct * d.Kelly * d.RiskParity * d.FactorConstraint *
		d.ExposureConstraint * d.VolatilityScalar * d.AlphaMultiplier
	if !(raw > 0) || math.IsInf(raw, 0) {
		d.SkipReason = SkipNoEdge
		return d
	}

	d.LimitConstraint = 1.0
	proposed := clip(raw*req.PortfolioValue, d.Lower, d.Upper)
	if s.exceedsLimits(proposed, req) {
		d.LimitConstraint = 0.5
		d.Breaches = append(d.Breaches, "portfolio_limits")
	}
	d.RawPct = raw * d.LimitConstraint

	d.Notional = clip(d.RawPct*req.PortfolioValue, d.Lower, d.Upper)
	d.Pct = d.Notional / req.PortfolioValue
	return d
}

// factorConstraint halves the size per out-of-band factor, then rewards or
// penalizes the idiosyncratic share of risk.
func (s *Sizer) factorConstraint(f factors.Snapshot) (float64, []string) {
	mult := 1.0
	var breaches []string
	for _, name := range s.config.limitNames() {
		v, ok := f.Get(name)
		if !ok {
			continue
		}
		if !s.config.FactorLimits[name].Contains(v) {
			mult *= 0.5
			breaches = append(breaches, string(name))
		}
	}
	var ratio float64
	if total := f.SystematicRisk + f.IdiosyncraticRisk; total > 0 {
		ratio = f.IdiosyncraticRisk / total
	}
	if ratio > s.config.TargetIdiosyncraticRatio {
		mult *= 1.2
	} else {
		mult *= 0.8
	}
	return mult, breaches
}

// exposureConstraint halves the size for every factor where the candidate adds
// to an aggregate that would end above the portfolio exposure limit.
func (s *Sizer) exposureConstraint(req Request) (float64, []string) {
	agg := req.Risk.FactorExposures
	if len(agg) == 0 {
		agg = risk.Exposures(req.Holdings)
	}
	mult := 1.0
	var breaches []string
	for _, name := range s.config.ExposureFactors {
		v, _ := req.Factors.Get(name)
		a := agg[name]
		if v == 0 || a*v <= 0 {
			continue
		}
		if math.Abs(a+v) > s.config.MaxFactorExposure {
			mult *= 0.5
			breaches = append(breaches, "exposure:"+string(name))
		}
	}
	return mult, breaches
}

// exceedsLimits checks projected leverage and the open-position count.
func (s *Sizer) exceedsLimits(notional float64, req Request) bool {
	gross := notional
	for _, h := range req.Holdings {
		gross += math.Abs(h.Value)
	}
	if gross/req.PortfolioValue > s.config.MaxLeverage {
		return true
	}
	return len(req.Holdings) >= s.config.MaxOpenPositions
}

// Kelly is clip((p·b − q)/b, 0, cap); 0 when the payoff ratio is not positive.
func Kelly(winProb, winLoss, cap float64) float64 {
	if !(winLoss > 0) {
		return 0
	}
	return clip((winProb*winLoss-(1-winProb))/winLoss, 0, cap)
}

// RiskParity is clip(avg/this, 0.5, 2), 1.0 with no open positions or a non-positive volatility.
func RiskParity(avgVol, thisVol float64, hasOpen bool) float64 {
	if !hasOpen || !(thisVol > 0) || !(avgVol > 0) {
		return 1.0
	}
	return clip(avgVol/thisVol, 0.5, 2.0)
}

// VolatilityScalar is clip(1/vol, 0.5, 2), 1.0 for a non-positive volatility.
func VolatilityScalar(vol float64) float64 {
	if !(vol > 0) {
		return 1.0
	}
	return clip(1/vol, 0.5, 2.0)
}

func holds(holdings []risk.Holding, asset string) bool {
	for _, h := range holdings {
		if h.Asset == asset {
			return true
		}
	}
	return false
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
