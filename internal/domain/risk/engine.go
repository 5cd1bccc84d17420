package risk

import (
	"fmt"
	"math"

	"github.com/sawpanic/cryptorisk/internal/domain/factors"
)

// Engine computes portfolio risk snapshots. It keeps no state between calls.
type Engine struct {
	config Config
}

// NewEngine creates a risk engine; zero-valued limits fall back to defaults.
func NewEngine(config Config) *Engine {
	return &Engine{config: config.withDefaults()}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Assess recomputes the full risk snapshot for the given holdings.
func (e *Engine) Assess(holdings []Holding, mc MarketContext) Snapshot {
	snap := Snapshot{
		Timestamp:       mc.Timestamp,
		Positions:       len(holdings),
		PortfolioValue:  mc.PortfolioValue,
		BetaToMarket:    1.0,
		FactorExposures: Exposures(holdings),
		CanTrade:        true,
	}
	if len(holdings) == 0 {
		return snap
	}

	for _, h := range holdings {
		snap.GrossExposure += math.Abs(h.Value)
	}
	if mc.PortfolioValue > 0 {
		snap.Leverage = snap.GrossExposure / mc.PortfolioValue
	}
	snap.Correlation = e.correlations(holdings, mc.AssetReturns)
	snap.ExAnteVolatility = exAnteVolatility(holdings, snap.Correlation)
	snap.NeedsRebalancing = e.needsRebalancing(holdings)

	returns := mc.PortfolioReturns
	snap.Samples = len(returns)
	if len(returns) >= e.config.MinReturnSamples {
		e.metrics(&snap, returns, mc.MarketReturns)
		snap.Assessments = e.assess(snap)
	} else {
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("insufficient return history: %d samples", len(returns)))
	}

	snap.RiskScore = e.score(snap)
	snap.Warnings = append(snap.Warnings, e.warnings(snap)...)
	snap.CanTrade = snap.RiskScore < TradeScoreCeiling && !snap.Critical()
	return snap
}

func (e *Engine) metrics(snap *Snapshot, returns, marketReturns []float64) {
	ppy := e.config.PeriodsPerYear
	snap.VaR = ValueAtRisk(returns, e.config.VaRConfidence, e.config.HorizonPeriods)
	snap.CVaR = ConditionalValueAtRisk(returns, e.config.CVaRConfidence, e.config.HorizonPeriods)
	snap.Sharpe = Sharpe(returns, ppy)
	snap.Sortino = Sortino(returns, ppy)
	snap.MaxDrawdown = MaxDrawdown(returns)
	snap.Volatility = stddev(returns) * math.Sqrt(ppy)
	snap.DownsideVolatility = DownsideVolatility(returns, ppy)
	snap.BetaToMarket = Beta(returns, marketReturns)
}

func (e *Engine) assess(snap Snapshot) []Assessment {
	c := e.config
	varLoss := math.Abs(snap.VaR)
	return []Assessment{
		{
			Metric:   "var",
			Value:    varLoss,
			Limit:    c.VaRLimit,
			Exceeded: varLoss > c.VaRLimit,
			Critical: varLoss > c.VaRLimit*c.CriticalMultiple,
		},
		{
			Metric:   "sharpe",
			Value:    snap.Sharpe,
			Limit:    c.SharpeTarget,
			Exceeded: snap.Sharpe < c.SharpeTarget,
			Critical: snap.Sharpe < c.SharpeCritical,
		},
		{
			Metric:   "drawdown",
			Value:    snap.MaxDrawdown,
			Limit:    c.DrawdownLimit,
			Exceeded: snap.MaxDrawdown > c.DrawdownLimit,
			Critical: snap.MaxDrawdown > c.DrawdownLimit*c.CriticalMultiple,
		},
		{
			Metric:   "volatility",
			Value:    snap.Volatility,
			Limit:    c.VolatilityLimit,
			Exceeded: snap.Volatility > c.VolatilityLimit,
			Critical: snap.Volatility > c.VolatilityLimit*c.CriticalMultiple,
		},
	}
}

// score sums fixed penalty points and clips to [0,1].
func (e *Engine) score(snap Snapshot) float64 {
	var score float64
	for _, a := range snap.Assessments {
		if !a.Exceeded {
			continue
		}
		switch a.Metric {
		case "var", "drawdown":
			score += 0.2
			if a.Critical {
				score += 0.1
			}
		case "sharpe":
			score += 0.15
			if a.Critical {
				score += 0.1
			}
		case "volatility":
			score += 0.1
		}
	}
	if snap.Correlation.Average > e.config.ConcentrationLimit {
		score += 0.2
	}
	score += 0.1 * math.Min(float64(len(snap.Correlation.High))/3, 1)
	return math.Max(0, math.Min(1, score))
}

func (e *Engine) warnings(snap Snapshot) []string {
	var out []string
	for _, a := range snap.Assessments {
		if !a.Exceeded {
			continue
		}
		switch a.Metric {
		case "var":
			out = append(out, fmt.Sprintf("VaR exceeds limit: %.2f%% > %.2f%%", a.Value*100, a.Limit*100))
		case "sharpe":
			out = append(out, fmt.Sprintf("Sharpe ratio below target: %.2f < %.2f", a.Value, a.Limit))
		case "drawdown":
			out = append(out, fmt.Sprintf("max drawdown exceeds limit: %.2f%%", a.Value*100))
		case "volatility":
			out = append(out, fmt.Sprintf("portfolio volatility high: %.2f%%", a.Value*100))
		}
	}
	if snap.Correlation.Average > e.config.ConcentrationLimit {
		out = append(out, fmt.Sprintf("high portfolio concentration: avg correlation %.2f", snap.Correlation.Average))
	}
	for _, p := range snap.Correlation.High {
		out = append(out, fmt.Sprintf("high correlation between %s and %s: %.2f", p.A, p.B, p.Correlation))
	}
	return out
}

// correlations builds the pairwise matrix over held assets. Fewer than two
// holdings pass vacuously with an average of zero.
func (e *Engine) correlations(holdings []Holding, assetReturns map[string][]float64) CorrelationSummary {
	n := len(holdings)
	sum := CorrelationSummary{Assets: make([]string, n), Matrix: make([][]float64, n)}
	for i, h := range holdings {
		sum.Assets[i] = h.Asset
		sum.Matrix[i] = make([]float64, n)
		sum.Matrix[i][i] = 1
	}
	if n < 2 {
		return sum
	}
	var total float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			corr := Correlation(assetReturns[holdings[i].Asset], assetReturns[holdings[j].Asset])
			sum.Matrix[i][j], sum.Matrix[j][i] = corr, corr
			total += math.Abs(corr)
			sum.Pairs++
			if math.Abs(corr) > sum.Max {
				sum.Max = math.Abs(corr)
			}
			if math.Abs(corr) > e.config.CorrelationLimit {
				sum.High = append(sum.High, Pair{A: holdings[i].Asset, B: holdings[j].Asset, Correlation: corr})
			}
		}
	}
	sum.Average = total / float64(sum.Pairs)
	return sum
}

// exAnteVolatility combines value-weighted volatility factors through the correlation matrix.
func exAnteVolatility(holdings []Holding, corr CorrelationSummary) float64 {
	var gross float64
	for _, h := range holdings {
		gross += math.Abs(h.Value)
	}
	if gross == 0 {
		return 0
	}
	var variance float64
	for i, hi := range holdings {
		wi := math.Abs(hi.Value) / gross * hi.Factors.Volatility
		for j, hj := range holdings {
			wj := math.Abs(hj.Value) / gross * hj.Factors.Volatility
			variance += wi * wj * corr.Matrix[i][j]
		}
	}
	return math.Sqrt(math.Max(variance, 0))
}

// needsRebalancing compares each weight against an equal-weight target.
func (e *Engine) needsRebalancing(holdings []Holding) bool {
	var total float64
	for _, h := range holdings {
		total += math.Abs(h.Value)
	}
	if total == 0 {
		return false
	}
	target := 1 / float64(len(holdings))
	for _, h := range holdings {
		if math.Abs(math.Abs(h.Value)/total-target) > e.config.RebalanceThreshold {
			return true
		}
	}
	return false
}

// Exposures sums each aggregated factor across holdings, unweighted.
func Exposures(holdings []Holding) map[factors.Name]float64 {
	out := make(map[factors.Name]float64, len(factors.ExposureNames))
	for _, name := range factors.ExposureNames {
		out[name] = 0
	}
	for _, h := range holdings {
		for _, name := range factors.ExposureNames {
			v, _ := h.Factors.Get(name)
			out[name] += v
		}
	}
	return out
}
