package risk

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorisk/internal/domain/factors"
)

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func holding(asset string, value, beta, vol float64) Holding {
	return Holding{Asset: asset, Value: value, Factors: factors.Snapshot{MarketBeta: beta, Volatility: vol}}
}

func TestAssess_NoPositions(t *testing.T) {
	snap := NewEngine(DefaultConfig()).Assess(nil, MarketContext{Timestamp: now, PortfolioValue: 10})

	assert.True(t, snap.CanTrade)
	assert.Zero(t, snap.RiskScore)
	assert.Zero(t, snap.Correlation.Average)
	assert.Len(t, snap.FactorExposures, len(factors.ExposureNames))
}

func TestAssess_InsufficientHistory(t *testing.T) {
	snap := NewEngine(DefaultConfig()).Assess(
		[]Holding{holding("A", 1, 1, 1)},
		MarketContext{Timestamp: now, PortfolioValue: 10, PortfolioReturns: []float64{0.01}},
	)
	assert.True(t, snap.CanTrade)
	assert.Empty(t, snap.Assessments)
	require.NotEmpty(t, snap.Warnings)
	assert.Contains(t, snap.Warnings[0], "insufficient")
}

func TestAssess_HealthyPortfolio(t *testing.T) {
	returns := []float64{0.01, 0.012, 0.009, 0.011, 0.013, 0.008, 0.01, 0.012}
	snap := NewEngine(DefaultConfig()).Assess(
		[]Holding{holding("A", 2, 1, 1), holding("B", 2, 1, 1)},
		MarketContext{Timestamp: now, PortfolioValue: 10, PortfolioReturns: returns},
	)

	assert.True(t, snap.CanTrade)
	assert.Zero(t, snap.RiskScore)
	assert.True(t, math.IsInf(snap.Sortino, 1))
	assert.Greater(t, snap.Sharpe, 2.0)
	assert.Zero(t, snap.MaxDrawdown)
	assert.False(t, snap.NeedsRebalancing)
	assert.InDelta(t, 0.4, snap.Leverage, 1e-12)
}

// A portfolio engineered to breach VaR and drawdown at once must close the gate.
func TestAssess_VaRAndDrawdownBreachBlocksTrading(t *testing.T) {
	returns := []float64{-0.10, -0.12, 0.01, -0.08, -0.09, 0.02}
	snap := NewEngine(DefaultConfig()).Assess(
		[]Holding{holding("A", 3, 1, 1)},
		MarketContext{Timestamp: now, PortfolioValue: 10, PortfolioReturns: returns},
	)

	byMetric := map[string]Assessment{}
	for _, a := range snap.Assessments {
		byMetric[a.Metric] = a
	}
	assert.True(t, byMetric["var"].Exceeded)
	assert.True(t, byMetric["drawdown"].Exceeded)
	assert.GreaterOrEqual(t, snap.RiskScore, TradeScoreCeiling)
	assert.False(t, snap.CanTrade)
	assert.LessOrEqual(t, snap.RiskScore, 1.0)
	assert.NotEmpty(t, snap.Warnings)
}

func TestAssess_CriticalAloneBlocksTrading(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SharpeCritical = -100
	cfg.SharpeTarget = -100
	// drawdown of 30% is critical at 1.5x a 15% limit, score stays at 0.3
	returns := []float64{0.0, -0.3, 0.0, 0.0}
	cfg.VaRLimit = 1
	cfg.VolatilityLimit = 100
	snap := NewEngine(cfg).Assess(
		[]Holding{holding("A", 3, 1, 1)},
		MarketContext{Timestamp: now, PortfolioValue: 10, PortfolioReturns: returns},
	)
	assert.Less(t, snap.RiskScore, TradeScoreCeiling)
	assert.True(t, snap.Critical())
	assert.False(t, snap.CanTrade)
}

func TestAssess_CorrelationConcentration(t *testing.T) {
	series := []float64{0.01, -0.02, 0.03, -0.01}
	snap := NewEngine(DefaultConfig()).Assess(
		[]Holding{holding("A", 1, 1, 1), holding("B", 3, 1, 1)},
		MarketContext{
			Timestamp:      now,
			PortfolioValue: 10,
			AssetReturns:   map[string][]float64{"A": series, "B": series},
		},
	)
	require.Len(t, snap.Correlation.High, 1)
	assert.InDelta(t, 1.0, snap.Correlation.Average, 1e-9)
	assert.InDelta(t, 0.2+0.1/3, snap.RiskScore, 1e-9)
	assert.True(t, snap.CanTrade)
	assert.True(t, snap.NeedsRebalancing)
	assert.InDelta(t, 1.0, snap.ExAnteVolatility, 1e-9)
}

func TestAssess_MissingAssetSeriesIsUncorrelated(t *testing.T) {
	snap := NewEngine(DefaultConfig()).Assess(
		[]Holding{holding("A", 1, 1, 1), holding("B", 1, 1, 1)},
		MarketContext{Timestamp: now, PortfolioValue: 10},
	)
	assert.Zero(t, snap.Correlation.Average)
	assert.Empty(t, snap.Correlation.High)
	assert.InDelta(t, math.Sqrt(0.5), snap.ExAnteVolatility, 1e-9)
}

func TestExposuresSumAcrossHoldings(t *testing.T) {
	exp := Exposures([]Holding{holding("A", 1, 2, 0.5), holding("B", 1, 2, 1.5)})
	assert.Equal(t, 4.0, exp[factors.MarketBeta])
	assert.Equal(t, 2.0, exp[factors.Volatility])
	assert.Equal(t, 1.0, AverageVolatility([]Holding{holding("A", 1, 2, 0.5), holding("B", 1, 2, 1.5)}))
}

func TestSnapshotJSONKeepsUnboundedSortino(t *testing.T) {
	data, err := json.Marshal(Snapshot{Sortino: math.Inf(1), CanTrade: true})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sortino":"+Inf"`)

	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsInf(back.Sortino, 1))
	assert.True(t, back.CanTrade)
}

func TestConfigValidate(t *testing.T) {
	assert.Empty(t, DefaultConfig().Validate())
	c := DefaultConfig()
	c.VaRConfidence = 1.2
	c.DrawdownLimit = 0
	assert.Len(t, c.Validate(), 2)
}
