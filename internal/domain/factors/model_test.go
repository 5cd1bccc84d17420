package factors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/cryptorisk/internal/domain/market"
)

func fullSnapshot() market.Snapshot {
	return market.Snapshot{
		Asset:          "BONK",
		Price:          1.0,
		Volume24h:      market.Float(500_000),
		LiquidityUSD:   market.Float(1_000_000),
		MarketCap:      market.Float(5_000_000),
		Holders:        market.Float(1500),
		PriceChange1h:  market.Float(2),
		PriceChange6h:  market.Float(5),
		PriceChange24h: market.Float(10),
	}
}

func TestCompute_FullSnapshot(t *testing.T) {
	m := NewModel(DefaultConfig())
	f := m.Compute(fullSnapshot())

	assert.Equal(t, 3.0, f.MarketBeta, "beta clipped to bound")
	assert.Equal(t, 3.0, f.EcosystemBeta)
	assert.InDelta(t, math.Tanh(0.138), f.Momentum, 1e-9)
	assert.InDelta(t, (17.0/3.0)*math.Sqrt(365)/100, f.Volatility, 1e-9)
	assert.InDelta(t, math.Log1p(0.34), f.Liquidity, 1e-9)
	assert.Equal(t, 0.0, f.Size)
	assert.Equal(t, 1.0, f.VolumeStability)
	assert.Equal(t, 1.0, f.HolderQuality)
	assert.Equal(t, 0.4, f.MemeScore)
	assert.Equal(t, 1.0, f.SystematicRisk)
	assert.InDelta(t, 0.2, f.IdiosyncraticRisk, 1e-12)
}

func TestCompute_ObservedBenchmark(t *testing.T) {
	s := fullSnapshot()
	s.MarketReturn24h = market.Float(5)
	s.EcosystemReturn24h = market.Float(-10)

	f := NewModel(DefaultConfig()).Compute(s)
	assert.InDelta(t, 2.0, f.MarketBeta, 1e-12)
	assert.InDelta(t, -1.0, f.EcosystemBeta, 1e-12)
}

func TestCompute_MissingInputsDegradeToNeutral(t *testing.T) {
	f := NewModel(Config{}).Compute(market.Snapshot{Asset: "NEW", Price: 0.01})

	assert.Equal(t, NeutralBeta, f.MarketBeta)
	assert.Equal(t, NeutralBeta, f.EcosystemBeta)
	assert.Equal(t, NeutralMomentum, f.Momentum)
	assert.Equal(t, NeutralVolatility, f.Volatility)
	assert.Equal(t, NeutralLiquidity, f.Liquidity)
	assert.Equal(t, NeutralSize, f.Size)
	assert.Equal(t, NeutralVolumeStability, f.VolumeStability)
	assert.Equal(t, NeutralHolderQuality, f.HolderQuality)
	assert.Equal(t, NeutralSectorCorr, f.SectorCorrelation)
	assert.Equal(t, Neutral().SystematicRisk, f.SystematicRisk)
	assert.InDelta(t, Neutral().IdiosyncraticRisk, f.IdiosyncraticRisk, 1e-12)
}

func TestCompute_Bounds(t *testing.T) {
	m := NewModel(DefaultConfig())
	extremes := []float64{-99, -50, -1, 0, 0.5, 40, 900, 1e6}
	for _, chg := range extremes {
		s := fullSnapshot()
		s.PriceChange1h, s.PriceChange6h, s.PriceChange24h = market.Float(chg), market.Float(-chg), market.Float(chg)
		s.Volume24h = market.Float(math.Abs(chg) * 1e9)
		f := m.Compute(s)

		assert.True(t, f.MarketBeta >= -3 && f.MarketBeta <= 3)
		assert.True(t, f.Momentum >= -1 && f.Momentum <= 1)
		assert.True(t, f.Liquidity >= 0 && f.Liquidity <= 5)
		assert.True(t, f.Volatility >= 0 && f.Volatility <= 10)
		assert.True(t, f.SystematicRisk >= 0 && f.IdiosyncraticRisk >= 0)
	}
}

func TestSizeBuckets(t *testing.T) {
	m := NewModel(DefaultConfig())
	cases := map[float64]float64{50_000: -1, 500_000: -0.5, 5_000_000: 0, 50_000_000: 0.5}
	for mc, want := range cases {
		assert.Equal(t, want, m.size(market.Float(mc)), "market cap %v", mc)
	}
}

func TestHolderQualityAndStability(t *testing.T) {
	assert.Equal(t, 0.0, holderQuality(market.Float(10)))
	assert.Equal(t, 0.5, holderQuality(market.Float(200)))
	assert.Equal(t, 0.7, holderQuality(market.Float(700)))

	s := market.Snapshot{Volume24h: market.Float(10), LiquidityUSD: market.Float(1000)}
	assert.InDelta(t, 0.1, volumeStability(s), 1e-12)
	s.Volume24h = market.Float(4000)
	assert.InDelta(t, 0.5, volumeStability(s), 1e-12)
}

func TestGetAndReasons(t *testing.T) {
	f := Snapshot{Momentum: 0.8, Volatility: 2.5, IdiosyncraticRisk: 0.7}
	v, ok := f.Get(Volatility)
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)
	_, ok = f.Get("unknown")
	assert.False(t, ok)

	reasons := Reasons(f)
	assert.Contains(t, reasons, "high idiosyncratic opportunity")
	assert.Len(t, reasons, 3)
}

func TestConfigValidate(t *testing.T) {
	assert.Empty(t, DefaultConfig().Validate())
	c := DefaultConfig()
	c.SizeThresholds.Small = 1
	c.SystematicCap = 2
	assert.Len(t, c.Validate(), 2)
}
