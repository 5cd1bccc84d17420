package alpha

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/domain/market"
)

func TestMomentumSignal(t *testing.T) {
	sig := MomentumSignal{TrendBonus: 1.5}.Evaluate(Input{
		Snapshot: market.Snapshot{PriceChange1h: market.Float(1), PriceChange6h: market.Float(3), PriceChange24h: market.Float(8)},
		Factors:  factors.Snapshot{Momentum: 0.4, VolumeStability: 1, HolderQuality: 0.5},
	})
	assert.InDelta(t, 0.3, sig.Value, 1e-12)
	assert.Equal(t, 1.5, sig.Metrics["trend_mult"])

	mixed := MomentumSignal{TrendBonus: 1.5}.Evaluate(Input{
		Snapshot: market.Snapshot{PriceChange1h: market.Float(-1), PriceChange24h: market.Float(8)},
		Factors:  factors.Snapshot{Momentum: 0.9, VolumeStability: 1, HolderQuality: 1},
	})
	assert.InDelta(t, 0.9, mixed.Value, 1e-12)

	capped := MomentumSignal{TrendBonus: 1.5}.Evaluate(Input{
		Snapshot: market.Snapshot{PriceChange1h: market.Float(5), PriceChange24h: market.Float(8)},
		Factors:  factors.Snapshot{Momentum: 0.9, VolumeStability: 1, HolderQuality: 1},
	})
	assert.Equal(t, 1.0, capped.Value)
}

func TestMeanReversionSignal(t *testing.T) {
	m := MeanReversionSignal{Oversold: 30, Overbought: 70}
	cases := []struct {
		name string
		rsi  float64
		vol  float64
		want float64
	}{
		{"neutral band", 50, 0, 0},
		{"oversold", 15, 0, 0.5},
		{"overbought scaled by volatility", 85, 1, -0.25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := m.Evaluate(Input{
				Snapshot: market.Snapshot{RSI: market.Float(tc.rsi)},
				Factors:  factors.Snapshot{Volatility: tc.vol},
			})
			assert.InDelta(t, tc.want, sig.Value, 1e-12)
		})
	}
}

func TestVolumeBreakoutSignal(t *testing.T) {
	v := VolumeBreakoutSignal{Steps: DefaultConfig().BreakoutSteps}
	cases := map[float64]float64{1.0: 0, 1.6: 0.25, 2.5: 0.5, 3.5: 1.0}
	for ratio, want := range cases {
		sig := v.Evaluate(Input{Snapshot: market.Snapshot{
			Volume24h:   market.Float(ratio * 1000),
			AvgVolume7d: market.Float(1000),
		}})
		assert.Equal(t, want, sig.Value, "ratio %v", ratio)
	}

	missing := v.Evaluate(Input{Snapshot: market.Snapshot{Volume24h: market.Float(5000)}})
	assert.Zero(t, missing.Value)
}

func TestCrossSectionalSignal(t *testing.T) {
	top := CrossSectionalSignal{}.Evaluate(Input{
		Factors:  factors.Snapshot{Momentum: 0.9},
		Universe: []float64{0.1, 0.2, 0.3, 0.9},
	})
	assert.InDelta(t, 0.75, top.Value, 1e-12)

	alone := CrossSectionalSignal{}.Evaluate(Input{
		Factors: factors.Snapshot{Momentum: 0.6, VolumeStability: 0.8, HolderQuality: 0.8},
	})
	assert.InDelta(t, 0.6, alone.Value, 1e-12)
}

func TestExternalPredictionSignal(t *testing.T) {
	sig := ExternalPredictionSignal{}.Evaluate(Input{Prediction: market.Float(0.8)})
	assert.Equal(t, 0.8, sig.Value)
	assert.InDelta(t, 0.6, sig.Confidence, 1e-12)

	assert.Zero(t, ExternalPredictionSignal{}.Evaluate(Input{}).Value)
	assert.Equal(t, 1.0, ExternalPredictionSignal{}.Evaluate(Input{Prediction: market.Float(7)}).Value)
}

func TestCombine(t *testing.T) {
	c := NewCombiner(DefaultConfig())

	got := c.Combine([]Signal{
		{Kind: Momentum, Value: 0.5, Confidence: 1, Reasons: []string{"trend"}},
		{Kind: MeanReversion, Value: 0},
		{Kind: VolumeBreakout, Value: 1.0, Confidence: 1},
		{Kind: ExternalPrediction, Value: 0.9, Confidence: 0.5},
	})
	// (0.3*0.5 + 0.2*1.0 + 0.3*0.9) / (0.3+0.2+0.3)
	assert.InDelta(t, 0.62/0.8, got.Alpha, 1e-12)
	assert.Equal(t, ExternalPrediction, got.Dominant)
	assert.Equal(t, []string{"[momentum] trend"}, got.Reasons)
	assert.NotContains(t, got.Contributions, MeanReversion)

	assert.Zero(t, c.Combine([]Signal{{Kind: Momentum}}).Alpha)
	assert.Zero(t, c.Combine(nil).Alpha)

	negative := c.Combine([]Signal{{Kind: MeanReversion, Value: -1}})
	assert.Equal(t, -1.0, negative.Alpha)
}

func TestDecay(t *testing.T) {
	assert.InDelta(t, 0.4, Decay(0.8, 24*time.Hour, 24*time.Hour), 1e-12)
	assert.InDelta(t, 0.2, Decay(0.8, 48*time.Hour, 24*time.Hour), 1e-12)
	assert.Equal(t, 0.8, Decay(0.8, 0, 24*time.Hour))
	assert.Equal(t, 0.8, Decay(0.8, time.Hour, 0))
}

func TestCurrentBlendsFreshAlpha(t *testing.T) {
	c := NewCombiner(DefaultConfig())
	assert.InDelta(t, 0.4, c.Current(0.8, nil, 24*time.Hour), 1e-12)

	fresh := -0.6
	// half the entry alpha remains, the other half is replaced by fresh alpha
	assert.InDelta(t, 0.4-0.3, c.Current(0.8, &fresh, 24*time.Hour), 1e-12)
	assert.InDelta(t, -0.6, c.Current(0, &fresh, time.Hour), 1e-12)

	late := c.Current(0.8, &fresh, 30*24*time.Hour)
	assert.Less(t, late, -0.59)
}

func TestGeneratorProducesEveryKind(t *testing.T) {
	g := NewGenerator(Config{})
	sigs := g.Evaluate(Input{Snapshot: market.Snapshot{Asset: "X", Price: 1}, Factors: factors.Neutral()})
	require.Len(t, sigs, len(Kinds))
	for i, k := range Kinds {
		assert.Equal(t, k, sigs[i].Kind)
		assert.False(t, math.IsNaN(sigs[i].Value))
	}
}

func TestConfigValidate(t *testing.T) {
	assert.Empty(t, DefaultConfig().Validate())
	c := DefaultConfig()
	c.Weights.Momentum = -1
	c.RSIOversold = 80
	assert.Len(t, c.Validate(), 2)
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, ok := ParseKind(k.String())
		require.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("astrology")
	assert.False(t, ok)
}

func TestPerformanceWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	perf := NewPerformance(24 * time.Hour)
	perf.Record(Momentum, 0.5, now.Add(-48*time.Hour))
	perf.Record(Momentum, 0.10, now.Add(-2*time.Hour))
	perf.Record(Momentum, 0.12, now.Add(-time.Hour))
	perf.Record(Momentum, 0.08, now)

	s := perf.Stats(Momentum, now)
	assert.Equal(t, 3, s.Trades)
	assert.Equal(t, 3, s.Wins)
	assert.InDelta(t, 0.30, s.TotalPnL, 1e-12)
	// mean 0.10, population deviation sqrt(0.0008/3), annualised
	assert.InDelta(t, 0.10/math.Sqrt(0.0008/3)*math.Sqrt(252), s.Sharpe, 1e-9)

	assert.Zero(t, perf.Stats(Momentum, now.Add(72*time.Hour)).Trades)
}

func TestPerformanceBestSkipsLosersAndThinRecords(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	perf := NewPerformance(24 * time.Hour)
	perf.Record(MeanReversion, -0.05, now)
	perf.Record(MeanReversion, -0.03, now)
	perf.Record(VolumeBreakout, 0.2, now)

	_, _, ok := perf.Best(now, 2)
	assert.False(t, ok)

	perf.Record(VolumeBreakout, 0.1, now)
	kind, stats, ok := perf.Best(now, 2)
	require.True(t, ok)
	assert.Equal(t, VolumeBreakout, kind)
	assert.Equal(t, 2, stats.Trades)
}

func TestAmplificationApply(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := DefaultConfig().Amplification
	a.Enabled = true
	a.MinTrades = 3
	perf := NewPerformance(a.Window())
	for _, r := range []float64{0.10, 0.12, 0.08} {
		perf.Record(ExternalPrediction, r, now)
	}

	got := a.Apply(Combined{Alpha: 0.7, Confidence: 0.5}, perf, now)
	assert.Equal(t, 1.5, got.Amplification)
	assert.InDelta(t, 0.75, got.Confidence, 1e-12)
	require.Len(t, got.Reasons, 1)
	assert.Contains(t, got.Reasons[0], "external_prediction")

	capped := a.Apply(Combined{Alpha: 0.7, Confidence: 0.9}, perf, now)
	assert.Equal(t, 1.0, capped.Confidence)

	short := a.Apply(Combined{Alpha: -0.4, Confidence: 0.5}, perf, now)
	assert.Equal(t, 0.5, short.Confidence)
	assert.Zero(t, short.Amplification)

	a.MinTrades = 4
	thin := a.Apply(Combined{Alpha: 0.7, Confidence: 0.5}, perf, now)
	assert.Equal(t, 0.5, thin.Confidence)

	a.MinTrades = 3
	a.Enabled = false
	off := a.Apply(Combined{Alpha: 0.7, Confidence: 0.5}, perf, now)
	assert.Equal(t, 0.5, off.Confidence)
}

func TestAmplificationScale(t *testing.T) {
	a := Amplification{ScaleFactor: 1.0, MaxScale: 1.5}
	assert.InDelta(t, 1.3, a.Scale(3), 1e-12)
	assert.Equal(t, 1.5, a.Scale(20))
}

func TestConfigValidateAmplification(t *testing.T) {
	c := DefaultConfig()
	c.Amplification.Enabled = true
	assert.Empty(t, c.Validate())

	c.Amplification.MinTrades = 1
	c.Amplification.MaxScale = 0.5
	assert.Len(t, c.Validate(), 2)
}
