package alpha

import (
	"fmt"
	"math"

	"github.com/sawpanic/cryptorisk/internal/domain/market"
)

// MomentumSignal follows the trend, scaled by volume stability and holder quality.
type MomentumSignal struct {
	// TrendBonus multiplies the signal when every observed horizon moved the same way.
	TrendBonus float64
}

func (MomentumSignal) Kind() Kind { return Momentum }

func (m MomentumSignal) Evaluate(in Input) Signal {
	f := in.Factors
	trend := 1.0
	consistent := trendConsistent(in.Snapshot.Horizons())
	if consistent {
		trend = m.TrendBonus
	}
	value := clip(f.Momentum*f.VolumeStability*f.HolderQuality*trend, -1, 1)

	sig := Signal{
		Kind:       Momentum,
		Value:      value,
		Confidence: clip(f.VolumeStability*f.HolderQuality, 0, 1),
		Metrics: map[string]float64{
			"momentum_factor": f.Momentum,
			"trend_mult":      trend,
		},
	}
	if consistent && value != 0 {
		sig.Reasons = append(sig.Reasons, "all horizons agree")
	}
	if math.Abs(value) > 0.5 {
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("strong trend %.2f", value))
	}
	return sig
}

func trendConsistent(moves []float64) bool {
	if len(moves) < 2 {
		return false
	}
	up, down := 0, 0
	for _, v := range moves {
		switch {
		case v > 0:
			up++
		case v < 0:
			down++
		}
	}
	return up == len(moves) || down == len(moves)
}

// MeanReversionSignal fades oscillator extremes, weaker for volatile assets.
type MeanReversionSignal struct {
	Oversold   float64
	Overbought float64
}

func (MeanReversionSignal) Kind() Kind { return MeanReversion }

func (m MeanReversionSignal) Evaluate(in Input) Signal {
	rsi := in.Snapshot.Oscillator()
	adj := 1 / (1 + math.Max(0, in.Factors.Volatility))

	var raw float64
	var reasons []string
	switch {
	case rsi < m.Oversold:
		raw = (m.Oversold - rsi) / 30
		reasons = append(reasons, fmt.Sprintf("oversold rsi %.1f", rsi))
	case rsi > m.Overbought:
		raw = (m.Overbought - rsi) / 30
		reasons = append(reasons, fmt.Sprintf("overbought rsi %.1f", rsi))
	}
	return Signal{
		Kind:       MeanReversion,
		Value:      clip(raw*adj, -1, 1),
		Confidence: clip(math.Abs(raw), 0, 1),
		Reasons:    reasons,
		Metrics:    map[string]float64{"rsi": rsi, "volatility_adj": adj},
	}
}

// BreakoutStep maps a volume multiple to a score.
type BreakoutStep struct {
	Ratio float64 `yaml:"ratio" json:"ratio"`
	Score float64 `yaml:"score" json:"score"`
}

// VolumeBreakoutSignal scores current volume against the 7-day average.
type VolumeBreakoutSignal struct {
	Steps []BreakoutStep // ascending by Ratio
}

func (VolumeBreakoutSignal) Kind() Kind { return VolumeBreakout }

func (v VolumeBreakoutSignal) Evaluate(in Input) Signal {
	s := in.Snapshot
	sig := Signal{Kind: VolumeBreakout}
	if !market.Has(s.Volume24h) || market.Or(s.AvgVolume7d, 0) <= 0 {
		return sig
	}
	ratio := *s.Volume24h / *s.AvgVolume7d
	sig.Metrics = map[string]float64{"volume_ratio": ratio}
	for _, step := range v.Steps {
		if ratio > step.Ratio {
			sig.Value = step.Score
		}
	}
	if sig.Value > 0 {
		sig.Confidence = clip(sig.Value, 0, 1)
		sig.Reasons = []string{fmt.Sprintf("volume %.1fx average", ratio)}
	}
	sig.Value = clip(sig.Value, -1, 1)
	return sig
}

// CrossSectionalSignal ranks the asset's momentum against this tick's universe.
// With no peers it falls back to a quality checklist.
type CrossSectionalSignal struct{}

func (CrossSectionalSignal) Kind() Kind { return CrossSectional }

func (CrossSectionalSignal) Evaluate(in Input) Signal {
	f := in.Factors
	if len(in.Universe) >= 2 {
		rank := percentileRank(in.Universe, f.Momentum)
		return Signal{
			Kind:       CrossSectional,
			Value:      clip(2*rank-1, -1, 1),
			Confidence: clip(float64(len(in.Universe))/10, 0, 1),
			Reasons:    []string{fmt.Sprintf("momentum rank %.0f%% of %d", rank*100, len(in.Universe))},
			Metrics:    map[string]float64{"rank": rank},
		}
	}

	var score float64
	if f.Momentum > 0.5 {
		score += 0.3
	}
	if f.Liquidity > 2.0 {
		score += 0.2
	}
	if f.VolumeStability > 0.7 && f.HolderQuality > 0.7 {
		score += 0.3
	}
	if f.Volatility > 2.0 {
		score -= 0.2
	}
	return Signal{Kind: CrossSectional, Value: clip(score, -1, 1), Confidence: 0.3}
}

// ExternalPredictionSignal passes the prediction service score through.
type ExternalPredictionSignal struct{}

func (ExternalPredictionSignal) Kind() Kind { return ExternalPrediction }

func (ExternalPredictionSignal) Evaluate(in Input) Signal {
	if !market.Has(in.Prediction) {
		return Signal{Kind: ExternalPrediction, Reasons: []string{"prediction unavailable"}}
	}
	score := clip(*in.Prediction, 0, 1)
	return Signal{
		Kind:       ExternalPrediction,
		Value:      score,
		Confidence: math.Abs(2*score - 1),
		Reasons:    []string{fmt.Sprintf("model score %.2f", score)},
		Metrics:    map[string]float64{"score": score},
	}
}
