package alpha

import (
	"fmt"
	"math"
	"time"
)

// Generator runs every configured signal kind over one input.
type Generator struct {
	evaluators []Evaluator
}

// NewGenerator builds the standard signal set from config.
func NewGenerator(config Config) *Generator {
	config = config.withDefaults()
	return &Generator{evaluators: []Evaluator{
		MomentumSignal{TrendBonus: config.TrendBonus},
		MeanReversionSignal{Oversold: config.RSIOversold, Overbought: config.RSIOverbought},
		VolumeBreakoutSignal{Steps: config.BreakoutSteps},
		CrossSectionalSignal{},
		ExternalPredictionSignal{},
	}}
}

// NewGeneratorWith builds a generator from explicit evaluators.
func NewGeneratorWith(evaluators ...Evaluator) *Generator {
	return &Generator{evaluators: evaluators}
}

// Evaluate returns one signal per evaluator, in registration order.
func (g *Generator) Evaluate(in Input) []Signal {
	out := make([]Signal, 0, len(g.evaluators))
	for _, e := range g.evaluators {
		out = append(out, e.Evaluate(in))
	}
	return out
}

// Combined is the merged alpha for one asset.
type Combined struct {
	Alpha         float64          `json:"alpha"`
	Confidence    float64          `json:"confidence"`
	Dominant      Kind             `json:"dominant"`
	Reasons       []string         `json:"reasons,omitempty"`
	Contributions map[Kind]float64 `json:"contributions"`
	Amplification float64          `json:"amplification,omitempty"`
}

// Combiner merges signals with configured weights and decays attributed alpha.
type Combiner struct {
	weights  Weights
	halfLife time.Duration
}

// NewCombiner creates a combiner from config.
func NewCombiner(config Config) *Combiner {
	config = config.withDefaults()
	return &Combiner{
		weights:  config.Weights,
		halfLife: time.Duration(config.DecayHalfLifeHours * float64(time.Hour)),
	}
}

// HalfLife returns the alpha decay half-life.
func (c *Combiner) HalfLife() time.Duration {
	return c.halfLife
}

// Combine averages nonzero signals by weight. Only signals with |value| > 0
// contribute to the denominator; with none the alpha is zero.
func (c *Combiner) Combine(signals []Signal) Combined {
	out := Combined{Contributions: make(map[Kind]float64, len(signals))}
	var num, den, conf float64
	var strongest float64
	for _, s := range signals {
		w := c.weights.For(s.Kind)
		if s.Value == 0 || w == 0 {
			continue
		}
		contribution := w * s.Value
		out.Contributions[s.Kind] = contribution
		num += contribution
		den += w
		conf += w * s.Confidence
		if math.Abs(contribution) > strongest {
			strongest = math.Abs(contribution)
			out.Dominant = s.Kind
		}
		for _, r := range s.Reasons {
			out.Reasons = append(out.Reasons, fmt.Sprintf("[%s] %s", s.Kind, r))
		}
	}
	if den == 0 {
		return out
	}
	out.Alpha = clip(num/den, -1, 1)
	out.Confidence = clip(conf/den, 0, 1)
	return out
}

// Current returns the alpha attributed to an open position after elapsed time.
// The entry alpha decays by half-life; the decayed share is taken over by the
// fresh alpha when one is supplied.
func (c *Combiner) Current(entryAlpha float64, fresh *float64, elapsed time.Duration) float64 {
	decayed := Decay(entryAlpha, elapsed, c.halfLife)
	if fresh == nil || entryAlpha == 0 {
		if fresh != nil {
			return clip(*fresh, -1, 1)
		}
		return decayed
	}
	kept := decayed / entryAlpha
	return clip(decayed+(1-kept)**fresh, -1, 1)
}

// Decay applies exponential half-life decay: alpha × 0.5^(elapsed/halfLife).
func Decay(alpha float64, elapsed, halfLife time.Duration) float64 {
	if halfLife <= 0 || elapsed <= 0 {
		return alpha
	}
	return alpha * math.Pow(0.5, elapsed.Hours()/halfLife.Hours())
}
