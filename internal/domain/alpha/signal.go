// Package alpha turns a snapshot and its factors into directional signals and
// merges them into one alpha score.
package alpha

import (
	"math"
	"sort"

	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/domain/market"
)

// Kind tags a signal family.
type Kind int

const (
	Momentum Kind = iota
	MeanReversion
	VolumeBreakout
	CrossSectional
	ExternalPrediction
)

// Kinds lists every signal kind in evaluation order.
var Kinds = []Kind{Momentum, MeanReversion, VolumeBreakout, CrossSectional, ExternalPrediction}

func (k Kind) String() string {
	switch k {
	case Momentum:
		return "momentum"
	case MeanReversion:
		return "mean_reversion"
	case VolumeBreakout:
		return "volume_breakout"
	case CrossSectional:
		return "cross_sectional"
	case ExternalPrediction:
		return "external_prediction"
	default:
		return "unknown"
	}
}

// Signal is one directional opinion, produced and consumed within a single evaluation.
type Signal struct {
	Kind       Kind               `json:"kind"`
	Value      float64            `json:"value"`      // [-1, 1]
	Confidence float64            `json:"confidence"` // [0, 1]
	Reasons    []string           `json:"reasons,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// Input is what every signal sees for one asset.
type Input struct {
	Snapshot market.Snapshot
	Factors  factors.Snapshot

	// Prediction is the external score in [0,1]; nil when the provider had nothing.
	Prediction *float64

	// Universe holds the momentum factor of every candidate this tick, the asset included.
	Universe []float64
}

// Evaluator is implemented by every signal kind.
type Evaluator interface {
	Kind() Kind
	Evaluate(in Input) Signal
}

func clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}

// percentileRank is the share of values strictly below v plus half the ties.
func percentileRank(values []float64, v float64) float64 {
	if len(values) == 0 {
		return 0.5
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	below := sort.SearchFloat64s(sorted, v)
	equal := 0
	for i := below; i < len(sorted) && sorted[i] == v; i++ {
		equal++
	}
	return (float64(below) + 0.5*float64(equal)) / float64(len(sorted))
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
