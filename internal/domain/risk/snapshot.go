// Package risk assesses the open portfolio and gates new entries.
package risk

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sawpanic/cryptorisk/internal/domain/factors"
)

// TradeScoreCeiling is the risk score at or above which trading stops.
const TradeScoreCeiling = 0.8

// Holding is one open position as the risk engine sees it.
type Holding struct {
	Asset   string           `json:"asset"`
	Value   float64          `json:"value"` // marked-to-market notional
	Factors factors.Snapshot `json:"factors"`
}

// MarketContext carries the return histories the assessment runs over.
type MarketContext struct {
	Timestamp        time.Time            `json:"ts"`
	PortfolioValue   float64              `json:"portfolio_value"`
	PortfolioReturns []float64            `json:"portfolio_returns"`
	MarketReturns    []float64            `json:"market_returns"`
	AssetReturns     map[string][]float64 `json:"asset_returns"`
}

// Assessment is one metric checked against its limit.
type Assessment struct {
	Metric   string  `json:"metric"`
	Value    float64 `json:"value"`
	Limit    float64 `json:"limit"`
	Exceeded bool    `json:"exceeded"`
	Critical bool    `json:"critical"`
}

// Pair is a correlated pair of held assets.
type Pair struct {
	A           string  `json:"a"`
	B           string  `json:"b"`
	Correlation float64 `json:"correlation"`
}

// CorrelationSummary condenses the pairwise matrix over held assets.
type CorrelationSummary struct {
	Average float64     `json:"average"` // mean |corr| over pairs
	Max     float64     `json:"max"`
	Pairs   int         `json:"pairs"`
	High    []Pair      `json:"high,omitempty"`
	Assets  []string    `json:"assets,omitempty"`
	Matrix  [][]float64 `json:"matrix,omitempty"`
}

// Snapshot is the wholesale portfolio risk view for one tick.
type Snapshot struct {
	Timestamp          time.Time                `json:"ts"`
	Positions          int                      `json:"positions"`
	PortfolioValue     float64                  `json:"portfolio_value"`
	GrossExposure      float64                  `json:"gross_exposure"`
	Leverage           float64                  `json:"leverage"`
	Samples            int                      `json:"samples"`
	VaR                float64                  `json:"var"`
	CVaR               float64                  `json:"cvar"`
	Sharpe             float64                  `json:"sharpe"`
	Sortino            float64                  `json:"sortino"`
	MaxDrawdown        float64                  `json:"max_drawdown"`
	Volatility         float64                  `json:"volatility"`
	DownsideVolatility float64                  `json:"downside_volatility"`
	ExAnteVolatility   float64                  `json:"ex_ante_volatility"`
	BetaToMarket       float64                  `json:"beta_to_market"`
	FactorExposures    map[factors.Name]float64 `json:"factor_exposures"`
	Correlation        CorrelationSummary       `json:"correlation"`
	Assessments        []Assessment             `json:"assessments,omitempty"`
	Warnings           []string                 `json:"warnings,omitempty"`
	RiskScore          float64                  `json:"risk_score"`
	CanTrade           bool                     `json:"can_trade"`
	NeedsRebalancing   bool                     `json:"needs_rebalancing"`
}

// Critical reports whether any assessment is critical.
func (s Snapshot) Critical() bool {
	for _, a := range s.Assessments {
		if a.Critical {
			return true
		}
	}
	return false
}

// AverageVolatility is the mean volatility factor across holdings, 0 when empty.
func AverageVolatility(holdings []Holding) float64 {
	if len(holdings) == 0 {
		return 0
	}
	var s float64
	for _, h := range holdings {
		s += h.Factors.Volatility
	}
	return s / float64(len(holdings))
}

type snapshotJSON Snapshot

// MarshalJSON writes an unbounded Sortino as the string "+Inf".
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := struct {
		snapshotJSON
		Sortino any `json:"sortino"`
	}{snapshotJSON: snapshotJSON(s), Sortino: s.Sortino}
	if math.IsInf(s.Sortino, 1) {
		out.Sortino = "+Inf"
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the encoding written by MarshalJSON.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in struct {
		snapshotJSON
		Sortino json.RawMessage `json:"sortino"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Snapshot(in.snapshotJSON)
	s.Sortino = 0
	if len(in.Sortino) == 0 || string(in.Sortino) == "null" {
		return nil
	}
	if string(in.Sortino) == `"+Inf"` {
		s.Sortino = math.Inf(1)
		return nil
	}
	return json.Unmarshal(in.Sortino, &s.Sortino)
}
