// Package factors derives the per-asset risk factor set used by sizing, risk and exits.
package factors

import (
	"math"

	"github.com/sawpanic/cryptorisk/internal/domain/market"
)

// Name identifies one factor, used for limit bands and exposure aggregation.
type Name string

const (
	MarketBeta        Name = "market_beta"
	EcosystemBeta     Name = "ecosystem_beta"
	Momentum          Name = "momentum"
	Volatility        Name = "volatility"
	Liquidity         Name = "liquidity"
	Size              Name = "size"
	VolumeStability   Name = "volume_stability"
	HolderQuality     Name = "holder_quality"
	SectorCorrelation Name = "sector_correlation"
	MemeScore         Name = "meme_score"
	Idiosyncratic     Name = "idiosyncratic_risk"
	Systematic        Name = "systematic_risk"
)

// ExposureNames are the factors aggregated across the portfolio.
var ExposureNames = []Name{MarketBeta, EcosystemBeta, Momentum, Volatility, Liquidity, Size}

// Neutral values used when inputs are missing.
const (
	NeutralBeta            = 1.0
	NeutralMomentum        = 0.0
	NeutralVolatility      = 1.0
	NeutralLiquidity       = 0.0
	NeutralSize            = 0.0
	NeutralVolumeStability = 0.5
	NeutralHolderQuality   = 0.5
	NeutralSectorCorr      = 0.5
)

// Snapshot is the immutable factor set for one asset at one tick.
type Snapshot struct {
	MarketBeta        float64 `json:"market_beta"`
	EcosystemBeta     float64 `json:"ecosystem_beta"`
	Momentum          float64 `json:"momentum"`
	Volatility        float64 `json:"volatility"`
	Liquidity         float64 `json:"liquidity"`
	Size              float64 `json:"size"`
	VolumeStability   float64 `json:"volume_stability"`
	HolderQuality     float64 `json:"holder_quality"`
	SectorCorrelation float64 `json:"sector_correlation"`
	MemeScore         float64 `json:"meme_score"`
	IdiosyncraticRisk float64 `json:"idiosyncratic_risk"`
	SystematicRisk    float64 `json:"systematic_risk"`
}

// Get returns the named factor value.
func (s Snapshot) Get(n Name) (float64, bool) {
	switch n {
	case MarketBeta:
		return s.MarketBeta, true
	case EcosystemBeta:
		return s.EcosystemBeta, true
	case Momentum:
		return s.Momentum, true
	case Volatility:
		return s.Volatility, true
	case Liquidity:
		return s.Liquidity, true
	case Size:
		return s.Size, true
	case VolumeStability:
		return s.VolumeStability, true
	case HolderQuality:
		return s.HolderQuality, true
	case SectorCorrelation:
		return s.SectorCorrelation, true
	case MemeScore:
		return s.MemeScore, true
	case Idiosyncratic:
		return s.IdiosyncraticRisk, true
	case Systematic:
		return s.SystematicRisk, true
	}
	return 0, false
}

// Neutral is the factor set assigned to an asset with no usable inputs.
func Neutral() Snapshot {
	return Snapshot{
		MarketBeta:        NeutralBeta,
		EcosystemBeta:     NeutralBeta,
		Momentum:          NeutralMomentum,
		Volatility:        NeutralVolatility,
		Liquidity:         NeutralLiquidity,
		Size:              NeutralSize,
		VolumeStability:   NeutralVolumeStability,
		HolderQuality:     NeutralHolderQuality,
		SectorCorrelation: NeutralSectorCorr,
		SystematicRisk:    0.6*NeutralBeta + 0.4*NeutralBeta,
		IdiosyncraticRisk: 1 - 0.8,
	}
}

// Model computes factor snapshots. It holds only configuration and is safe for concurrent use.
type Model struct {
	config Config
}

// NewModel creates a factor model; zero-valued sections fall back to defaults.
func NewModel(config Config) *Model {
	return &Model{config: config.withDefaults()}
}

// Config returns the effective configuration.
func (m *Model) Config() Config {
	return m.config
}

// Compute derives the factor set for s. It never fails: absent inputs degrade to neutral values.
func (m *Model) Compute(s market.Snapshot) Snapshot {
	f := Snapshot{
		MarketBeta:        m.beta(s.PriceChange24h, s.MarketReturn24h, m.config.AssumedMarketReturn),
		EcosystemBeta:     m.beta(s.PriceChange24h, s.EcosystemReturn24h, m.config.AssumedEcosystemReturn),
		Momentum:          m.momentum(s),
		Volatility:        m.volatility(s),
		Liquidity:         liquidity(s),
		Size:              m.size(s.MarketCap),
		VolumeStability:   volumeStability(s),
		HolderQuality:     holderQuality(s.Holders),
		SectorCorrelation: clip(market.Or(s.SectorCorrelation, NeutralSectorCorr), -1, 1),
	}
	f.MemeScore = memeScore(f, s.Holders)
	f.SystematicRisk, f.IdiosyncraticRisk = m.decompose(f.MarketBeta, f.EcosystemBeta)
	return f
}

// beta is the asset's 24h return over a benchmark return, both expressed as fractions.
func (m *Model) beta(change, observed *float64, assumed float64) float64 {
	if !market.Has(change) {
		return NeutralBeta
	}
	benchmark := assumed
	if market.Has(observed) && math.Abs(*observed) > 1e-9 {
		benchmark = *observed / 100
	}
	if math.Abs(benchmark) < 1e-12 {
		return NeutralBeta
	}
	return clip((*change/100)/benchmark, -m.config.BetaBound, m.config.BetaBound)
}

func (m *Model) momentum(s market.Snapshot) float64 {
	w := m.config.MomentumWeights
	sum := w.H1*market.Or(s.PriceChange1h, 0) +
		w.H6*market.Or(s.PriceChange6h, 0) +
		w.H24*market.Or(s.PriceChange24h, 0)
	return math.Tanh(m.config.MomentumGain * sum / 100)
}

// volatility is the mean absolute horizon move, annualized and normalized by the reference.
func (m *Model) volatility(s market.Snapshot) float64 {
	moves := s.Horizons()
	if len(moves) == 0 {
		return NeutralVolatility
	}
	var total float64
	for _, v := range moves {
		total += math.Abs(v)
	}
	annualized := total / float64(len(moves)) * math.Sqrt(365)
	return clip(annualized/m.config.ReferenceVolatility, 0, m.config.VolatilityCap)
}

func liquidity(s market.Snapshot) float64 {
	if !market.Has(s.Volume24h) {
		return NeutralLiquidity
	}
	vol := math.Max(0, *s.Volume24h)
	var volLiq, turnover float64
	if liq := market.Or(s.LiquidityUSD, 0); liq > 0 {
		volLiq = vol / liq
	}
	if mc := market.Or(s.MarketCap, 0); mc > 0 {
		turnover = vol / mc
	}
	return clip(math.Log1p(0.6*volLiq+0.4*turnover), 0, 5)
}

func (m *Model) size(marketCap *float64) float64 {
	if !market.Has(marketCap) {
		return NeutralSize
	}
	t := m.config.SizeThresholds
	switch mc := *marketCap; {
	case mc < t.Micro:
		return -1.0
	case mc < t.Small:
		return -0.5
	case mc < t.Mid:
		return 0.0
	default:
		return 0.5
	}
}

// volumeStability rewards volume/liquidity ratios inside a healthy band.
func volumeStability(s market.Snapshot) float64 {
	if !market.Has(s.Volume24h) || market.Or(s.LiquidityUSD, 0) <= 0 {
		return NeutralVolumeStability
	}
	ratio := *s.Volume24h / *s.LiquidityUSD
	switch {
	case ratio >= 0.1 && ratio <= 2.0:
		return 1.0
	case ratio < 0.1:
		return clip(ratio/0.1, 0, 1)
	default:
		return clip(2.0/ratio, 0, 1)
	}
}

func holderQuality(holders *float64) float64 {
	if !market.Has(holders) {
		return NeutralHolderQuality
	}
	switch h := *holders; {
	case h < 50:
		return 0
	case h < 500:
		return 0.5
	default:
		return math.Min(1, h/1000)
	}
}

func memeScore(f Snapshot, holders *float64) float64 {
	var score float64
	if f.Volatility > 2.0 {
		score += 0.3
	}
	if f.Liquidity > 2.0 {
		score += 0.3
	}
	if market.Or(holders, 0) > 1000 {
		score += 0.4
	}
	return score
}

func (m *Model) decompose(marketBeta, ecosystemBeta float64) (systematic, idiosyncratic float64) {
	w := m.config.SystematicWeights
	systematic = clip(w.Market*math.Abs(marketBeta)+w.Ecosystem*math.Abs(ecosystemBeta), 0, 1)
	idiosyncratic = 1 - math.Min(systematic, m.config.SystematicCap)
	return systematic, idiosyncratic
}

func clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
