// Package market holds the per-asset market snapshot consumed by the risk core.
package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrUnavailable marks an asset whose snapshot or prediction could not be obtained this tick.
	ErrUnavailable = errors.New("market data unavailable")

	// ErrStale marks a snapshot older than the configured freshness window.
	ErrStale = errors.New("market data stale")
)

// Snapshot is the provider view of one asset at one instant. Optional fields are
// pointers so that "absent" is never confused with zero.
type Snapshot struct {
	Asset     string    `json:"asset"`
	Timestamp time.Time `json:"ts"`
	Price     float64   `json:"price"`

	Volume24h    *float64 `json:"volume_24h,omitempty"`
	LiquidityUSD *float64 `json:"liquidity_usd,omitempty"`
	MarketCap    *float64 `json:"market_cap,omitempty"`
	Holders      *float64 `json:"holders,omitempty"`

	// Price changes in percent (5.0 means +5%).
	PriceChange1h  *float64 `json:"price_change_1h,omitempty"`
	PriceChange6h  *float64 `json:"price_change_6h,omitempty"`
	PriceChange24h *float64 `json:"price_change_24h,omitempty"`

	AvgVolume7d *float64 `json:"avg_volume_7d,omitempty"`

	// Optional enrichments supplied by richer providers.
	RSI                *float64 `json:"rsi,omitempty"`
	MarketReturn24h    *float64 `json:"market_return_24h,omitempty"`    // benchmark move, percent
	EcosystemReturn24h *float64 `json:"ecosystem_return_24h,omitempty"` // ecosystem move, percent
	SectorCorrelation  *float64 `json:"sector_correlation,omitempty"`
}

// Float returns a pointer to v, for building snapshots literally.
func Float(v float64) *float64 {
	return &v
}

// Or returns *p when p is set and finite, else def.
func Or(p *float64, def float64) float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return def
	}
	return *p
}

// Has reports whether p carries a usable value.
func Has(p *float64) bool {
	return p != nil && !math.IsNaN(*p) && !math.IsInf(*p, 0)
}

// Validate rejects snapshots that cannot be priced.
func (s Snapshot) Validate() error {
	if s.Asset == "" {
		return fmt.Errorf("snapshot without asset: %w", ErrUnavailable)
	}
	if math.IsNaN(s.Price) || math.IsInf(s.Price, 0) || s.Price <= 0 {
		return fmt.Errorf("snapshot %s has no usable price: %w", s.Asset, ErrUnavailable)
	}
	return nil
}

// CheckFresh returns ErrStale when the snapshot is older than maxAge at now.
// A zero maxAge disables the check.
func (s Snapshot) CheckFresh(now time.Time, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("snapshot %s has no timestamp: %w", s.Asset, ErrStale)
	}
	if age := now.Sub(s.Timestamp); age > maxAge {
		return fmt.Errorf("snapshot %s is %s old (max %s): %w", s.Asset, age.Round(time.Second), maxAge, ErrStale)
	}
	return nil
}

// Oscillator returns an RSI-style reading in [0,100]. A supplied RSI wins;
// otherwise gains and losses across the available horizons are balanced.
func (s Snapshot) Oscillator() float64 {
	if Has(s.RSI) {
		return math.Max(0, math.Min(100, *s.RSI))
	}
	var up, down float64
	for _, p := range []*float64{s.PriceChange1h, s.PriceChange6h, s.PriceChange24h} {
		v := Or(p, 0)
		if v > 0 {
			up += v
		} else {
			down -= v
		}
	}
	if up+down == 0 {
		return 50
	}
	return 100 * up / (up + down)
}

// Horizons returns the available price changes in percent, shortest first.
func (s Snapshot) Horizons() []float64 {
	out := make([]float64, 0, 3)
	for _, p := range []*float64{s.PriceChange1h, s.PriceChange6h, s.PriceChange24h} {
		if Has(p) {
			out = append(out, *p)
		}
	}
	return out
}
