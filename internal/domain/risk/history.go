package risk

import (
	"sync"
	"time"
)

// History keeps bounded return windows for the portfolio, the market proxy
// and each priced asset.
type History struct {
	mu         sync.Mutex
	window     int
	lastEquity float64
	portfolio  []float64
	market     []float64
	lastPrice  map[string]float64
	assets     map[string][]float64
}

// NewHistory creates a history keeping at most window samples per series.
func NewHistory(window int) *History {
	if window <= 0 {
		window = DefaultConfig().ReturnWindow
	}
	return &History{
		window:    window,
		lastPrice: make(map[string]float64),
		assets:    make(map[string][]float64),
	}
}

// RecordEquity appends the portfolio return since the previous equity mark.
func (h *History) RecordEquity(equity float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastEquity > 0 && equity > 0 {
		h.portfolio = h.push(h.portfolio, equity/h.lastEquity-1)
	}
	if equity > 0 {
		h.lastEquity = equity
	}
}

// RecordPrice appends the asset return since the previous price and returns it.
// The first observation of an asset records nothing.
func (h *History) RecordPrice(asset string, price float64) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, seen := h.lastPrice[asset]
	if price <= 0 {
		return 0, false
	}
	h.lastPrice[asset] = price
	if !seen || prev <= 0 {
		return 0, false
	}
	r := price/prev - 1
	h.assets[asset] = h.push(h.assets[asset], r)
	return r, true
}

// RecordMarket appends one market proxy return.
func (h *History) RecordMarket(r float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.market = h.push(h.market, r)
}

// Seed replaces the portfolio series, for tests and warm restarts.
func (h *History) Seed(portfolio, market []float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.portfolio = h.tail(append([]float64(nil), portfolio...))
	h.market = h.tail(append([]float64(nil), market...))
}

// Context returns a copy of the windows as a MarketContext.
func (h *History) Context(now time.Time, portfolioValue float64) MarketContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	assets := make(map[string][]float64, len(h.assets))
	for k, v := range h.assets {
		assets[k] = append([]float64(nil), v...)
	}
	return MarketContext{
		Timestamp:        now,
		PortfolioValue:   portfolioValue,
		PortfolioReturns: append([]float64(nil), h.portfolio...),
		MarketReturns:    append([]float64(nil), h.market...),
		AssetReturns:     assets,
	}
}

func (h *History) push(series []float64, v float64) []float64 {
	return h.tail(append(series, v))
}

func (h *History) tail(series []float64) []float64 {
	if len(series) > h.window {
		series = series[len(series)-h.window:]
	}
	return series
}
