package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryWindows(t *testing.T) {
	h := NewHistory(3)

	_, ok := h.RecordPrice("A", 1.0)
	assert.False(t, ok, "first price has no return")
	r, ok := h.RecordPrice("A", 1.1)
	assert.True(t, ok)
	assert.InDelta(t, 0.1, r, 1e-12)

	for _, eq := range []float64{10, 11, 12.1, 12.1, 6.05} {
		h.RecordEquity(eq)
	}
	mc := h.Context(now, 6.05)
	assert.Len(t, mc.PortfolioReturns, 3)
	assert.InDelta(t, -0.5, mc.PortfolioReturns[2], 1e-12)
	assert.Len(t, mc.AssetReturns["A"], 1)

	mc.AssetReturns["A"][0] = 99
	assert.InDelta(t, 0.1, h.Context(now, 1).AssetReturns["A"][0], 1e-12, "context is a copy")
}

func TestHistorySeed(t *testing.T) {
	h := NewHistory(2)
	h.Seed([]float64{0.1, 0.2, 0.3}, []float64{0.01})
	h.RecordMarket(0.02)
	mc := h.Context(now, 1)
	assert.Equal(t, []float64{0.2, 0.3}, mc.PortfolioReturns)
	assert.Equal(t, []float64{0.01, 0.02}, mc.MarketReturns)
}
