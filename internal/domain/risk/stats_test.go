package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentileInterpolates(t *testing.T) {
	xs := []float64{4, 1, 3, 2}
	assert.InDelta(t, 1.75, Percentile(xs, 25), 1e-12)
	assert.Equal(t, 1.0, Percentile(xs, 0))
	assert.Equal(t, 4.0, Percentile(xs, 100))
	assert.Equal(t, 0.0, Percentile(nil, 50))
}

func TestValueAtRiskAndCVaR(t *testing.T) {
	returns := []float64{-0.05, -0.02, 0.0, 0.01, 0.02, 0.03, 0.01, -0.01, 0.02, 0.04}
	v := ValueAtRisk(returns, 0.9, 1)
	assert.InDelta(t, Percentile(returns, 10), v, 1e-12)
	assert.Less(t, v, 0.0)

	assert.InDelta(t, 2*v, ValueAtRisk(returns, 0.9, 4), 1e-12, "scaled by sqrt(horizon)")

	cvar := ConditionalValueAtRisk(returns, 0.9, 1)
	assert.LessOrEqual(t, cvar, v)
	assert.InDelta(t, -0.05, cvar, 1e-12)
}

func TestRatiosDegenerateCases(t *testing.T) {
	flat := []float64{0.01, 0.01, 0.01}
	assert.Equal(t, 0.0, Sharpe(flat, 252), "zero volatility")
	assert.True(t, math.IsInf(Sortino(flat, 252), 1), "no negative returns")
	assert.Equal(t, 0.0, Sortino([]float64{0.02, -0.01, -0.01}, 252), "zero downside deviation")
	assert.Equal(t, 0.0, Sharpe([]float64{0.1}, 252))
	assert.Equal(t, 0.0, DownsideVolatility(flat, 252))
}

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, 0.5, MaxDrawdown([]float64{0.1, -0.5, 0.2}), 1e-12)
	assert.Equal(t, 0.0, MaxDrawdown([]float64{0.1, 0.2}))
	assert.Equal(t, 0.0, MaxDrawdown(nil))
}

func TestBetaAndCorrelation(t *testing.T) {
	mkt := []float64{0.01, -0.02, 0.03, 0.0, 0.015}
	port := make([]float64, len(mkt))
	inverse := make([]float64, len(mkt))
	for i, r := range mkt {
		port[i] = 2 * r
		inverse[i] = -r
	}
	assert.InDelta(t, 2.0, Beta(port, mkt), 1e-9)
	assert.Equal(t, 1.0, Beta(port, nil))
	assert.Equal(t, 1.0, Beta(port, []float64{0, 0, 0}))

	assert.InDelta(t, 1.0, Correlation(port, mkt), 1e-9)
	assert.InDelta(t, -1.0, Correlation(inverse, mkt), 1e-9)
	assert.Equal(t, 0.0, Correlation(port, nil))
}
