package risk

import (
	"math"
	"sort"
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var s float64
	for _, x := range xs {
		s += (x - m) * (x - m)
	}
	return math.Sqrt(s / float64(len(xs)))
}

// Percentile interpolates linearly between closest ranks, p in [0,100].
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// ValueAtRisk is the (1-confidence) return quantile scaled by sqrt(horizon).
// Losses are negative.
func ValueAtRisk(returns []float64, confidence, horizon float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return Percentile(returns, (1-confidence)*100) * math.Sqrt(math.Max(horizon, 1))
}

// ConditionalValueAtRisk is the mean of returns at or below the VaR cutoff, scaled like VaR.
func ConditionalValueAtRisk(returns []float64, confidence, horizon float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	cutoff := Percentile(returns, (1-confidence)*100)
	var tail []float64
	for _, r := range returns {
		if r <= cutoff {
			tail = append(tail, r)
		}
	}
	return mean(tail) * math.Sqrt(math.Max(horizon, 1))
}

// Sharpe is annualized mean over annualized volatility; 0 when volatility is 0.
func Sharpe(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	vol := stddev(returns) * math.Sqrt(periodsPerYear)
	if vol == 0 {
		return 0
	}
	return mean(returns) * periodsPerYear / vol
}

// Sortino divides annualized mean by downside deviation. With no negative
// returns it is +Inf; with a zero downside deviation otherwise it is 0.
func Sortino(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	downside := negatives(returns)
	if len(downside) == 0 {
		return math.Inf(1)
	}
	dv := stddev(downside) * math.Sqrt(periodsPerYear)
	if dv == 0 {
		return 0
	}
	return mean(returns) * periodsPerYear / dv
}

// DownsideVolatility is the annualized deviation of negative returns.
func DownsideVolatility(returns []float64, periodsPerYear float64) float64 {
	downside := negatives(returns)
	if len(downside) == 0 {
		return 0
	}
	return stddev(downside) * math.Sqrt(periodsPerYear)
}

// MaxDrawdown is the largest peak-to-trough fall of the compounded series, as a positive fraction.
func MaxDrawdown(returns []float64) float64 {
	cumulative, peak, worst := 1.0, 1.0, 0.0
	for _, r := range returns {
		cumulative *= 1 + r
		if cumulative > peak {
			peak = cumulative
		}
		if dd := (peak - cumulative) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

// Beta is cov(portfolio, market)/var(market) over aligned samples; 1.0 when degenerate.
func Beta(returns, marketReturns []float64) float64 {
	a, b := align(returns, marketReturns)
	if len(a) < 2 {
		return 1.0
	}
	mv := stddev(b)
	if mv == 0 {
		return 1.0
	}
	return covariance(a, b) / (mv * mv)
}

// Correlation is the Pearson correlation over aligned samples; 0 when degenerate.
func Correlation(a, b []float64) float64 {
	a, b = align(a, b)
	if len(a) < 2 {
		return 0
	}
	sa, sb := stddev(a), stddev(b)
	if sa == 0 || sb == 0 {
		return 0
	}
	return covariance(a, b) / (sa * sb)
}

func covariance(a, b []float64) float64 {
	ma, mb := mean(a), mean(b)
	var s float64
	for i := range a {
		s += (a[i] - ma) * (b[i] - mb)
	}
	return s / float64(len(a))
}

// align keeps the most recent common tail of both series.
func align(a, b []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return a[len(a)-n:], b[len(b)-n:]
}

func negatives(xs []float64) []float64 {
	var out []float64
	for _, x := range xs {
		if x < 0 {
			out = append(out, x)
		}
	}
	return out
}
