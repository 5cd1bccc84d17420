package alpha

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Amplification raises combined confidence while one signal kind keeps
// closing winners.
type Amplification struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	WindowHours float64 `yaml:"performance_window_hours" json:"performance_window_hours"`
	MinTrades   int     `yaml:"min_trades" json:"min_trades"`
	MinSharpe   float64 `yaml:"min_sharpe" json:"min_sharpe"`
	ScaleFactor float64 `yaml:"scale_factor" json:"scale_factor"`
	MaxScale    float64 `yaml:"max_scale" json:"max_scale"`
}

// Window is the lookback over which closed trades count.
func (a Amplification) Window() time.Duration {
	return time.Duration(a.WindowHours * float64(time.Hour))
}

// Scale returns the confidence multiplier for a kind with the given Sharpe.
func (a Amplification) Scale(sharpe float64) float64 {
	return math.Min(a.ScaleFactor*(1+sharpe/10), a.MaxScale)
}

// Apply scales c.Confidence by the best kind's record. Only long alpha is
// amplified; confidence stays capped at 1.
func (a Amplification) Apply(c Combined, perf *Performance, now time.Time) Combined {
	if !a.Enabled || perf == nil || c.Alpha <= 0 {
		return c
	}
	kind, stats, ok := perf.Best(now, a.MinTrades)
	if !ok || stats.Sharpe <= a.MinSharpe {
		return c
	}
	scale := a.Scale(stats.Sharpe)
	c.Confidence = math.Min(c.Confidence*scale, 1)
	c.Amplification = scale
	c.Reasons = append(c.Reasons, fmt.Sprintf("Confidence amplified %.1fx on %s performance (sharpe %.2f over %d trades)",
		scale, kind, stats.Sharpe, stats.Trades))
	return c
}

// KindStats summarises the closed trades attributed to one kind.
type KindStats struct {
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	TotalPnL float64 `json:"total_pnl"`
	Sharpe   float64 `json:"sharpe"`
}

type trade struct {
	at  time.Time
	ret float64
}

// Performance records closed-trade returns per signal kind. Trades older
// than the window are dropped.
type Performance struct {
	mu     sync.Mutex
	window time.Duration
	trades map[Kind][]trade
}

// NewPerformance creates a tracker; a non-positive window keeps every trade.
func NewPerformance(window time.Duration) *Performance {
	return &Performance{window: window, trades: make(map[Kind][]trade)}
}

// Record adds one closed trade return for kind k, 0.25 meaning +25%.
func (p *Performance) Record(k Kind, ret float64, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trades[k] = append(p.prune(k, at), trade{at: at, ret: ret})
}

// Stats returns the in-window summary for kind k.
func (p *Performance) Stats(k Kind, now time.Time) KindStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return summarise(p.prune(k, now))
}

// Best returns the kind with the highest positive Sharpe among kinds with
// at least minTrades trades in the window.
func (p *Performance) Best(now time.Time, minTrades int) (Kind, KindStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var (
		best  Kind
		stats KindStats
		found bool
	)
	for _, k := range Kinds {
		s := summarise(p.prune(k, now))
		if s.Trades == 0 || s.Trades < minTrades || s.Sharpe <= 0 {
			continue
		}
		if !found || s.Sharpe > stats.Sharpe {
			best, stats, found = k, s, true
		}
	}
	return best, stats, found
}

// prune drops trades before the window and stores the remainder. Callers
// hold mu.
func (p *Performance) prune(k Kind, now time.Time) []trade {
	list := p.trades[k]
	if p.window <= 0 {
		return list
	}
	cutoff := now.Add(-p.window)
	i := 0
	for i < len(list) && list[i].at.Before(cutoff) {
		i++
	}
	list = list[i:]
	p.trades[k] = list
	return list
}

// summarise computes the annualised Sharpe of per-trade returns using the
// population deviation. Fewer than two trades or zero deviation give zero.
func summarise(list []trade) KindStats {
	s := KindStats{Trades: len(list)}
	if len(list) == 0 {
		return s
	}
	for _, t := range list {
		if t.ret > 0 {
			s.Wins++
		}
		s.TotalPnL += t.ret
	}
	if len(list) < 2 {
		return s
	}
	mean := s.TotalPnL / float64(len(list))
	var ss float64
	for _, t := range list {
		ss += (t.ret - mean) * (t.ret - mean)
	}
	sd := math.Sqrt(ss / float64(len(list)))
	if sd > 0 {
		s.Sharpe = mean / sd * math.Sqrt(252)
	}
	return s
}
