package sizing

import "sync"

// OutcomeTracker accumulates closed-trade returns so Kelly inputs can follow
// realized performance once enough trades have closed.
type OutcomeTracker struct {
	mu      sync.Mutex
	wins    int
	losses  int
	sumWin  float64
	sumLoss float64
}

// NewOutcomeTracker creates an empty tracker.
func NewOutcomeTracker() *OutcomeTracker {
	return &OutcomeTracker{}
}

// Record adds one closed trade return, 0.25 meaning +25%. Flat trades count as losses of zero.
func (t *OutcomeTracker) Record(ret float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ret > 0 {
		t.wins++
		t.sumWin += ret
		return
	}
	t.losses++
	t.sumLoss -= ret
}

// Samples is the number of recorded trades.
func (t *OutcomeTracker) Samples() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wins + t.losses
}

// Inputs returns the Kelly win probability and win/loss ratio. The configured
// values are used until minSamples trades have closed; the configured ratio
// also stands in while no losing trade has a measurable size.
func (t *OutcomeTracker) Inputs(k KellyConfig) (winProb, winLoss float64, empirical bool) {
	if t == nil {
		return k.WinProbability, k.WinLossRatio, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.wins + t.losses
	if n == 0 || n < k.MinSamples {
		return k.WinProbability, k.WinLossRatio, false
	}
	winProb = float64(t.wins) / float64(n)
	winLoss = k.WinLossRatio
	if t.wins > 0 && t.losses > 0 && t.sumLoss > 0 {
		winLoss = (t.sumWin / float64(t.wins)) / (t.sumLoss / float64(t.losses))
	}
	return winProb, winLoss, true
}
