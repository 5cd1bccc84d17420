package providers

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// PaperExecutor fills orders against a price source with a fixed slippage.
// It never touches a venue.
type PaperExecutor struct {
	prices      SnapshotProvider
	slippageBps float64
	now         func() time.Time

	mu     sync.Mutex
	reject map[string]string
	fills  []Fill
}

// NewPaperExecutor creates a paper executor. Buys fill above and sells below
// the snapshot price by slippageBps.
func NewPaperExecutor(prices SnapshotProvider, slippageBps float64) *PaperExecutor {
	return &PaperExecutor{
		prices:      prices,
		slippageBps: slippageBps,
		now:         time.Now,
		reject:      make(map[string]string),
	}
}

// WithClock replaces the fill timestamp source.
func (p *PaperExecutor) WithClock(now func() time.Time) *PaperExecutor {
	p.now = now
	return p
}

// Reject makes every order for asset fail with reason until Accept is called.
func (p *PaperExecutor) Reject(asset, reason string) {
	p.mu.Lock()
	p.reject[asset] = reason
	p.mu.Unlock()
}

func (p *PaperExecutor) Accept(asset string) {
	p.mu.Lock()
	delete(p.reject, asset)
	p.mu.Unlock()
}

// Fills returns every confirmed fill in order.
func (p *PaperExecutor) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Fill(nil), p.fills...)
}

func (p *PaperExecutor) Execute(ctx context.Context, asset string, side Side, amount float64) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, fmt.Errorf("%s %s: %w: %w", side, asset, ErrExecution, err)
	}
	if !(amount > 0) || math.IsInf(amount, 0) {
		return Fill{}, fmt.Errorf("%s %s amount=%v: %w", side, asset, amount, ErrExecution)
	}

	p.mu.Lock()
	reason, rejected := p.reject[asset]
	p.mu.Unlock()
	if rejected {
		return Fill{}, fmt.Errorf("%s %s rejected (%s): %w", side, asset, reason, ErrExecution)
	}

	snap, err := p.prices.Snapshot(ctx, asset)
	if err != nil {
		return Fill{}, fmt.Errorf("%s %s no price: %w: %w", side, asset, ErrExecution, err)
	}
	slip := p.slippageBps / 10000
	price := snap.Price * (1 + slip)
	if side == Sell {
		price = snap.Price * (1 - slip)
	}

	fill := Fill{Asset: asset, Side: side, FilledAmount: amount, Price: price, Time: p.now()}
	p.mu.Lock()
	p.fills = append(p.fills, fill)
	p.mu.Unlock()
	return fill, nil
}
