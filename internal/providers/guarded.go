package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptorisk/infra/breakers"
	"github.com/sawpanic/cryptorisk/internal/domain/market"
	"github.com/sawpanic/cryptorisk/internal/net/ratelimit"
)

// Guard paces and circuit-breaks calls to one collaborator. Answers that an
// asset is unavailable are normal results and never trip the breaker.
type Guard struct {
	name    string
	breaker *breakers.Breaker
	limiter *ratelimit.Limiter
}

// NewGuard creates a guard. A nil limiter disables pacing.
func NewGuard(name string, breaker *breakers.Breaker, limiter *ratelimit.Limiter) *Guard {
	if breaker == nil {
		breaker = breakers.New(name, breakers.Settings{})
	}
	return &Guard{name: name, breaker: breaker, limiter: limiter}
}

// State returns the breaker state.
func (g *Guard) State() string {
	return g.breaker.State()
}

func (g *Guard) do(ctx context.Context, fn func() error) error {
	if err := g.limiter.Wait(ctx, g.name); err != nil {
		return fmt.Errorf("%s rate limit wait: %w", g.name, err)
	}
	var passed error
	_, err := g.breaker.Execute(func() (any, error) {
		err := fn()
		if errors.Is(err, market.ErrUnavailable) {
			passed = err
			return nil, nil
		}
		return nil, err
	})
	if errors.Is(err, breakers.ErrOpen) {
		log.Warn().Str("provider", g.name).Msg("Circuit breaker open, call rejected")
		return fmt.Errorf("%s: %w", g.name, ErrCircuitOpen)
	}
	if err != nil {
		return err
	}
	return passed
}

// GuardedSnapshots wraps a SnapshotProvider. Provider failures and open
// circuits both surface as market.ErrUnavailable so that the asset is skipped.
type GuardedSnapshots struct {
	inner SnapshotProvider
	guard *Guard
}

func NewGuardedSnapshots(inner SnapshotProvider, guard *Guard) *GuardedSnapshots {
	return &GuardedSnapshots{inner: inner, guard: guard}
}

func (g *GuardedSnapshots) Snapshot(ctx context.Context, asset string) (market.Snapshot, error) {
	var snap market.Snapshot
	err := g.guard.do(ctx, func() error {
		var err error
		snap, err = g.inner.Snapshot(ctx, asset)
		return err
	})
	if err != nil {
		return market.Snapshot{}, unavailable(asset, err)
	}
	return snap, nil
}

// GuardedPredictions wraps a PredictionProvider the same way.
type GuardedPredictions struct {
	inner PredictionProvider
	guard *Guard
}

func NewGuardedPredictions(inner PredictionProvider, guard *Guard) *GuardedPredictions {
	return &GuardedPredictions{inner: inner, guard: guard}
}

func (g *GuardedPredictions) Prediction(ctx context.Context, asset string) (float64, error) {
	var score float64
	err := g.guard.do(ctx, func() error {
		var err error
		score, err = g.inner.Prediction(ctx, asset)
		return err
	})
	if err != nil {
		return 0, unavailable(asset, err)
	}
	return score, nil
}

func unavailable(asset string, err error) error {
	if errors.Is(err, market.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", asset, market.ErrUnavailable, err)
}

// GuardedExecutor wraps an Executor. Buys and sells go through separate
// guards so rejected entries cannot open the circuit in front of exits. An
// open circuit is an execution failure.
type GuardedExecutor struct {
	inner   Executor
	entries *Guard
	exits   *Guard
}

// NewGuardedExecutor guards buys with entries and sells with exits. A nil
// exits guard shares the entries guard.
func NewGuardedExecutor(inner Executor, entries, exits *Guard) *GuardedExecutor {
	if exits == nil {
		exits = entries
	}
	return &GuardedExecutor{inner: inner, entries: entries, exits: exits}
}

func (g *GuardedExecutor) Execute(ctx context.Context, asset string, side Side, amount float64) (Fill, error) {
	guard := g.entries
	if side == Sell {
		guard = g.exits
	}
	var fill Fill
	err := guard.do(ctx, func() error {
		var err error
		fill, err = g.inner.Execute(ctx, asset, side, amount)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrExecution) {
			return Fill{}, err
		}
		return Fill{}, fmt.Errorf("%s %s: %w: %w", side, asset, ErrExecution, err)
	}
	return fill, nil
}
