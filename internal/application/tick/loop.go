// Package tick runs the evaluation loop: entry candidates first, then every
// open position, against a ledger the loop owns exclusively.
package tick

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptorisk/internal/config"
	"github.com/sawpanic/cryptorisk/internal/domain/alpha"
	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/domain/market"
	"github.com/sawpanic/cryptorisk/internal/domain/risk"
	"github.com/sawpanic/cryptorisk/internal/domain/sizing"
	"github.com/sawpanic/cryptorisk/internal/exits"
	"github.com/sawpanic/cryptorisk/internal/ledger"
	"github.com/sawpanic/cryptorisk/internal/persistence"
	"github.com/sawpanic/cryptorisk/internal/providers"
)

// Skip causes reported for assets left out of a tick.
const (
	CauseUnavailable           = "unavailable"
	CauseStale                 = "stale"
	CausePredictionUnavailable = "prediction_unavailable"
	CauseCancelled             = "cancelled"
)

// Failure stages.
const (
	StageEntry   = "entry"
	StageExit    = "exit"
	StagePersist = "persist"
)

// Observer receives every completed tick report.
type Observer interface {
	ObserveTick(report TickReport)
}

// Deps are the collaborators of the loop. Predictions, Store, Archive and
// Observer may be nil.
type Deps struct {
	Snapshots   providers.SnapshotProvider
	Predictions providers.PredictionProvider
	Executor    providers.Executor
	Ledger      *ledger.Ledger
	Store       persistence.PositionStore
	Archive     persistence.RiskArchive
	Observer    Observer
	Clock       func() time.Time
}

// Loop wires the risk core components around one ledger.
type Loop struct {
	mu sync.Mutex // one tick, start or stop at a time

	deps     Deps
	maxAge   time.Duration
	model    *factors.Model
	signals  *alpha.Generator
	combiner *alpha.Combiner
	risk     *risk.Engine
	history  *risk.History
	sizer    *sizing.Sizer
	outcomes *sizing.OutcomeTracker
	perf     *alpha.Performance
	amplify  alpha.Amplification
	exits    *exits.Engine

	latestMu sync.RWMutex
	latest   *risk.Snapshot
}

// New builds a loop from validated configuration.
func New(cfg config.Config, deps Deps) (*Loop, error) {
	if deps.Snapshots == nil || deps.Executor == nil || deps.Ledger == nil {
		return nil, errors.New("tick loop requires a snapshot provider, an executor and a ledger")
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	exitConfig := cfg.Exits
	combiner := alpha.NewCombiner(cfg.Signals.Config)
	outcomes := sizing.NewOutcomeTracker()
	return &Loop{
		deps:     deps,
		maxAge:   cfg.SnapshotMaxAge(),
		model:    factors.NewModel(cfg.Factors),
		signals:  alpha.NewGenerator(cfg.Signals.Config),
		combiner: combiner,
		risk:     risk.NewEngine(cfg.Risk),
		history:  risk.NewHistory(cfg.Risk.ReturnWindow),
		sizer:    sizing.NewSizer(cfg.SizingConfig(), outcomes),
		outcomes: outcomes,
		perf:     alpha.NewPerformance(cfg.Signals.Amplification.Window()),
		amplify:  cfg.Signals.Amplification,
		exits:    exits.NewEngine(&exitConfig, deps.Ledger, combiner),
	}, nil
}

// History exposes the return windows feeding the risk engine.
func (l *Loop) History() *risk.History {
	return l.history
}

// Outcomes exposes the closed-trade tracker feeding Kelly inputs.
func (l *Loop) Outcomes() *sizing.OutcomeTracker {
	return l.outcomes
}

// Performance exposes closed-trade returns per dominant signal kind.
func (l *Loop) Performance() *alpha.Performance {
	return l.perf
}

// Latest returns the risk snapshot computed at the end of the last tick.
func (l *Loop) Latest() (risk.Snapshot, bool) {
	l.latestMu.RLock()
	defer l.latestMu.RUnlock()
	if l.latest == nil {
		return risk.Snapshot{}, false
	}
	return *l.latest, true
}

// Start installs the persisted open positions into the ledger.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deps.Store == nil {
		return nil
	}
	positions, err := l.deps.Store.LoadOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}
	if err := l.deps.Ledger.Load(positions); err != nil {
		return fmt.Errorf("failed to install open positions: %w", err)
	}
	return nil
}

// Stop saves every position the ledger holds, closed ones included, so the
// store reflects their final status.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deps.Store == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	positions := append(l.deps.Ledger.Closed(), l.deps.Ledger.OpenPositions()...)
	for _, p := range positions {
		if err := l.deps.Store.Save(ctx, p); err != nil {
			return fmt.Errorf("failed to save position %s: %w", p.ID, err)
		}
	}
	log.Info().Int("positions", len(positions)).Msg("Positions saved")
	return nil
}

// observation is what the fetch phase learned about one asset.
type observation struct {
	snapshot   market.Snapshot
	factors    factors.Snapshot
	prediction *float64
	predErr    error
}

// Run executes one tick over the given entry candidates. Cancelling ctx
// aborts pending entries; exits that have started run to completion.
func (l *Loop) Run(ctx context.Context, candidates []string) TickReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	started := time.Now()
	now := l.deps.Clock()
	report := TickReport{Time: now}

	held := l.deps.Ledger.OpenPositions()
	obs := l.fetch(ctx, now, candidates, held, &report)

	l.enter(ctx, now, candidates, obs, &report)
	l.exit(context.WithoutCancel(ctx), now, held, obs, &report)

	equity := l.deps.Ledger.Equity()
	l.history.RecordEquity(equity)
	final := l.assess(now)
	report.Risk = final
	report.Equity = equity
	report.OpenPositions = len(l.deps.Ledger.OpenPositions())
	report.Duration = time.Since(started)

	l.latestMu.Lock()
	l.latest = &final
	l.latestMu.Unlock()

	if l.deps.Archive != nil {
		if err := l.deps.Archive.Archive(context.WithoutCancel(ctx), final); err != nil {
			log.Warn().Err(err).Msg("Failed to archive risk snapshot")
		}
	}
	if l.deps.Observer != nil {
		l.deps.Observer.ObserveTick(report)
	}

	log.Info().
		Time("ts", now).
		Int("entries", len(report.Entries)).
		Int("exits", len(report.Exits)).
		Int("skipped", len(report.Skipped)).
		Int("failures", len(report.Failures)).
		Float64("risk_score", final.RiskScore).
		Bool("can_trade", final.CanTrade).
		Float64("equity", equity).
		Msg("Tick completed")
	return report
}

// fetch pulls snapshots for candidates and held assets, computes their
// factors and records price returns. Unusable assets are reported skipped.
func (l *Loop) fetch(ctx context.Context, now time.Time, candidates []string, held []ledger.Position, report *TickReport) map[string]*observation {
	assets := make([]string, 0, len(candidates)+len(held))
	seen := make(map[string]bool, cap(assets))
	for _, a := range candidates {
		if !seen[a] {
			seen[a] = true
			assets = append(assets, a)
		}
	}
	holding := make(map[string]bool, len(held))
	for _, p := range held {
		holding[p.Asset] = true
		if !seen[p.Asset] {
			seen[p.Asset] = true
			assets = append(assets, p.Asset)
		}
	}

	obs := make(map[string]*observation, len(assets))
	var marketSum float64
	var marketN int
	for _, asset := range assets {
		// held assets feed exits, which are not cancellable
		fctx := ctx
		if holding[asset] {
			fctx = context.WithoutCancel(ctx)
		}
		snap, err := l.deps.Snapshots.Snapshot(fctx, asset)
		if err == nil {
			err = snap.Validate()
		}
		if err == nil {
			err = snap.CheckFresh(now, l.maxAge)
		}
		if err != nil {
			report.skip(asset, causeOf(err), err)
			continue
		}

		o := &observation{snapshot: snap, factors: l.model.Compute(snap)}
		if l.deps.Predictions != nil {
			score, err := l.deps.Predictions.Prediction(fctx, asset)
			if err != nil {
				o.predErr = err
			} else {
				o.prediction = &score
			}
		}
		obs[asset] = o

		if r, ok := l.history.RecordPrice(asset, snap.Price); ok {
			marketSum += r
			marketN++
		}
	}
	if marketN > 0 {
		l.history.RecordMarket(marketSum / float64(marketN))
	}
	return obs
}

// enter sizes and opens positions for candidates. The risk gate is
// re-evaluated before every entry.
func (l *Loop) enter(ctx context.Context, now time.Time, candidates []string, obs map[string]*observation, report *TickReport) {
	universe := make([]float64, 0, len(candidates))
	for _, asset := range candidates {
		if o, ok := obs[asset]; ok {
			universe = append(universe, o.factors.Momentum)
		}
	}

	for i, asset := range candidates {
		if err := ctx.Err(); err != nil {
			for _, rest := range candidates[i:] {
				report.skip(rest, CauseCancelled, err)
			}
			report.Cancelled = true
			return
		}
		o, ok := obs[asset]
		if !ok {
			continue
		}
		if o.predErr != nil {
			report.skip(asset, CausePredictionUnavailable, o.predErr)
			continue
		}

		combined := l.combiner.Combine(l.signals.Evaluate(alpha.Input{
			Snapshot:   o.snapshot,
			Factors:    o.factors,
			Prediction: o.prediction,
			Universe:   universe,
		}))
		combined = l.amplify.Apply(combined, l.perf, now)
		gate := l.assess(now)
		decision := l.sizer.Size(sizing.Request{
			Asset:          asset,
			Alpha:          combined.Alpha,
			Factors:        o.factors,
			Risk:           gate,
			Holdings:       l.deps.Ledger.Holdings(),
			PortfolioValue: l.deps.Ledger.Equity(),
		})
		report.Decisions = append(report.Decisions, decision)
		if !decision.Sized() {
			log.Debug().
				Str("asset", asset).
				Float64("alpha", combined.Alpha).
				Str("reason", decision.SkipReason).
				Msg("Entry skipped")
			continue
		}

		quantity := decision.Notional / o.snapshot.Price
		fill, err := l.deps.Executor.Execute(ctx, asset, providers.Buy, quantity)
		if err != nil {
			report.fail(asset, "", StageEntry, err)
			continue
		}
		at := fill.Time
		if at.IsZero() {
			at = now
		}
		pos, err := l.deps.Ledger.Open(ledger.OpenRequest{
			Asset:   asset,
			Price:   fill.Price,
			Amount:  fill.FilledAmount,
			Time:    at,
			Factors: o.factors,
			Alpha:   combined.Alpha,
			Tag:     combined.Dominant.String(),
		})
		if err != nil {
			report.fail(asset, "", StageEntry, err)
			continue
		}
		report.Entries = append(report.Entries, Entry{
			Asset:      asset,
			PositionID: pos.ID,
			Alpha:      combined.Alpha,
			Confidence: combined.Confidence,
			Tag:        pos.Tag,
			Decision:   decision,
			Fill:       fill,
			RiskBefore: gate,
		})
	}
}

// exit evaluates positions that were open when the tick started. ctx must
// not be cancellable.
func (l *Loop) exit(ctx context.Context, now time.Time, held []ledger.Position, obs map[string]*observation, report *TickReport) {
	for _, p := range held {
		o, ok := obs[p.Asset]
		if !ok {
			continue
		}

		var fresh *float64
		if o.predErr == nil {
			combined := l.combiner.Combine(l.signals.Evaluate(alpha.Input{
				Snapshot:   o.snapshot,
				Factors:    o.factors,
				Prediction: o.prediction,
			}))
			fresh = &combined.Alpha
		}

		instr, err := l.exits.Process(exits.Tick{
			PositionID: p.ID,
			Price:      o.snapshot.Price,
			Factors:    o.factors,
			FreshAlpha: fresh,
			Time:       now,
		})
		if err != nil {
			report.fail(p.Asset, p.ID, StageExit, err)
			continue
		}
		if !instr.ShouldExit {
			continue
		}

		fill, err := l.deps.Executor.Execute(ctx, p.Asset, providers.Sell, instr.Amount)
		if err != nil {
			report.fail(p.Asset, p.ID, StageExit, err)
			continue
		}
		at := fill.Time
		if at.IsZero() {
			at = now
		}
		pos, rec, err := l.exits.Settle(instr, fill.FilledAmount, fill.Price, at)
		if err != nil {
			report.fail(p.Asset, p.ID, StageExit, err)
			continue
		}
		if l.deps.Store != nil {
			if err := l.deps.Store.AppendExit(ctx, rec); err != nil {
				report.fail(p.Asset, p.ID, StagePersist, err)
			}
		}

		closed := pos.Status == ledger.StatusClosed
		if closed {
			if cost := pos.EntryAmount * pos.EntryPrice; cost > 0 {
				ret := pos.RealizedPnL / cost
				l.outcomes.Record(ret)
				if kind, ok := alpha.ParseKind(pos.Tag); ok {
					l.perf.Record(kind, ret, at)
				}
			}
		}
		report.Exits = append(report.Exits, Exit{
			Instruction: instr,
			Record:      rec,
			Closed:      closed,
			RiskAfter:   l.assess(now),
		})
	}
}

// assess recomputes the risk snapshot from the current ledger state.
func (l *Loop) assess(now time.Time) risk.Snapshot {
	mc := l.history.Context(now, l.deps.Ledger.Equity())
	return l.risk.Assess(l.deps.Ledger.Holdings(), mc)
}

func causeOf(err error) string {
	if errors.Is(err, market.ErrStale) {
		return CauseStale
	}
	return CauseUnavailable
}
