package exits

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptorisk/internal/domain/alpha"
	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/ledger"
)

// Tick is the market observation for one held position.
type Tick struct {
	PositionID string
	Price      float64
	Factors    factors.Snapshot
	FreshAlpha *float64 // nil when no fresh alpha could be generated
	Time       time.Time
}

// Engine drives exit evaluation against the ledger: it marks the position,
// persists the ratcheted trailing stop and returns the instruction. Fills
// are booked separately through Settle once execution confirms them.
type Engine struct {
	evaluator *ExitEvaluator
	ledger    *ledger.Ledger
	combiner  *alpha.Combiner
}

// NewEngine creates an exit engine. A nil config uses DefaultExitConfig.
func NewEngine(config *Config, l *ledger.Ledger, combiner *alpha.Combiner) *Engine {
	if combiner == nil {
		combiner = alpha.NewCombiner(alpha.DefaultConfig())
	}
	return &Engine{
		evaluator: NewExitEvaluator(config),
		ledger:    l,
		combiner:  combiner,
	}
}

// Evaluator exposes the pure rule evaluator.
func (e *Engine) Evaluator() *ExitEvaluator {
	return e.evaluator
}

// Evaluate applies the exit rules to p without touching the ledger.
func (e *Engine) Evaluate(p ledger.Position, f factors.Snapshot, currentAlpha float64, now time.Time) Instruction {
	return e.evaluator.EvaluateExit(Inputs{Position: p, Factors: f, CurrentAlpha: currentAlpha, Now: now})
}

// Process marks the position at the tick and evaluates exit rules. A closed
// position yields an instruction with ShouldExit false and no error.
func (e *Engine) Process(t Tick) (Instruction, error) {
	pos, err := e.ledger.Mark(t.PositionID, t.Price, t.Factors, t.Time)
	if errors.Is(err, ledger.ErrClosed) {
		return Instruction{PositionID: pos.ID, Asset: pos.Asset, Timestamp: t.Time, Reason: NoExit}, nil
	}
	if err != nil {
		return Instruction{}, fmt.Errorf("failed to mark position: %w", err)
	}

	current := e.combiner.Current(pos.EntryAlpha, t.FreshAlpha, t.Time.Sub(pos.EntryTime))
	instr := e.evaluator.EvaluateExit(Inputs{
		Position:     pos,
		Factors:      t.Factors,
		CurrentAlpha: current,
		Now:          t.Time,
	})

	if instr.Trailing != pos.Trailing {
		stored, err := e.ledger.Trail(pos.ID, instr.Trailing)
		if err != nil {
			return Instruction{}, fmt.Errorf("failed to store trailing stop: %w", err)
		}
		if !pos.Trailing.Activated && stored.Trailing.Activated {
			log.Info().
				Str("position_id", pos.ID).
				Str("asset", pos.Asset).
				Float64("stop_price", stored.Trailing.StopPrice).
				Msg("Trailing stop armed")
		}
		instr.Trailing = stored.Trailing
	}

	if instr.ShouldExit {
		log.Info().
			Str("position_id", instr.PositionID).
			Str("asset", instr.Asset).
			Str("reason", instr.Reason.String()).
			Int("level", instr.Level).
			Float64("amount", instr.Amount).
			Float64("pnl_pct", instr.PnLPct).
			Str("trigger", instr.TriggeredBy).
			Msg("Exit triggered")
	}
	return instr, nil
}

// Settle books a confirmed exit fill for instr. The filled amount may differ
// from the instructed amount; the ledger clamps it to the remainder.
func (e *Engine) Settle(instr Instruction, amount, price float64, at time.Time) (ledger.Position, ledger.ExitRecord, error) {
	if !instr.ShouldExit {
		return ledger.Position{}, ledger.ExitRecord{}, fmt.Errorf("settle %s without exit: %w", instr.PositionID, ledger.ErrInvalidFill)
	}
	level := 0
	if instr.Reason == PartialExit {
		level = instr.Level
	}
	return e.ledger.ApplyFill(instr.PositionID, ledger.Fill{
		Amount: amount,
		Price:  price,
		Reason: instr.Reason.String(),
		Level:  level,
		Time:   at,
	})
}
