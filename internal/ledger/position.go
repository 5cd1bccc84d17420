// Package ledger is the authoritative record of open and closed positions.
package ledger

import (
	"math"
	"time"

	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/domain/risk"
)

// Status is the lifecycle state of a position.
type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusPartiallyExited Status = "PARTIALLY_EXITED"
	StatusClosed          Status = "CLOSED"
)

// TrailingStop is the armed state of a ratcheting stop.
type TrailingStop struct {
	Activated    bool      `json:"activated"`
	HighestPrice float64   `json:"highest_price"`
	StopPrice    float64   `json:"stop_price"`
	ActivatedAt  time.Time `json:"activated_at,omitempty"`
}

// Position is a copy of ledger state; mutating it does not change the ledger.
type Position struct {
	ID           string           `json:"id"`
	Asset        string           `json:"asset"`
	Tag          string           `json:"tag,omitempty"` // dominant entry signal
	EntryTime    time.Time        `json:"entry_time"`
	EntryPrice   float64          `json:"entry_price"`
	EntryAmount  float64          `json:"entry_amount"`
	EntryFactors factors.Snapshot `json:"entry_factors"`
	EntryAlpha   float64          `json:"entry_alpha"`

	CurrentPrice float64          `json:"current_price"`
	LastFactors  factors.Snapshot `json:"last_factors"`
	LastUpdate   time.Time        `json:"last_update"`

	ExitedAmount float64      `json:"cumulative_exited_amount"`
	RealizedPnL  float64      `json:"realized_pnl"`
	FiredLevels  []int        `json:"fired_levels,omitempty"`
	Trailing     TrailingStop `json:"trailing_stop"`
	Status       Status       `json:"status"`
	CloseReason  string       `json:"close_reason,omitempty"`
	ClosedAt     time.Time    `json:"closed_at,omitempty"`
}

// Remaining is the amount still held.
func (p Position) Remaining() float64 {
	return math.Max(0, p.EntryAmount-p.ExitedAmount)
}

// PnLPct is the unrealized return of the held amount, 0.25 meaning +25%.
func (p Position) PnLPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.CurrentPrice/p.EntryPrice - 1
}

// Value is the mark-to-market value of the remaining amount.
func (p Position) Value() float64 {
	return p.Remaining() * p.CurrentPrice
}

// LevelFired reports whether staged exit level i has fired.
func (p Position) LevelFired(i int) bool {
	for _, l := range p.FiredLevels {
		if l == i {
			return true
		}
	}
	return false
}

// Holding is the risk-engine view of the position.
func (p Position) Holding() risk.Holding {
	return risk.Holding{Asset: p.Asset, Value: p.Value(), Factors: p.LastFactors}
}

func (p Position) clone() Position {
	p.FiredLevels = append([]int(nil), p.FiredLevels...)
	return p
}

// epsilon is the tolerance under which a remainder counts as fully exited.
func (p Position) epsilon() float64 {
	return 1e-9 * math.Max(1, p.EntryAmount)
}

// ExitRecord is one confirmed exit fill. Records are append-only.
type ExitRecord struct {
	ID          string    `json:"id" db:"id"`
	PositionID  string    `json:"position_id" db:"position_id"`
	Asset       string    `json:"asset" db:"asset"`
	Level       int       `json:"level_reached" db:"level_reached"` // 1-based staged level, 0 for a full exit
	Amount      float64   `json:"amount" db:"amount"`
	Price       float64   `json:"price" db:"price"`
	RealizedPnL float64   `json:"realized_pnl" db:"realized_pnl"`
	Reason      string    `json:"reason" db:"reason"`
	Timestamp   time.Time `json:"ts" db:"ts"`
}

// Holdings maps positions to their risk-engine view.
func Holdings(positions []Position) []risk.Holding {
	out := make([]risk.Holding, 0, len(positions))
	for _, p := range positions {
		out = append(out, p.Holding())
	}
	return out
}
