package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/ledger"
)

// PositionColumns lists the positions table columns in insert order.
var PositionColumns = []string{
	"id", "asset", "tag", "status", "entry_time", "entry_price", "entry_amount",
	"entry_alpha", "entry_factors", "current_price", "last_factors", "last_update",
	"exited_amount", "realized_pnl", "fired_levels", "trailing", "close_reason", "closed_at",
}

// ExitColumns lists the exit_records table columns in insert order.
var ExitColumns = []string{
	"id", "position_id", "asset", "level_reached", "amount", "price", "realized_pnl", "reason", "ts",
}

// PositionRow is the SQL shape of a position. Structured fields are stored as
// JSON text.
type PositionRow struct {
	ID           string     `db:"id"`
	Asset        string     `db:"asset"`
	Tag          string     `db:"tag"`
	Status       string     `db:"status"`
	EntryTime    time.Time  `db:"entry_time"`
	EntryPrice   float64    `db:"entry_price"`
	EntryAmount  float64    `db:"entry_amount"`
	EntryAlpha   float64    `db:"entry_alpha"`
	EntryFactors string     `db:"entry_factors"`
	CurrentPrice float64    `db:"current_price"`
	LastFactors  string     `db:"last_factors"`
	LastUpdate   time.Time  `db:"last_update"`
	ExitedAmount float64    `db:"exited_amount"`
	RealizedPnL  float64    `db:"realized_pnl"`
	FiredLevels  string     `db:"fired_levels"`
	Trailing     string     `db:"trailing"`
	CloseReason  string     `db:"close_reason"`
	ClosedAt     *time.Time `db:"closed_at"`
}

// ToRow converts a position for storage.
func ToRow(p ledger.Position) (PositionRow, error) {
	entry, err := json.Marshal(p.EntryFactors)
	if err != nil {
		return PositionRow{}, fmt.Errorf("failed to marshal entry factors: %w", err)
	}
	last, err := json.Marshal(p.LastFactors)
	if err != nil {
		return PositionRow{}, fmt.Errorf("failed to marshal last factors: %w", err)
	}
	levels := p.FiredLevels
	if levels == nil {
		levels = []int{}
	}
	fired, err := json.Marshal(levels)
	if err != nil {
		return PositionRow{}, fmt.Errorf("failed to marshal fired levels: %w", err)
	}
	trailing, err := json.Marshal(p.Trailing)
	if err != nil {
		return PositionRow{}, fmt.Errorf("failed to marshal trailing stop: %w", err)
	}
	row := PositionRow{
		ID:           p.ID,
		Asset:        p.Asset,
		Tag:          p.Tag,
		Status:       string(p.Status),
		EntryTime:    p.EntryTime.UTC(),
		EntryPrice:   p.EntryPrice,
		EntryAmount:  p.EntryAmount,
		EntryAlpha:   p.EntryAlpha,
		EntryFactors: string(entry),
		CurrentPrice: p.CurrentPrice,
		LastFactors:  string(last),
		LastUpdate:   p.LastUpdate.UTC(),
		ExitedAmount: p.ExitedAmount,
		RealizedPnL:  p.RealizedPnL,
		FiredLevels:  string(fired),
		Trailing:     string(trailing),
		CloseReason:  p.CloseReason,
	}
	if !p.ClosedAt.IsZero() {
		closed := p.ClosedAt.UTC()
		row.ClosedAt = &closed
	}
	return row, nil
}

// Position converts a stored row back into a ledger position.
func (r PositionRow) Position() (ledger.Position, error) {
	p := ledger.Position{
		ID:           r.ID,
		Asset:        r.Asset,
		Tag:          r.Tag,
		Status:       ledger.Status(r.Status),
		EntryTime:    r.EntryTime.UTC(),
		EntryPrice:   r.EntryPrice,
		EntryAmount:  r.EntryAmount,
		EntryAlpha:   r.EntryAlpha,
		CurrentPrice: r.CurrentPrice,
		LastUpdate:   r.LastUpdate.UTC(),
		ExitedAmount: r.ExitedAmount,
		RealizedPnL:  r.RealizedPnL,
		CloseReason:  r.CloseReason,
	}
	if r.ClosedAt != nil {
		p.ClosedAt = r.ClosedAt.UTC()
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  any
	}{
		{"entry_factors", r.EntryFactors, &p.EntryFactors},
		{"last_factors", r.LastFactors, &p.LastFactors},
		{"fired_levels", r.FiredLevels, &p.FiredLevels},
		{"trailing", r.Trailing, &p.Trailing},
	} {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return ledger.Position{}, fmt.Errorf("position %s %s: %w", r.ID, f.name, err)
		}
	}
	if len(p.FiredLevels) == 0 {
		p.FiredLevels = nil
	}
	if p.LastFactors == (factors.Snapshot{}) {
		p.LastFactors = p.EntryFactors
	}
	return p, nil
}
