package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/domain/risk"
)

var (
	ErrPositionExists = errors.New("asset already has an open position")
	ErrNotFound       = errors.New("position not found")
	ErrClosed         = errors.New("position is closed")
	ErrInvalidFill    = errors.New("invalid fill")
)

// OpenRequest describes a confirmed entry fill.
type OpenRequest struct {
	Asset   string
	Price   float64 // realized fill price
	Amount  float64 // filled base amount
	Time    time.Time
	Factors factors.Snapshot
	Alpha   float64
	Tag     string
}

// Fill is a confirmed exit fill reported by the execution interface.
type Fill struct {
	Amount float64
	Price  float64
	Reason string
	Level  int // 1-based staged level, 0 for a full exit
	Time   time.Time
}

type slot struct {
	mu  sync.Mutex // per-asset exclusion
	pos *Position
}

// Ledger owns every position. Operations on different assets never contend
// on the same lock; the index lock is held only to find a slot.
type Ledger struct {
	mu      sync.RWMutex
	byID    map[string]*slot
	byAsset map[string]*slot // open positions only
	closed  []string

	recMu   sync.Mutex
	records []ExitRecord

	cashMu sync.Mutex
	cash   float64
}

// New creates a ledger holding the given cash balance.
func New(cash float64) *Ledger {
	return &Ledger{
		byID:    make(map[string]*slot),
		byAsset: make(map[string]*slot),
		cash:    cash,
	}
}

// Open records a new position from a confirmed fill.
func (l *Ledger) Open(req OpenRequest) (Position, error) {
	if req.Asset == "" || !(req.Amount > 0) || !(req.Price > 0) || math.IsInf(req.Amount*req.Price, 0) {
		return Position{}, fmt.Errorf("open %s amount=%v price=%v: %w", req.Asset, req.Amount, req.Price, ErrInvalidFill)
	}

	l.mu.Lock()
	if _, ok := l.byAsset[req.Asset]; ok {
		l.mu.Unlock()
		return Position{}, fmt.Errorf("open %s: %w", req.Asset, ErrPositionExists)
	}
	pos := &Position{
		ID:           newPositionID(),
		Asset:        req.Asset,
		Tag:          req.Tag,
		EntryTime:    req.Time,
		EntryPrice:   req.Price,
		EntryAmount:  req.Amount,
		EntryFactors: req.Factors,
		EntryAlpha:   req.Alpha,
		CurrentPrice: req.Price,
		LastFactors:  req.Factors,
		LastUpdate:   req.Time,
		Status:       StatusOpen,
	}
	s := &slot{pos: pos}
	l.byID[pos.ID] = s
	l.byAsset[req.Asset] = s
	l.mu.Unlock()

	l.adjustCash(-req.Amount * req.Price)

	log.Info().
		Str("position_id", pos.ID).
		Str("asset", pos.Asset).
		Float64("amount", pos.EntryAmount).
		Float64("price", pos.EntryPrice).
		Float64("alpha", pos.EntryAlpha).
		Msg("Position opened")
	return pos.clone(), nil
}

// Mark updates the current price and factors of an open position.
func (l *Ledger) Mark(id string, price float64, f factors.Snapshot, at time.Time) (Position, error) {
	return l.update(id, func(p *Position) error {
		if !(price > 0) {
			return fmt.Errorf("mark %s price=%v: %w", p.Asset, price, ErrInvalidFill)
		}
		p.CurrentPrice = price
		p.LastFactors = f
		p.LastUpdate = at
		return nil
	})
}

// Trail stores trailing-stop state. Activation never reverts and neither the
// high-water mark nor the stop price ever decreases.
func (l *Ledger) Trail(id string, ts TrailingStop) (Position, error) {
	return l.update(id, func(p *Position) error {
		cur := p.Trailing
		if cur.Activated && !ts.Activated {
			return nil
		}
		if !cur.Activated && ts.Activated {
			cur.Activated = true
			cur.ActivatedAt = ts.ActivatedAt
		}
		cur.HighestPrice = math.Max(cur.HighestPrice, ts.HighestPrice)
		cur.StopPrice = math.Max(cur.StopPrice, ts.StopPrice)
		p.Trailing = cur
		return nil
	})
}

// ApplyFill books a confirmed exit. The amount is clamped to the remainder so
// the exited total never exceeds the entry amount.
func (l *Ledger) ApplyFill(id string, fill Fill) (Position, ExitRecord, error) {
	var rec ExitRecord
	var proceeds float64
	pos, err := l.update(id, func(p *Position) error {
		if !(fill.Amount > 0) || !(fill.Price > 0) || math.IsInf(fill.Amount, 0) {
			return fmt.Errorf("fill %s amount=%v price=%v: %w", p.Asset, fill.Amount, fill.Price, ErrInvalidFill)
		}
		amount := math.Min(fill.Amount, p.Remaining())
		pnl := amount * (fill.Price - p.EntryPrice)

		p.ExitedAmount += amount
		p.RealizedPnL += pnl
		p.CurrentPrice = fill.Price
		p.LastUpdate = fill.Time
		if fill.Level > 0 && !p.LevelFired(fill.Level) {
			p.FiredLevels = append(p.FiredLevels, fill.Level)
			sort.Ints(p.FiredLevels)
		}
		if p.Remaining() <= p.epsilon() {
			p.ExitedAmount = p.EntryAmount
			p.Status = StatusClosed
			p.CloseReason = fill.Reason
			p.ClosedAt = fill.Time
		} else {
			p.Status = StatusPartiallyExited
		}

		proceeds = amount * fill.Price
		rec = ExitRecord{
			ID:          newRecordID(fill.Time),
			PositionID:  p.ID,
			Asset:       p.Asset,
			Level:       fill.Level,
			Amount:      amount,
			Price:       fill.Price,
			RealizedPnL: pnl,
			Reason:      fill.Reason,
			Timestamp:   fill.Time,
		}
		return nil
	})
	if err != nil {
		return pos, ExitRecord{}, err
	}

	l.adjustCash(proceeds)
	l.recMu.Lock()
	l.records = append(l.records, rec)
	l.recMu.Unlock()

	if pos.Status == StatusClosed {
		l.retire(pos)
	}

	log.Info().
		Str("position_id", pos.ID).
		Str("asset", pos.Asset).
		Str("reason", fill.Reason).
		Int("level", fill.Level).
		Float64("amount", rec.Amount).
		Float64("price", rec.Price).
		Float64("realized_pnl", rec.RealizedPnL).
		Str("status", string(pos.Status)).
		Msg("Exit fill applied")
	return pos, rec, nil
}

// update runs fn under the position's slot lock and returns a copy of the result.
func (l *Ledger) update(id string, fn func(p *Position) error) (Position, error) {
	l.mu.RLock()
	s, ok := l.byID[id]
	l.mu.RUnlock()
	if !ok {
		return Position{}, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos.Status == StatusClosed {
		return s.pos.clone(), fmt.Errorf("position %s: %w", id, ErrClosed)
	}
	if err := fn(s.pos); err != nil {
		return s.pos.clone(), err
	}
	return s.pos.clone(), nil
}

// retire moves a closed position out of the open index into closed history.
func (l *Ledger) retire(p Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.byAsset[p.Asset]; ok && s.pos.ID == p.ID {
		delete(l.byAsset, p.Asset)
	}
	l.closed = append(l.closed, p.ID)
}

func (l *Ledger) adjustCash(delta float64) {
	l.cashMu.Lock()
	l.cash += delta
	l.cashMu.Unlock()
}

// Get returns a copy of the position with the given id.
func (l *Ledger) Get(id string) (Position, error) {
	l.mu.RLock()
	s, ok := l.byID[id]
	l.mu.RUnlock()
	if !ok {
		return Position{}, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos.clone(), nil
}

// ByAsset returns the open position for asset, if any.
func (l *Ledger) ByAsset(asset string) (Position, bool) {
	l.mu.RLock()
	s, ok := l.byAsset[asset]
	l.mu.RUnlock()
	if !ok {
		return Position{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos.clone(), true
}

// HasOpen reports whether asset has an open position.
func (l *Ledger) HasOpen(asset string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byAsset[asset]
	return ok
}

// OpenPositions returns copies of every open position ordered by entry time.
func (l *Ledger) OpenPositions() []Position {
	l.mu.RLock()
	slots := make([]*slot, 0, len(l.byAsset))
	for _, s := range l.byAsset {
		slots = append(slots, s)
	}
	l.mu.RUnlock()

	out := make([]Position, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		out = append(out, s.pos.clone())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].Asset < out[j].Asset
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// Closed returns copies of closed positions in closing order.
func (l *Ledger) Closed() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.closed))
	for _, id := range l.closed {
		s := l.byID[id]
		s.mu.Lock()
		out = append(out, s.pos.clone())
		s.mu.Unlock()
	}
	return out
}

// Records returns exit records, all of them when positionID is empty.
func (l *Ledger) Records(positionID string) []ExitRecord {
	l.recMu.Lock()
	defer l.recMu.Unlock()
	out := make([]ExitRecord, 0, len(l.records))
	for _, r := range l.records {
		if positionID == "" || r.PositionID == positionID {
			out = append(out, r)
		}
	}
	return out
}

// Cash returns the uninvested balance.
func (l *Ledger) Cash() float64 {
	l.cashMu.Lock()
	defer l.cashMu.Unlock()
	return l.cash
}

// Equity is cash plus the marked value of every open position.
func (l *Ledger) Equity() float64 {
	equity := l.Cash()
	for _, p := range l.OpenPositions() {
		equity += p.Value()
	}
	return equity
}

// Holdings returns the risk-engine view of the open book.
func (l *Ledger) Holdings() []risk.Holding {
	return Holdings(l.OpenPositions())
}

// Load installs persisted open positions into an empty ledger. Their net cost
// (entry cost less proceeds already realized) is deducted from cash.
func (l *Ledger) Load(positions []Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.byID) > 0 {
		return errors.New("ledger already holds positions")
	}
	var cost float64
	for i := range positions {
		p := positions[i].clone()
		if p.ID == "" || p.Asset == "" {
			return fmt.Errorf("load position %q: missing id or asset", p.ID)
		}
		if p.ExitedAmount > p.EntryAmount {
			return fmt.Errorf("load position %s: exited %v exceeds entry %v", p.ID, p.ExitedAmount, p.EntryAmount)
		}
		if p.Status == StatusClosed {
			continue
		}
		if _, dup := l.byAsset[p.Asset]; dup {
			return fmt.Errorf("load position %s: %w", p.ID, ErrPositionExists)
		}
		s := &slot{pos: &p}
		l.byID[p.ID] = s
		l.byAsset[p.Asset] = s
		cost += p.EntryAmount*p.EntryPrice - (p.ExitedAmount*p.EntryPrice + p.RealizedPnL)
	}
	l.cashMu.Lock()
	l.cash -= cost
	cash := l.cash
	l.cashMu.Unlock()

	log.Info().Int("positions", len(l.byAsset)).Float64("cash", cash).Msg("Ledger loaded")
	return nil
}
