package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sawpanic/cryptorisk/internal/domain/risk"
	"github.com/sawpanic/cryptorisk/internal/ledger"
)

// MemoryStore keeps positions and exit records in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]ledger.Position
	exits     []ledger.ExitRecord
	exitIDs   map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]ledger.Position),
		exitIDs:   make(map[string]bool),
	}
}

func (m *MemoryStore) Save(ctx context.Context, p ledger.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.FiredLevels = append([]int(nil), p.FiredLevels...)
	m.mu.Lock()
	m.positions[p.ID] = p
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) AppendExit(ctx context.Context, rec ledger.ExitRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exitIDs[rec.ID] {
		return fmt.Errorf("exit record %s: %w", rec.ID, ErrDuplicate)
	}
	m.exitIDs[rec.ID] = true
	m.exits = append(m.exits, rec)
	return nil
}

func (m *MemoryStore) LoadOpenPositions(ctx context.Context) ([]ledger.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Position
	for _, p := range m.positions {
		if p.Status != ledger.StatusClosed {
			p.FiredLevels = append([]int(nil), p.FiredLevels...)
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].EntryTime.Before(out[j].EntryTime)
		}
		return out[i].Asset < out[j].Asset
	})
	return out, nil
}

// Exits returns the appended exit records in order.
func (m *MemoryStore) Exits() []ledger.ExitRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.ExitRecord(nil), m.exits...)
}

// MemoryArchive keeps the latest risk snapshot and a bounded history.
type MemoryArchive struct {
	mu      sync.RWMutex
	limit   int
	history []risk.Snapshot
}

// NewMemoryArchive keeps at most limit snapshots; limit <= 0 keeps 1000.
func NewMemoryArchive(limit int) *MemoryArchive {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryArchive{limit: limit}
}

func (a *MemoryArchive) Archive(ctx context.Context, s risk.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, s)
	if len(a.history) > a.limit {
		a.history = a.history[len(a.history)-a.limit:]
	}
	return nil
}

func (a *MemoryArchive) Latest(ctx context.Context) (risk.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return risk.Snapshot{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.history) == 0 {
		return risk.Snapshot{}, fmt.Errorf("risk snapshot: %w", ErrNotFound)
	}
	return a.history[len(a.history)-1], nil
}

// History returns archived snapshots, oldest first.
func (a *MemoryArchive) History() []risk.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]risk.Snapshot(nil), a.history...)
}
