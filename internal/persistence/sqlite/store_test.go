package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorisk/internal/domain/factors"
	"github.com/sawpanic/cryptorisk/internal/ledger"
	"github.com/sawpanic/cryptorisk/internal/persistence"
)

var t0 = time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "risk.db")
	s, err := Open(path, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func position(id, asset string, entry time.Time) ledger.Position {
	return ledger.Position{
		ID:           id,
		Asset:        asset,
		Tag:          "mean_reversion",
		EntryTime:    entry,
		EntryPrice:   2,
		EntryAmount:  10,
		EntryFactors: factors.Neutral(),
		EntryAlpha:   0.45,
		CurrentPrice: 2.5,
		LastFactors:  factors.Neutral(),
		LastUpdate:   entry.Add(time.Minute),
		Status:       ledger.StatusOpen,
	}
}

var _ persistence.PositionStore = (*Store)(nil)

func TestSchemaCreated(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('positions','exit_records')`)
	require.NoError(t, err)
	defer rows.Close()
	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())
	assert.True(t, found["positions"])
	assert.True(t, found["exit_records"])
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	a := position("p-a", "WIF", t0.Add(time.Hour))
	b := position("p-b", "BONK", t0)
	c := position("p-c", "PEPE", t0)
	for _, p := range []ledger.Position{a, b, c} {
		require.NoError(t, s.Save(ctx, p))
	}

	// update in place: partial exit of a, close c
	a.ExitedAmount = 2.5
	a.RealizedPnL = 1.25
	a.FiredLevels = []int{1}
	a.Status = ledger.StatusPartiallyExited
	a.Trailing = ledger.TrailingStop{Activated: true, HighestPrice: 2.6, StopPrice: 2.08, ActivatedAt: t0.Add(2 * time.Hour)}
	require.NoError(t, s.Save(ctx, a))
	c.Status = ledger.StatusClosed
	c.ExitedAmount = c.EntryAmount
	c.CloseReason = "stop_loss"
	c.ClosedAt = t0.Add(3 * time.Hour)
	require.NoError(t, s.Save(ctx, c))

	loaded, err := s.LoadOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, b, loaded[0])
	assert.Equal(t, a, loaded[1])
}

func TestAppendExit(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	rec := ledger.ExitRecord{ID: "01J0000000000000000000000A", PositionID: "p-a", Asset: "WIF", Level: 1, Amount: 2.5, Price: 2.5, RealizedPnL: 1.25, Reason: "partial_exit", Timestamp: t0}
	require.NoError(t, s.AppendExit(ctx, rec))
	assert.ErrorIs(t, s.AppendExit(ctx, rec), persistence.ErrDuplicate)

	recs, err := s.Exits(ctx, "p-a")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec, recs[0])
}
