// Package sqlite is a single-file position store for local runs.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/sawpanic/cryptorisk/internal/ledger"
	"github.com/sawpanic/cryptorisk/internal/persistence"
)

const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	id            TEXT PRIMARY KEY,
	asset         TEXT NOT NULL,
	tag           TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	entry_time    TIMESTAMP NOT NULL,
	entry_price   REAL NOT NULL,
	entry_amount  REAL NOT NULL,
	entry_alpha   REAL NOT NULL,
	entry_factors TEXT NOT NULL,
	current_price REAL NOT NULL,
	last_factors  TEXT NOT NULL,
	last_update   TIMESTAMP NOT NULL,
	exited_amount REAL NOT NULL,
	realized_pnl  REAL NOT NULL,
	fired_levels  TEXT NOT NULL,
	trailing      TEXT NOT NULL,
	close_reason  TEXT NOT NULL DEFAULT '',
	closed_at     TIMESTAMP
);
CREATE INDEX IF NOT EXISTS positions_status_idx ON positions (status);

CREATE TABLE IF NOT EXISTS exit_records (
	id            TEXT PRIMARY KEY,
	position_id   TEXT NOT NULL,
	asset         TEXT NOT NULL,
	level_reached INTEGER NOT NULL,
	amount        REAL NOT NULL,
	price         REAL NOT NULL,
	realized_pnl  REAL NOT NULL,
	reason        TEXT NOT NULL,
	ts            TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS exit_records_position_idx ON exit_records (position_id, ts);
`

type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, timeout time.Duration) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, timeout: timeout}, nil
}

var upsertPosition = func() string {
	cols := persistence.PositionColumns
	updates := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf(`INSERT INTO positions (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s`,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(updates, ", "))
}()

func (s *Store) Save(ctx context.Context, p ledger.Position) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row, err := persistence.ToRow(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, upsertPosition,
		row.ID, row.Asset, row.Tag, row.Status, row.EntryTime, row.EntryPrice, row.EntryAmount,
		row.EntryAlpha, row.EntryFactors, row.CurrentPrice, row.LastFactors, row.LastUpdate,
		row.ExitedAmount, row.RealizedPnL, row.FiredLevels, row.Trailing, row.CloseReason, row.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to save position %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) AppendExit(ctx context.Context, rec ledger.ExitRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rec.Timestamp = rec.Timestamp.UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO exit_records (id, position_id, asset, level_reached, amount, price, realized_pnl, reason, ts)
		VALUES (:id, :position_id, :asset, :level_reached, :amount, :price, :realized_pnl, :reason, :ts)`, rec)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("exit record %s: %w", rec.ID, persistence.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert exit record: %w", err)
	}
	return nil
}

func (s *Store) LoadOpenPositions(ctx context.Context) ([]ledger.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []persistence.PositionRow
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE status <> ? ORDER BY entry_time, asset`,
		strings.Join(persistence.PositionColumns, ", "))
	if err := s.db.SelectContext(ctx, &rows, query, string(ledger.StatusClosed)); err != nil {
		return nil, fmt.Errorf("failed to load open positions: %w", err)
	}
	out := make([]ledger.Position, 0, len(rows))
	for _, row := range rows {
		p, err := row.Position()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Exits returns the stored exit records of a position, oldest first.
func (s *Store) Exits(ctx context.Context, positionID string) ([]ledger.ExitRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var recs []ledger.ExitRecord
	err := s.db.SelectContext(ctx, &recs, `
		SELECT id, position_id, asset, level_reached, amount, price, realized_pnl, reason, ts
		FROM exit_records WHERE position_id = ? ORDER BY ts, id`, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exit records: %w", err)
	}
	for i := range recs {
		recs[i].Timestamp = recs[i].Timestamp.UTC()
	}
	return recs, nil
}

// Ping reports whether the database file is usable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
