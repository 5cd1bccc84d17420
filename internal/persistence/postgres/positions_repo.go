package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/cryptorisk/internal/ledger"
	"github.com/sawpanic/cryptorisk/internal/persistence"
)

// Schema creates the positions and exit_records tables.
const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	id            TEXT PRIMARY KEY,
	asset         TEXT NOT NULL,
	tag           TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	entry_time    TIMESTAMPTZ NOT NULL,
	entry_price   DOUBLE PRECISION NOT NULL,
	entry_amount  DOUBLE PRECISION NOT NULL,
	entry_alpha   DOUBLE PRECISION NOT NULL,
	entry_factors JSONB NOT NULL,
	current_price DOUBLE PRECISION NOT NULL,
	last_factors  JSONB NOT NULL,
	last_update   TIMESTAMPTZ NOT NULL,
	exited_amount DOUBLE PRECISION NOT NULL,
	realized_pnl  DOUBLE PRECISION NOT NULL,
	fired_levels  JSONB NOT NULL,
	trailing      JSONB NOT NULL,
	close_reason  TEXT NOT NULL DEFAULT '',
	closed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS positions_status_idx ON positions (status);

CREATE TABLE IF NOT EXISTS exit_records (
	id            TEXT PRIMARY KEY,
	position_id   TEXT NOT NULL REFERENCES positions (id),
	asset         TEXT NOT NULL,
	level_reached INTEGER NOT NULL,
	amount        DOUBLE PRECISION NOT NULL,
	price         DOUBLE PRECISION NOT NULL,
	realized_pnl  DOUBLE PRECISION NOT NULL,
	reason        TEXT NOT NULL,
	ts            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS exit_records_position_idx ON exit_records (position_id, ts);
`

// positionsRepo implements persistence.PositionStore for PostgreSQL
type positionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPositionsRepo creates a new PostgreSQL position store
func NewPositionsRepo(db *sqlx.DB, timeout time.Duration) persistence.PositionStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &positionsRepo{
		db:      db,
		timeout: timeout,
	}
}

// Migrate creates the schema when it does not exist
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

var upsertPosition = func() string {
	cols := persistence.PositionColumns
	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols)-1)
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if c != "id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	return fmt.Sprintf(`INSERT INTO positions (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s`,
		strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))
}()

// Save inserts or replaces the position
func (r *positionsRepo) Save(ctx context.Context, p ledger.Position) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row, err := persistence.ToRow(p)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, upsertPosition,
		row.ID, row.Asset, row.Tag, row.Status, row.EntryTime, row.EntryPrice, row.EntryAmount,
		row.EntryAlpha, row.EntryFactors, row.CurrentPrice, row.LastFactors, row.LastUpdate,
		row.ExitedAmount, row.RealizedPnL, row.FiredLevels, row.Trailing, row.CloseReason, row.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to save position %s: %w", p.ID, err)
	}
	return nil
}

// AppendExit inserts an exit record; a repeated id is ErrDuplicate
func (r *positionsRepo) AppendExit(ctx context.Context, rec ledger.ExitRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO exit_records (id, position_id, asset, level_reached, amount, price, realized_pnl, reason, ts)
		VALUES (:id, :position_id, :asset, :level_reached, :amount, :price, :realized_pnl, :reason, :ts)`

	rec.Timestamp = rec.Timestamp.UTC()
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("exit record %s: %w", rec.ID, persistence.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert exit record: %w", err)
	}
	return nil
}

// LoadOpenPositions returns positions that are not closed, oldest first
func (r *positionsRepo) LoadOpenPositions(ctx context.Context) ([]ledger.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM positions WHERE status <> $1 ORDER BY entry_time, asset`,
		strings.Join(persistence.PositionColumns, ", "))

	var rows []persistence.PositionRow
	if err := r.db.SelectContext(ctx, &rows, query, string(ledger.StatusClosed)); err != nil {
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
