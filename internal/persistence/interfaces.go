package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/cryptorisk/internal/domain/risk"
	"github.com/sawpanic/cryptorisk/internal/ledger"
)

var (
	// ErrNotFound is returned when a lookup has no result.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an append-only record already exists.
	ErrDuplicate = errors.New("duplicate record")
)

// PositionStore persists ledger state. It is used at process start and stop
// and for exit records as they are booked, never for tick-path reads.
type PositionStore interface {
	// Save inserts or replaces the position with the same id
	Save(ctx context.Context, p ledger.Position) error

	// AppendExit adds an exit record; records are never updated
	AppendExit(ctx context.Context, rec ledger.ExitRecord) error

	// LoadOpenPositions returns every position that is not CLOSED, oldest first
	LoadOpenPositions(ctx context.Context) ([]ledger.Position, error)
}

// RiskArchive keeps portfolio risk snapshots for monitoring.
type RiskArchive interface {
	// Archive stores the snapshot as the latest and under its timestamp
	Archive(ctx context.Context, s risk.Snapshot) error

	// Latest returns the most recent snapshot or ErrNotFound
	Latest(ctx context.Context) (risk.Snapshot, error)
}

// Repository aggregates the persistence interfaces
type Repository struct {
	Positions PositionStore
	Archive   RiskArchive
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to database
	Ping(ctx context.Context) error
}
