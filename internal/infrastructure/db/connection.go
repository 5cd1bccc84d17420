package db

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptorisk/internal/config"
	"github.com/sawpanic/cryptorisk/internal/persistence"
	"github.com/sawpanic/cryptorisk/internal/persistence/postgres"
	"github.com/sawpanic/cryptorisk/internal/persistence/redisarchive"
	"github.com/sawpanic/cryptorisk/internal/persistence/sqlite"
)

// Pool holds PostgreSQL connection pool settings
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPool returns reasonable defaults for database connections
func DefaultPool() Pool {
	return Pool{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Manager owns the storage connections selected by configuration and the
// repositories built on them
type Manager struct {
	driver string
	pg     *sqlx.DB
	lite   *sqlite.Store
	rdb    *redis.Client
	repos  *persistence.Repository
	health *healthChecker
}

// NewManager opens the configured position store and risk archive. The
// archive falls back to memory when no redis address is configured.
func NewManager(ctx context.Context, cfg config.Storage, pool Pool) (*Manager, error) {
	m := &Manager{driver: cfg.Driver, repos: &persistence.Repository{}}

	switch cfg.Driver {
	case "", config.DriverMemory:
		m.driver = config.DriverMemory
		m.repos.Positions = persistence.NewMemoryStore()
		m.health = &healthChecker{driver: m.driver}

	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath, cfg.QueryTimeout)
		if err != nil {
			return nil, err
		}
		m.lite = store
		m.repos.Positions = store
		m.health = &healthChecker{driver: m.driver, ping: store.Ping}

	case config.DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("database DSN is required for the postgres driver")
		}
		db, err := sqlx.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(pool.MaxOpenConns)
		db.SetMaxIdleConns(pool.MaxIdleConns)
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := postgres.Migrate(pingCtx, db); err != nil {
			db.Close()
			return nil, err
		}
		m.pg = db
		m.repos.Positions = postgres.NewPositionsRepo(db, cfg.QueryTimeout)
		m.health = &healthChecker{driver: m.driver, db: db, timeout: cfg.QueryTimeout}

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	if cfg.RedisAddr != "" {
		archive, client, err := redisarchive.Dial(ctx, cfg.RedisAddr, cfg.ArchiveTTL)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.rdb = client
		m.repos.Archive = archive
	} else {
		m.repos.Archive = persistence.NewMemoryArchive(0)
	}

	log.Info().
		Str("driver", m.driver).
		Bool("redis_archive", m.rdb != nil).
		Msg("Persistence initialized")
	return m, nil
}

// Repository returns the repository collection
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

// Health returns the health checker interface
func (m *Manager) Health() persistence.RepositoryHealth {
	return m.health
}

// Driver returns the active storage driver name
func (m *Manager) Driver() string {
	return m.driver
}

// DB returns the PostgreSQL connection, nil for other drivers
func (m *Manager) DB() *sqlx.DB {
	return m.pg
}

// Close closes every open connection
func (m *Manager) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if m.pg != nil {
		keep(m.pg.Close())
	}
	if m.lite != nil {
		keep(m.lite.Close())
	}
	if m.rdb != nil {
		keep(m.rdb.Close())
	}
	return first
}

// healthChecker implements persistence.RepositoryHealth
type healthChecker struct {
	driver  string
	db      *sqlx.DB
	ping    func(context.Context) error
	timeout time.Duration
}

// Health returns current repository health status
func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	start := time.Now()
	check := persistence.HealthCheck{Healthy: true, LastCheck: start}

	if err := h.Ping(ctx); err != nil {
		check.Healthy = false
		check.Errors = append(check.Errors, fmt.Sprintf("ping failed: %v", err))
	}

	if h.db != nil {
		stats := h.db.Stats()
		check.ConnectionPool = map[string]int{
			"max_open":      stats.MaxOpenConnections,
			"open":          stats.OpenConnections,
			"in_use":        stats.InUse,
			"idle":          stats.Idle,
			"wait_count":    int(stats.WaitCount),
			"wait_duration": int(stats.WaitDuration.Milliseconds()),
		}
	} else {
		check.ConnectionPool = map[string]int{"status": 0}
	}
	if h.driver == config.DriverMemory {
		check.Errors = append(check.Errors, "in-memory persistence, state is lost on exit")
	}

	check.ResponseTimeMS = time.Since(start).Milliseconds()
	return check
}

// Ping tests basic connectivity to the store
func (h *healthChecker) Ping(ctx context.Context) error {
	switch {
	case h.db != nil:
		timeout := h.timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return h.db.PingContext(pingCtx)
	case h.ping != nil:
		return h.ping(ctx)
	default:
		return nil
	}
}
