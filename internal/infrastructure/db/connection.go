// Package db manages the Postgres connection pool and hands out the
// repository set backed by it.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/luv91/tariffstack/internal/persistence"
	"github.com/luv91/tariffstack/internal/persistence/postgres"
)

// Config holds database connection configuration.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DefaultConfig returns pool defaults sized for a single admin process.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// Repositories bundles every repository the services need, all sharing one
// pool.
type Repositories struct {
	Rates      persistence.RateReader
	Prober     persistence.InvariantProber
	Stats      persistence.RateStatsReader
	Evidence   persistence.EvidenceRepo
	Queue      persistence.QueueRepo
	Review     persistence.ReviewRepo
	Runs       persistence.RunRepo
	Audit      persistence.AuditRepo
	Exclusions persistence.ExclusionRepo
}

// Manager owns the sqlx pool and the repositories built on it.
type Manager struct {
	db     *sqlx.DB
	config Config
	repos  *Repositories
}

// NewManager opens the pool, verifies connectivity, and builds the
// repository set. Callers own Close.
func NewManager(config Config) (*Manager, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = DefaultConfig().QueryTimeout
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	t := config.QueryTimeout
	repos := &Repositories{
		Rates:      postgres.NewRatesRepo(db, t),
		Prober:     postgres.NewInvariantProber(db, t),
		Stats:      postgres.NewRateStats(db, t),
		Evidence:   postgres.NewEvidenceRepo(db, t),
		Queue:      postgres.NewQueueRepo(db, t),
		Review:     postgres.NewReviewRepo(db, t),
		Runs:       postgres.NewRunRepo(db, t),
		Audit:      postgres.NewAuditRepo(db, t),
		Exclusions: postgres.NewExclusionRepo(db, t),
	}

	return &Manager{db: db, config: config, repos: repos}, nil
}

// Repositories returns the repository set.
func (m *Manager) Repositories() *Repositories { return m.repos }

// DB returns the underlying pool, for migrations and the commit engine.
func (m *Manager) DB() *sqlx.DB { return m.db }

// Ping tests connectivity.
func (m *Manager) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout)
	defer cancel()
	return m.db.PingContext(pingCtx)
}

// Stats reports connection-pool statistics for the freshness surface.
func (m *Manager) Stats() map[string]any {
	stats := m.db.Stats()
	return map[string]any{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// Close closes the pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
