package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/emstrack/mqttgate/pkg/observability"
)

// Config holds database connection settings.
type Config struct {
	// Driver is "postgres" or "sqlite3". The sqlite3 driver is intended
	// for development setups; production runs against postgres.
	Driver string
	DSN    string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns connection defaults suitable for production.
func DefaultConfig() Config {
	return Config{
		Driver:          string(DialectPostgres),
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// Dialect returns the migration dialect for the configured driver.
func (c Config) Dialect() Dialect {
	if c.Driver == string(DialectSQLite) {
		return DialectSQLite
	}
	return DialectPostgres
}

// Open connects to the database, applies pool settings and verifies the
// connection with a ping.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// ReportPoolStats copies the connection pool gauges into the metrics
// registry. metrics may be nil, in which case the snapshot is skipped.
func ReportPoolStats(db *sql.DB, metrics *observability.Metrics) {
	if metrics == nil {
		return
	}
	stats := db.Stats()
	metrics.DBConnectionsActive.Set(float64(stats.InUse))
	metrics.DBConnectionsIdle.Set(float64(stats.Idle))
}

// RunPoolStatsReporter snapshots the pool gauges on the given interval
// until ctx is cancelled. Run it on its own goroutine.
func RunPoolStatsReporter(ctx context.Context, db *sql.DB, metrics *observability.Metrics, interval time.Duration) {
	if metrics == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ReportPoolStats(db, metrics)
		}
	}
}
