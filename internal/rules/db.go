package rules

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/fluxgate/fluxgate/internal/config"
)

// DB wraps the sql.DB connection pool backing the rule repository.
type DB struct {
	pool *sql.DB
}

// NewDB opens and verifies a PostgreSQL connection pool using the provided
// configuration.
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	log.Info().Str("component", "rules").Msg("connecting to rule store")

	pool, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule store connection: %w", err)
	}

	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	db := &DB{pool: pool}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping rule store: %w", err)
	}

	log.Info().
		Str("component", "rules").
		Int("max_open_conns", cfg.MaxOpenConns).
		Msg("rule store connection established")

	return db, nil
}

// Pool returns the underlying *sql.DB.
func (db *DB) Pool() *sql.DB {
	return db.pool
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.PingContext(ctx); err != nil {
		return fmt.Errorf("rule store ping failed: %w", err)
	}
	return nil
}

// Stats returns connection pool statistics.
func (db *DB) Stats() sql.DBStats {
	return db.pool.Stats()
}

// Close closes the connection pool.
func (db *DB) Close() error {
	if err := db.pool.Close(); err != nil {
		return fmt.Errorf("failed to close rule store pool: %w", err)
	}
	return nil
}

// Health reports connection health for readiness probes.
func (db *DB) Health(ctx context.Context) map[string]interface{} {
	health := make(map[string]interface{})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		return health
	}

	stats := db.Stats()
	health["status"] = "healthy"
	health["open_connections"] = stats.OpenConnections
	health["in_use"] = stats.InUse
	health["idle"] = stats.Idle

	return health
}
