package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nimburion/repokit/pkg/observability/logger"
)

// PoolConfig holds the connection settings shared by the SQL adapters.
type PoolConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// QueryTimeout bounds statements issued without a caller deadline.
	QueryTimeout time.Duration
}

// Conn owns a pooled connection and the Store built on it. The postgres and
// mysql adapters embed it.
type Conn struct {
	db      *sql.DB
	store   *Store
	dialect Dialect
	logger  logger.Logger
}

// Connect sizes the pool of db, verifies it with a ping and builds the store.
// db is closed when the ping fails.
func Connect(db *sql.DB, dialect Dialect, cfg PoolConfig, log logger.Logger) (*Conn, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With("db_system", dialect.Name)

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect.Name, err)
	}

	log.Info("database connection established",
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
		"conn_max_lifetime", cfg.ConnMaxLifetime,
		"conn_max_idle_time", cfg.ConnMaxIdleTime,
	)
	return &Conn{
		db:      db,
		store:   New(db, dialect, log, WithQueryTimeout(cfg.QueryTimeout)),
		dialect: dialect,
		logger:  log,
	}, nil
}

// DB returns the underlying pool.
func (c *Conn) DB() *sql.DB { return c.db }

// Store returns the unit-of-work store over this connection.
func (c *Conn) Store() *Store { return c.store }

// HealthCheck pings the database with a 2s deadline.
func (c *Conn) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.db.PingContext(ctx); err != nil {
		c.logger.Error("database health check failed", "error", err)
		return fmt.Errorf("%s health check failed: %w", c.dialect.Name, err)
	}
	return nil
}

// Close releases the pool.
func (c *Conn) Close() error {
	c.logger.Info("closing database connection")
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close %s connection: %w", c.dialect.Name, err)
	}
	return nil
}
