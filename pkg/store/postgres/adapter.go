// Package postgres opens PostgreSQL pools for the SQL unit-of-work store.
package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/nimburion/repokit/pkg/observability/logger"
	"github.com/nimburion/repokit/pkg/store/sqlstore"
)

// Config holds PostgreSQL connection configuration.
type Config = sqlstore.PoolConfig

// PostgreSQLAdapter is a pooled PostgreSQL connection with its store.
type PostgreSQLAdapter struct {
	*sqlstore.Conn
}

// NewPostgreSQLAdapter opens the pool and verifies the connection.
func NewPostgreSQLAdapter(cfg Config, log logger.Logger) (*PostgreSQLAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newAdapter(db, cfg, log)
}

func newAdapter(db *sql.DB, cfg Config, log logger.Logger) (*PostgreSQLAdapter, error) {
	conn, err := sqlstore.Connect(db, sqlstore.Postgres, cfg, log)
	if err != nil {
		return nil, err
	}
	return &PostgreSQLAdapter{Conn: conn}, nil
}
