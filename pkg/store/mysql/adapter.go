// Package mysql opens MySQL pools for the SQL unit-of-work store.
package mysql

import (
	"database/sql"
	"fmt"

	driver "github.com/go-sql-driver/mysql"

	"github.com/nimburion/repokit/pkg/observability/logger"
	"github.com/nimburion/repokit/pkg/store/sqlstore"
)

// Config holds MySQL connection configuration. URL is a go-sql-driver DSN.
type Config = sqlstore.PoolConfig

// MySQLAdapter is a pooled MySQL connection with its store.
type MySQLAdapter struct {
	*sqlstore.Conn
}

// Cosa fa: inizializza un adapter MySQL con validazione e ping iniziale.
// Cosa NON fa: non esegue migrazioni schema né provisioning database.
// Esempio minimo: adapter, err := mysql.NewMySQLAdapter(cfg, log)
func NewMySQLAdapter(cfg Config, log logger.Logger) (*MySQLAdapter, error) {
	dsn, err := normalizeDSN(cfg.URL)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}
	return newAdapter(db, cfg, log)
}

// normalizeDSN enables parseTime so DATETIME columns scan into time.Time.
func normalizeDSN(url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("database URL is required")
	}
	dsn, err := driver.ParseDSN(url)
	if err != nil {
		return "", fmt.Errorf("invalid mysql DSN: %w", err)
	}
	dsn.ParseTime = true
	return dsn.FormatDSN(), nil
}

func newAdapter(db *sql.DB, cfg Config, log logger.Logger) (*MySQLAdapter, error) {
	conn, err := sqlstore.Connect(db, sqlstore.MySQL, cfg, log)
	if err != nil {
		return nil, err
	}
	return &MySQLAdapter{Conn: conn}, nil
}
