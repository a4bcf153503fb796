// Package migrate applies versioned SQL scripts to the postgres and mysql
// stores. Scripts are named <version>_<name>.up.sql / .down.sql and applied
// versions are recorded in the schema_migrations table.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/squirrel"

	"github.com/nimburion/repokit/pkg/observability/logger"
	"github.com/nimburion/repokit/pkg/store/sqlstore"
)

const metadataTable = "schema_migrations"

var migrationNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_\-]+)\.(up|down)\.sql$`)

// Migration is one versioned schema change.
type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// PendingMigration is a migration not applied yet.
type PendingMigration struct {
	Version int64
	Name    string
}

// Status lists applied versions in ascending order and the pending migrations.
type Status struct {
	AppliedVersions []int64
	Pending         []PendingMigration
}

// Manager applies and reverts migrations on one database.
type Manager struct {
	db         *sql.DB
	dialect    sqlstore.Dialect
	migrations []Migration
	logger     logger.Logger
}

// NewManager loads the scripts in dir of files.
func NewManager(db *sql.DB, dialect sqlstore.Dialect, files fs.FS, dir string, log logger.Logger) (*Manager, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if files == nil {
		return nil, errors.New("migration files filesystem is required")
	}
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("migration directory is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	migrations, err := loadMigrations(files, dir)
	if err != nil {
		return nil, err
	}
	return &Manager{db: db, dialect: dialect, migrations: migrations, logger: log}, nil
}

// Migrations returns the loaded migrations in version order.
func (m *Manager) Migrations() []Migration {
	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	return out
}

// Up applies every pending migration in version order, each in its own
// transaction, and returns how many were applied.
func (m *Manager) Up(ctx context.Context) (int, error) {
	if err := m.ensureMetadataTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}
	done := make(map[int64]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	count := 0
	for _, mig := range m.migrations {
		if done[mig.Version] {
			continue
		}
		record := squirrel.Insert(metadataTable).
			Columns("version").
			Values(mig.Version).
			PlaceholderFormat(m.dialect.Placeholder)
		if err := m.apply(ctx, mig.UpSQL, record); err != nil {
			return count, fmt.Errorf("apply migration %d_%s: %w", mig.Version, mig.Name, err)
		}
		m.logger.Info("migration applied", "version", mig.Version, "name", mig.Name)
		count++
	}
	return count, nil
}

// Down reverts the last steps applied migrations, newest first. steps < 1
// reverts one.
func (m *Manager) Down(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	if err := m.ensureMetadataTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := len(applied) - 1; i >= 0 && count < steps; i-- {
		version := applied[i]
		mig, ok := m.byVersion(version)
		if !ok {
			return count, fmt.Errorf("migration definition not found for applied version %d", version)
		}
		if strings.TrimSpace(mig.DownSQL) == "" {
			return count, fmt.Errorf("down migration missing for version %d", version)
		}
		forget := squirrel.Delete(metadataTable).
			Where(squirrel.Eq{"version": version}).
			PlaceholderFormat(m.dialect.Placeholder)
		if err := m.apply(ctx, mig.DownSQL, forget); err != nil {
			return count, fmt.Errorf("revert migration %d_%s: %w", mig.Version, mig.Name, err)
		}
		m.logger.Info("migration reverted", "version", mig.Version, "name", mig.Name)
		count++
	}
	return count, nil
}

// Status reports applied and pending migrations.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	if err := m.ensureMetadataTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[int64]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	pending := make([]PendingMigration, 0)
	for _, mig := range m.migrations {
		if !done[mig.Version] {
			pending = append(pending, PendingMigration{Version: mig.Version, Name: mig.Name})
		}
	}
	return &Status{AppliedVersions: applied, Pending: pending}, nil
}

// apply runs script and the bookkeeping statement in one transaction.
// MySQL commits DDL implicitly, so there a failed script can leave partial
// schema changes behind.
func (m *Manager) apply(ctx context.Context, script string, bookkeeping squirrel.Sqlizer) error {
	stmt, args, err := bookkeeping.ToSql()
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func (m *Manager) ensureMetadataTable(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + metadataTable + ` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure %s table: %w", metadataTable, err)
	}
	return nil
}

func (m *Manager) appliedVersions(ctx context.Context) ([]int64, error) {
	stmt, args, err := squirrel.Select("version").
		From(metadataTable).
		OrderBy("version").
		PlaceholderFormat(m.dialect.Placeholder).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

func (m *Manager) byVersion(version int64) (Migration, bool) {
	for _, mig := range m.migrations {
		if mig.Version == version {
			return mig, true
		}
	}
	return Migration{}, false
}

// loadMigrations pairs up and down scripts by version. Files not matching
// the naming pattern are ignored; a version without an up script is an error.
func loadMigrations(files fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		return nil, fmt.Errorf("read migration files: %w", err)
	}

	byVersion := make(map[int64]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 4 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version %q: %w", matches[1], err)
		}
		payload, err := fs.ReadFile(files, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration file %q: %w", entry.Name(), err)
		}

		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version, Name: matches[2]}
			byVersion[version] = mig
		}
		if matches[3] == "up" {
			mig.UpSQL = string(payload)
		} else {
			mig.DownSQL = string(payload)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if strings.TrimSpace(mig.UpSQL) == "" {
			return nil, fmt.Errorf("missing up migration for version %d", mig.Version)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
