package cli

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/nimburion/repokit/pkg/config"
	"github.com/nimburion/repokit/pkg/migrate"
	"github.com/nimburion/repokit/pkg/store/sqlstore"
)

//go:embed migrations
var migrationFiles embed.FS

var migrationDialects = map[string]sqlstore.Dialect{
	config.DatabaseTypePostgres: sqlstore.Postgres,
	config.DatabaseTypeMySQL:    sqlstore.MySQL,
}

// newMigrator returns the migration manager for SQL backends, or nil for
// backends that need no schema.
func newMigrator(rt *Runtime) (*migrate.Manager, error) {
	dialect, ok := migrationDialects[rt.Backend.Type]
	if !ok {
		return nil, nil
	}
	conn, ok := rt.Backend.Adapter.(interface{ DB() *sql.DB })
	if !ok {
		return nil, fmt.Errorf("%s adapter exposes no database handle", rt.Backend.Type)
	}
	return migrate.NewManager(conn.DB(), dialect, migrationFiles, "migrations/"+rt.Backend.Type, rt.Logger)
}
