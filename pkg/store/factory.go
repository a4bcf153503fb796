package store

import (
	"fmt"
	"strings"

	"github.com/nimburion/repokit/pkg/config"
	"github.com/nimburion/repokit/pkg/observability/logger"
	"github.com/nimburion/repokit/pkg/store/memory"
	"github.com/nimburion/repokit/pkg/store/mongodb"
	"github.com/nimburion/repokit/pkg/store/mysql"
	"github.com/nimburion/repokit/pkg/store/postgres"
)

// Cosa fa: seleziona e inizializza lo store in base alla config.
// Cosa NON fa: non crea tabelle o collezioni, non gestisce fallback tra provider diversi.
// Esempio minimo: backend, err := store.New(cfg.Database, log)
func New(cfg config.DatabaseConfig, log logger.Logger) (*Backend, error) {
	if log == nil {
		log = logger.NewNop()
	}
	kind := strings.ToLower(strings.TrimSpace(cfg.Type))

	switch kind {
	case "", config.DatabaseTypeMemory:
		s := memory.New(log)
		return &Backend{Type: config.DatabaseTypeMemory, Store: s, Adapter: s}, nil
	case config.DatabaseTypePostgres:
		a, err := postgres.NewPostgreSQLAdapter(postgres.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			QueryTimeout:    cfg.QueryTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return &Backend{Type: kind, Store: a.Store(), Adapter: a}, nil
	case config.DatabaseTypeMySQL:
		a, err := mysql.NewMySQLAdapter(mysql.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
			QueryTimeout:    cfg.QueryTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return &Backend{Type: kind, Store: a.Store(), Adapter: a}, nil
	case config.DatabaseTypeMongoDB:
		a, err := mongodb.NewAdapter(mongodb.Config{
			URL:              cfg.URL,
			Database:         cfg.DatabaseName,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.QueryTimeout,
			Transactions:     cfg.Transactions,
		}, log)
		if err != nil {
			return nil, err
		}
		return &Backend{Type: kind, Store: a.Store(), Adapter: a}, nil
	default:
		return nil, fmt.Errorf("unsupported database.type %q (supported: memory, postgres, mysql, mongodb)", cfg.Type)
	}
}
