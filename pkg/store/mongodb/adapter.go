// Package mongodb connects to MongoDB and exposes a document uow.Store.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nimburion/repokit/pkg/observability/logger"
)

const (
	defaultTimeout     = 5 * time.Second
	healthCheckTimeout = 2 * time.Second
)

var errClosed = errors.New("mongodb adapter is closed")

// Config holds MongoDB adapter configuration. Zero timeouts use 5s.
type Config struct {
	URL              string
	Database         string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	// Transactions commits each unit of work in a multi-document transaction.
	Transactions bool
}

// Adapter owns the client of one MongoDB deployment and hands out the
// document store of the configured database.
type Adapter struct {
	client *mongo.Client
	store  *Store
	logger logger.Logger
	closed atomic.Bool
}

// NewAdapter connects and pings the primary before returning.
//
// Cosa fa: apre il client, verifica il primary e prepara lo Store sul database configurato.
// Cosa NON fa: non crea indici o collezioni automaticamente.
// Esempio minimo: adapter, err := mongodb.NewAdapter(mongodb.Config{URL: url, Database: "library"}, log)
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	switch {
	case cfg.URL == "":
		return nil, errors.New("mongodb URL is required")
	case cfg.Database == "":
		return nil, errors.New("mongodb database is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultTimeout
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultTimeout
	}
	log = log.With("db_system", "mongodb", "database", cfg.Database)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.URL).
		SetServerSelectionTimeout(cfg.ConnectTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info("database connection established", "transactions", cfg.Transactions)
	return &Adapter{
		client: client,
		logger: log,
		store: NewStore(client.Database(cfg.Database), log,
			WithOperationTimeout(cfg.OperationTimeout),
			WithTransactions(cfg.Transactions),
		),
	}, nil
}

// Store returns the document store over the configured database.
func (a *Adapter) Store() *Store {
	return a.store
}

// Ping asks the primary for a round trip.
func (a *Adapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return errClosed
	}
	return a.client.Ping(ctx, readpref.Primary())
}

// HealthCheck is Ping bounded to two seconds.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := a.Ping(ctx); err != nil {
		a.logger.Error("database health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

// Close disconnects the client. Only the first call does anything.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
	return nil
}
