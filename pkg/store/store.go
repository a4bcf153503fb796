// Package store selects the backing store a unit of work commits to.
package store

import (
	"context"

	"github.com/nimburion/repokit/pkg/uow"
)

// Adapter is the minimal lifecycle and health contract for storage adapters.
type Adapter interface {
	HealthCheck(ctx context.Context) error
	Close() error
}

// Backend pairs a uow.Store with the connection that serves it.
type Backend struct {
	Type    string
	Store   uow.Store
	Adapter Adapter
}

// HealthCheck checks the underlying connection.
func (b *Backend) HealthCheck(ctx context.Context) error {
	return b.Adapter.HealthCheck(ctx)
}

// Close releases the underlying connection.
func (b *Backend) Close() error {
	return b.Adapter.Close()
}
