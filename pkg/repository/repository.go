// Package repository provides the generic CRUD and query surface over
// entities tracked by a unit of work.
//
// Reads go straight to the unit of work's store and are identity-resolved
// against its tracker. Writes are staged on the unit of work and written by
// its Commit, either explicitly or through the AutoCommit option.
//
// Deleting a soft-deletable entity flags it instead of removing the row; use
// the HardDelete family to force removal.
package repository

import (
	"context"

	"github.com/nimburion/repokit/pkg/query"
)

// Reader provides read operations for entities
type Reader[E any] interface {
	GetAll(ctx context.Context) ([]*E, error)
	GetMany(ctx context.Context, pred query.Predicate) ([]*E, error)
	// Find returns nil without error when nothing matches.
	Find(ctx context.Context, pred query.Predicate) (*E, error)
	// Get fails with ErrNotFound when nothing matches.
	Get(ctx context.Context, pred query.Predicate) (*E, error)
	Count(ctx context.Context, pred query.Predicate) (int64, error)
	GetPage(ctx context.Context, skip, take int, sorting string) ([]*E, error)
}

// Writer provides write operations for entities
type Writer[E any] interface {
	Insert(ctx context.Context, entity *E, opts ...WriteOption) (*E, error)
	InsertMany(ctx context.Context, entities []*E, opts ...WriteOption) error
	Update(ctx context.Context, entity *E, opts ...WriteOption) (*E, error)
	UpdateMany(ctx context.Context, entities []*E, opts ...WriteOption) error

	Delete(ctx context.Context, entity *E, opts ...WriteOption) error
	DeleteMany(ctx context.Context, entities []*E, opts ...WriteOption) error
	DeleteWhere(ctx context.Context, pred query.Predicate, opts ...WriteOption) error

	HardDelete(ctx context.Context, entity *E, opts ...WriteOption) error
	HardDeleteMany(ctx context.Context, entities []*E, opts ...WriteOption) error
	HardDeleteWhere(ctx context.Context, pred query.Predicate, opts ...WriteOption) error
}

// Repository combines Reader and Writer
type Repository[E any] interface {
	Reader[E]
	Writer[E]
}

// KeyedRepository adds by-key operations for entities with an identity column.
type KeyedRepository[E any, K comparable] interface {
	Repository[E]

	FindByID(ctx context.Context, id K) (*E, error)
	GetByID(ctx context.Context, id K) (*E, error)
	// DeleteByID is a no-op when no entity has id.
	DeleteByID(ctx context.Context, id K, opts ...WriteOption) error
	DeleteManyByIDs(ctx context.Context, ids []K, opts ...WriteOption) error
	// HardDeleteByID also reaches entities hidden by the soft-delete filter.
	HardDeleteByID(ctx context.Context, id K, opts ...WriteOption) error
	HardDeleteManyByIDs(ctx context.Context, ids []K, opts ...WriteOption) error
}

// WriteOption customizes a write operation.
type WriteOption func(*writeOptions)

type writeOptions struct {
	autoCommit bool
}

// AutoCommit commits the unit of work before the operation returns.
func AutoCommit() WriteOption {
	return func(o *writeOptions) {
		o.autoCommit = true
	}
}

func applyWriteOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
