package uow

import (
	"context"
	"errors"

	"github.com/nimburion/repokit/pkg/query"
	"github.com/nimburion/repokit/pkg/schema"
)

// Operation is the kind of write a Change applies.
type Operation int

// Write operations
const (
	OpInsert Operation = iota + 1
	OpUpdate
	OpDelete
)

// String returns the lower-case operation name.
func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ErrStaleEntity is returned by stores when an update targets a row that no
// longer exists. Deleting a missing row is not an error.
var ErrStaleEntity = errors.New("entity no longer exists in the store")

// Change is one staged write handed to the store at commit.
type Change struct {
	Model  *schema.Model
	Op     Operation
	Entity any
}

// Store is the backing store collaborator: it executes queries and applies
// staged writes. Implementations translate query.Query into their own
// language; the unit of work never renders one.
type Store interface {
	// Query returns new *E instances for the rows matching q.
	Query(ctx context.Context, model *schema.Model, q query.Query) ([]any, error)

	// Count returns the number of rows matching q.Where.
	Count(ctx context.Context, model *schema.Model, q query.Query) (int64, error)

	// Load returns the persisted row with the given key, ignoring any filter.
	Load(ctx context.Context, model *schema.Model, key any) (entity any, found bool, err error)

	// Commit applies changes atomically and in order. Inserts of entities with
	// a store-assigned key set the key on the entity, and updates of
	// domain.Versioned entities bump their version, once the write is durable.
	// Either every change is applied or none is.
	Commit(ctx context.Context, changes []Change) error
}
