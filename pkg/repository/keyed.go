package repository

import (
	"context"
	"fmt"
	"reflect"

	"github.com/nimburion/repokit/pkg/query"
	"github.com/nimburion/repokit/pkg/schema"
	"github.com/nimburion/repokit/pkg/uow"
)

// Keyed implements KeyedRepository[E, K] for entities with a key column of type K.
type Keyed[E any, K comparable] struct {
	*Base[E]
}

var _ KeyedRepository[struct{ ID int64 }, int64] = (*Keyed[struct{ ID int64 }, int64])(nil)

// NewKeyed creates a keyed repository. model must declare a key column of type K.
func NewKeyed[E any, K comparable](model *schema.Model, u *uow.UnitOfWork) (*Keyed[E, K], error) {
	base, err := New[E](model, u)
	if err != nil {
		return nil, err
	}
	key := model.Key()
	if key == nil {
		return nil, fmt.Errorf("%s has no key column", model.Name())
	}
	if typ := reflect.TypeOf((*K)(nil)).Elem(); key.Type != typ {
		return nil, fmt.Errorf("%s key is %s, not %s", model.Name(), key.Type, typ)
	}
	return &Keyed[E, K]{Base: base}, nil
}

// FindByID returns the visible entity with id, or nil.
func (r *Keyed[E, K]) FindByID(ctx context.Context, id K) (*E, error) {
	column := r.model.Key().Column
	found, err := r.list(ctx, query.Query{
		Where:   query.Where(query.Eq(column, id)),
		OrderBy: []query.Order{{Field: column}},
		Limit:   1,
	})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// GetByID is like FindByID but fails with ErrNotFound.
func (r *Keyed[E, K]) GetByID(ctx context.Context, id K) (*E, error) {
	entity, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, &NotFoundError{Entity: r.model.Name(), ID: id}
	}
	return entity, nil
}

// DeleteByID deletes the visible entity with id. A missing id is not an error.
func (r *Keyed[E, K]) DeleteByID(ctx context.Context, id K, opts ...WriteOption) error {
	entity, err := r.FindByID(ctx, id)
	if err != nil || entity == nil {
		return err
	}
	return r.Delete(ctx, entity, opts...)
}

// DeleteManyByIDs deletes the visible entities whose key is in ids.
func (r *Keyed[E, K]) DeleteManyByIDs(ctx context.Context, ids []K, opts ...WriteOption) error {
	entities, err := r.byIDs(ctx, ids)
	if err != nil {
		return err
	}
	return r.DeleteMany(ctx, entities, opts...)
}

// HardDeleteByID physically removes the entity with id, soft-deleted or not.
func (r *Keyed[E, K]) HardDeleteByID(ctx context.Context, id K, opts ...WriteOption) error {
	entity, err := r.lookupUnfiltered(func() (*E, error) { return r.FindByID(ctx, id) })
	if err != nil || entity == nil {
		return err
	}
	return r.HardDelete(ctx, entity, opts...)
}

// HardDeleteManyByIDs physically removes the entities whose key is in ids,
// soft-deleted or not.
func (r *Keyed[E, K]) HardDeleteManyByIDs(ctx context.Context, ids []K, opts ...WriteOption) error {
	handle := r.uow.SoftDeleteFilter().Disable()
	entities, err := r.byIDs(ctx, ids)
	handle.Release()
	if err != nil {
		return err
	}
	return r.HardDeleteMany(ctx, entities, opts...)
}

func (r *Keyed[E, K]) lookupUnfiltered(find func() (*E, error)) (*E, error) {
	handle := r.uow.SoftDeleteFilter().Disable()
	defer handle.Release()
	return find()
}

func (r *Keyed[E, K]) byIDs(ctx context.Context, ids []K) ([]*E, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return r.GetMany(ctx, query.Where(query.In(r.model.Key().Column, values...)))
}
