package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/nimburion/repokit/pkg/query"
	"github.com/nimburion/repokit/pkg/schema"
	"github.com/nimburion/repokit/pkg/uow"
)

// Base implements Repository[E] on top of a unit of work.
type Base[E any] struct {
	model *schema.Model
	uow   *uow.UnitOfWork
}

var _ Repository[struct{}] = (*Base[struct{}])(nil)

// New creates a repository for E described by model, bound to u.
func New[E any](model *schema.Model, u *uow.UnitOfWork) (*Base[E], error) {
	if model == nil {
		return nil, errors.New("model is nil")
	}
	if u == nil {
		return nil, uow.ErrNoUnitOfWork
	}
	if typ := reflect.TypeOf((*E)(nil)).Elem(); typ != model.Type() {
		return nil, fmt.Errorf("model %s describes %s, not %s", model.Name(), model.Type(), typ)
	}
	return &Base[E]{model: model, uow: u}, nil
}

// Model returns the entity model.
func (r *Base[E]) Model() *schema.Model { return r.model }

// UnitOfWork returns the unit of work the repository stages on.
func (r *Base[E]) UnitOfWork() *uow.UnitOfWork { return r.uow }

// GetAll returns every visible entity.
func (r *Base[E]) GetAll(ctx context.Context) ([]*E, error) {
	return r.list(ctx, query.Query{})
}

// GetMany returns the visible entities matching pred.
func (r *Base[E]) GetMany(ctx context.Context, pred query.Predicate) ([]*E, error) {
	return r.list(ctx, query.Query{Where: pred})
}

// Find returns the single visible entity matching pred, or nil.
func (r *Base[E]) Find(ctx context.Context, pred query.Predicate) (*E, error) {
	found, err := r.list(ctx, query.Query{Where: pred, Limit: 2})
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotUnique, r.model.Name())
	}
}

// Get is like Find but fails with ErrNotFound when nothing matches.
func (r *Base[E]) Get(ctx context.Context, pred query.Predicate) (*E, error) {
	entity, err := r.Find(ctx, pred)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, &NotFoundError{Entity: r.model.Name()}
	}
	return entity, nil
}

// Count returns the number of visible entities matching pred. A nil pred counts all.
func (r *Base[E]) Count(ctx context.Context, pred query.Predicate) (int64, error) {
	pred, err := r.resolve(pred)
	if err != nil {
		return 0, err
	}
	n, err := r.uow.Store().Count(ctx, r.model, query.Query{Where: r.scope(pred)})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.model.Name(), err)
	}
	return n, nil
}

// GetPage skips skip entities and returns up to take of the rest, ordered by
// sorting ("field [asc|desc], ..."). An empty sorting orders by key.
func (r *Base[E]) GetPage(ctx context.Context, skip, take int, sorting string) ([]*E, error) {
	if skip < 0 || take < 0 {
		return nil, fmt.Errorf("%w: skip=%d take=%d", ErrInvalidPage, skip, take)
	}
	orders, err := query.ParseSort(sorting)
	if err != nil {
		return nil, err
	}
	for i, o := range orders {
		f, ok := r.model.Lookup(o.Field)
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q on %s", ErrInvalidSort, o.Field, r.model.Name())
		}
		orders[i].Field = f.Column
	}
	if take == 0 {
		return []*E{}, nil
	}
	if len(orders) == 0 && r.model.Key() != nil {
		orders = []query.Order{{Field: r.model.Key().Column}}
	}
	return r.list(ctx, query.Query{OrderBy: orders, Offset: skip, Limit: take})
}

// Insert stages entity for insertion and returns it. With AutoCommit the
// store-assigned key is populated on return.
func (r *Base[E]) Insert(ctx context.Context, entity *E, opts ...WriteOption) (*E, error) {
	if entity == nil {
		return nil, ErrNilEntity
	}
	if err := r.uow.Add(r.model, entity); err != nil {
		return nil, err
	}
	if err := r.finish(ctx, opts); err != nil {
		return entity, err
	}
	return entity, nil
}

// InsertMany stages entities in order.
func (r *Base[E]) InsertMany(ctx context.Context, entities []*E, opts ...WriteOption) error {
	for _, entity := range entities {
		if entity == nil {
			return ErrNilEntity
		}
		if err := r.uow.Add(r.model, entity); err != nil {
			return err
		}
	}
	return r.finish(ctx, opts)
}

// Update stages entity for update and returns the tracked instance.
func (r *Base[E]) Update(ctx context.Context, entity *E, opts ...WriteOption) (*E, error) {
	if entity == nil {
		return nil, ErrNilEntity
	}
	tracked, err := r.uow.Update(r.model, entity)
	if err != nil {
		return nil, err
	}
	if err := r.finish(ctx, opts); err != nil {
		return tracked.(*E), err
	}
	return tracked.(*E), nil
}

// UpdateMany stages entities for update in order.
func (r *Base[E]) UpdateMany(ctx context.Context, entities []*E, opts ...WriteOption) error {
	for _, entity := range entities {
		if entity == nil {
			return ErrNilEntity
		}
		if _, err := r.uow.Update(r.model, entity); err != nil {
			return err
		}
	}
	return r.finish(ctx, opts)
}

// Delete stages the removal of entity. Soft-deletable entities are flagged at commit.
func (r *Base[E]) Delete(ctx context.Context, entity *E, opts ...WriteOption) error {
	return r.DeleteMany(ctx, []*E{entity}, opts...)
}

// DeleteMany stages the removal of entities.
func (r *Base[E]) DeleteMany(ctx context.Context, entities []*E, opts ...WriteOption) error {
	if err := r.remove(entities, false); err != nil {
		return err
	}
	return r.finish(ctx, opts)
}

// DeleteWhere stages the removal of every visible entity matching pred.
func (r *Base[E]) DeleteWhere(ctx context.Context, pred query.Predicate, opts ...WriteOption) error {
	entities, err := r.GetMany(ctx, pred)
	if err != nil {
		return err
	}
	return r.DeleteMany(ctx, entities, opts...)
}

// HardDelete stages the physical removal of entity.
func (r *Base[E]) HardDelete(ctx context.Context, entity *E, opts ...WriteOption) error {
	return r.HardDeleteMany(ctx, []*E{entity}, opts...)
}

// HardDeleteMany stages the physical removal of entities.
func (r *Base[E]) HardDeleteMany(ctx context.Context, entities []*E, opts ...WriteOption) error {
	if err := r.remove(entities, true); err != nil {
		return err
	}
	return r.finish(ctx, opts)
}

// HardDeleteWhere stages the physical removal of every visible entity matching pred.
func (r *Base[E]) HardDeleteWhere(ctx context.Context, pred query.Predicate, opts ...WriteOption) error {
	entities, err := r.GetMany(ctx, pred)
	if err != nil {
		return err
	}
	return r.HardDeleteMany(ctx, entities, opts...)
}

// remove marks every entity before staging any removal, so the pre-commit
// pass sees the complete hard-delete set.
func (r *Base[E]) remove(entities []*E, hard bool) error {
	for _, entity := range entities {
		if entity == nil {
			return ErrNilEntity
		}
	}
	if hard {
		for _, entity := range entities {
			r.uow.MarkHardDelete(r.model, entity)
		}
	}
	for _, entity := range entities {
		if err := r.uow.Remove(r.model, entity); err != nil {
			return err
		}
	}
	return nil
}

func (r *Base[E]) finish(ctx context.Context, opts []WriteOption) error {
	if !applyWriteOptions(opts).autoCommit {
		return nil
	}
	return r.uow.Commit(ctx)
}

func (r *Base[E]) list(ctx context.Context, q query.Query) ([]*E, error) {
	where, err := r.resolve(q.Where)
	if err != nil {
		return nil, err
	}
	q.Where = r.scope(where)

	rows, err := r.uow.Store().Query(ctx, r.model, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.model.Name(), err)
	}

	out := make([]*E, 0, len(rows))
	for _, row := range rows {
		tracked, err := r.uow.Attach(r.model, row)
		if err != nil {
			return nil, err
		}
		out = append(out, tracked.(*E))
	}
	return out, nil
}

// scope appends the soft-delete condition while the filter is enabled.
func (r *Base[E]) scope(pred query.Predicate) query.Predicate {
	sd := r.model.SoftDeleteField()
	if sd == nil || !r.uow.SoftDeleteFilter().IsEnabled() {
		return pred
	}
	return pred.And(query.Eq(sd.Column, false))
}

// resolve validates pred and returns a copy whose fields are column names.
// Conditions may name a field by column or by Go field name.
func (r *Base[E]) resolve(pred query.Predicate) (query.Predicate, error) {
	if len(pred) == 0 {
		return pred, nil
	}
	out := make(query.Predicate, len(pred))
	for i, c := range pred {
		f, ok := r.model.Lookup(c.Field)
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q on %s", ErrInvalidPredicate, c.Field, r.model.Name())
		}
		c.Field = f.Column
		out[i] = c
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
