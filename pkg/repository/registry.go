package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/nimburion/repokit/pkg/schema"
	"github.com/nimburion/repokit/pkg/uow"
)

// ErrUndeclared is returned when a repository is requested for an entity type
// that was never registered.
var ErrUndeclared = errors.New("entity type not declared")

// Registry maps entity types to their models. It is populated once at
// start-up and read concurrently afterwards.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*schema.Model
	byName map[string]*schema.Model
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]*schema.Model),
		byName: make(map[string]*schema.Model),
	}
}

// Register adds models. Type tags must be unique.
func (r *Registry) Register(models ...*schema.Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range models {
		if m == nil {
			return errors.New("model is nil")
		}
		if _, dup := r.byName[m.Name()]; dup {
			return fmt.Errorf("entity %q already declared", m.Name())
		}
		if _, dup := r.byType[m.Type()]; dup {
			return fmt.Errorf("entity type %s already declared", m.Type())
		}
		r.byType[m.Type()] = m
		r.byName[m.Name()] = m
	}
	return nil
}

// Declare describes E and registers its model.
func Declare[E any](r *Registry, opts ...schema.Option) (*schema.Model, error) {
	m, err := schema.Describe[E](opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Model returns the model registered under name.
func (r *Registry) Model(name string) (*schema.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// Models returns every registered model ordered by name.
func (r *Registry) Models() []*schema.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*schema.Model, 0, len(r.byName))
	for _, m := range r.byName {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func modelFor[E any](r *Registry) (*schema.Model, error) {
	typ := reflect.TypeOf((*E)(nil)).Elem()
	r.mu.RLock()
	m, ok := r.byType[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUndeclared, typ)
	}
	return m, nil
}

// For returns a repository for E bound to u.
func For[E any](r *Registry, u *uow.UnitOfWork) (*Base[E], error) {
	m, err := modelFor[E](r)
	if err != nil {
		return nil, err
	}
	return New[E](m, u)
}

// ForKeyed returns a keyed repository for E bound to u.
func ForKeyed[E any, K comparable](r *Registry, u *uow.UnitOfWork) (*Keyed[E, K], error) {
	m, err := modelFor[E](r)
	if err != nil {
		return nil, err
	}
	return NewKeyed[E, K](m, u)
}

// ForContext returns a keyed repository bound to the unit of work carried by ctx.
func ForContext[E any, K comparable](ctx context.Context, r *Registry) (*Keyed[E, K], error) {
	u, ok := uow.FromContext(ctx)
	if !ok {
		return nil, uow.ErrNoUnitOfWork
	}
	return ForKeyed[E, K](r, u)
}
