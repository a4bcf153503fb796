package uow

import (
	"context"
	"errors"
)

// TransactionManager runs fn inside a transaction scope. If fn returns an
// error nothing staged is written; otherwise the scope is committed.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Manager creates one UnitOfWork per logical task. Units created by the same
// manager share the store and options, nothing else.
type Manager struct {
	store Store
	opts  []Option
}

var _ TransactionManager = (*Manager)(nil)

// NewManager creates a manager over store. opts are applied to every unit of work.
func NewManager(store Store, opts ...Option) *Manager {
	return &Manager{store: store, opts: opts}
}

// Begin starts a new unit of work.
func (m *Manager) Begin() *UnitOfWork {
	return New(m.store, m.opts...)
}

// WithUnitOfWork runs fn with a fresh unit of work, also reachable through
// FromContext, and commits it when fn succeeds.
func (m *Manager) WithUnitOfWork(ctx context.Context, fn func(ctx context.Context, u *UnitOfWork) error) error {
	u := m.Begin()
	ctx = NewContext(ctx, u)
	if err := fn(ctx, u); err != nil {
		return err
	}
	return u.Commit(ctx)
}

// WithTransaction implements TransactionManager. A unit of work already
// present in ctx is joined rather than nested: its owner commits it.
func (m *Manager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := FromContext(ctx); ok {
		return fn(ctx)
	}
	return m.WithUnitOfWork(ctx, func(ctx context.Context, _ *UnitOfWork) error {
		return fn(ctx)
	})
}

type contextKey struct{}

// ErrNoUnitOfWork is returned when an operation needs the unit of work of ctx and there is none.
var ErrNoUnitOfWork = errors.New("no unit of work in context")

// NewContext returns a context carrying u.
func NewContext(ctx context.Context, u *UnitOfWork) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// FromContext returns the unit of work carried by ctx.
func FromContext(ctx context.Context) (*UnitOfWork, bool) {
	u, ok := ctx.Value(contextKey{}).(*UnitOfWork)
	return u, ok && u != nil
}
