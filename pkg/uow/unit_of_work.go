// Package uow implements the unit of work: the transaction boundary that
// tracks entity changes, rewrites deletes of soft-deletable entities into
// updates, commits through a Store and dispatches buffered domain events
// once the store has acknowledged the write.
//
// A UnitOfWork is confined to one logical task at a time. Independent units,
// one per request, share nothing and may run in parallel.
package uow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nimburion/repokit/pkg/datafilter"
	"github.com/nimburion/repokit/pkg/domain"
	"github.com/nimburion/repokit/pkg/observability/logger"
	"github.com/nimburion/repokit/pkg/observability/tracing"
	"github.com/nimburion/repokit/pkg/schema"
)

// UnitOfWork tracks entities, holds the items bag and owns the single
// commit operation.
type UnitOfWork struct {
	store      Store
	dispatcher *Dispatcher
	logger     logger.Logger
	metrics    *Metrics

	filterDefault bool
	filter        *datafilter.Filter
	items         Items

	entries []*entry
	index   map[Identity]*entry
	seq     int64
}

type entry struct {
	model  *schema.Model
	entity any
	// aliases are other instances of the same identity handed to the unit
	// of work; their event buffers are drained together with the entity's.
	aliases []any
	id      Identity
	state   State
	staged  int64
}

// Option configures a UnitOfWork.
type Option func(*UnitOfWork)

// WithPublisher enables post-commit event dispatch through p. Without a
// publisher event buffers are left untouched.
func WithPublisher(p Publisher) Option {
	return func(u *UnitOfWork) {
		if p != nil {
			u.dispatcher = NewDispatcher(p, u.logger, u.metrics)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(u *UnitOfWork) {
		if log != nil {
			u.logger = log
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(u *UnitOfWork) {
		u.metrics = m
	}
}

// WithSoftDeleteFilter sets the soft-delete filter state used when no
// override is live. The default is enabled.
func WithSoftDeleteFilter(enabled bool) Option {
	return func(u *UnitOfWork) {
		u.filterDefault = enabled
	}
}

// New creates a unit of work over store.
func New(store Store, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		store:         store,
		logger:        logger.NewNop(),
		filterDefault: true,
	}
	for _, opt := range opts {
		opt(u)
	}
	// options may arrive in any order
	if u.dispatcher != nil {
		u.dispatcher.logger = u.logger
		u.dispatcher.metrics = u.metrics
	}
	u.Reset()
	return u
}

// Reset discards every tracked entity, the items bag and any live filter
// override, starting a fresh transaction scope.
func (u *UnitOfWork) Reset() {
	u.entries = nil
	u.index = make(map[Identity]*entry)
	u.items = make(Items)
	u.filter = datafilter.New(u.filterDefault)
}

// Store returns the backing store.
func (u *UnitOfWork) Store() Store { return u.store }

// Items returns the items bag of the current transaction.
func (u *UnitOfWork) Items() Items { return u.items }

// SoftDeleteFilter returns the soft-delete filter of this unit of work.
func (u *UnitOfWork) SoftDeleteFilter() *datafilter.Filter { return u.filter }

// HardDeleteSet returns the hard-delete set of the current transaction,
// creating it on first use.
func (u *UnitOfWork) HardDeleteSet() *HardDeleteSet {
	return u.items.GetOrAdd(ItemHardDeletedEntities, func() any { return NewHardDeleteSet() }).(*HardDeleteSet)
}

// MarkHardDelete exempts the entity from soft-delete rewriting in this transaction.
func (u *UnitOfWork) MarkHardDelete(model *schema.Model, entity any) {
	u.HardDeleteSet().Add(model, entity)
}

// Attach tracks an entity loaded from the store as Unmodified. When an
// instance with the same identity is already tracked, the tracked instance is
// returned instead.
func (u *UnitOfWork) Attach(model *schema.Model, entity any) (any, error) {
	if err := model.Check(entity); err != nil {
		return nil, err
	}
	id := IdentityOf(model, entity)
	if e, ok := u.index[id]; ok {
		return e.entity, nil
	}
	u.track(model, entity, id, Unmodified)
	return entity, nil
}

// Add stages an insert.
func (u *UnitOfWork) Add(model *schema.Model, entity any) error {
	if err := model.Check(entity); err != nil {
		return err
	}
	id := IdentityOf(model, entity)
	if e, ok := u.index[id]; ok {
		if e.entity != entity {
			return fmt.Errorf("%w: %s %v", ErrIdentityConflict, model.Name(), id.Key)
		}
		if e.state == Deleted {
			e.state = Modified
			u.stage(e)
		}
		return nil
	}
	u.stage(u.track(model, entity, id, Added))
	return nil
}

// Update stages an update and returns the tracked instance. When another
// instance of the same identity is tracked, the entity's columns are copied
// onto it.
func (u *UnitOfWork) Update(model *schema.Model, entity any) (any, error) {
	if err := model.Check(entity); err != nil {
		return nil, err
	}
	id := IdentityOf(model, entity)
	if e, ok := u.index[id]; ok {
		if e.entity != entity {
			if err := model.CopyColumns(e.entity, entity); err != nil {
				return nil, err
			}
			e.alias(entity)
		}
		if e.state != Added {
			e.state = Modified
		}
		u.stage(e)
		return e.entity, nil
	}
	if _, ok := model.KeyOf(entity); !ok {
		return nil, fmt.Errorf("%w: cannot update %s", ErrNoIdentity, model.Name())
	}
	u.stage(u.track(model, entity, id, Modified))
	return entity, nil
}

// Remove marks the entity for removal. Whether the row is removed or
// flagged is decided at commit by the pre-commit pass. Removing an entity
// that was added in this transaction detaches it.
func (u *UnitOfWork) Remove(model *schema.Model, entity any) error {
	if err := model.Check(entity); err != nil {
		return err
	}
	id := IdentityOf(model, entity)
	if e, ok := u.index[id]; ok {
		if e.entity != entity {
			e.alias(entity)
		}
		switch e.state {
		case Added:
			e.state = Detached
			delete(u.index, id)
		case Detached:
		default:
			e.state = Deleted
			u.stage(e)
		}
		return nil
	}
	if _, ok := model.KeyOf(entity); !ok {
		return fmt.Errorf("%w: cannot remove %s", ErrNoIdentity, model.Name())
	}
	u.stage(u.track(model, entity, id, Deleted))
	return nil
}

// StateOf returns the tracking state of the entity's identity.
func (u *UnitOfWork) StateOf(model *schema.Model, entity any) State {
	if e, ok := u.index[IdentityOf(model, entity)]; ok {
		return e.state
	}
	return Detached
}

// HasChanges reports whether a commit would write anything.
func (u *UnitOfWork) HasChanges() bool {
	for _, e := range u.entries {
		switch e.state {
		case Added, Modified, Deleted:
			return true
		}
	}
	return false
}

func (u *UnitOfWork) track(model *schema.Model, entity any, id Identity, state State) *entry {
	e := &entry{model: model, entity: entity, id: id, state: state}
	u.entries = append(u.entries, e)
	u.index[id] = e
	return e
}

func (u *UnitOfWork) stage(e *entry) {
	u.seq++
	e.staged = u.seq
}

func (e *entry) alias(instance any) {
	for _, a := range e.aliases {
		if a == instance {
			return
		}
	}
	e.aliases = append(e.aliases, instance)
}

// Commit runs the pre-commit delete interception, applies staged changes
// through the store and, once the store has acknowledged them, dispatches
// buffered domain events.
//
// A store failure returns a *PersistenceError; nothing is published and event
// buffers stay intact. A handler failure returns a *DispatchError after the
// write is already durable. Cancellation is honoured up to the store commit;
// events collected after a successful write are delivered regardless.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "commit", Err: err}
	}

	if err := u.interceptDeletes(ctx); err != nil {
		return err
	}

	if changes := u.changes(); len(changes) > 0 {
		if err := u.flush(ctx, changes); err != nil {
			return err
		}
	}

	u.acceptChanges()
	u.items = make(Items)

	return u.dispatch(context.WithoutCancel(ctx))
}

// interceptDeletes rewrites every Deleted soft-deletable entry that is not in
// the hard-delete set into an update of the soft-delete flag. The persisted
// columns are reloaded first so unrelated pending edits are not written.
func (u *UnitOfWork) interceptDeletes(ctx context.Context) error {
	hard, _ := u.items[ItemHardDeletedEntities].(*HardDeleteSet)

	for _, e := range u.entries {
		if e.state != Deleted || !e.model.SoftDeletable() {
			continue
		}
		if hard.Contains(e.model, e.entity) {
			continue
		}

		persisted, found, err := u.store.Load(ctx, e.model, e.id.Key)
		if err != nil {
			return &PersistenceError{Op: "reload", Err: err}
		}
		if !found {
			u.logger.Debug("deleted entity no longer exists, detaching",
				"entity", e.model.Name(),
				"id", e.id.Key,
			)
			delete(u.index, e.id)
			e.state = Detached
			continue
		}
		if err := e.model.CopyColumns(e.entity, persisted); err != nil {
			return &PersistenceError{Op: "reload", Err: err}
		}
		e.entity.(domain.SoftDeletable).SetSoftDeleted(true)
		e.state = Modified

		u.metrics.incSoftDeleteRewrite()
		u.logger.Debug("delete rewritten into soft delete",
			"entity", e.model.Name(),
			"id", e.id.Key,
		)
	}
	return nil
}

func (u *UnitOfWork) changes() []Change {
	var staged []*entry
	for _, e := range u.entries {
		switch e.state {
		case Added, Modified, Deleted:
			staged = append(staged, e)
		}
	}
	sort.SliceStable(staged, func(i, j int) bool { return staged[i].staged < staged[j].staged })

	changes := make([]Change, len(staged))
	for i, e := range staged {
		changes[i] = Change{Model: e.model, Entity: e.entity}
		switch e.state {
		case Added:
			changes[i].Op = OpInsert
		case Modified:
			changes[i].Op = OpUpdate
		case Deleted:
			changes[i].Op = OpDelete
		}
	}
	return changes
}

func (u *UnitOfWork) flush(ctx context.Context, changes []Change) error {
	spanCtx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBTx, tracing.WithDBChanges(len(changes)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		tracing.RecordError(span, err)
		return &PersistenceError{Op: "commit", Err: err}
	}

	start := time.Now()
	err := u.store.Commit(spanCtx, changes)
	u.metrics.observeCommit(start, err)
	if err != nil {
		tracing.RecordError(span, err)
		u.logger.Error("unit of work commit failed",
			"changes", len(changes),
			"error", err,
		)
		return &PersistenceError{Op: "commit", Err: err}
	}

	tracing.RecordSuccess(span)
	u.logger.Debug("unit of work committed",
		"changes", len(changes),
		"duration", time.Since(start),
	)
	return nil
}

func (u *UnitOfWork) acceptChanges() {
	for _, e := range u.entries {
		switch e.state {
		case Added:
			if id := IdentityOf(e.model, e.entity); id != e.id {
				delete(u.index, e.id)
				e.id = id
				u.index[id] = e
			}
			e.state = Unmodified
		case Modified:
			e.state = Unmodified
		case Deleted:
			delete(u.index, e.id)
			e.state = Detached
		}
	}
}

func (u *UnitOfWork) dispatch(ctx context.Context) error {
	var sources []any
	if u.dispatcher != nil {
		sources = make([]any, 0, len(u.entries))
		for _, e := range u.entries {
			sources = append(sources, e.entity)
			sources = append(sources, e.aliases...)
		}
	}

	live := u.entries[:0]
	for _, e := range u.entries {
		if e.state != Detached {
			live = append(live, e)
		}
	}
	for i := len(live); i < len(u.entries); i++ {
		u.entries[i] = nil
	}
	u.entries = live

	if u.dispatcher == nil {
		return nil
	}
	return u.dispatcher.Dispatch(ctx, sources)
}
