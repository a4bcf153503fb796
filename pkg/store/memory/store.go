// Package memory implements an in-process transactional store. Commits are
// applied to a copy of the current state and swapped in only when every
// change succeeded, so a failed commit leaves nothing behind.
package memory

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nimburion/repokit/pkg/domain"
	"github.com/nimburion/repokit/pkg/observability/logger"
	"github.com/nimburion/repokit/pkg/query"
	"github.com/nimburion/repokit/pkg/schema"
	"github.com/nimburion/repokit/pkg/uow"
)

// ErrDuplicateKey is returned when an insert reuses an existing key.
var ErrDuplicateKey = errors.New("duplicate key")

// Store is a uow.Store kept in memory. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	logger logger.Logger
}

var _ uow.Store = (*Store)(nil)

// table rows are immutable clones; writes replace them.
type table struct {
	rows   []any
	nextID int64
}

func (t *table) copy() *table {
	rows := make([]any, len(t.rows))
	copy(rows, t.rows)
	return &table{rows: rows, nextID: t.nextID}
}

// New creates an empty store.
func New(log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{tables: make(map[string]*table), logger: log}
}

// HealthCheck always succeeds.
func (s *Store) HealthCheck(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Query returns clones of the rows matching q.
func (s *Store) Query(ctx context.Context, model *schema.Model, q query.Query) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.match(model, q.Where)
	if err != nil {
		return nil, err
	}
	if err := sortRows(model, rows, q.OrderBy); err != nil {
		return nil, err
	}

	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[q.Offset:]
		}
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([]any, len(rows))
	for i, row := range rows {
		clone, err := model.Clone(row)
		if err != nil {
			return nil, err
		}
		out[i] = clone
	}
	return out, nil
}

// Count returns the number of rows matching q.Where.
func (s *Store) Count(ctx context.Context, model *schema.Model, q query.Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rows, err := s.match(model, q.Where)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// Load returns a clone of the row with key.
func (s *Store) Load(ctx context.Context, model *schema.Model, key any) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	t := s.tables[model.Table()]
	s.mu.RUnlock()
	if t == nil {
		return nil, false, nil
	}
	i, err := indexOf(model, t, key)
	if err != nil || i < 0 {
		return nil, false, err
	}
	clone, err := model.Clone(t.rows[i])
	if err != nil {
		return nil, false, err
	}
	return clone, true, nil
}

// Commit applies changes in order on a copy of the touched tables.
func (s *Store) Commit(ctx context.Context, changes []uow.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := make(map[string]*table)
	tableFor := func(m *schema.Model) *table {
		if t, ok := working[m.Table()]; ok {
			return t
		}
		t := &table{}
		if current, ok := s.tables[m.Table()]; ok {
			t = current.copy()
		}
		working[m.Table()] = t
		return t
	}

	// entity mutations are deferred until the new state is in place
	var after []func() error

	for _, c := range changes {
		t := tableFor(c.Model)
		var (
			apply func() error
			err   error
		)
		switch c.Op {
		case uow.OpInsert:
			apply, err = insert(c.Model, t, c.Entity)
		case uow.OpUpdate:
			apply, err = update(c.Model, t, c.Entity)
		case uow.OpDelete:
			err = remove(c.Model, t, c.Entity)
		default:
			err = fmt.Errorf("unsupported operation %v", c.Op)
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", c.Op, c.Model.Name(), err)
		}
		if apply != nil {
			after = append(after, apply)
		}
	}

	for name, t := range working {
		s.tables[name] = t
	}
	for _, apply := range after {
		if err := apply(); err != nil {
			return err
		}
	}

	s.logger.Debug("memory store committed", "changes", len(changes))
	return nil
}

func insert(model *schema.Model, t *table, entity any) (func() error, error) {
	row, err := model.Clone(entity)
	if err != nil {
		return nil, err
	}

	var apply func() error
	if key := model.Key(); key != nil {
		id, ok := model.KeyOf(entity)
		if !ok {
			if !key.Auto {
				return nil, fmt.Errorf("%s key is required", model.Name())
			}
			id, err = nextKey(key, t)
			if err != nil {
				return nil, err
			}
			if err := model.SetKey(row, id); err != nil {
				return nil, err
			}
			assigned := id
			apply = func() error { return model.SetKey(entity, assigned) }
		}
		existing, err := indexOf(model, t, id)
		if err != nil {
			return nil, err
		}
		if existing >= 0 {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateKey, id)
		}
	}

	t.rows = append(t.rows, row)
	return apply, nil
}

func nextKey(key *schema.Field, t *table) (any, error) {
	switch key.Type.Kind() {
	case reflect.String:
		return uuid.NewString(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		t.nextID++
		return schema.ConvertTo(t.nextID, key.Type)
	default:
		if key.Type == reflect.TypeOf(uuid.UUID{}) {
			return uuid.New(), nil
		}
		return nil, fmt.Errorf("cannot generate keys of type %s", key.Type)
	}
}

func update(model *schema.Model, t *table, entity any) (func() error, error) {
	id, ok := model.KeyOf(entity)
	if !ok {
		return nil, uow.ErrNoIdentity
	}
	i, err := indexOf(model, t, id)
	if err != nil {
		return nil, err
	}
	if i < 0 {
		return nil, fmt.Errorf("%w: %s %v", uow.ErrStaleEntity, model.Name(), id)
	}

	row, err := model.Clone(entity)
	if err != nil {
		return nil, err
	}

	var apply func() error
	if versioned, ok := entity.(domain.Versioned); ok && model.VersionField() != nil {
		actual := t.rows[i].(domain.Versioned).GetVersion()
		expected := versioned.GetVersion()
		if actual != expected {
			return nil, domain.NewOptimisticLockError(model.Name(), fmt.Sprint(id), expected, actual)
		}
		row.(domain.Versioned).SetVersion(expected + 1)
		apply = func() error {
			versioned.SetVersion(expected + 1)
			return nil
		}
	}

	t.rows[i] = row
	return apply, nil
}

func remove(model *schema.Model, t *table, entity any) error {
	id, ok := model.KeyOf(entity)
	if !ok {
		return uow.ErrNoIdentity
	}
	i, err := indexOf(model, t, id)
	if err != nil || i < 0 {
		return err
	}
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	return nil
}

func indexOf(model *schema.Model, t *table, key any) (int, error) {
	want, err := schema.ConvertTo(key, model.Key().Type)
	if err != nil {
		return -1, fmt.Errorf("key %v: %w", key, err)
	}
	for i, row := range t.rows {
		if got, _ := model.KeyOf(row); got == want {
			return i, nil
		}
	}
	return -1, nil
}

func (s *Store) match(model *schema.Model, pred query.Predicate) ([]any, error) {
	s.mu.RLock()
	t := s.tables[model.Table()]
	var rows []any
	if t != nil {
		rows = make([]any, len(t.rows))
		copy(rows, t.rows)
	}
	s.mu.RUnlock()

	if err := pred.Validate(); err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, row := range rows {
		ok, err := matches(model, row, pred)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func sortRows(model *schema.Model, rows []any, orders []query.Order) error {
	if len(orders) == 0 {
		return nil
	}
	for _, o := range orders {
		if _, ok := model.Field(o.Field); !ok {
			return fmt.Errorf("%w: unknown field %q", query.ErrInvalidSort, o.Field)
		}
	}
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orders {
			a, _ := model.Get(rows[i], o.Field)
			b, _ := model.Get(rows[j], o.Field)
			c, err := compare(a, b)
			if err != nil {
				sortErr = err
				return false
			}
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return sortErr
}
