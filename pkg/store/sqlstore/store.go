// Package sqlstore implements uow.Store over database/sql. Statements are
// built with squirrel from the entity schema.Model; column names come only
// from the model, never from caller input.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/repokit/pkg/domain"
	"github.com/nimburion/repokit/pkg/observability/logger"
	"github.com/nimburion/repokit/pkg/observability/tracing"
	"github.com/nimburion/repokit/pkg/query"
	"github.com/nimburion/repokit/pkg/schema"
	"github.com/nimburion/repokit/pkg/uow"
)

// Store is a uow.Store backed by a SQL database.
type Store struct {
	db           *sql.DB
	dialect      Dialect
	logger       logger.Logger
	queryTimeout time.Duration
}

var _ uow.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithQueryTimeout bounds every statement issued without a caller deadline.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.queryTimeout = d
	}
}

// New creates a store over db.
func New(db *sql.DB, dialect Dialect, log logger.Logger, opts ...Option) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Store{db: db, dialect: dialect, logger: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Query selects the rows matching q.
func (s *Store) Query(ctx context.Context, model *schema.Model, q query.Query) ([]any, error) {
	where, err := conditions(model, q.Where)
	if err != nil {
		return nil, err
	}
	b := squirrel.Select(model.Columns()...).
		From(model.Table()).
		PlaceholderFormat(s.dialect.Placeholder)
	if len(where) > 0 {
		b = b.Where(where)
	}

	for _, o := range q.OrderBy {
		if _, ok := model.Field(o.Field); !ok {
			return nil, fmt.Errorf("%w: unknown field %q", query.ErrInvalidSort, o.Field)
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		b = b.OrderBy(o.Field + " " + dir)
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		if q.Limit <= 0 && s.dialect.OffsetNeedsLimit {
			b = b.Limit(maxLimit)
		}
		b = b.Offset(uint64(q.Offset))
	}

	stmt, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	ctx, span := s.span(ctx, tracing.SpanOperationDBQuery, model, stmt)
	defer span.End()
	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("querying %s: %w", model.Table(), err)
	}
	defer rows.Close()

	out, err := scanAll(model, rows)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	tracing.RecordSuccess(span)
	return out, nil
}

// Count counts the rows matching q.Where.
func (s *Store) Count(ctx context.Context, model *schema.Model, q query.Query) (int64, error) {
	where, err := conditions(model, q.Where)
	if err != nil {
		return 0, err
	}
	b := squirrel.Select("COUNT(*)").
		From(model.Table()).
		PlaceholderFormat(s.dialect.Placeholder)
	if len(where) > 0 {
		b = b.Where(where)
	}
	stmt, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	ctx, span := s.span(ctx, tracing.SpanOperationDBCount, model, stmt)
	defer span.End()
	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		tracing.RecordError(span, err)
		return 0, fmt.Errorf("counting %s: %w", model.Table(), err)
	}
	tracing.RecordSuccess(span)
	return n, nil
}

// Load selects the row with key, regardless of its soft-delete flag.
func (s *Store) Load(ctx context.Context, model *schema.Model, key any) (any, bool, error) {
	if model.Key() == nil {
		return nil, false, fmt.Errorf("%s has no key column", model.Name())
	}
	stmt, args, err := squirrel.Select(model.Columns()...).
		From(model.Table()).
		Where(squirrel.Eq{model.Key().Column: key}).
		PlaceholderFormat(s.dialect.Placeholder).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("building load query: %w", err)
	}

	ctx, span := s.span(ctx, tracing.SpanOperationDBLoad, model, stmt)
	defer span.End()
	ctx, cancel := s.withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, false, fmt.Errorf("loading %s: %w", model.Table(), err)
	}
	defer rows.Close()

	out, err := scanAll(model, rows)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, false, err
	}
	tracing.RecordSuccess(span)
	if len(out) == 0 {
		return nil, false, nil
	}
	return out[0], true, nil
}

// Commit applies changes in one database transaction. Generated keys and
// bumped versions are written back to the entities after COMMIT succeeds.
func (s *Store) Commit(ctx context.Context, changes []uow.Change) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var after []func() error
	for _, c := range changes {
		var (
			apply func() error
			err   error
		)
		switch c.Op {
		case uow.OpInsert:
			apply, err = s.insert(ctx, tx, c.Model, c.Entity)
		case uow.OpUpdate:
			apply, err = s.update(ctx, tx, c.Model, c.Entity)
		case uow.OpDelete:
			err = s.delete(ctx, tx, c.Model, c.Entity)
		default:
			err = fmt.Errorf("unsupported operation %v", c.Op)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("failed to rollback transaction",
					"original_error", err,
					"rollback_error", rbErr,
				)
			}
			return fmt.Errorf("%s %s: %w", c.Op, c.Model.Name(), err)
		}
		if apply != nil {
			after = append(after, apply)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, apply := range after {
		if err := apply(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insert(ctx context.Context, tx execer, model *schema.Model, entity any) (func() error, error) {
	columns, values, err := model.Row(entity)
	if err != nil {
		return nil, err
	}

	key := model.Key()
	_, hasKey := model.KeyOf(entity)
	generate := key != nil && key.Auto && !hasKey

	var assigned any
	if generate {
		if id, ok := clientKey(key.Type); ok {
			columns = append(columns, key.Column)
			values = append(values, id)
			assigned = id
		}
	}

	b := squirrel.Insert(model.Table()).
		Columns(columns...).
		Values(values...).
		PlaceholderFormat(s.dialect.Placeholder)
	returning := generate && assigned == nil && s.dialect.Returning
	if returning {
		b = b.Suffix("RETURNING " + key.Column)
	}
	stmt, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert query: %w", err)
	}

	ctx, span := s.span(ctx, tracing.SpanOperationDBInsert, model, stmt)
	defer span.End()

	switch {
	case returning:
		var id any
		if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&id); err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		assigned = id
	default:
		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		if generate && assigned == nil {
			id, err := res.LastInsertId()
			if err != nil {
				tracing.RecordError(span, err)
				return nil, fmt.Errorf("reading generated key: %w", err)
			}
			assigned = id
		}
	}
	tracing.RecordSuccess(span)

	if assigned == nil {
		return nil, nil
	}
	return func() error { return model.SetKey(entity, assigned) }, nil
}

// clientKey generates keys the database cannot hand back portably.
func clientKey(typ reflect.Type) (any, bool) {
	switch {
	case typ == reflect.TypeOf(uuid.UUID{}):
		return uuid.New(), true
	case typ.Kind() == reflect.String:
		return uuid.NewString(), true
	default:
		return nil, false
	}
}

func (s *Store) update(ctx context.Context, tx execer, model *schema.Model, entity any) (func() error, error) {
	id, ok := model.KeyOf(entity)
	if !ok {
		return nil, uow.ErrNoIdentity
	}
	columns, values, err := model.Row(entity)
	if err != nil {
		return nil, err
	}

	versioned, _ := entity.(domain.Versioned)
	versionField := model.VersionField()
	if versionField == nil {
		versioned = nil
	}

	b := squirrel.Update(model.Table()).PlaceholderFormat(s.dialect.Placeholder)
	for i, col := range columns {
		switch {
		case col == model.Key().Column:
			continue
		case versioned != nil && col == versionField.Column:
			b = b.Set(col, versioned.GetVersion()+1)
		default:
			b = b.Set(col, values[i])
		}
	}
	where := squirrel.Eq{model.Key().Column: id}
	if versioned != nil {
		where[versionField.Column] = versioned.GetVersion()
	}
	stmt, args, err := b.Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building update query: %w", err)
	}

	ctx, span := s.span(ctx, tracing.SpanOperationDBUpdate, model, stmt)
	defer span.End()

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if err := s.explainMiss(ctx, tx, model, id, versioned); err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
	}
	tracing.RecordSuccess(span)

	if versioned == nil {
		return nil, nil
	}
	next := versioned.GetVersion() + 1
	return func() error {
		versioned.SetVersion(next)
		return nil
	}, nil
}

// explainMiss tells a vanished row from a version conflict after an update
// matched nothing. MySQL reports zero affected rows for unchanged values, so
// an existing unversioned row is not an error.
func (s *Store) explainMiss(ctx context.Context, tx execer, model *schema.Model, id any, versioned domain.Versioned) error {
	column := model.Key().Column
	if versioned != nil {
		column = model.VersionField().Column
	}
	stmt, args, err := squirrel.Select(column).
		From(model.Table()).
		Where(squirrel.Eq{model.Key().Column: id}).
		PlaceholderFormat(s.dialect.Placeholder).
		ToSql()
	if err != nil {
		return fmt.Errorf("building version query: %w", err)
	}

	var actual any
	err = tx.QueryRowContext(ctx, stmt, args...).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %v", uow.ErrStaleEntity, model.Name(), id)
	}
	if err != nil {
		return fmt.Errorf("failed to check entity version: %w", err)
	}
	if versioned == nil {
		return nil
	}
	v, err := schema.ConvertTo(actual, reflect.TypeOf(int64(0)))
	if err != nil {
		return fmt.Errorf("failed to read entity version: %w", err)
	}
	return domain.NewOptimisticLockError(model.Name(), fmt.Sprint(id), versioned.GetVersion(), v.(int64))
}

func (s *Store) delete(ctx context.Context, tx execer, model *schema.Model, entity any) error {
	id, ok := model.KeyOf(entity)
	if !ok {
		return uow.ErrNoIdentity
	}
	stmt, args, err := squirrel.Delete(model.Table()).
		Where(squirrel.Eq{model.Key().Column: id}).
		PlaceholderFormat(s.dialect.Placeholder).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}

	ctx, span := s.span(ctx, tracing.SpanOperationDBDelete, model, stmt)
	defer span.End()

	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	tracing.RecordSuccess(span)
	return nil
}

func (s *Store) span(ctx context.Context, op tracing.SpanOperation, model *schema.Model, stmt string) (context.Context, trace.Span) {
	return tracing.StartDatabaseSpan(ctx, op,
		tracing.WithDBSystem(s.dialect.Name),
		tracing.WithDBTable(model.Table()),
		tracing.WithDBStatement(stmt),
	)
}

func (s *Store) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}
