package mongodb

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/repokit/pkg/domain"
	"github.com/nimburion/repokit/pkg/observability/logger"
	"github.com/nimburion/repokit/pkg/observability/tracing"
	"github.com/nimburion/repokit/pkg/query"
	"github.com/nimburion/repokit/pkg/schema"
	"github.com/nimburion/repokit/pkg/uow"
)

// countersCollection holds the sequences used for integer keys.
const countersCollection = "_counters"

// Store is a uow.Store over a MongoDB database. Each model maps to the
// collection named by its table; the key column is stored as _id.
//
// Commits are atomic only WithTransactions. Without it, which is the default,
// changes are applied in order and a failure part-way leaves the earlier
// changes written.
type Store struct {
	db           *mongo.Database
	logger       logger.Logger
	timeout      time.Duration
	transactions bool
}

var _ uow.Store = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithOperationTimeout bounds every operation issued without a caller deadline.
func WithOperationTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		s.timeout = d
	}
}

// WithTransactions runs each commit in a multi-document transaction. It
// requires a replica set or sharded cluster; without it changes are applied
// one by one and a failure leaves the earlier ones in place.
func WithTransactions(enabled bool) StoreOption {
	return func(s *Store) {
		s.transactions = enabled
	}
}

// NewStore creates a store over db. It warns once when commits will not be
// atomic.
func NewStore(db *mongo.Database, log logger.Logger, opts ...StoreOption) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Store{db: db, logger: log}
	for _, opt := range opts {
		opt(s)
	}
	if !s.transactions {
		log.Warn("mongodb transactions disabled: a failed commit may leave earlier changes applied",
			"hint", "set database.transactions on a replica set")
	}
	return s
}

// Query finds the documents matching q.
func (s *Store) Query(ctx context.Context, model *schema.Model, q query.Query) ([]any, error) {
	f, err := filter(model, q.Where)
	if err != nil {
		return nil, err
	}
	sort, err := sortDocument(model, q.OrderBy)
	if err != nil {
		return nil, err
	}
	opts := options.Find()
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	ctx, span := s.span(ctx, tracing.SpanOperationDBQuery, model)
	defer span.End()
	ctx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	cursor, err := s.db.Collection(model.Table()).Find(ctx, f, opts)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("querying %s: %w", model.Table(), err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("reading %s: %w", model.Table(), err)
	}

	out := make([]any, 0, len(docs))
	for _, doc := range docs {
		entity, err := fromDocument(model, doc)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		out = append(out, entity)
	}
	tracing.RecordSuccess(span)
	return out, nil
}

// Count counts the documents matching q.Where.
func (s *Store) Count(ctx context.Context, model *schema.Model, q query.Query) (int64, error) {
	f, err := filter(model, q.Where)
	if err != nil {
		return 0, err
	}

	ctx, span := s.span(ctx, tracing.SpanOperationDBCount, model)
	defer span.End()
	ctx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	n, err := s.db.Collection(model.Table()).CountDocuments(ctx, f)
	if err != nil {
		tracing.RecordError(span, err)
		return 0, fmt.Errorf("counting %s: %w", model.Table(), err)
	}
	tracing.RecordSuccess(span)
	return n, nil
}

// Load finds the document with key, regardless of its soft-delete flag.
func (s *Store) Load(ctx context.Context, model *schema.Model, key any) (any, bool, error) {
	if model.Key() == nil {
		return nil, false, fmt.Errorf("%s has no key column", model.Name())
	}
	id, err := encodeAs(key, model.Key().Type)
	if err != nil {
		return nil, false, err
	}

	ctx, span := s.span(ctx, tracing.SpanOperationDBLoad, model)
	defer span.End()
	ctx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	var doc bson.M
	err = s.db.Collection(model.Table()).FindOne(ctx, bson.D{{Key: idField, Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		tracing.RecordSuccess(span)
		return nil, false, nil
	}
	if err != nil {
		tracing.RecordError(span, err)
		return nil, false, fmt.Errorf("loading %s: %w", model.Table(), err)
	}
	entity, err := fromDocument(model, doc)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, false, err
	}
	tracing.RecordSuccess(span)
	return entity, true, nil
}

// Commit applies changes in order, inside one transaction when enabled.
// Generated keys and bumped versions are written back to the entities once
// every change succeeded.
func (s *Store) Commit(ctx context.Context, changes []uow.Change) error {
	ctx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	if !s.transactions {
		after, err := s.apply(ctx, changes)
		if err != nil {
			return err
		}
		return runAfter(after)
	}

	session, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(context.Background())

	var after []func() error
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		// the callback may be retried on transient errors
		var err error
		after, err = s.apply(sc, changes)
		return nil, err
	})
	if err != nil {
		return err
	}
	return runAfter(after)
}

func runAfter(after []func() error) error {
	for _, apply := range after {
		if err := apply(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, changes []uow.Change) ([]func() error, error) {
	var after []func() error
	for _, c := range changes {
		var (
			apply func() error
			err   error
		)
		switch c.Op {
		case uow.OpInsert:
			apply, err = s.insert(ctx, c.Model, c.Entity)
		case uow.OpUpdate:
			apply, err = s.update(ctx, c.Model, c.Entity)
		case uow.OpDelete:
			err = s.delete(ctx, c.Model, c.Entity)
		default:
			err = fmt.Errorf("unsupported operation %v", c.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", c.Op, c.Model.Name(), err)
		}
		if apply != nil {
			after = append(after, apply)
		}
	}
	s.logger.Debug("mongodb changes applied", "changes", len(changes))
	return after, nil
}

func (s *Store) insert(ctx context.Context, model *schema.Model, entity any) (func() error, error) {
	doc, err := toDocument(model, entity)
	if err != nil {
		return nil, err
	}

	var assigned any
	if key := model.Key(); key != nil && key.Auto {
		if _, ok := model.KeyOf(entity); !ok {
			assigned, err = s.nextKey(ctx, model, key)
			if err != nil {
				return nil, err
			}
			doc = append(bson.D{{Key: idField, Value: encodeValue(assigned)}}, doc...)
		}
	}

	ctx, span := s.span(ctx, tracing.SpanOperationDBInsert, model)
	defer span.End()

	if _, err := s.db.Collection(model.Table()).InsertOne(ctx, doc); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	tracing.RecordSuccess(span)

	if assigned == nil {
		return nil, nil
	}
	return func() error { return model.SetKey(entity, assigned) }, nil
}

// nextKey generates a key client-side. Integer keys come from a per-collection
// counter document.
func (s *Store) nextKey(ctx context.Context, model *schema.Model, key *schema.Field) (any, error) {
	switch {
	case key.Type == uuidType:
		return uuid.New(), nil
	case key.Type == reflect.TypeOf(primitive.ObjectID{}):
		return primitive.NewObjectID(), nil
	case key.Type.Kind() == reflect.String:
		return uuid.NewString(), nil
	}

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.D{{Key: idField, Value: model.Table()}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return nil, fmt.Errorf("generating %s key: %w", model.Name(), err)
	}
	return schema.ConvertTo(counter.Seq, key.Type)
}

func (s *Store) update(ctx context.Context, model *schema.Model, entity any) (func() error, error) {
	id, ok := model.KeyOf(entity)
	if !ok {
		return nil, uow.ErrNoIdentity
	}
	doc, err := toDocument(model, entity)
	if err != nil {
		return nil, err
	}

	versioned, _ := entity.(domain.Versioned)
	versionField := model.VersionField()
	if versionField == nil {
		versioned = nil
	}

	set := make(bson.D, 0, len(doc))
	for _, e := range doc {
		switch {
		case e.Key == idField:
			continue
		case versioned != nil && e.Key == versionField.Column:
			set = append(set, bson.E{Key: e.Key, Value: versioned.GetVersion() + 1})
		default:
			set = append(set, e)
		}
	}
	match := bson.D{{Key: idField, Value: encodeValue(id)}}
	if versioned != nil {
		match = append(match, bson.E{Key: versionField.Column, Value: versioned.GetVersion()})
	}

	ctx, span := s.span(ctx, tracing.SpanOperationDBUpdate, model)
	defer span.End()

	res, err := s.db.Collection(model.Table()).UpdateOne(ctx, match, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	if res.MatchedCount == 0 {
		err := s.explainMiss(ctx, model, id, versioned)
		tracing.RecordError(span, err)
		return nil, err
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

// explainMiss tells a vanished document from a version conflict.
func (s *Store) explainMiss(ctx context.Context, model *schema.Model, id any, versioned domain.Versioned) error {
	if versioned == nil {
		return fmt.Errorf("%w: %s %v", uow.ErrStaleEntity, model.Name(), id)
	}
	column := model.VersionField().Column
	var doc bson.M
	err := s.db.Collection(model.Table()).FindOne(ctx,
		bson.D{{Key: idField, Value: encodeValue(id)}},
		options.FindOne().SetProjection(bson.D{{Key: column, Value: 1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s %v", uow.ErrStaleEntity, model.Name(), id)
	}
	if err != nil {
		return fmt.Errorf("failed to check entity version: %w", err)
	}
	actual, err := schema.ConvertTo(doc[column], reflect.TypeOf(int64(0)))
	if err != nil {
		return fmt.Errorf("failed to read entity version: %w", err)
	}
	return domain.NewOptimisticLockError(model.Name(), fmt.Sprint(id), versioned.GetVersion(), actual.(int64))
}

func (s *Store) delete(ctx context.Context, model *schema.Model, entity any) error {
	id, ok := model.KeyOf(entity)
	if !ok {
		return uow.ErrNoIdentity
	}

	ctx, span := s.span(ctx, tracing.SpanOperationDBDelete, model)
	defer span.End()

	if _, err := s.db.Collection(model.Table()).DeleteOne(ctx, bson.D{{Key: idField, Value: encodeValue(id)}}); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	tracing.RecordSuccess(span)
	return nil
}

func (s *Store) span(ctx context.Context, op tracing.SpanOperation, model *schema.Model) (context.Context, trace.Span) {
	return tracing.StartDatabaseSpan(ctx, op,
		tracing.WithDBSystem("mongodb"),
		tracing.WithDBTable(model.Table()),
	)
}

func (s *Store) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
