package mongodb

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/nimburion/repokit/pkg/domain"
	"github.com/nimburion/repokit/pkg/query"
	"github.com/nimburion/repokit/pkg/uow"
)

func TestStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("query decodes documents", func(mt *mtest.T) {
		s := NewStore(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "library.books", mtest.FirstBatch,
			bson.D{{Key: "_id", Value: int64(1)}, {Key: "title", Value: "Dune"}, {Key: "pages", Value: int32(412)}, {Key: "is_soft_deleted", Value: false}},
			bson.D{{Key: "_id", Value: int64(2)}, {Key: "title", Value: "Emma"}, {Key: "pages", Value: int32(320)}, {Key: "is_soft_deleted", Value: true}},
		))

		rows, err := s.Query(ctx, bookModel, query.Query{
			Where:   query.Where(query.Gt("pages", 100)),
			OrderBy: []query.Order{{Field: "title"}},
			Limit:   10,
		})
		if err != nil {
			mt.Fatalf("Query() error = %v", err)
		}
		if len(rows) != 2 {
			mt.Fatalf("Query() returned %d rows, want 2", len(rows))
		}
		first, second := rows[0].(*book), rows[1].(*book)
		if first.ID != 1 || first.Title != "Dune" || first.Pages != 412 {
			mt.Errorf("rows[0] = %+v", first)
		}
		if !second.IsSoftDeleted() {
			mt.Errorf("rows[1] should be soft-deleted")
		}
	})

	mt.Run("load of a missing document", func(mt *mtest.T) {
		s := NewStore(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "library.books", mtest.FirstBatch))

		_, found, err := s.Load(ctx, bookModel, int64(9))
		if err != nil || found {
			mt.Fatalf("Load() = found %v, err %v; want not found", found, err)
		}
	})

	mt.Run("insert assigns a counter key after commit", func(mt *mtest.T) {
		s := NewStore(mt.DB, nil)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{{Key: "_id", Value: "books"}, {Key: "seq", Value: int64(5)}}}),
			mtest.CreateSuccessResponse(),
		)

		b := &book{Title: "Dune"}
		if err := s.Commit(ctx, []uow.Change{{Model: bookModel, Op: uow.OpInsert, Entity: b}}); err != nil {
			mt.Fatalf("Commit() error = %v", err)
		}
		if b.ID != 5 {
			mt.Errorf("ID = %d, want 5", b.ID)
		}
	})

	mt.Run("insert of a uuid key", func(mt *mtest.T) {
		s := NewStore(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		n := &note{Body: "hi"}
		if err := s.Commit(ctx, []uow.Change{{Model: noteModel, Op: uow.OpInsert, Entity: n}}); err != nil {
			mt.Fatalf("Commit() error = %v", err)
		}
		if n.ID == uuid.Nil {
			mt.Error("expected a generated key")
		}
	})

	mt.Run("failed insert leaves the key unset", func(mt *mtest.T) {
		s := NewStore(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))

		n := &note{Body: "hi"}
		if err := s.Commit(ctx, []uow.Change{{Model: noteModel, Op: uow.OpInsert, Entity: n}}); err == nil {
			mt.Fatal("expected duplicate key error")
		}
		if n.ID != uuid.Nil {
			mt.Errorf("ID = %s, want unset", n.ID)
		}
	})

	mt.Run("versioned update bumps the version", func(mt *mtest.T) {
		s := NewStore(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		n := &note{ID: uuid.New(), Body: "edited", Version: 2}
		if err := s.Commit(ctx, []uow.Change{{Model: noteModel, Op: uow.OpUpdate, Entity: n}}); err != nil {
			mt.Fatalf("Commit() error = %v", err)
		}
		if n.Version != 3 {
			mt.Errorf("Version = %d, want 3", n.Version)
		}
	})

	mt.Run("version conflict", func(mt *mtest.T) {
		s := NewStore(mt.DB, nil)
		id := uuid.New()
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, "library.notes", mtest.FirstBatch,
				bson.D{{Key: "_id", Value: encodeValue(id)}, {Key: "version", Value: int64(4)}}),
		)

		n := &note{ID: id, Body: "edited", Version: 2}
		err := s.Commit(ctx, []uow.Change{{Model: noteModel, Op: uow.OpUpdate, Entity: n}})
		var lockErr *domain.OptimisticLockError
		if !errors.As(err, &lockErr) {
			mt.Fatalf("Commit() error = %v, want OptimisticLockError", err)
		}
		if lockErr.Expected != 2 || lockErr.Actual != 4 {
			mt.Errorf("lock error = %+v", lockErr)
		}
		if n.Version != 2 {
			mt.Errorf("Version = %d, want unchanged 2", n.Version)
		}
	})

	mt.Run("update of a vanished document is stale", func(mt *mtest.T) {
		s := NewStore(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		err := s.Commit(ctx, []uow.Change{{Model: bookModel, Op: uow.OpUpdate, Entity: &book{ID: 4, Title: "Gone"}}})
		if !errors.Is(err, uow.ErrStaleEntity) {
			mt.Fatalf("Commit() error = %v, want ErrStaleEntity", err)
		}
	})

	mt.Run("delete of a missing document is a no-op", func(mt *mtest.T) {
		s := NewStore(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}))

		if err := s.Commit(ctx, []uow.Change{{Model: bookModel, Op: uow.OpDelete, Entity: &book{ID: 4}}}); err != nil {
			mt.Fatalf("Commit() error = %v", err)
		}
	})

	mt.Run("delete without identity", func(mt *mtest.T) {
		s := NewStore(mt.DB, nil)
		err := s.Commit(ctx, []uow.Change{{Model: bookModel, Op: uow.OpDelete, Entity: &book{}}})
		if !errors.Is(err, uow.ErrNoIdentity) {
			mt.Fatalf("Commit() error = %v, want ErrNoIdentity", err)
		}
	})
}
