package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nimburion/repokit/pkg/domain"
	"github.com/nimburion/repokit/pkg/query"
	"github.com/nimburion/repokit/pkg/schema"
	"github.com/nimburion/repokit/pkg/uow"
)

type book struct {
	ID     int64  `db:"id,pk,auto"`
	Title  string `db:"title"`
	Author string `db:"author"`
	domain.SoftDelete
	domain.Events
}

type doc struct {
	ID      int64  `db:"id,pk"`
	Body    string `db:"body"`
	Version int64  `db:"version,version"`
}

func (d *doc) GetVersion() int64        { return d.Version }
func (d *doc) SetVersion(version int64) { d.Version = version }

type tag struct {
	ID   string `db:"id,pk,auto"`
	Name string `db:"name"`
}

var (
	bookModel = schema.MustDescribe[book](schema.WithTable("books"))
	docModel  = schema.MustDescribe[doc](schema.WithTable("docs"))
	tagModel  = schema.MustDescribe[tag](schema.WithTable("tags"))

	bookColumns = []string{"id", "title", "author", "is_soft_deleted"}
)

func newMock(t *testing.T, dialect Dialect) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, dialect, nil), mock
}

func verify(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestQuery(t *testing.T) {
	s, mock := newMock(t, Postgres)

	mock.ExpectQuery(`SELECT id, title, author, is_soft_deleted FROM books WHERE .*title = \$1 AND is_soft_deleted = \$2.* ORDER BY title DESC LIMIT 2 OFFSET 1`).
		WithArgs("Dune", false).
		WillReturnRows(sqlmock.NewRows(bookColumns).
			AddRow(int64(3), []byte("Dune"), "Herbert", false).
			AddRow(int64(4), "Dune", "Anderson", int64(0)))

	rows, err := s.Query(context.Background(), bookModel, query.Query{
		Where:   query.Where(query.Eq("title", "Dune"), query.Eq("is_soft_deleted", false)),
		OrderBy: []query.Order{{Field: "title", Desc: true}},
		Offset:  1,
		Limit:   2,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Query() returned %d rows", len(rows))
	}
	first := rows[0].(*book)
	if first.ID != 3 || first.Title != "Dune" || first.Author != "Herbert" || first.SoftDeleted {
		t.Errorf("first row = %+v", first)
	}
	verify(t, mock)
}

func TestQuery_MySQLOffsetWithoutLimit(t *testing.T) {
	s, mock := newMock(t, MySQL)

	mock.ExpectQuery(`SELECT id, title, author, is_soft_deleted FROM books WHERE .*id IN \(\?,\?\).* LIMIT 18446744073709551615 OFFSET 5`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows(bookColumns))

	rows, err := s.Query(context.Background(), bookModel, query.Query{
		Where:  query.Where(query.In("id", int64(1), int64(2))),
		Offset: 5,
	})
	if err != nil || len(rows) != 0 {
		t.Fatalf("Query() = %v, %v", rows, err)
	}
	verify(t, mock)
}

func TestQuery_RejectsUnknownColumns(t *testing.T) {
	s, mock := newMock(t, Postgres)
	ctx := context.Background()

	if _, err := s.Query(ctx, bookModel, query.Query{Where: query.Where(query.Eq("title; DROP TABLE books", 1))}); !errors.Is(err, query.ErrInvalidPredicate) {
		t.Errorf("Query() error = %v, want invalid predicate", err)
	}
	if _, err := s.Query(ctx, bookModel, query.Query{OrderBy: []query.Order{{Field: "isbn"}}}); !errors.Is(err, query.ErrInvalidSort) {
		t.Errorf("Query() error = %v, want invalid sort", err)
	}
	if _, err := s.Count(ctx, bookModel, query.Query{Where: query.Where(query.Gt("isbn", 1))}); !errors.Is(err, query.ErrInvalidPredicate) {
		t.Errorf("Count() error = %v, want invalid predicate", err)
	}
	verify(t, mock)
}

func TestCount(t *testing.T) {
	s, mock := newMock(t, Postgres)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM books WHERE .*is_soft_deleted = \$1`).
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	n, err := s.Count(context.Background(), bookModel, query.Query{Where: query.Where(query.Eq("is_soft_deleted", false))})
	if err != nil || n != 4 {
		t.Errorf("Count() = %d, %v", n, err)
	}
	verify(t, mock)
}

func TestLoad(t *testing.T) {
	s, mock := newMock(t, Postgres)
	mock.ExpectQuery(`SELECT id, title, author, is_soft_deleted FROM books WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(bookColumns))

	_, found, err := s.Load(context.Background(), bookModel, int64(9))
	if err != nil || found {
		t.Errorf("Load() = %v, %v; want not found", found, err)
	}
	verify(t, mock)
}

func TestCommit_InsertReturningKey(t *testing.T) {
	s, mock := newMock(t, Postgres)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO books \(title,author,is_soft_deleted\) VALUES \(\$1,\$2,\$3\) RETURNING id`).
		WithArgs("Dune", "Herbert", false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	b := &book{Title: "Dune", Author: "Herbert"}
	if err := s.Commit(context.Background(), []uow.Change{{Model: bookModel, Op: uow.OpInsert, Entity: b}}); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if b.ID != 7 {
		t.Errorf("ID = %d, want 7", b.ID)
	}
	verify(t, mock)
}

func TestCommit_InsertLastInsertID(t *testing.T) {
	s, mock := newMock(t, MySQL)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO books \(title,author,is_soft_deleted\) VALUES \(\?,\?,\?\)`).
		WithArgs("Dune", "Herbert", false).
		WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectCommit()

	b := &book{Title: "Dune", Author: "Herbert"}
	if err := s.Commit(context.Background(), []uow.Change{{Model: bookModel, Op: uow.OpInsert, Entity: b}}); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if b.ID != 12 {
		t.Errorf("ID = %d, want 12", b.ID)
	}
	verify(t, mock)
}

func TestCommit_InsertClientGeneratedKey(t *testing.T) {
	s, mock := newMock(t, Postgres)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tags \(name,id\) VALUES \(\$1,\$2\)`).
		WithArgs("scifi", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tg := &tag{Name: "scifi"}
	if err := s.Commit(context.Background(), []uow.Change{{Model: tagModel, Op: uow.OpInsert, Entity: tg}}); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if tg.ID == "" {
		t.Error("expected generated key")
	}
	verify(t, mock)
}

func TestCommit_RollbackKeepsEntities(t *testing.T) {
	s, mock := newMock(t, Postgres)
	boom := errors.New("unique violation")
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO books`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(`DELETE FROM books WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnError(boom)
	mock.ExpectRollback()

	b := &book{Title: "Dune"}
	err := s.Commit(context.Background(), []uow.Change{
		{Model: bookModel, Op: uow.OpInsert, Entity: b},
		{Model: bookModel, Op: uow.OpDelete, Entity: &book{ID: 5}},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Commit() error = %v, want %v", err, boom)
	}
	if b.ID != 0 {
		t.Error("key must not be assigned after a rollback")
	}
	verify(t, mock)
}

func TestCommit_OptimisticLock(t *testing.T) {
	t.Run("bumps version", func(t *testing.T) {
		s, mock := newMock(t, Postgres)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE docs SET body = \$1, version = \$2 WHERE id = \$3 AND version = \$4`).
			WithArgs("text", int64(3), int64(1), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		d := &doc{ID: 1, Body: "text", Version: 2}
		if err := s.Commit(context.Background(), []uow.Change{{Model: docModel, Op: uow.OpUpdate, Entity: d}}); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		if d.Version != 3 {
			t.Errorf("version = %d, want 3", d.Version)
		}
		verify(t, mock)
	})

	t.Run("conflict", func(t *testing.T) {
		s, mock := newMock(t, Postgres)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE docs SET body = \$1, version = \$2 WHERE id = \$3 AND version = \$4`).
			WithArgs("text", int64(3), int64(1), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT version FROM docs WHERE id = \$1`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(5)))
		mock.ExpectRollback()

		d := &doc{ID: 1, Body: "text", Version: 2}
		err := s.Commit(context.Background(), []uow.Change{{Model: docModel, Op: uow.OpUpdate, Entity: d}})
		var lockErr *domain.OptimisticLockError
		if !errors.As(err, &lockErr) || lockErr.Expected != 2 || lockErr.Actual != 5 {
			t.Fatalf("Commit() error = %v, want optimistic lock conflict", err)
		}
		if d.Version != 2 {
			t.Errorf("version = %d, must be unchanged", d.Version)
		}
		verify(t, mock)
	})

	t.Run("vanished row", func(t *testing.T) {
		s, mock := newMock(t, Postgres)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE docs`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT version FROM docs WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"version"}))
		mock.ExpectRollback()

		err := s.Commit(context.Background(), []uow.Change{{Model: docModel, Op: uow.OpUpdate, Entity: &doc{ID: 1}}})
		if !errors.Is(err, uow.ErrStaleEntity) {
			t.Fatalf("Commit() error = %v, want stale entity", err)
		}
		verify(t, mock)
	})
}

func TestCommit_UnchangedMySQLRowIsNotStale(t *testing.T) {
	s, mock := newMock(t, MySQL)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE books SET title = \?, author = \?, is_soft_deleted = \? WHERE id = \?`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id FROM books WHERE id = \?`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectCommit()

	err := s.Commit(context.Background(), []uow.Change{{Model: bookModel, Op: uow.OpUpdate, Entity: &book{ID: 4, Title: "same"}}})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	verify(t, mock)
}

func TestUnitOfWork_SoftDeleteIssuesUpdate(t *testing.T) {
	s, mock := newMock(t, Postgres)

	mock.ExpectQuery(`SELECT id, title, author, is_soft_deleted FROM books WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(bookColumns).AddRow(int64(1), "Dune", "Herbert", false))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE books SET title = \$1, author = \$2, is_soft_deleted = \$3 WHERE id = \$4`).
		WithArgs("Dune", "Herbert", true, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u := uow.New(s)
	b := &book{ID: 1, Title: "unsaved edit", Author: "Herbert"}
	if err := u.Remove(bookModel, b); err != nil {
		t.Fatal(err)
	}
	if err := u.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if !b.SoftDeleted || b.Title != "Dune" {
		t.Errorf("entity = %+v", b)
	}
	verify(t, mock)
}

func TestUnitOfWork_HardDeleteIssuesDelete(t *testing.T) {
	s, mock := newMock(t, Postgres)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM books WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u := uow.New(s)
	b := &book{ID: 1}
	u.MarkHardDelete(bookModel, b)
	if err := u.Remove(bookModel, b); err != nil {
		t.Fatal(err)
	}
	if err := u.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	verify(t, mock)
}

func TestUnitOfWork_ConflictIsPersistenceError(t *testing.T) {
	s, mock := newMock(t, Postgres)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE docs`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM docs`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(9)))
	mock.ExpectRollback()

	u := uow.New(s)
	if _, err := u.Update(docModel, &doc{ID: 1, Body: "x", Version: 1}); err != nil {
		t.Fatal(err)
	}
	err := u.Commit(context.Background())
	var lockErr *domain.OptimisticLockError
	if !errors.Is(err, uow.ErrPersistence) || !errors.As(err, &lockErr) {
		t.Errorf("Commit() error = %v, want persistence error wrapping a lock conflict", err)
	}
	verify(t, mock)
}
