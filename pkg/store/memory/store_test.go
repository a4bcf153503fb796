package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nimburion/repokit/pkg/domain"
	"github.com/nimburion/repokit/pkg/query"
	"github.com/nimburion/repokit/pkg/schema"
	"github.com/nimburion/repokit/pkg/uow"
)

type book struct {
	ID        int64     `db:"id,pk,auto"`
	Title     string    `db:"title"`
	Year      int       `db:"year"`
	Published time.Time `db:"published"`
	Version   int64     `db:"version,version"`
	domain.SoftDelete
}

func (b *book) GetVersion() int64        { return b.Version }
func (b *book) SetVersion(version int64) { b.Version = version }

type label struct {
	ID   uuid.UUID `db:"id,pk,auto"`
	Name string    `db:"name"`
}

var (
	bookModel  = schema.MustDescribe[book]()
	labelModel = schema.MustDescribe[label]()
)

func seed(t *testing.T, s *Store, books ...*book) {
	t.Helper()
	changes := make([]uow.Change, len(books))
	for i, b := range books {
		changes[i] = uow.Change{Model: bookModel, Op: uow.OpInsert, Entity: b}
	}
	if err := s.Commit(context.Background(), changes); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}

func titles(rows []any) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.(*book).Title
	}
	return out
}

func TestStore_InsertAssignsKeys(t *testing.T) {
	s := New(nil)
	a, b := &book{Title: "A"}, &book{Title: "B"}
	seed(t, s, a, b)
	if a.ID != 1 || b.ID != 2 {
		t.Errorf("keys = %d, %d", a.ID, b.ID)
	}

	l := &label{Name: "scifi"}
	if err := s.Commit(context.Background(), []uow.Change{{Model: labelModel, Op: uow.OpInsert, Entity: l}}); err != nil {
		t.Fatal(err)
	}
	if l.ID == uuid.Nil {
		t.Error("expected generated uuid key")
	}

	err := s.Commit(context.Background(), []uow.Change{{Model: bookModel, Op: uow.OpInsert, Entity: &book{ID: 1}}})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("duplicate insert error = %v", err)
	}
}

func TestStore_CommitIsAtomic(t *testing.T) {
	s := New(nil)
	seed(t, s, &book{Title: "A"})

	fresh := &book{Title: "B"}
	err := s.Commit(context.Background(), []uow.Change{
		{Model: bookModel, Op: uow.OpInsert, Entity: fresh},
		{Model: bookModel, Op: uow.OpUpdate, Entity: &book{ID: 99}},
	})
	if !errors.Is(err, uow.ErrStaleEntity) {
		t.Fatalf("Commit() error = %v, want stale entity", err)
	}
	if fresh.ID != 0 {
		t.Error("key must not be assigned when the commit fails")
	}
	if n, _ := s.Count(context.Background(), bookModel, query.Query{}); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestStore_OptimisticLock(t *testing.T) {
	s := New(nil)
	b := &book{Title: "A"}
	seed(t, s, b)

	b.Title = "A2"
	if err := s.Commit(context.Background(), []uow.Change{{Model: bookModel, Op: uow.OpUpdate, Entity: b}}); err != nil {
		t.Fatal(err)
	}
	if b.Version != 1 {
		t.Errorf("version = %d, want 1", b.Version)
	}

	stale := &book{ID: b.ID, Title: "A3"}
	err := s.Commit(context.Background(), []uow.Change{{Model: bookModel, Op: uow.OpUpdate, Entity: stale}})
	var lockErr *domain.OptimisticLockError
	if !errors.As(err, &lockErr) || lockErr.Expected != 0 || lockErr.Actual != 1 {
		t.Errorf("Commit() error = %v, want optimistic lock conflict", err)
	}
}

func TestStore_DeleteMissingIsNoop(t *testing.T) {
	s := New(nil)
	if err := s.Commit(context.Background(), []uow.Change{{Model: bookModel, Op: uow.OpDelete, Entity: &book{ID: 5}}}); err != nil {
		t.Errorf("Commit() error = %v", err)
	}
}

func TestStore_Query(t *testing.T) {
	s := New(nil)
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, s,
		&book{Title: "Dune", Year: 1965, Published: base},
		&book{Title: "Emma", Year: 1815, Published: base.Add(time.Hour)},
		&book{Title: "Ubik", Year: 1969, Published: base.Add(-time.Hour)},
		&book{Title: "Solaris", Year: 1961, Published: base.Add(2 * time.Hour)},
	)
	ctx := context.Background()

	tests := []struct {
		name string
		q    query.Query
		want []string
	}{
		{"all in insertion order", query.Query{}, []string{"Dune", "Emma", "Ubik", "Solaris"}},
		{"gt with converted value", query.Query{Where: query.Where(query.Gt("year", int64(1962)))}, []string{"Dune", "Ubik"}},
		{"in", query.Query{Where: query.Where(query.In("title", "Emma", "Ubik", "Nope"))}, []string{"Emma", "Ubik"}},
		{"empty in", query.Query{Where: query.Where(query.In("title"))}, []string{}},
		{"order desc", query.Query{OrderBy: []query.Order{{Field: "year", Desc: true}}}, []string{"Ubik", "Dune", "Solaris", "Emma"}},
		{"order by time", query.Query{OrderBy: []query.Order{{Field: "published"}}}, []string{"Ubik", "Dune", "Emma", "Solaris"}},
		{"page", query.Query{OrderBy: []query.Order{{Field: "title"}}, Offset: 1, Limit: 2}, []string{"Emma", "Solaris"}},
		{"offset past end", query.Query{Offset: 10}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.Query(ctx, bookModel, tt.q)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			got := titles(rows)
			if len(got) != len(tt.want) {
				t.Fatalf("Query() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Query() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestStore_QueryReturnsClones(t *testing.T) {
	s := New(nil)
	seed(t, s, &book{Title: "Dune"})

	rows, _ := s.Query(context.Background(), bookModel, query.Query{})
	rows[0].(*book).Title = "changed"

	row, found, err := s.Load(context.Background(), bookModel, int64(1))
	if err != nil || !found {
		t.Fatalf("Load() = %v, %v", found, err)
	}
	if row.(*book).Title != "Dune" {
		t.Error("callers must not be able to mutate stored rows")
	}
}

func TestStore_Errors(t *testing.T) {
	s := New(nil)
	seed(t, s, &book{Title: "Dune"})
	ctx := context.Background()

	if _, err := s.Query(ctx, bookModel, query.Query{Where: query.Where(query.Eq("nope", 1))}); !errors.Is(err, query.ErrInvalidPredicate) {
		t.Errorf("unknown field error = %v", err)
	}
	if _, err := s.Query(ctx, bookModel, query.Query{Where: query.Where(query.Eq("year", "soon"))}); !errors.Is(err, query.ErrInvalidPredicate) {
		t.Errorf("bad value error = %v", err)
	}
	if _, err := s.Query(ctx, bookModel, query.Query{OrderBy: []query.Order{{Field: "nope"}}}); !errors.Is(err, query.ErrInvalidSort) {
		t.Errorf("unknown sort error = %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.Count(cancelled, bookModel, query.Query{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Count() error = %v", err)
	}
	if err := s.HealthCheck(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if _, found, _ := s.Load(ctx, labelModel, uuid.New()); found {
		t.Error("Load() on empty table found a row")
	}
}
