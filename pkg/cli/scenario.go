package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nimburion/repokit/pkg/domain"
	"github.com/nimburion/repokit/pkg/events"
	"github.com/nimburion/repokit/pkg/repository"
	"github.com/nimburion/repokit/pkg/schema"
)

// Book is the entity exercised by the scenario command.
type Book struct {
	ID     int64  `db:"id,pk,auto"`
	Title  string `db:"title"`
	Author string `db:"author"`
	domain.SoftDelete
	domain.Events
}

// BookCreated is recorded when a book is first inserted.
type BookCreated struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// EventName implements domain.NamedEvent.
func (BookCreated) EventName() string { return "book.created" }

// ErrScenarioFailed is returned when a scenario step observes an unexpected state.
var ErrScenarioFailed = errors.New("scenario failed")

// ensureBookTable applies the bundled migrations on SQL backends. Memory
// and MongoDB need no schema.
func ensureBookTable(ctx context.Context, rt *Runtime) error {
	m, err := newMigrator(rt)
	if err != nil || m == nil {
		return err
	}
	if _, err := m.Up(ctx); err != nil {
		return fmt.Errorf("migrate books table: %w", err)
	}
	return nil
}

// ScenarioOptions sets the book the scenario creates.
type ScenarioOptions struct {
	Title  string
	Author string
}

// RunScenario inserts a book, soft deletes it, checks it is hidden by the
// soft-delete filter but still stored, then hard deletes it. Each step runs
// in its own unit of work and is reported on out.
func RunScenario(ctx context.Context, rt *Runtime, opts ScenarioOptions, out io.Writer) error {
	if err := ensureBookTable(ctx, rt); err != nil {
		return err
	}

	registry := repository.NewRegistry()
	if _, err := repository.Declare[Book](registry, schema.WithTable("books")); err != nil {
		return err
	}
	events.On(rt.Mediator, func(_ context.Context, e BookCreated) error {
		fmt.Fprintf(out, "event   book.created title=%q author=%q\n", e.Title, e.Author)
		return nil
	})

	books := func() (*repository.Keyed[Book, int64], error) {
		return repository.ForKeyed[Book, int64](registry, rt.Manager.Begin())
	}

	// insert
	repo, err := books()
	if err != nil {
		return err
	}
	book := &Book{Title: opts.Title, Author: opts.Author}
	book.Record(BookCreated{Title: opts.Title, Author: opts.Author})
	if _, err := repo.Insert(ctx, book, repository.AutoCommit()); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	id := book.ID
	fmt.Fprintf(out, "insert  book %d title=%q author=%q\n", id, book.Title, book.Author)

	// read back
	repo, err = books()
	if err != nil {
		return err
	}
	found, err := repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if found.IsSoftDeleted() {
		return fmt.Errorf("%w: new book %d is soft deleted", ErrScenarioFailed, id)
	}
	fmt.Fprintf(out, "get     book %d soft_deleted=%t\n", id, found.IsSoftDeleted())

	// soft delete
	if err := repo.Delete(ctx, found, repository.AutoCommit()); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	fmt.Fprintf(out, "delete  book %d\n", id)

	repo, err = books()
	if err != nil {
		return err
	}
	if _, err := repo.GetByID(ctx, id); !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: soft deleted book %d still visible (err=%v)", ErrScenarioFailed, id, err)
	}
	fmt.Fprintf(out, "get     book %d not found\n", id)

	hidden, err := findUnfiltered(ctx, repo, id)
	if err != nil {
		return err
	}
	if hidden == nil || !hidden.IsSoftDeleted() {
		return fmt.Errorf("%w: book %d not kept as soft deleted", ErrScenarioFailed, id)
	}
	fmt.Fprintf(out, "find    book %d soft_deleted=%t (filter disabled)\n", id, hidden.IsSoftDeleted())

	// hard delete
	if err := repo.HardDeleteByID(ctx, id, repository.AutoCommit()); err != nil {
		return fmt.Errorf("hard delete: %w", err)
	}
	fmt.Fprintf(out, "purge   book %d\n", id)

	repo, err = books()
	if err != nil {
		return err
	}
	gone, err := findUnfiltered(ctx, repo, id)
	if err != nil {
		return err
	}
	if gone != nil {
		return fmt.Errorf("%w: book %d survived hard delete", ErrScenarioFailed, id)
	}
	fmt.Fprintf(out, "find    book %d not found (filter disabled)\n", id)
	return nil
}

func findUnfiltered(ctx context.Context, repo *repository.Keyed[Book, int64], id int64) (*Book, error) {
	h := repo.UnitOfWork().SoftDeleteFilter().Disable()
	defer h.Release()
	return repo.FindByID(ctx, id)
}
