package domain

import (
	"errors"
	"testing"
)

type renamed struct{ Title string }

type created struct{}

func (created) EventName() string { return "book.created" }

func TestEvents_Buffer(t *testing.T) {
	var e Events
	if e.DomainEvents() != nil {
		t.Error("empty buffer must return nil")
	}
	e.Record("a")
	e.Record("b")

	got := e.DomainEvents()
	got[0] = "mutated"
	if again := e.DomainEvents(); again[0] != "a" || len(again) != 2 {
		t.Errorf("DomainEvents() exposed internal storage: %v", again)
	}

	e.ClearDomainEvents()
	if len(e.DomainEvents()) != 0 {
		t.Error("buffer not cleared")
	}
}

func TestSoftDelete(t *testing.T) {
	var s SoftDelete
	var sd SoftDeletable = &s
	sd.SetSoftDeleted(true)
	if !sd.IsSoftDeleted() || !s.SoftDeleted {
		t.Error("flag not set")
	}
}

func TestEventName(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{created{}, "book.created"},
		{renamed{}, "github.com/nimburion/repokit/pkg/domain.renamed"},
		{&renamed{}, "github.com/nimburion/repokit/pkg/domain.renamed"},
		{"plain", "string"},
		{nil, "<nil>"},
	}
	for _, tt := range tests {
		if got := EventName(tt.event); got != tt.want {
			t.Errorf("EventName(%T) = %q, want %q", tt.event, got, tt.want)
		}
	}
}

func TestOptimisticLockError(t *testing.T) {
	var err error = NewOptimisticLockError("Book", "7", 2, 3)
	var lockErr *OptimisticLockError
	if !errors.As(err, &lockErr) {
		t.Fatal("expected *OptimisticLockError")
	}
	if lockErr.Expected != 2 || lockErr.Actual != 3 {
		t.Errorf("versions = %d/%d", lockErr.Expected, lockErr.Actual)
	}
	if !errors.Is(err, ErrVersionConflict) {
		t.Error("expected errors.Is(err, ErrVersionConflict)")
	}
	want := "optimistic lock failed for Book 7: expected version 2, got 3"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
