package repository

import (
	"errors"
	"fmt"

	"github.com/nimburion/repokit/pkg/query"
)

var (
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidSort is returned for malformed sort specifications or unknown sort fields.
	ErrInvalidSort = query.ErrInvalidSort

	// ErrInvalidPredicate is returned for predicates over unknown fields.
	ErrInvalidPredicate = query.ErrInvalidPredicate

	// ErrNotUnique is returned by Find and Get when more than one entity matches.
	ErrNotUnique = errors.New("more than one entity matches")

	// ErrInvalidPage is returned for negative skip or take.
	ErrInvalidPage = errors.New("invalid page")

	// ErrNilEntity is returned when a nil entity is passed to a write operation.
	ErrNilEntity = errors.New("entity cannot be nil")
)

// NotFoundError reports a required lookup with no match.
type NotFoundError struct {
	Entity string
	// ID is nil for predicate lookups.
	ID any
}

// Error describes the missing entity.
func (e *NotFoundError) Error() string {
	if e.ID == nil {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s with id %v not found", e.Entity, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
