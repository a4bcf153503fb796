package uow

import (
	"errors"
	"fmt"

	"github.com/nimburion/repokit/pkg/domain"
)

var (
	// ErrPersistence matches every *PersistenceError.
	ErrPersistence = errors.New("persistence error")

	// ErrDispatch matches every *DispatchError.
	ErrDispatch = errors.New("domain event dispatch error")

	// ErrIdentityConflict is returned when a second instance with the identity
	// of a tracked entity is added.
	ErrIdentityConflict = errors.New("another instance with the same identity is already tracked")

	// ErrNoIdentity is returned when an update or delete is staged for an
	// entity without a key.
	ErrNoIdentity = errors.New("entity has no identity")
)

// PersistenceError reports a rejected commit. Nothing staged is considered
// applied; the unit of work should be discarded.
type PersistenceError struct {
	Op  string
	Err error
}

// Error describes the failure.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the store error.
func (e *PersistenceError) Unwrap() error { return e.Err }

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// DispatchError reports a failing event handler. The write it followed has
// already been committed: callers must not assume the data change failed.
type DispatchError struct {
	Event domain.Event
	// Undelivered counts collected events after the failing one that were not published.
	Undelivered int
	// Pending holds those events in dispatch order. They are no longer in
	// any entity buffer; republishing them is up to the caller.
	Pending []domain.Event
	Err     error
}

// Error describes the failure.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch of %s failed (%d undelivered): %v",
		domain.EventName(e.Event), e.Undelivered, e.Err)
}

// Unwrap returns the handler error.
func (e *DispatchError) Unwrap() error { return e.Err }

// Is matches ErrDispatch.
func (e *DispatchError) Is(target error) bool { return target == ErrDispatch }
