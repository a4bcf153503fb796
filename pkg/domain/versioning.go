package domain

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrVersionConflict is matched by every *OptimisticLockError.
var ErrVersionConflict = errors.New("version conflict")

// Versioned entities carry a version column. Stores compare it on update
// and delete and bump it on every successful update.
type Versioned interface {
	GetVersion() int64
	SetVersion(version int64)
}

// OptimisticLockError reports a row whose stored version no longer matches
// the version the entity was loaded with.
type OptimisticLockError struct {
	Entity   string
	EntityID string
	Expected int64
	Actual   int64
}

func NewOptimisticLockError(entity, entityID string, expected, actual int64) *OptimisticLockError {
	return &OptimisticLockError{Entity: entity, EntityID: entityID, Expected: expected, Actual: actual}
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock failed for %s %s: expected version %d, got %d",
		e.Entity, e.EntityID, e.Expected, e.Actual)
}

func (e *OptimisticLockError) Unwrap() error { return ErrVersionConflict }

// typeName is the package-qualified name of v's type, pointers stripped.
func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
