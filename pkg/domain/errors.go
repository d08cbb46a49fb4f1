package domain

import (
	"fmt"

	"github.com/zeebo/errs"
)

var (
	// ErrProgrammer marks API misuse: foreign objects, null identities,
	// unknown properties or mutating read-only entities.
	ErrProgrammer = errs.Class("programmer error")
	// ErrMapping marks problems in the mapping model.
	ErrMapping = errs.Class("mapping")
	// ErrCommit wraps failures raised while flushing changes to a data node.
	ErrCommit = errs.Class("commit")
)

// DeleteDenyError is returned when a DENY delete rule blocks a delete because
// the relationship is non-empty.
type DeleteDenyError struct {
	Entity       string
	ID           ObjectID
	Relationship string
	Count        int
}

func (e *DeleteDenyError) Error() string {
	return fmt.Sprintf("delete of %s denied: relationship %q has %d related object(s)", e.ID, e.Relationship, e.Count)
}

// FaultFailureError is returned when a hollow object cannot be resolved
// because its row no longer exists.
type FaultFailureError struct {
	ID ObjectID
}

func (e *FaultFailureError) Error() string {
	return fmt.Sprintf("no matching row for %s", e.ID)
}

// OptimisticLockError is returned when an update or delete qualified with
// locking values affected no rows.
type OptimisticLockError struct {
	Entity string
	ID     ObjectID
	Table  string
	Op     string
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock failure: %s of %s in %s matched no rows", e.Op, e.ID, e.Table)
}
