// Package flush turns the dirty objects of a session into row batches,
// executes them against a data node in one transaction and reports the
// resulting identities and snapshots.
package flush

import "graphsync/pkg/domain"

// Operation is the statement kind an object or join row needs.
type Operation int

// Operations.
const (
	Insert Operation = iota + 1
	Update
	Delete
)

func (op Operation) String() string {
	switch op {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// ObjectRow is one dirty object. Values and ToOne hold the pending state;
// Baseline and BaselineToOne the state as of the last sync, used to find
// changed columns and to build optimistic lock qualifiers. Targets are
// identities, possibly temporary; foreign key values are derived from them
// only when the row is built.
type ObjectRow struct {
	ID            domain.ObjectID
	Entity        *domain.Entity
	Op            Operation
	Values        map[string]any
	ToOne         map[string]domain.ObjectID
	Baseline      map[string]any
	BaselineToOne map[string]domain.ObjectID
	// Snapshot is the snapshot the baseline was read from. The snapshot
	// produced for the object replaces its version.
	Snapshot domain.Snapshot
}

// JoinRow links two objects through the join table of a flattened
// relationship defined on the source's entity. Op is Insert or Delete.
type JoinRow struct {
	Source       domain.ObjectID
	Target       domain.ObjectID
	Relationship *domain.Relationship
	Op           Operation
}

// Request is the input of Action.Run.
type Request struct {
	Objects []ObjectRow
	Joins   []JoinRow
}

// Empty reports whether r needs no statement.
func (r Request) Empty() bool {
	return len(r.Objects) == 0 && len(r.Joins) == 0
}

// Result describes a successful flush.
type Result struct {
	// IDChanges maps every temporary identity that received a key to its
	// permanent identity.
	IDChanges map[domain.ObjectID]domain.ObjectID
	// Snapshots holds the post-commit snapshot of every inserted or updated
	// object, keyed by permanent identity.
	Snapshots map[domain.ObjectID]domain.Snapshot
	Deleted   []domain.ObjectID
	// Statements counts executed batches.
	Statements int
}

// Resolve maps a temporary identity to its permanent replacement; other
// identities are returned unchanged.
func (r Result) Resolve(id domain.ObjectID) domain.ObjectID {
	if next, ok := r.IDChanges[id]; ok {
		return next
	}
	return id
}
