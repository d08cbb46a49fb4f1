package domain

// PersistenceState is the lifecycle state of an object relative to its
// session and the database.
type PersistenceState int

// Persistence states.
const (
	// Transient objects are not registered with any session.
	Transient PersistenceState = iota
	// New objects are registered and pending insert.
	New
	// Committed objects match their last known committed snapshot.
	Committed
	// Modified objects carry uncommitted changes.
	Modified
	// Hollow objects have an identity but no loaded values.
	Hollow
	// Deleted objects are pending delete.
	Deleted
)

var stateNames = [...]string{"transient", "new", "committed", "modified", "hollow", "deleted"}

func (s PersistenceState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Registered reports whether objects in state s belong to a session.
func (s PersistenceState) Registered() bool {
	return s != Transient
}

// Dirty reports whether objects in state s participate in the next commit.
func (s PersistenceState) Dirty() bool {
	return s == New || s == Modified || s == Deleted
}
