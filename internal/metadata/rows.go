package metadata

import (
	"sort"

	"graphsync/pkg/domain"
)

// SnapshotKey is the snapshot column name of an attribute. Columns of the
// primary table keep their name; secondary table columns are prefixed with
// the table name.
func SnapshotKey(e *domain.Entity, a *domain.Attribute) string {
	if t := e.TableOf(a); t != e.Table {
		return t + "." + a.Column
	}
	return a.Column
}

// PrimaryColumns returns the columns selected from the primary table: every
// primary table attribute column plus to-one foreign key columns.
func PrimaryColumns(e *domain.Entity) []string {
	seen := make(map[string]bool)
	var cols []string
	for i := range e.Attributes {
		a := &e.Attributes[i]
		if e.TableOf(a) == e.Table && !seen[a.Column] {
			seen[a.Column] = true
			cols = append(cols, a.Column)
		}
	}
	for i := range e.Relationships {
		rel := &e.Relationships[i]
		if rel.ToMany || rel.Flattened() {
			continue
		}
		for _, j := range rel.Joins {
			if !seen[j.Source] {
				seen[j.Source] = true
				cols = append(cols, j.Source)
			}
		}
	}
	return cols
}

// SecondaryColumns returns the columns selected from a secondary table: its
// key columns plus attribute columns.
func SecondaryColumns(e *domain.Entity, st *domain.SecondaryTable) []string {
	var cols []string
	for _, j := range st.Joins {
		cols = append(cols, j.Target)
	}
	for i := range e.Attributes {
		a := &e.Attributes[i]
		if e.TableOf(a) == st.Name {
			cols = append(cols, a.Column)
		}
	}
	return cols
}

// SecondaryRowKey is the snapshot column holding the key of the object's row
// in st. It is nil when there is no such row, which tells an all-NULL row
// apart from a missing one.
func SecondaryRowKey(st *domain.SecondaryTable) string {
	return st.Name + "." + st.Joins[0].Target
}

// SecondaryRowExists reports whether snap records a row in st.
func SecondaryRowExists(snap domain.Snapshot, st *domain.SecondaryTable) bool {
	v, _ := snap.Get(SecondaryRowKey(st))
	return v != nil
}

// MergeRows builds snapshot columns from a primary row and the matching
// secondary table rows. Missing secondary rows leave their attributes nil.
func MergeRows(e *domain.Entity, primary domain.Row, secondary map[string]domain.Row) map[string]any {
	out := make(map[string]any, len(primary))
	for _, col := range PrimaryColumns(e) {
		out[col] = primary[col]
	}
	for i := range e.SecondaryTables {
		st := &e.SecondaryTables[i]
		row := secondary[st.Name]
		out[SecondaryRowKey(st)] = row[st.Joins[0].Target]
		for i := range e.Attributes {
			a := &e.Attributes[i]
			if e.TableOf(a) == st.Name {
				out[st.Name+"."+a.Column] = row[a.Column]
			}
		}
	}
	return out
}

// IDFromRow builds the identity of a primary table row.
func IDFromRow(e *domain.Entity, row map[string]any) (domain.ObjectID, bool) {
	pk := make(map[string]any)
	for _, a := range e.PrimaryKey() {
		v, ok := row[a.Column]
		if !ok || v == nil {
			return domain.ObjectID{}, false
		}
		pk[a.Column] = v
	}
	return domain.NewObjectID(e.Name, pk), true
}

// TargetID derives the identity referenced by a to-one relationship from the
// foreign key columns in row. It returns the zero identity when any foreign
// key column is nil.
func TargetID(rel *domain.Relationship, row map[string]any) domain.ObjectID {
	pk := make(map[string]any, len(rel.Joins))
	for _, j := range rel.Joins {
		v := row[j.Source]
		if v == nil {
			return domain.ObjectID{}
		}
		pk[j.Target] = v
	}
	if len(pk) == 0 {
		return domain.ObjectID{}
	}
	return domain.NewObjectID(rel.Target, pk)
}

// ObjectValues splits a snapshot into attribute values keyed by attribute
// name and to-one targets keyed by relationship name.
func ObjectValues(e *domain.Entity, snap domain.Snapshot) (map[string]any, map[string]domain.ObjectID) {
	cols := snap.Values()
	attrs := make(map[string]any, len(e.Attributes))
	for i := range e.Attributes {
		a := &e.Attributes[i]
		attrs[a.Name] = cols[SnapshotKey(e, a)]
	}
	toOne := make(map[string]domain.ObjectID)
	for i := range e.Relationships {
		rel := &e.Relationships[i]
		if rel.ToMany || rel.Flattened() {
			continue
		}
		toOne[rel.Name] = TargetID(rel, cols)
	}
	return attrs, toOne
}

// FKValues returns the foreign key column values for a to-one target. A zero
// target yields nil for every column. ok is false when target is temporary.
func FKValues(rel *domain.Relationship, target domain.ObjectID) (map[string]any, bool) {
	out := make(map[string]any, len(rel.Joins))
	if target.IsZero() {
		for _, j := range rel.Joins {
			out[j.Source] = nil
		}
		return out, true
	}
	if target.IsTemporary() {
		return nil, false
	}
	pk := target.PK()
	for _, j := range rel.Joins {
		out[j.Source] = pk[j.Target]
	}
	return out, true
}

// SnapshotColumns builds snapshot columns from attribute values and resolved
// to-one targets. Primary key attributes are taken from id; rows names the
// secondary tables that hold a row for id. ok is false when a to-one target
// is still temporary.
func SnapshotColumns(e *domain.Entity, id domain.ObjectID, attrs map[string]any, toOne map[string]domain.ObjectID, rows map[string]bool) (map[string]any, bool) {
	out := make(map[string]any)
	pk := id.PK()
	for i := range e.SecondaryTables {
		st := &e.SecondaryTables[i]
		var key any
		if rows[st.Name] {
			key = pk[st.Joins[0].Source]
		}
		out[SecondaryRowKey(st)] = key
	}
	for i := range e.Attributes {
		a := &e.Attributes[i]
		v := attrs[a.Name]
		if a.PrimaryKey && pk != nil {
			v = pk[a.Column]
		}
		out[SnapshotKey(e, a)] = v
	}
	for i := range e.Relationships {
		rel := &e.Relationships[i]
		if rel.ToMany || rel.Flattened() {
			continue
		}
		fk, ok := FKValues(rel, toOne[rel.Name])
		if !ok {
			return nil, false
		}
		for col, v := range fk {
			out[col] = v
		}
	}
	return out, true
}

// LockingAttributes returns the attributes used in optimistic lock
// qualifiers: the flagged ones, or every non-key primary table attribute when
// none is flagged.
func LockingAttributes(e *domain.Entity) []*domain.Attribute {
	var flagged, all []*domain.Attribute
	for i := range e.Attributes {
		a := &e.Attributes[i]
		if a.PrimaryKey || e.TableOf(a) != e.Table {
			continue
		}
		all = append(all, a)
		if a.UsedForLocking {
			flagged = append(flagged, a)
		}
	}
	if len(flagged) > 0 {
		return flagged
	}
	if lockingRelationshipCount(e) > 0 {
		return nil
	}
	return all
}

// LockingRelationships returns to-one relationships flagged for locking.
func LockingRelationships(e *domain.Entity) []*domain.Relationship {
	var out []*domain.Relationship
	for i := range e.Relationships {
		rel := &e.Relationships[i]
		if rel.UsedForLocking && !rel.ToMany && !rel.Flattened() {
			out = append(out, rel)
		}
	}
	return out
}

func lockingRelationshipCount(e *domain.Entity) int {
	return len(LockingRelationships(e))
}

// SortedKeys returns map keys in order.
func SortedKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
