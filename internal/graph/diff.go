// Package graph records object-graph mutations as ordered primitive operations
// and replays them onto handlers.
package graph

import "graphsync/pkg/domain"

// Handler receives replayed graph operations.
type Handler interface {
	NodeCreated(id domain.ObjectID)
	NodeRemoved(id domain.ObjectID)
	NodePropertyChanged(id domain.ObjectID, property string, old, new any)
	ArcCreated(id, target domain.ObjectID, arc string)
	ArcDeleted(id, target domain.ObjectID, arc string)
}

// Op is one primitive graph operation.
type Op interface {
	Node() domain.ObjectID
	Apply(h Handler)
	remap(old, new domain.ObjectID) Op
}

// NodeCreated records the creation of a new object.
type NodeCreated struct{ ID domain.ObjectID }

// NodeRemoved records the deletion of an object.
type NodeRemoved struct{ ID domain.ObjectID }

// PropertyChanged records an attribute write.
type PropertyChanged struct {
	ID       domain.ObjectID
	Property string
	Old, New any
}

// ArcCreated records a relationship link from ID to Target.
type ArcCreated struct {
	ID, Target domain.ObjectID
	Arc        string
}

// ArcDeleted records the removal of a relationship link.
type ArcDeleted struct {
	ID, Target domain.ObjectID
	Arc        string
}

func (o NodeCreated) Node() domain.ObjectID     { return o.ID }
func (o NodeRemoved) Node() domain.ObjectID     { return o.ID }
func (o PropertyChanged) Node() domain.ObjectID { return o.ID }
func (o ArcCreated) Node() domain.ObjectID      { return o.ID }
func (o ArcDeleted) Node() domain.ObjectID      { return o.ID }

func (o NodeCreated) Apply(h Handler)     { h.NodeCreated(o.ID) }
func (o NodeRemoved) Apply(h Handler)     { h.NodeRemoved(o.ID) }
func (o PropertyChanged) Apply(h Handler) { h.NodePropertyChanged(o.ID, o.Property, o.Old, o.New) }
func (o ArcCreated) Apply(h Handler)      { h.ArcCreated(o.ID, o.Target, o.Arc) }
func (o ArcDeleted) Apply(h Handler)      { h.ArcDeleted(o.ID, o.Target, o.Arc) }

func swap(id, old, new domain.ObjectID) domain.ObjectID {
	if id == old {
		return new
	}
	return id
}

func (o NodeCreated) remap(old, new domain.ObjectID) Op {
	o.ID = swap(o.ID, old, new)
	return o
}

func (o NodeRemoved) remap(old, new domain.ObjectID) Op {
	o.ID = swap(o.ID, old, new)
	return o
}

func (o PropertyChanged) remap(old, new domain.ObjectID) Op {
	o.ID = swap(o.ID, old, new)
	return o
}

func (o ArcCreated) remap(old, new domain.ObjectID) Op {
	o.ID = swap(o.ID, old, new)
	o.Target = swap(o.Target, old, new)
	return o
}

func (o ArcDeleted) remap(old, new domain.ObjectID) Op {
	o.ID = swap(o.ID, old, new)
	o.Target = swap(o.Target, old, new)
	return o
}

// Diff is an ordered operation list.
type Diff []Op

// Apply replays the operations in recorded order.
func (d Diff) Apply(h Handler) {
	for _, op := range d {
		op.Apply(h)
	}
}

// IsEmpty reports whether d has no operations.
func (d Diff) IsEmpty() bool { return len(d) == 0 }

// Remap returns a copy of d with old replaced by new everywhere.
func (d Diff) Remap(old, new domain.ObjectID) Diff {
	out := make(Diff, len(d))
	for i, op := range d {
		out[i] = op.remap(old, new)
	}
	return out
}
