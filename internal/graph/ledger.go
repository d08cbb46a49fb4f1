package graph

import (
	"sync"

	"graphsync/pkg/domain"
)

// ArcFilter reports whether changes to arc on id affect the object's own row
// (to-one and flattened to-many arcs do; plain to-many arcs don't).
type ArcFilter func(id domain.ObjectID, arc string) bool

type arcKey struct {
	arc    string
	target domain.ObjectID
}

// NodeDiff is the per-object view of a ledger.
type NodeDiff struct {
	ID       domain.ObjectID
	Ops      []Op
	Created  bool
	Removed  bool
	baseline map[string]any
	current  map[string]any
	order    []string
	arcs     map[arcKey]int
	arcOrder []arcKey
}

func newNodeDiff(id domain.ObjectID) *NodeDiff {
	return &NodeDiff{
		ID:       id,
		baseline: make(map[string]any),
		current:  make(map[string]any),
		arcs:     make(map[arcKey]int),
	}
}

// Baseline returns the first recorded old value of each changed property.
func (n *NodeDiff) Baseline() map[string]any {
	out := make(map[string]any, len(n.baseline))
	for k, v := range n.baseline {
		out[k] = v
	}
	return out
}

// Current returns the last recorded new value of each changed property.
func (n *NodeDiff) Current() map[string]any {
	out := make(map[string]any, len(n.current))
	for k, v := range n.current {
		out[k] = v
	}
	return out
}

// ChangedProperties returns properties whose last value differs from the
// first recorded old value, in first-touch order.
func (n *NodeDiff) ChangedProperties() []string {
	var out []string
	for _, p := range n.order {
		if !domain.ValuesEqual(n.baseline[p], n.current[p]) {
			out = append(out, p)
		}
	}
	return out
}

// NetArcs returns the arcs created and deleted after cancelling pairs, keyed
// by arc name.
func (n *NodeDiff) NetArcs() (created, deleted map[string][]domain.ObjectID) {
	for _, k := range n.arcOrder {
		switch c := n.arcs[k]; {
		case c > 0:
			if created == nil {
				created = make(map[string][]domain.ObjectID)
			}
			created[k.arc] = append(created[k.arc], k.target)
		case c < 0:
			if deleted == nil {
				deleted = make(map[string][]domain.ObjectID)
			}
			deleted[k.arc] = append(deleted[k.arc], k.target)
		}
	}
	return created, deleted
}

// IsPhantom reports whether the recorded operations cancel out: no create or
// remove, every property back at its first old value, and every significant
// arc change paired with its inverse.
func (n *NodeDiff) IsPhantom(filter ArcFilter) bool {
	if n.Created || n.Removed {
		return false
	}
	if len(n.ChangedProperties()) > 0 {
		return false
	}
	for k, c := range n.arcs {
		if c != 0 && (filter == nil || filter(n.ID, k.arc)) {
			return false
		}
	}
	return true
}

func (n *NodeDiff) record(op Op) {
	n.Ops = append(n.Ops, op)
	switch o := op.(type) {
	case NodeCreated:
		n.Created = true
	case NodeRemoved:
		n.Removed = true
	case PropertyChanged:
		if _, seen := n.baseline[o.Property]; !seen {
			n.baseline[o.Property] = o.Old
			n.order = append(n.order, o.Property)
		}
		n.current[o.Property] = o.New
	case ArcCreated:
		n.touchArc(arcKey{o.Arc, o.Target}, 1)
	case ArcDeleted:
		n.touchArc(arcKey{o.Arc, o.Target}, -1)
	}
}

func (n *NodeDiff) touchArc(k arcKey, delta int) {
	if _, ok := n.arcs[k]; !ok {
		n.arcOrder = append(n.arcOrder, k)
	}
	n.arcs[k] += delta
}

// Ledger accumulates the diff of one session in recorded order.
type Ledger struct {
	mu     sync.Mutex
	ops    []Op
	nodes  map[domain.ObjectID]*NodeDiff
	order  []domain.ObjectID
	filter ArcFilter
}

// NewLedger constructs an empty ledger. filter may be nil, in which case every
// arc counts for phantom detection.
func NewLedger(filter ArcFilter) *Ledger {
	return &Ledger{nodes: make(map[domain.ObjectID]*NodeDiff), filter: filter}
}

func (l *Ledger) append(op Op) {
	l.ops = append(l.ops, op)
	id := op.Node()
	n, ok := l.nodes[id]
	if !ok {
		n = newNodeDiff(id)
		l.nodes[id] = n
		l.order = append(l.order, id)
	}
	n.record(op)
}

// RecordProperty appends a property change. No phantom filtering happens here.
func (l *Ledger) RecordProperty(id domain.ObjectID, property string, old, new any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.append(PropertyChanged{ID: id, Property: property, Old: old, New: new})
}

// RecordArcCreated appends an arc creation.
func (l *Ledger) RecordArcCreated(id, target domain.ObjectID, arc string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.append(ArcCreated{ID: id, Target: target, Arc: arc})
}

// RecordArcDeleted appends an arc removal.
func (l *Ledger) RecordArcDeleted(id, target domain.ObjectID, arc string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.append(ArcDeleted{ID: id, Target: target, Arc: arc})
}

// RecordCreated appends a node creation.
func (l *Ledger) RecordCreated(id domain.ObjectID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.append(NodeCreated{ID: id})
}

// RecordRemoved appends a node removal.
func (l *Ledger) RecordRemoved(id domain.ObjectID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.append(NodeRemoved{ID: id})
}

// Diff returns every recorded operation in order.
func (l *Ledger) Diff() Diff {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append(Diff(nil), l.ops...)
}

// Len returns the number of recorded operations.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// HasChanges reports whether anything was recorded, phantom or not.
func (l *Ledger) HasChanges() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops) > 0
}

// IsNoop reports whether every node diff is phantom.
func (l *Ledger) IsNoop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.nodes {
		if !n.IsPhantom(l.filter) {
			return false
		}
	}
	return true
}

// Changed returns the touched identities in first-touch order.
func (l *Ledger) Changed() []domain.ObjectID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ObjectID(nil), l.order...)
}

// NodeDiff returns the per-node view for id.
func (l *Ledger) NodeDiff(id domain.ObjectID) (*NodeDiff, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.nodes[id]
	return n, ok
}

// IsPhantom reports whether id's recorded operations cancel out. Untouched
// nodes are phantom.
func (l *Ledger) IsPhantom(id domain.ObjectID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.nodes[id]
	return !ok || n.IsPhantom(l.filter)
}

// Forget drops every operation recorded for id.
func (l *Ledger) Forget(id domain.ObjectID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.nodes[id]; !ok {
		return
	}
	delete(l.nodes, id)
	kept := l.ops[:0]
	for _, op := range l.ops {
		if op.Node() != id {
			kept = append(kept, op)
		}
	}
	l.ops = kept
	order := l.order[:0]
	for _, n := range l.order {
		if n != id {
			order = append(order, n)
		}
	}
	l.order = order
}

// Remap rewrites old to new everywhere without recording an identity change.
func (l *Ledger) Remap(old, new domain.ObjectID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remapLocked(old, new)
}

func (l *Ledger) remapLocked(old, new domain.ObjectID) {
	ops := Diff(l.ops).Remap(old, new)
	l.ops = nil
	l.nodes = make(map[domain.ObjectID]*NodeDiff)
	l.order = nil
	for _, op := range ops {
		l.append(op)
	}
}

// Clear drops everything.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = nil
	l.nodes = make(map[domain.ObjectID]*NodeDiff)
	l.order = nil
}

// Copy returns an independent ledger with the same operations.
func (l *Ledger) Copy() *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := NewLedger(l.filter)
	for _, op := range l.ops {
		cp.append(op)
	}
	return cp
}
