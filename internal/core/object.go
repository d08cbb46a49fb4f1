package core

import (
	"context"
	"maps"

	"graphsync/pkg/domain"
)

// Object is a persistent object registered in one Context. Attribute values
// are keyed by attribute name; relationships hold identities resolved through
// the owning context, never pointers to other objects.
//
// An Object handle stays valid for the lifetime of its context: a commit that
// assigns a permanent identity re-keys the same handle.
type Object struct {
	ctx    *Context
	entity *domain.Entity
	id     domain.ObjectID
	state  domain.PersistenceState

	values        map[string]any
	toOne         map[string]domain.ObjectID
	toMany        map[string]*toMany
	baseline      map[string]any
	baselineToOne map[string]domain.ObjectID
	snapshot      domain.Snapshot
}

func newObject(c *Context, e *domain.Entity, id domain.ObjectID, state domain.PersistenceState) *Object {
	return &Object{
		ctx:    c,
		entity: e,
		id:     id,
		state:  state,
		values: make(map[string]any),
		toOne:  make(map[string]domain.ObjectID),
		toMany: make(map[string]*toMany),
	}
}

// ID returns the current identity.
func (o *Object) ID() domain.ObjectID {
	o.ctx.reg.mu.RLock()
	defer o.ctx.reg.mu.RUnlock()
	return o.id
}

// State returns the persistence state.
func (o *Object) State() domain.PersistenceState {
	o.ctx.reg.mu.RLock()
	defer o.ctx.reg.mu.RUnlock()
	return o.state
}

// Entity returns the mapping of the object's type.
func (o *Object) Entity() *domain.Entity { return o.entity }

// EntityName returns the name of the object's entity.
func (o *Object) EntityName() string { return o.entity.Name }

// Context returns the context the object belongs to.
func (o *Object) Context() *Context { return o.ctx }

// Snapshot returns the committed snapshot the object was last synced with.
// It is zero for new objects and for objects read from a parent context's
// uncommitted state.
func (o *Object) Snapshot() domain.Snapshot {
	o.ctx.reg.mu.RLock()
	defer o.ctx.reg.mu.RUnlock()
	return o.snapshot
}

// Get returns an attribute value, resolving a hollow object first.
func (o *Object) Get(ctx context.Context, name string) (any, error) {
	a, err := o.attribute(name)
	if err != nil {
		return nil, err
	}
	if err := o.ctx.fault(ctx, o); err != nil {
		return nil, err
	}
	o.ctx.reg.mu.RLock()
	defer o.ctx.reg.mu.RUnlock()
	return o.values[a.Name], nil
}

// Values returns a copy of all attribute values.
func (o *Object) Values(ctx context.Context) (map[string]any, error) {
	if err := o.ctx.fault(ctx, o); err != nil {
		return nil, err
	}
	o.ctx.reg.mu.RLock()
	defer o.ctx.reg.mu.RUnlock()
	return maps.Clone(o.values), nil
}

// Set changes an attribute value. Primary key attributes may only be set on
// new objects.
func (o *Object) Set(ctx context.Context, name string, value any) error {
	c := o.ctx
	a, err := o.attribute(name)
	if err != nil {
		return err
	}
	if err := o.writable(); err != nil {
		return err
	}
	if err := c.fault(ctx, o); err != nil {
		return err
	}
	value = domain.NormalizeValue(value)

	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if err := o.mutableLocked(); err != nil {
		return err
	}
	if a.PrimaryKey && o.state != domain.New {
		return domain.ErrProgrammer.New("primary key %s.%s of %s cannot change", o.entity.Name, a.Name, o.id)
	}
	old := o.values[a.Name]
	o.values[a.Name] = value
	c.ledger.RecordProperty(o.id, a.Name, old, value)
	o.touchLocked()
	return nil
}

// ToOne returns the target of a to-one relationship, nil when unset. The
// target is registered hollow when the context does not know it yet.
func (o *Object) ToOne(ctx context.Context, name string) (*Object, error) {
	c := o.ctx
	rel, err := o.relationship(name, false)
	if err != nil {
		return nil, err
	}
	if err := c.fault(ctx, o); err != nil {
		return nil, err
	}
	c.reg.mu.RLock()
	target := o.toOne[rel.Name]
	c.reg.mu.RUnlock()
	if target.IsZero() {
		return nil, nil
	}
	return c.localObject(target, nil)
}

// SetToOne points a to-one relationship at target, or clears it when target
// is nil. The reverse relationship is updated on both the old and the new
// target.
func (o *Object) SetToOne(ctx context.Context, name string, target *Object) error {
	c := o.ctx
	rel, err := o.relationship(name, false)
	if err != nil {
		return err
	}
	if err := o.writable(); err != nil {
		return err
	}
	var tid domain.ObjectID
	if target != nil {
		if tid, err = c.checkTarget(rel, target); err != nil {
			return err
		}
	}
	return c.setToOne(ctx, o, rel, tid)
}

// ToMany returns the targets of a to-many relationship, fetching them on
// first access.
func (o *Object) ToMany(ctx context.Context, name string) ([]*Object, error) {
	c := o.ctx
	rel, err := o.relationship(name, true)
	if err != nil {
		return nil, err
	}
	if err := c.fault(ctx, o); err != nil {
		return nil, err
	}
	if err := c.resolveToMany(ctx, o, rel); err != nil {
		return nil, err
	}
	c.reg.mu.RLock()
	ids := append([]domain.ObjectID(nil), o.toMany[rel.Name].ids...)
	c.reg.mu.RUnlock()

	out := make([]*Object, 0, len(ids))
	for _, id := range ids {
		t, err := c.localObject(id, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// AddToMany adds target to a to-many relationship and sets the reverse side.
func (o *Object) AddToMany(ctx context.Context, name string, target *Object) error {
	return o.changeToMany(ctx, name, target, true)
}

// RemoveToMany removes target from a to-many relationship and clears the
// reverse side.
func (o *Object) RemoveToMany(ctx context.Context, name string, target *Object) error {
	return o.changeToMany(ctx, name, target, false)
}

func (o *Object) changeToMany(ctx context.Context, name string, target *Object, add bool) error {
	c := o.ctx
	rel, err := o.relationship(name, true)
	if err != nil {
		return err
	}
	if err := o.writable(); err != nil {
		return err
	}
	if target == nil {
		return domain.ErrProgrammer.New("nil target for %s.%s", o.entity.Name, rel.Name)
	}
	tid, err := c.checkTarget(rel, target)
	if err != nil {
		return err
	}
	if rel.Flattened() {
		if add {
			return c.linkFlattened(ctx, o, rel, tid)
		}
		return c.unlinkFlattened(ctx, o, rel, tid)
	}
	_, rev, ok := c.resolver.Reverse(rel)
	if !ok {
		return domain.ErrMapping.New("to-many %s.%s has no reverse", o.entity.Name, rel.Name)
	}
	if add {
		return c.setToOne(ctx, target, rev, o.ID())
	}
	if err := c.fault(ctx, target); err != nil {
		return err
	}
	c.reg.mu.RLock()
	current := target.toOne[rev.Name]
	c.reg.mu.RUnlock()
	if current != o.ID() {
		return nil
	}
	return c.setToOne(ctx, target, rev, domain.ObjectID{})
}

func (o *Object) attribute(name string) (*domain.Attribute, error) {
	a, ok := o.entity.Attribute(name)
	if !ok {
		return nil, domain.ErrProgrammer.New("entity %q has no attribute %q", o.entity.Name, name)
	}
	return a, nil
}

func (o *Object) relationship(name string, toMany bool) (*domain.Relationship, error) {
	rel, ok := o.entity.Relationship(name)
	if !ok {
		return nil, domain.ErrProgrammer.New("entity %q has no relationship %q", o.entity.Name, name)
	}
	if toMany != (rel.ToMany || rel.Flattened()) {
		if toMany {
			return nil, domain.ErrProgrammer.New("%s.%s is a to-one relationship", o.entity.Name, name)
		}
		return nil, domain.ErrProgrammer.New("%s.%s is a to-many relationship", o.entity.Name, name)
	}
	return rel, nil
}

func (o *Object) writable() error {
	if o.entity.ReadOnly {
		return domain.ErrProgrammer.New("entity %q is read-only", o.entity.Name)
	}
	return nil
}

// mutableLocked rejects changes to objects that left the context or are
// pending delete.
func (o *Object) mutableLocked() error {
	switch o.state {
	case domain.Transient:
		return domain.ErrProgrammer.New("%s is not registered", o.id)
	case domain.Deleted:
		return domain.ErrProgrammer.New("%s is deleted", o.id)
	}
	return nil
}

// touchLocked marks a committed object modified.
func (o *Object) touchLocked() {
	if o.state == domain.Committed {
		o.state = domain.Modified
	}
}

func (o *Object) list(rel string) *toMany {
	l := o.toMany[rel]
	if l == nil {
		l = &toMany{}
		o.toMany[rel] = l
	}
	return l
}

// fillLocked loads committed data into o and marks it committed.
func (o *Object) fillLocked(d objectData) {
	o.values = cloneMap(d.values)
	o.toOne = cloneMap(d.toOne)
	o.baseline = cloneMap(d.values)
	o.baselineToOne = cloneMap(d.toOne)
	o.snapshot = d.snapshot
	o.toMany = make(map[string]*toMany)
	o.state = domain.Committed
}

// hollowLocked drops loaded data.
func (o *Object) hollowLocked() {
	o.values = make(map[string]any)
	o.toOne = make(map[string]domain.ObjectID)
	o.toMany = make(map[string]*toMany)
	o.baseline, o.baselineToOne = nil, nil
	o.snapshot = domain.Snapshot{}
	o.state = domain.Hollow
}

// commitLocked makes the current state the new baseline.
func (o *Object) commitLocked(snap domain.Snapshot, ok bool) {
	o.baseline = cloneMap(o.values)
	o.baselineToOne = cloneMap(o.toOne)
	if ok {
		o.snapshot = snap
	}
	o.state = domain.Committed
}

// dataLocked exports the current state.
func (o *Object) dataLocked() objectData {
	return objectData{
		id:       o.id,
		values:   cloneMap(o.values),
		toOne:    cloneMap(o.toOne),
		snapshot: o.snapshot,
	}
}

// baselineLocked exports the state as of the last sync.
func (o *Object) baselineLocked() objectData {
	if o.state == domain.New {
		return o.dataLocked()
	}
	return objectData{
		id:       o.id,
		values:   cloneMap(o.baseline),
		toOne:    cloneMap(o.baselineToOne),
		snapshot: o.snapshot,
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return make(map[string]V)
	}
	return maps.Clone(m)
}

func (o *Object) viewLocked() domain.ObjectView {
	return domain.ObjectView{ID: o.id, Entity: o.entity.Name, State: o.state, Values: cloneMap(o.values)}
}
