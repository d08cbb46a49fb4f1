package core

import (
	"context"

	"graphsync/internal/observability"
	"graphsync/pkg/domain"
)

// fault loads a hollow object from the parent channel.
func (c *Context) fault(ctx context.Context, o *Object) (err error) {
	c.reg.mu.RLock()
	hollow, id := o.state == domain.Hollow, o.id
	c.reg.mu.RUnlock()
	if !hollow {
		return nil
	}
	done := observability.Track(ctx, c.metrics, observability.OpFault)
	defer func() { done(err) }()

	d, ok := c.cachedData(o.entity, id)
	if !ok {
		if d, err = c.parent.objectData(ctx, id); err != nil {
			return err
		}
	}
	c.reg.mu.Lock()
	filled := o.state == domain.Hollow
	if filled {
		o.fillLocked(d)
	}
	c.reg.mu.Unlock()
	if filled {
		c.postLoad(ctx, o)
	}
	return nil
}

// cachedData serves faults of a root context that owns an unshared snapshot
// cache.
func (c *Context) cachedData(e *domain.Entity, id domain.ObjectID) (objectData, bool) {
	if c.parent != Channel(c.dom) || c.snapshots == c.dom.snapshots {
		return objectData{}, false
	}
	snap, ok := c.snapshots.Get(id)
	if !ok {
		return objectData{}, false
	}
	return dataFromSnapshot(e, id, snap), true
}

// localObject returns the object registered for id, registering it when
// needed: from d when given, hollow otherwise. Data never overwrites local
// changes; committed objects are refreshed when d carries a newer snapshot.
func (c *Context) localObject(id domain.ObjectID, d *objectData) (*Object, error) {
	o, _, err := c.loadObject(id, d)
	return o, err
}

// loadObject is localObject that also reports whether d was loaded into the
// object.
func (c *Context) loadObject(id domain.ObjectID, d *objectData) (*Object, bool, error) {
	if id.IsZero() {
		return nil, false, domain.ErrProgrammer.New("null object identity")
	}
	e, err := c.resolver.EntityOf(id)
	if err != nil {
		return nil, false, err
	}
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	o, ok := c.reg.get(id)
	if !ok {
		o = newObject(c, e, id, domain.Hollow)
		filled := d != nil && !d.hollow
		if filled {
			o.fillLocked(*d)
		}
		c.reg.put(o)
		return o, filled, nil
	}
	if d == nil || d.hollow {
		return o, false, nil
	}
	switch {
	case o.state == domain.Hollow:
		o.fillLocked(*d)
		return o, true, nil
	case o.state == domain.Committed && !d.snapshot.IsZero() && d.snapshot.Version() != o.snapshot.Version():
		o.fillLocked(*d)
		return o, true, nil
	}
	return o, false, nil
}

func (c *Context) checkTarget(rel *domain.Relationship, target *Object) (domain.ObjectID, error) {
	if target.ctx != c {
		return domain.ObjectID{}, domain.ErrProgrammer.New("%s belongs to another context", target.ID())
	}
	if target.entity.Name != rel.Target {
		return domain.ObjectID{}, domain.ErrProgrammer.New("relationship %q expects %s, got %s", rel.Name, rel.Target, target.entity.Name)
	}
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	if err := target.mutableLocked(); err != nil {
		return domain.ObjectID{}, err
	}
	return target.id, nil
}

// setToOne points rel of o at target and keeps the reverse relationship of
// the old and new target in sync.
func (c *Context) setToOne(ctx context.Context, o *Object, rel *domain.Relationship, target domain.ObjectID) error {
	if err := c.fault(ctx, o); err != nil {
		return err
	}
	c.reg.mu.Lock()
	if err := o.mutableLocked(); err != nil {
		c.reg.mu.Unlock()
		return err
	}
	old := o.toOne[rel.Name]
	if old == target {
		c.reg.mu.Unlock()
		return nil
	}
	o.toOne[rel.Name] = target
	id := o.id
	if !old.IsZero() {
		c.ledger.RecordArcDeleted(id, old, rel.Name)
	}
	if !target.IsZero() {
		c.ledger.RecordArcCreated(id, target, rel.Name)
	}
	o.touchLocked()
	c.reg.mu.Unlock()

	_, rev, ok := c.resolver.Reverse(rel)
	if !ok {
		return nil
	}
	if !old.IsZero() {
		if err := c.reverseArc(ctx, old, rev, id, false); err != nil {
			return err
		}
	}
	if !target.IsZero() {
		return c.reverseArc(ctx, target, rev, id, true)
	}
	return nil
}

// reverseArc adds or removes source on the reverse relationship rev of
// target. The target is resolved first so that its fetched state does not
// overwrite the change.
func (c *Context) reverseArc(ctx context.Context, target domain.ObjectID, rev *domain.Relationship, source domain.ObjectID, add bool) error {
	t, err := c.localObject(target, nil)
	if err != nil {
		return err
	}
	if err := c.fault(ctx, t); err != nil {
		return err
	}
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if rev.ToMany || rev.Flattened() {
		l := t.list(rev.Name)
		if add && l.add(source) {
			c.ledger.RecordArcCreated(t.id, source, rev.Name)
			t.touchLocked()
		} else if !add && l.remove(source) {
			c.ledger.RecordArcDeleted(t.id, source, rev.Name)
			t.touchLocked()
		}
		return nil
	}
	current := t.toOne[rev.Name]
	switch {
	case add && current != source:
		if !current.IsZero() {
			c.ledger.RecordArcDeleted(t.id, current, rev.Name)
		}
		t.toOne[rev.Name] = source
		c.ledger.RecordArcCreated(t.id, source, rev.Name)
		t.touchLocked()
	case !add && current == source:
		t.toOne[rev.Name] = domain.ObjectID{}
		c.ledger.RecordArcDeleted(t.id, source, rev.Name)
		t.touchLocked()
	}
	return nil
}

func (c *Context) linkFlattened(ctx context.Context, o *Object, rel *domain.Relationship, target domain.ObjectID) error {
	return c.flattenedArc(ctx, o, rel, target, true, true)
}

func (c *Context) unlinkFlattened(ctx context.Context, o *Object, rel *domain.Relationship, target domain.ObjectID) error {
	return c.flattenedArc(ctx, o, rel, target, false, true)
}

// flattenedArc links or unlinks o and target through a join table. Deletes
// pass checked=false to unlink objects that are already pending delete.
func (c *Context) flattenedArc(ctx context.Context, o *Object, rel *domain.Relationship, target domain.ObjectID, add, checked bool) error {
	if err := c.fault(ctx, o); err != nil {
		return err
	}
	c.reg.mu.Lock()
	if checked {
		if err := o.mutableLocked(); err != nil {
			c.reg.mu.Unlock()
			return err
		}
	}
	l := o.list(rel.Name)
	var changed bool
	if add {
		if changed = l.add(target); changed {
			c.ledger.RecordArcCreated(o.id, target, rel.Name)
		}
	} else if changed = l.remove(target); changed {
		c.ledger.RecordArcDeleted(o.id, target, rel.Name)
	}
	if changed {
		o.touchLocked()
	}
	id := o.id
	c.reg.mu.Unlock()

	if !changed {
		return nil
	}
	if _, rev, ok := c.resolver.Reverse(rel); ok {
		return c.reverseArc(ctx, target, rev, id, add)
	}
	return nil
}

// resolveToMany fetches the targets of an unresolved to-many relationship
// and merges them with the changes made before the fetch.
func (c *Context) resolveToMany(ctx context.Context, o *Object, rel *domain.Relationship) error {
	c.reg.mu.RLock()
	l := o.toMany[rel.Name]
	resolved, id := l != nil && l.resolved, o.id
	c.reg.mu.RUnlock()
	if resolved {
		return nil
	}
	data, err := c.parent.related(ctx, id, rel)
	if err != nil {
		return err
	}
	ids := make([]domain.ObjectID, 0, len(data))
	var loaded []*Object
	for i := range data {
		t, filled, err := c.loadObject(data[i].id, &data[i])
		if err != nil {
			return err
		}
		if filled {
			loaded = append(loaded, t)
		}
		ids = append(ids, data[i].id)
	}
	c.reg.mu.Lock()
	if l := o.list(rel.Name); !l.resolved {
		l.resolve(ids)
	}
	c.reg.mu.Unlock()
	c.postLoad(ctx, loaded...)
	return nil
}

// relatedIDs returns the current targets of rel.
func (c *Context) relatedIDs(ctx context.Context, o *Object, rel *domain.Relationship) ([]domain.ObjectID, error) {
	if rel.ToMany || rel.Flattened() {
		if err := c.resolveToMany(ctx, o, rel); err != nil {
			return nil, err
		}
		c.reg.mu.RLock()
		defer c.reg.mu.RUnlock()
		return append([]domain.ObjectID(nil), o.toMany[rel.Name].ids...), nil
	}
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	if t := o.toOne[rel.Name]; !t.IsZero() {
		return []domain.ObjectID{t}, nil
	}
	return nil, nil
}
