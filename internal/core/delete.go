package core

import (
	"context"

	"graphsync/pkg/domain"
)

// DeleteObject schedules o for deletion and applies the delete rules of its
// relationships: DENY refuses the delete while related objects exist,
// NULLIFY clears the reverse side, CASCADE deletes the related objects and
// NO_ACTION leaves them alone. Join rows of flattened relationships are
// always removed. New objects simply leave the context.
//
// It reports whether o changed state; deleting an object that is already
// pending delete is a no-op.
func (c *Context) DeleteObject(ctx context.Context, o *Object) (bool, error) {
	if o == nil {
		return false, domain.ErrProgrammer.New("delete of nil object")
	}
	if o.ctx != c {
		return false, domain.ErrProgrammer.New("%s belongs to another context", o.ID())
	}
	if o.entity.ReadOnly {
		return false, domain.ErrProgrammer.New("entity %q is read-only", o.entity.Name)
	}
	if o.State() == domain.Transient {
		return false, domain.ErrProgrammer.New("%s is not registered", o.ID())
	}
	return c.deleteObject(ctx, o)
}

// DeleteObjects deletes objects in order and stops at the first error.
func (c *Context) DeleteObjects(ctx context.Context, objects ...*Object) error {
	for _, o := range objects {
		if _, err := c.DeleteObject(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) deleteObject(ctx context.Context, o *Object) (bool, error) {
	if err := c.fault(ctx, o); err != nil {
		return false, err
	}
	c.reg.mu.RLock()
	prev := o.state
	c.reg.mu.RUnlock()
	if prev == domain.Deleted || prev == domain.Transient {
		return false, nil
	}
	if err := c.checkDeny(ctx, o); err != nil {
		return false, err
	}

	c.reg.mu.Lock()
	if prev == domain.New {
		o.state = domain.Transient
	} else {
		o.state = domain.Deleted
	}
	c.reg.mu.Unlock()

	if err := c.applyDeleteRules(ctx, o); err != nil {
		c.reg.mu.Lock()
		o.state = prev
		c.reg.mu.Unlock()
		return false, err
	}

	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if prev == domain.New {
		c.reg.remove(o)
		c.ledger.Forget(o.id)
	} else {
		c.ledger.RecordRemoved(o.id)
	}
	return true, nil
}

// checkDeny fails when a DENY relationship of o still has related objects
// that are not being deleted themselves.
func (c *Context) checkDeny(ctx context.Context, o *Object) error {
	for i := range o.entity.Relationships {
		rel := &o.entity.Relationships[i]
		if rel.DeleteRule != domain.DeleteDeny {
			continue
		}
		ids, err := c.relatedIDs(ctx, o, rel)
		if err != nil {
			return err
		}
		live := 0
		c.reg.mu.RLock()
		for _, id := range ids {
			if t, ok := c.reg.get(id); ok && (t.state == domain.Deleted || t.state == domain.Transient) {
				continue
			}
			live++
		}
		id := o.id
		c.reg.mu.RUnlock()
		if live > 0 {
			return &domain.DeleteDenyError{Entity: o.entity.Name, ID: id, Relationship: rel.Name, Count: live}
		}
	}
	return nil
}

func (c *Context) applyDeleteRules(ctx context.Context, o *Object) error {
	for i := range o.entity.Relationships {
		rel := &o.entity.Relationships[i]
		ids, err := c.relatedIDs(ctx, o, rel)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}
		if rel.Flattened() {
			for _, id := range ids {
				if err := c.flattenedArc(ctx, o, rel, id, false, false); err != nil {
					return err
				}
			}
		}
		switch rel.DeleteRule {
		case domain.DeleteNullify:
			if err := c.nullify(ctx, o, rel, ids); err != nil {
				return err
			}
		case domain.DeleteCascade:
			for _, id := range ids {
				t, err := c.localObject(id, nil)
				if err != nil {
					return err
				}
				if _, err := c.deleteObject(ctx, t); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// nullify detaches the objects related to o through rel from o.
func (c *Context) nullify(ctx context.Context, o *Object, rel *domain.Relationship, ids []domain.ObjectID) error {
	if rel.Flattened() {
		return nil
	}
	_, rev, ok := c.resolver.Reverse(rel)
	if !ok {
		return nil
	}
	c.reg.mu.RLock()
	source := o.id
	c.reg.mu.RUnlock()
	if !rel.ToMany {
		return c.reverseArc(ctx, ids[0], rev, source, false)
	}
	for _, id := range ids {
		t, err := c.localObject(id, nil)
		if err != nil {
			return err
		}
		if s := t.State(); s == domain.Deleted || s == domain.Transient {
			continue
		}
		if err := c.setToOne(ctx, t, rev, domain.ObjectID{}); err != nil {
			return err
		}
	}
	return nil
}
