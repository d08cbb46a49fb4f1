package core

import (
	"graphsync/internal/event"
	"graphsync/internal/flush"
	"graphsync/internal/graph"
	"graphsync/internal/snapshot"
	"graphsync/pkg/domain"
)

// subscribe attaches c to the notifications of its parent and of the
// snapshot cache. Committed objects follow changes made elsewhere; objects
// with local changes keep them.
func (c *Context) subscribe() {
	subs := []event.Subscription{
		c.events.Subscribe(event.GraphChanged, c.onParentChanged),
		c.events.Subscribe(event.GraphFlushed, c.onParentFlushed),
	}
	snapSub := c.snapshots.Subscribe(c.onSnapshotsChanged)
	c.subsMu.Lock()
	c.subs, c.snapSub = subs, &snapSub
	c.subsMu.Unlock()
}

func (c *Context) fromParent(ev event.Event) bool {
	return ev.Source == c.parent && ev.Origin != c
}

func (c *Context) onParentChanged(ev event.Event) {
	if !c.fromParent(ev) {
		return
	}
	diff, ok := ev.Payload.(graph.Diff)
	if !ok {
		return
	}
	p, ok := c.parent.(*Context)
	if !ok {
		return
	}
	seen := make(map[domain.ObjectID]bool)
	for _, op := range diff {
		id := op.Node()
		if seen[id] {
			continue
		}
		seen[id] = true

		p.reg.mu.RLock()
		po, ok := p.reg.get(id)
		var d objectData
		var state domain.PersistenceState
		if ok {
			state = po.state
			d = po.dataLocked()
		}
		p.reg.mu.RUnlock()
		if !ok {
			continue
		}

		c.reg.mu.Lock()
		if o, ok := c.reg.get(id); ok && o.state == domain.Committed {
			switch state {
			case domain.Deleted, domain.Transient:
				o.state = domain.Transient
				c.reg.remove(o)
			case domain.Hollow:
				o.hollowLocked()
			default:
				o.fillLocked(d)
			}
		}
		c.reg.mu.Unlock()
	}
}

func (c *Context) onParentFlushed(ev event.Event) {
	if !c.fromParent(ev) {
		return
	}
	// a private cache means commits made elsewhere stay invisible
	if ev.Source == any(c.dom) && c.snapshots != c.dom.snapshots {
		return
	}
	if res, ok := ev.Payload.(flush.Result); ok {
		c.mergeCommitted(res)
	}
}

// mergeCommitted applies a commit made through another context.
func (c *Context) mergeCommitted(res flush.Result) {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	c.remapLocked(res.IDChanges)
	for id, snap := range res.Snapshots {
		if o, ok := c.reg.get(id); ok && o.state == domain.Committed {
			o.fillLocked(dataFromSnapshot(o.entity, id, snap))
		}
	}
	for _, id := range res.Deleted {
		c.deletedLocked(id)
	}
}

func (c *Context) onSnapshotsChanged(ev snapshot.Event) {
	if ev.PostedBy == c {
		return
	}
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	for id, snap := range ev.Updated {
		if o, ok := c.reg.get(id); ok && o.state == domain.Committed {
			o.fillLocked(dataFromSnapshot(o.entity, id, snap))
		}
	}
	for _, id := range ev.Deleted {
		c.deletedLocked(id)
	}
	for _, id := range ev.Invalidated {
		if o, ok := c.reg.get(id); ok && o.state == domain.Committed {
			o.hollowLocked()
		}
	}
	for _, id := range ev.IndirectlyModified {
		if o, ok := c.reg.get(id); ok && o.state == domain.Committed {
			o.toMany = make(map[string]*toMany)
		}
	}
}

// deletedLocked handles the deletion of id's row by someone else: committed
// objects leave the context, modified ones become new so that a commit
// recreates them.
func (c *Context) deletedLocked(id domain.ObjectID) {
	o, ok := c.reg.get(id)
	if !ok {
		return
	}
	switch o.state {
	case domain.Committed, domain.Hollow:
		o.state = domain.Transient
		c.reg.remove(o)
	case domain.Modified:
		o.state = domain.New
	case domain.Deleted:
		o.state = domain.Transient
		c.reg.remove(o)
		c.ledger.Forget(id)
	}
}
