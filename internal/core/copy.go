package core

import (
	"maps"

	"graphsync/pkg/domain"
)

// CopyOptions configures Context.Copy.
type CopyOptions struct {
	// ShareSnapshotCache makes the copy read through the same snapshot cache
	// as the original. Otherwise the copy gets a private cache seeded with the
	// snapshots of the copied objects and no longer sees commits made through
	// other contexts.
	ShareSnapshotCache bool
}

// Copy returns an independent context with the same parent holding copies of
// every registered object and of the pending changes.
func (c *Context) Copy(opts CopyOptions) (*Context, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	store := c.snapshots
	if !opts.ShareSnapshotCache {
		c.reg.mu.RLock()
		ids := make([]domain.ObjectID, 0, len(c.reg.order))
		for _, o := range c.reg.order {
			ids = append(ids, o.id)
		}
		c.reg.mu.RUnlock()
		var err error
		if store, err = c.snapshots.Copy(ids); err != nil {
			return nil, err
		}
	}

	cp := newContext(c.parent, store)
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	cp.reg.mu.Lock()
	defer cp.reg.mu.Unlock()
	for _, o := range c.reg.order {
		n := &Object{
			ctx:           cp,
			entity:        o.entity,
			id:            o.id,
			state:         o.state,
			values:        cloneMap(o.values),
			toOne:         cloneMap(o.toOne),
			toMany:        make(map[string]*toMany, len(o.toMany)),
			baseline:      maps.Clone(o.baseline),
			baselineToOne: maps.Clone(o.baselineToOne),
			snapshot:      o.snapshot,
		}
		for name, l := range o.toMany {
			n.toMany[name] = l.clone()
		}
		cp.reg.put(n)
	}
	cp.ledger = c.ledger.Copy()
	c.log.Debug("copied context")
	return cp, nil
}
