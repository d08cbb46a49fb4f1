package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"graphsync/internal/event"
	"graphsync/internal/graph"
	"graphsync/internal/metadata"
	"graphsync/internal/observability"
	"graphsync/internal/snapshot"
	"graphsync/pkg/domain"
)

// Context is a session over the object graph. Objects are registered by
// identity, every change is recorded in a ledger and synchronized with the
// parent channel on commit.
//
// A Context is safe for concurrent use. One mutex guards the registry and the
// objects in it; commits, rollbacks and copies are serialized by a second one.
type Context struct {
	name      string
	parent    Channel
	dom       *Domain
	resolver  *metadata.Resolver
	events    *event.Manager
	snapshots *snapshot.Store
	log       *zap.Logger
	metrics   observability.MetricsRecorder

	commitMu sync.Mutex
	reg      *registry
	ledger   *graph.Ledger

	subsMu  sync.Mutex
	subs    []event.Subscription
	snapSub *event.Subscription
}

func newContext(parent Channel, snapshots *snapshot.Store) *Context {
	d := parent.root()
	name := fmt.Sprintf("%s-%d", d.name, d.contexts.Add(1))
	c := &Context{
		name:      name,
		parent:    parent,
		dom:       d,
		resolver:  parent.Resolver(),
		events:    parent.Events(),
		snapshots: snapshots,
		log:       d.log.Named("context").With(zap.String("context", name)),
		metrics:   d.metrics,
		reg:       newRegistry(),
		ledger:    graph.NewLedger(rowArcs(parent.Resolver())),
	}
	c.subscribe()
	return c
}

// rowArcs reports which arcs change the object's own rows: to-one arcs and
// arcs of flattened relationships.
func rowArcs(r *metadata.Resolver) graph.ArcFilter {
	return func(id domain.ObjectID, arc string) bool {
		_, rel, err := r.Relationship(id.Entity(), arc)
		if err != nil {
			return true
		}
		return !rel.ToMany || rel.Flattened()
	}
}

// Name identifies the context in logs.
func (c *Context) Name() string { return c.name }

// Parent returns the channel the context commits to.
func (c *Context) Parent() Channel { return c.parent }

// Domain returns the domain at the root of the context hierarchy.
func (c *Context) Domain() *Domain { return c.dom }

// Resolver implements Channel.
func (c *Context) Resolver() *metadata.Resolver { return c.resolver }

// Events implements Channel.
func (c *Context) Events() *event.Manager { return c.events }

// Snapshots returns the snapshot cache the context reads through.
func (c *Context) Snapshots() *snapshot.Store { return c.snapshots }

// NewChild returns a nested context committing into c.
func (c *Context) NewChild() *Context {
	return newContext(c, c.snapshots)
}

// NewObject registers a new object of entity with a temporary identity.
func (c *Context) NewObject(entity string) (*Object, error) {
	e, err := c.resolver.Entity(entity)
	if err != nil {
		return nil, err
	}
	if e.ReadOnly {
		return nil, domain.ErrProgrammer.New("entity %q is read-only", e.Name)
	}
	id := domain.NewTempID(e.Name)
	o := newObject(c, e, id, domain.New)
	for i := range e.Attributes {
		o.values[e.Attributes[i].Name] = nil
	}
	for i := range e.Relationships {
		if rel := &e.Relationships[i]; rel.ToMany || rel.Flattened() {
			o.toMany[rel.Name] = resolvedList()
		}
	}
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	c.reg.put(o)
	c.ledger.RecordCreated(id)
	return o, nil
}

// ObjectForID returns the object registered for id or registers a hollow
// placeholder for it. No I/O is performed.
func (c *Context) ObjectForID(id domain.ObjectID) (*Object, error) {
	return c.localObject(id, nil)
}

// LocalObject returns the object for id in this context. When prototype is
// given and resolved, its committed state seeds an object this context has
// not registered yet, so no fetch is needed.
func (c *Context) LocalObject(id domain.ObjectID, prototype *Object) (*Object, error) {
	if prototype == nil {
		return c.localObject(id, nil)
	}
	pc := prototype.ctx
	pc.reg.mu.RLock()
	state := prototype.state
	var d objectData
	if state != domain.Hollow && state != domain.Transient {
		d = prototype.baselineLocked()
	}
	pc.reg.mu.RUnlock()
	if state == domain.Hollow || state == domain.Transient {
		return c.localObject(id, nil)
	}
	d.id = id
	return c.localObject(id, &d)
}

// Select runs q and registers the matching objects. Objects with local
// changes keep them; objects pending delete are left out. PostLoad callbacks
// run on every committed object of the result.
func (c *Context) Select(ctx context.Context, q domain.ObjectQuery) (_ []*Object, err error) {
	done := observability.Track(ctx, c.metrics, observability.OpSelect)
	defer func() { done(err) }()

	data, err := c.parent.selectObjects(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*Object, 0, len(data))
	var loaded []*Object
	for i := range data {
		o, err := c.localObject(data[i].id, &data[i])
		if err != nil {
			return nil, err
		}
		switch o.State() {
		case domain.Deleted, domain.Transient:
			continue
		case domain.Committed:
			loaded = append(loaded, o)
		}
		out = append(out, o)
	}
	c.postLoad(ctx, loaded...)
	return out, nil
}

// Iterate streams the primary table rows matching q to fn without
// registering objects. Iteration stops at the first error fn returns.
func (c *Context) Iterate(ctx context.Context, q domain.ObjectQuery, fn func(DataRow) error) error {
	return c.parent.iterate(ctx, q, fn)
}

// Invalidate turns committed objects hollow and drops their cached
// snapshots. Other contexts sharing the cache turn them hollow as well.
func (c *Context) Invalidate(objects ...*Object) error {
	for _, o := range objects {
		if o.ctx != c {
			return domain.ErrProgrammer.New("%s belongs to another context", o.ID())
		}
	}
	var ids []domain.ObjectID
	c.reg.mu.Lock()
	for _, o := range objects {
		switch o.state {
		case domain.Committed:
			o.hollowLocked()
			ids = append(ids, o.id)
		case domain.Hollow:
			ids = append(ids, o.id)
		}
	}
	c.reg.mu.Unlock()
	c.snapshots.ApplyChanges(c, snapshot.Changes{Invalidated: ids})
	return nil
}

// HasChanges reports whether anything was recorded since the last sync,
// including changes that cancel out.
func (c *Context) HasChanges() bool {
	return c.ledger.HasChanges()
}

// RegisteredObjects returns every registered object in registration order.
func (c *Context) RegisteredObjects() []*Object {
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	return c.reg.list()
}

// NewObjects returns the objects pending insert.
func (c *Context) NewObjects() []*Object { return c.objectsIn(domain.New) }

// ModifiedObjects returns the objects pending update.
func (c *Context) ModifiedObjects() []*Object { return c.objectsIn(domain.Modified) }

// DeletedObjects returns the objects pending delete.
func (c *Context) DeletedObjects() []*Object { return c.objectsIn(domain.Deleted) }

// UncommittedObjects returns new, modified and deleted objects.
func (c *Context) UncommittedObjects() []*Object {
	return c.objectsIn(domain.New, domain.Modified, domain.Deleted)
}

func (c *Context) objectsIn(states ...domain.PersistenceState) []*Object {
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	return c.reg.filter(func(o *Object) bool {
		for _, s := range states {
			if o.state == s {
				return true
			}
		}
		return false
	})
}

// Close detaches the context from event notifications. Objects stay
// readable but no longer follow changes committed elsewhere.
func (c *Context) Close() {
	c.subsMu.Lock()
	subs, snapSub := c.subs, c.snapSub
	c.subs, c.snapSub = nil, nil
	c.subsMu.Unlock()
	for _, sub := range subs {
		if err := c.events.Unsubscribe(sub); err != nil {
			c.log.Warn("unsubscribe failed", zap.Error(err))
		}
	}
	if snapSub != nil {
		c.snapshots.Unsubscribe(*snapSub)
	}
	if c.snapshots != c.dom.snapshots {
		c.snapshots.Shutdown()
	}
}

func (c *Context) root() *Domain { return c.dom }

func (c *Context) objectData(ctx context.Context, id domain.ObjectID) (objectData, error) {
	c.reg.mu.RLock()
	o, ok := c.reg.get(id)
	c.reg.mu.RUnlock()
	if !ok {
		return c.parent.objectData(ctx, id)
	}
	if err := c.fault(ctx, o); err != nil {
		return objectData{}, err
	}
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	if o.state == domain.Deleted || o.state == domain.Transient {
		return objectData{}, &domain.FaultFailureError{ID: id}
	}
	return o.dataLocked(), nil
}

func (c *Context) selectObjects(ctx context.Context, q domain.ObjectQuery) ([]objectData, error) {
	data, err := c.parent.selectObjects(ctx, q)
	if err != nil {
		return nil, err
	}
	return c.overlay(data), nil
}

func (c *Context) related(ctx context.Context, source domain.ObjectID, rel *domain.Relationship) ([]objectData, error) {
	c.reg.mu.RLock()
	o, ok := c.reg.get(source)
	c.reg.mu.RUnlock()
	if !ok {
		data, err := c.parent.related(ctx, source, rel)
		if err != nil {
			return nil, err
		}
		return c.overlay(data), nil
	}
	ids, err := c.relatedIDs(ctx, o, rel)
	if err != nil {
		return nil, err
	}
	data := make([]objectData, len(ids))
	for i, id := range ids {
		data[i] = objectData{id: id, hollow: true}
	}
	return c.overlay(data), nil
}

// overlay replaces fetched data with the state of objects registered here
// and drops objects pending delete.
func (c *Context) overlay(data []objectData) []objectData {
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	out := data[:0]
	for _, d := range data {
		if o, ok := c.reg.get(d.id); ok {
			switch o.state {
			case domain.Deleted, domain.Transient:
				continue
			case domain.New, domain.Committed, domain.Modified:
				d = o.dataLocked()
			}
		}
		out = append(out, d)
	}
	return out
}

func (c *Context) iterate(ctx context.Context, q domain.ObjectQuery, fn func(DataRow) error) error {
	return c.parent.iterate(ctx, q, fn)
}
