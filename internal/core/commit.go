package core

import (
	"context"

	"go.uber.org/zap"

	"graphsync/internal/commitlog"
	"graphsync/internal/event"
	"graphsync/internal/flush"
	"graphsync/internal/graph"
	"graphsync/internal/metadata"
	"graphsync/internal/observability"
	"graphsync/pkg/domain"
)

// Commit synchronizes the changes of c through every parent down to the
// database. On success new and modified objects are committed, deleted
// objects become transient and temporary identities are replaced. On failure
// c is left as it was, ledger included.
func (c *Context) Commit(ctx context.Context) (_ flush.Result, err error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if !c.ledger.HasChanges() {
		return flush.Result{}, nil
	}
	done := observability.Track(ctx, c.metrics, observability.OpCommit)
	defer func() { done(err) }()

	res, err := c.parent.sync(ctx, c, true)
	if err != nil {
		c.log.Warn("commit failed", zap.Error(err))
		return flush.Result{}, err
	}
	c.applyCommitted(ctx, res)
	c.log.Debug("committed",
		zap.Int("statements", res.Statements),
		zap.Int("id_changes", len(res.IDChanges)),
		zap.Int("deleted", len(res.Deleted)))
	c.events.Post(event.Event{Subject: event.GraphFlushed, Source: c, Origin: c, Payload: res})
	return res, nil
}

// CommitToParent pushes the changes of c into its parent without going
// further. For a root-level context the parent is the Domain and the changes
// are written to the database.
func (c *Context) CommitToParent(ctx context.Context) (err error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if !c.ledger.HasChanges() {
		return nil
	}
	done := observability.Track(ctx, c.metrics, observability.OpCommitToParent)
	defer func() { done(err) }()

	res, err := c.parent.sync(ctx, c, false)
	if err != nil {
		c.log.Warn("commit to parent failed", zap.Error(err))
		return err
	}
	c.applyCommitted(ctx, res)
	c.events.Post(event.Event{Subject: event.GraphFlushed, Source: c, Origin: c, Payload: res})
	return nil
}

// sync absorbs the changes of a child. With cascade the combined changes are
// committed further up and the result applied here as well.
func (c *Context) sync(ctx context.Context, origin *Context, cascade bool) (flush.Result, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	diff, err := c.absorb(ctx, origin)
	if err != nil {
		return flush.Result{}, err
	}
	if !cascade {
		c.events.Post(event.Event{Subject: event.GraphChanged, Source: c, Origin: origin, Payload: diff})
		return flush.Result{}, nil
	}
	if !c.ledger.HasChanges() {
		return flush.Result{}, nil
	}
	res, err := c.parent.sync(ctx, c, true)
	if err != nil {
		return flush.Result{}, err
	}
	c.applyCommitted(ctx, res)
	c.events.Post(event.Event{Subject: event.GraphFlushed, Source: c, Origin: origin, Payload: res})
	return res, nil
}

// absorb replays the ledger of origin on c. Objects origin read from c are
// seeded from origin's baselines, so replay needs no I/O.
func (c *Context) absorb(ctx context.Context, origin *Context) (graph.Diff, error) {
	diff := origin.ledger.Diff()
	seeds := make(map[domain.ObjectID]objectData)
	origin.reg.mu.RLock()
	for _, id := range origin.ledger.Changed() {
		if o, ok := origin.reg.get(id); ok && o.state != domain.New && o.state != domain.Hollow {
			seeds[id] = o.baselineLocked()
		}
	}
	origin.reg.mu.RUnlock()

	a := &absorber{ctx: ctx, c: c, seeds: seeds}
	diff.Apply(a)
	return diff, a.err
}

// absorber applies a child's operations to its parent. Operations that
// would not change the parent are skipped so that replaying the same diff
// twice is harmless.
type absorber struct {
	ctx   context.Context
	c     *Context
	seeds map[domain.ObjectID]objectData
	err   error
}

func (a *absorber) object(id domain.ObjectID) *Object {
	if a.err != nil {
		return nil
	}
	var seed *objectData
	if d, ok := a.seeds[id]; ok {
		seed = &d
	}
	o, err := a.c.localObject(id, seed)
	if err == nil {
		err = a.c.fault(a.ctx, o)
	}
	if err != nil {
		a.err = err
		return nil
	}
	return o
}

func (a *absorber) NodeCreated(id domain.ObjectID) {
	if a.err != nil {
		return
	}
	e, err := a.c.resolver.EntityOf(id)
	if err != nil {
		a.err = err
		return
	}
	c := a.c
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if _, ok := c.reg.get(id); ok {
		return
	}
	o := newObject(c, e, id, domain.New)
	for i := range e.Attributes {
		o.values[e.Attributes[i].Name] = nil
	}
	for i := range e.Relationships {
		if rel := &e.Relationships[i]; rel.ToMany || rel.Flattened() {
			o.toMany[rel.Name] = resolvedList()
		}
	}
	c.reg.put(o)
	c.ledger.RecordCreated(id)
}

func (a *absorber) NodeRemoved(id domain.ObjectID) {
	o := a.object(id)
	if o == nil {
		return
	}
	c := a.c
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	switch o.state {
	case domain.New:
		o.state = domain.Transient
		c.reg.remove(o)
		c.ledger.Forget(id)
	case domain.Committed, domain.Modified:
		o.state = domain.Deleted
		c.ledger.RecordRemoved(id)
	}
}

func (a *absorber) NodePropertyChanged(id domain.ObjectID, property string, _, value any) {
	o := a.object(id)
	if o == nil {
		return
	}
	c := a.c
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	current := o.values[property]
	if domain.ValuesEqual(current, value) {
		return
	}
	o.values[property] = value
	c.ledger.RecordProperty(id, property, current, value)
	o.touchLocked()
}

func (a *absorber) ArcCreated(id, target domain.ObjectID, arc string) {
	a.arc(id, target, arc, true)
}

func (a *absorber) ArcDeleted(id, target domain.ObjectID, arc string) {
	a.arc(id, target, arc, false)
}

func (a *absorber) arc(id, target domain.ObjectID, arc string, add bool) {
	o := a.object(id)
	if o == nil {
		return
	}
	rel, ok := o.entity.Relationship(arc)
	if !ok {
		a.err = domain.ErrProgrammer.New("entity %q has no relationship %q", o.entity.Name, arc)
		return
	}
	c := a.c
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if rel.ToMany || rel.Flattened() {
		l := o.list(arc)
		if add && l.add(target) {
			c.ledger.RecordArcCreated(id, target, arc)
			o.touchLocked()
		} else if !add && l.remove(target) {
			c.ledger.RecordArcDeleted(id, target, arc)
			o.touchLocked()
		}
		return
	}
	current := o.toOne[arc]
	switch {
	case add && current != target:
		if !current.IsZero() {
			c.ledger.RecordArcDeleted(id, current, arc)
		}
		o.toOne[arc] = target
		c.ledger.RecordArcCreated(id, target, arc)
		o.touchLocked()
	case !add && current == target:
		o.toOne[arc] = domain.ObjectID{}
		c.ledger.RecordArcDeleted(id, target, arc)
		o.touchLocked()
	}
}

// applyCommitted makes the result of a successful sync the new committed
// state of c and clears the ledger. A root-level context then runs the
// post-commit callbacks.
func (c *Context) applyCommitted(ctx context.Context, res flush.Result) {
	var calls []lifecycle
	c.reg.mu.Lock()
	c.remapLocked(res.IDChanges)
	for _, o := range c.reg.list() {
		switch o.state {
		case domain.New, domain.Modified:
			if o.state == domain.New {
				calls = append(calls, lifecycle{PostPersist, o})
			} else if !c.ledger.IsPhantom(o.id) {
				calls = append(calls, lifecycle{PostUpdate, o})
			}
			snap, ok := res.Snapshots[o.id]
			o.commitLocked(snap, ok)
		case domain.Deleted:
			o.state = domain.Transient
			c.reg.remove(o)
			calls = append(calls, lifecycle{PostRemove, o})
		}
	}
	c.ledger.Clear()
	c.reg.mu.Unlock()
	if c.parent == Channel(c.dom) {
		c.dom.fire(ctx, calls)
	}
}

// remapLocked replaces temporary identities everywhere in c, including the
// primary key attributes of the re-keyed objects.
func (c *Context) remapLocked(changes map[domain.ObjectID]domain.ObjectID) {
	for temp, perm := range changes {
		if o, ok := c.reg.get(temp); ok {
			c.reg.rekey(o, perm)
			for _, a := range o.entity.PrimaryKey() {
				if v, ok := perm.Value(a.Column); ok {
					o.values[a.Name] = v
				}
			}
		}
		c.reg.remap(temp, perm)
		c.ledger.Remap(temp, perm)
	}
}

// RollbackLocally discards the changes of c: new objects become transient,
// modified and deleted objects hollow. Parents are not affected.
func (c *Context) RollbackLocally() {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.reg.mu.Lock()
	changed := c.ledger.HasChanges()
	for _, o := range c.reg.list() {
		switch o.state {
		case domain.New:
			o.state = domain.Transient
			c.reg.remove(o)
		case domain.Modified, domain.Deleted:
			o.hollowLocked()
		}
	}
	c.ledger.Clear()
	c.reg.mu.Unlock()

	if changed {
		c.log.Debug("rolled back")
		c.events.Post(event.Event{Subject: event.GraphRolledBack, Source: c, Origin: c})
	}
}

// Rollback discards the changes of c and of every parent context.
func (c *Context) Rollback() {
	c.RollbackLocally()
	c.parent.rollback()
}

func (c *Context) rollback() { c.Rollback() }

// commitPlan is what a root-level sync sends to the database.
type commitPlan struct {
	request   flush.Request
	changes   []domain.Change
	changeMap *commitlog.ChangeMap
	// indirect lists objects whose plain to-many relationships changed.
	indirect []domain.ObjectID
}

// plan builds the flush request from the ledger. Modified objects whose
// recorded changes cancel out produce no row.
func (c *Context) plan(node string) commitPlan {
	p := commitPlan{changeMap: commitlog.NewChangeMap(node)}
	c.reg.mu.RLock()
	defer c.reg.mu.RUnlock()
	for _, id := range c.ledger.Changed() {
		o, ok := c.reg.get(id)
		if !ok {
			continue
		}
		nd, _ := c.ledger.NodeDiff(id)
		var typ commitlog.ChangeType
		switch o.state {
		case domain.New:
			typ = commitlog.Insert
			p.request.Objects = append(p.request.Objects, flush.ObjectRow{
				ID: id, Entity: o.entity, Op: flush.Insert,
				Values: cloneMap(o.values), ToOne: cloneMap(o.toOne),
			})
			p.changes = append(p.changes, domain.Change{
				Entity: o.entity.Name, ID: id, Action: domain.ActionCreate, After: cloneMap(o.values),
			})
		case domain.Modified:
			typ = commitlog.Update
			if !c.ledger.IsPhantom(id) {
				p.request.Objects = append(p.request.Objects, flush.ObjectRow{
					ID: id, Entity: o.entity, Op: flush.Update,
					Values: cloneMap(o.values), ToOne: cloneMap(o.toOne),
					Baseline: cloneMap(o.baseline), BaselineToOne: cloneMap(o.baselineToOne),
					Snapshot: o.snapshot,
				})
				p.changes = append(p.changes, domain.Change{
					Entity: o.entity.Name, ID: id, Action: domain.ActionUpdate,
					Before: cloneMap(o.baseline), After: cloneMap(o.values),
				})
			}
		case domain.Deleted:
			typ = commitlog.Delete
			p.request.Objects = append(p.request.Objects, flush.ObjectRow{
				ID: id, Entity: o.entity, Op: flush.Delete,
				Values: cloneMap(o.baseline), ToOne: cloneMap(o.baselineToOne),
				Baseline: cloneMap(o.baseline), BaselineToOne: cloneMap(o.baselineToOne),
				Snapshot: o.snapshot,
			})
			p.changes = append(p.changes, domain.Change{
				Entity: o.entity.Name, ID: id, Action: domain.ActionDelete, Before: cloneMap(o.baseline),
			})
		default:
			continue
		}
		if nd == nil {
			continue
		}
		created, deleted := nd.NetArcs()
		p.joins(o, created, flush.Insert)
		p.joins(o, deleted, flush.Delete)
		if o.state == domain.Modified && plainToManyChanged(o.entity, created, deleted) {
			p.indirect = append(p.indirect, id)
		}
		p.record(o, typ, nd, created, deleted)
	}
	return p
}

func (p *commitPlan) joins(o *Object, arcs map[string][]domain.ObjectID, op flush.Operation) {
	for _, arc := range metadata.SortedKeys(arcs) {
		rel, ok := o.entity.Relationship(arc)
		if !ok || !rel.Flattened() {
			continue
		}
		for _, target := range arcs[arc] {
			p.request.Joins = append(p.request.Joins, flush.JoinRow{Source: o.id, Target: target, Relationship: rel, Op: op})
		}
	}
}

func plainToManyChanged(e *domain.Entity, created, deleted map[string][]domain.ObjectID) bool {
	for _, arcs := range []map[string][]domain.ObjectID{created, deleted} {
		for arc := range arcs {
			if rel, ok := e.Relationship(arc); ok && rel.ToMany && !rel.Flattened() {
				return true
			}
		}
	}
	return false
}

// record adds the commit log entry of o.
func (p *commitPlan) record(o *Object, typ commitlog.ChangeType, nd *graph.NodeDiff, created, deleted map[string][]domain.ObjectID) {
	ch := commitlog.NewObjectChange(o.id, o.entity.Name, typ)
	switch typ {
	case commitlog.Insert:
		for _, name := range metadata.SortedKeys(o.values) {
			if v := o.values[name]; v != nil {
				ch.SetAttribute(name, nil, v)
			}
		}
		for _, name := range metadata.SortedKeys(o.toOne) {
			if t := o.toOne[name]; !t.IsZero() {
				ch.SetToOne(name, domain.ObjectID{}, t)
			}
		}
	case commitlog.Update:
		for _, name := range nd.ChangedProperties() {
			ch.SetAttribute(name, o.baseline[name], o.values[name])
		}
		for _, name := range metadata.SortedKeys(o.toOne) {
			if before, after := o.baselineToOne[name], o.toOne[name]; before != after {
				ch.SetToOne(name, before, after)
			}
		}
	}
	if typ != commitlog.Delete {
		for arc, targets := range created {
			if rel, ok := o.entity.Relationship(arc); ok && (rel.ToMany || rel.Flattened()) {
				for _, t := range targets {
					ch.AddToMany(arc, t)
				}
			}
		}
		for arc, targets := range deleted {
			if rel, ok := o.entity.Relationship(arc); ok && (rel.ToMany || rel.Flattened()) {
				for _, t := range targets {
					ch.RemoveToMany(arc, t)
				}
			}
		}
	}
	if typ == commitlog.Update && ch.Empty() {
		return
	}
	p.changeMap.Add(ch)
}
