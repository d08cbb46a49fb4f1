package core

import (
	"context"
	"sync"

	"graphsync/pkg/domain"
)

// LifecycleEvent is a point in the life of a persistent object at which
// callbacks run.
type LifecycleEvent int

const (
	// PrePersist runs on new objects when a commit starts, before rules.
	PrePersist LifecycleEvent = iota
	// PostPersist runs on inserted objects once they hold permanent
	// identities.
	PostPersist
	// PreUpdate runs on modified objects when a commit starts, before rules.
	PreUpdate
	// PostUpdate runs on updated objects after the commit.
	PostUpdate
	// PreRemove runs on objects pending delete when a commit starts.
	PreRemove
	// PostRemove runs on deleted objects after the commit.
	PostRemove
	// PostLoad runs when database data is loaded into an object.
	PostLoad
)

var lifecycleNames = [...]string{"pre-persist", "post-persist", "pre-update", "post-update", "pre-remove", "post-remove", "post-load"}

func (e LifecycleEvent) String() string {
	if e < 0 || int(e) >= len(lifecycleNames) {
		return "unknown"
	}
	return lifecycleNames[e]
}

// Callback receives the object a lifecycle event happened to. Callbacks run
// without context locks held and may read and change the object.
type Callback func(ctx context.Context, o *Object)

type callbackKey struct {
	event  LifecycleEvent
	entity string
}

type callbackRegistry struct {
	mu      sync.RWMutex
	entries map[callbackKey][]Callback
}

func (r *callbackRegistry) add(k callbackKey, fn Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[callbackKey][]Callback)
	}
	r.entries[k] = append(r.entries[k], fn)
}

func (r *callbackRegistry) get(k callbackKey) []Callback {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[k]
}

func (r *callbackRegistry) empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries) == 0
}

// WithCallback registers fn for event on objects of entity.
func WithCallback(event LifecycleEvent, entity string, fn Callback) Option {
	return func(d *Domain) {
		d.pending = append(d.pending, pendingCallback{event: event, entity: entity, fn: fn})
	}
}

type pendingCallback struct {
	event  LifecycleEvent
	entity string
	fn     Callback
}

// AddCallback registers fn for event on objects of entity. Callbacks of one
// event run in registration order.
func (d *Domain) AddCallback(event LifecycleEvent, entity string, fn Callback) error {
	if fn == nil {
		return domain.ErrProgrammer.New("nil %s callback", event)
	}
	if event < PrePersist || event > PostLoad {
		return domain.ErrProgrammer.New("unknown lifecycle event %d", int(event))
	}
	if _, err := d.resolver.Entity(entity); err != nil {
		return err
	}
	d.callbacks.add(callbackKey{event: event, entity: entity}, fn)
	return nil
}

// lifecycle is a callback invocation collected under a lock and run after
// it is released.
type lifecycle struct {
	event LifecycleEvent
	obj   *Object
}

func (d *Domain) fire(ctx context.Context, calls []lifecycle) {
	for _, call := range calls {
		for _, fn := range d.callbacks.get(callbackKey{event: call.event, entity: call.obj.entity.Name}) {
			fn(ctx, call.obj)
		}
	}
}

// preCommit runs the pre-commit callbacks on the changed objects of c.
func (c *Context) preCommit(ctx context.Context) {
	if c.dom.callbacks.empty() {
		return
	}
	var calls []lifecycle
	c.reg.mu.RLock()
	for _, id := range c.ledger.Changed() {
		o, ok := c.reg.get(id)
		if !ok {
			continue
		}
		switch o.state {
		case domain.New:
			calls = append(calls, lifecycle{PrePersist, o})
		case domain.Modified:
			if !c.ledger.IsPhantom(id) {
				calls = append(calls, lifecycle{PreUpdate, o})
			}
		case domain.Deleted:
			calls = append(calls, lifecycle{PreRemove, o})
		}
	}
	c.reg.mu.RUnlock()
	c.dom.fire(ctx, calls)
}

// postLoad runs the PostLoad callbacks on objects filled from fetched data.
func (c *Context) postLoad(ctx context.Context, objects ...*Object) {
	if len(objects) == 0 || c.dom.callbacks.empty() {
		return
	}
	calls := make([]lifecycle, len(objects))
	for i, o := range objects {
		calls[i] = lifecycle{PostLoad, o}
	}
	c.dom.fire(ctx, calls)
}
