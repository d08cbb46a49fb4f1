package core

import (
	"sync"

	"graphsync/pkg/domain"
)

// registry maps identities to the objects of one context. The mutex also
// guards every field of the registered objects.
type registry struct {
	mu      sync.RWMutex
	objects map[domain.ObjectID]*Object
	order   []*Object
}

func newRegistry() *registry {
	return &registry{objects: make(map[domain.ObjectID]*Object)}
}

func (r *registry) get(id domain.ObjectID) (*Object, bool) {
	o, ok := r.objects[id]
	return o, ok
}

func (r *registry) put(o *Object) {
	if _, ok := r.objects[o.id]; !ok {
		r.order = append(r.order, o)
	}
	r.objects[o.id] = o
}

func (r *registry) remove(o *Object) {
	if r.objects[o.id] != o {
		return
	}
	delete(r.objects, o.id)
	for i, existing := range r.order {
		if existing == o {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

// rekey moves o from its current identity to id.
func (r *registry) rekey(o *Object, id domain.ObjectID) {
	if r.objects[o.id] == o {
		delete(r.objects, o.id)
	}
	o.id = id
	r.objects[id] = o
}

// remap rewrites references to old in every registered object.
func (r *registry) remap(old, new domain.ObjectID) {
	for _, o := range r.order {
		for name, target := range o.toOne {
			if target == old {
				o.toOne[name] = new
			}
		}
		for name, target := range o.baselineToOne {
			if target == old {
				o.baselineToOne[name] = new
			}
		}
		for _, l := range o.toMany {
			l.remap(old, new)
		}
	}
}

// list returns the registered objects in registration order.
func (r *registry) list() []*Object {
	return append([]*Object(nil), r.order...)
}

func (r *registry) filter(keep func(*Object) bool) []*Object {
	var out []*Object
	for _, o := range r.order {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}
