// Package metadata interprets the mapping model: entity lookup, validation,
// table dependency order, conversions between rows, snapshots and object
// values, query translation and DDL generation.
package metadata

import (
	"sort"
	"strings"

	"graphsync/pkg/domain"
)

// Resolver is an immutable, validated registry of entities.
type Resolver struct {
	entities   map[string]*domain.Entity
	names      []string
	tableOwner map[string]*domain.Entity
	joinTables map[string]*domain.JoinTable
	order      []string
	index      map[string]int
	selfRef    map[string]bool
}

// NewResolver copies, normalizes and validates entities.
func NewResolver(entities ...domain.Entity) (*Resolver, error) {
	r := &Resolver{
		entities:   make(map[string]*domain.Entity, len(entities)),
		tableOwner: make(map[string]*domain.Entity),
		joinTables: make(map[string]*domain.JoinTable),
		selfRef:    make(map[string]bool),
	}
	for i := range entities {
		e := cloneEntity(entities[i])
		normalize(e)
		if e.Name == "" {
			return nil, domain.ErrMapping.New("entity #%d has no name", i)
		}
		if _, dup := r.entities[e.Name]; dup {
			return nil, domain.ErrMapping.New("duplicate entity %q", e.Name)
		}
		r.entities[e.Name] = e
		r.names = append(r.names, e.Name)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	r.sortTables()
	return r, nil
}

// MustResolver panics when NewResolver fails. Intended for tests and fixed
// programmatic models.
func MustResolver(entities ...domain.Entity) *Resolver {
	r, err := NewResolver(entities...)
	if err != nil {
		panic(err)
	}
	return r
}

func cloneEntity(src domain.Entity) *domain.Entity {
	e := src
	e.Attributes = append([]domain.Attribute(nil), src.Attributes...)
	e.SecondaryTables = make([]domain.SecondaryTable, len(src.SecondaryTables))
	for i, st := range src.SecondaryTables {
		st.Joins = append([]domain.Join(nil), st.Joins...)
		e.SecondaryTables[i] = st
	}
	e.Relationships = make([]domain.Relationship, len(src.Relationships))
	for i, rel := range src.Relationships {
		rel.Joins = append([]domain.Join(nil), rel.Joins...)
		if rel.JoinTable != nil {
			jt := *rel.JoinTable
			jt.SourceJoins = append([]domain.Join(nil), jt.SourceJoins...)
			jt.TargetJoins = append([]domain.Join(nil), jt.TargetJoins...)
			rel.JoinTable = &jt
		}
		e.Relationships[i] = rel
	}
	return &e
}

func normalize(e *domain.Entity) {
	if e.PKStrategy == "" {
		e.PKStrategy = domain.PKProvided
	}
	if e.Lock == "" {
		e.Lock = domain.LockNone
	}
	if e.PKStrategy == domain.PKSequence && e.Sequence == "" {
		e.Sequence = "pk_" + strings.ToLower(e.Table)
	}
	for i := range e.Attributes {
		a := &e.Attributes[i]
		if a.Column == "" {
			a.Column = a.Name
		}
		if a.Type == "" {
			a.Type = domain.TypeText
		}
		if a.Table == e.Table {
			a.Table = ""
		}
	}
}

// Entity returns the entity named name.
func (r *Resolver) Entity(name string) (*domain.Entity, error) {
	e, ok := r.entities[name]
	if !ok {
		return nil, domain.ErrProgrammer.New("unmapped entity %q", name)
	}
	return e, nil
}

// EntityOf returns the entity of an identity.
func (r *Resolver) EntityOf(id domain.ObjectID) (*domain.Entity, error) {
	return r.Entity(id.Entity())
}

// Entities returns all entities in declaration order.
func (r *Resolver) Entities() []*domain.Entity {
	out := make([]*domain.Entity, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.entities[n])
	}
	return out
}

// EntityForTable returns the entity owning a primary or secondary table.
func (r *Resolver) EntityForTable(table string) (*domain.Entity, bool) {
	e, ok := r.tableOwner[table]
	return e, ok
}

// JoinTable returns the join table definition for a join table name.
func (r *Resolver) JoinTable(name string) (*domain.JoinTable, bool) {
	jt, ok := r.joinTables[name]
	return jt, ok
}

// Relationship returns a relationship of an entity.
func (r *Resolver) Relationship(entity, name string) (*domain.Entity, *domain.Relationship, error) {
	e, err := r.Entity(entity)
	if err != nil {
		return nil, nil, err
	}
	rel, ok := e.Relationship(name)
	if !ok {
		return nil, nil, domain.ErrProgrammer.New("entity %q has no relationship %q", entity, name)
	}
	return e, rel, nil
}

// Reverse returns the reverse of rel, if mapped.
func (r *Resolver) Reverse(rel *domain.Relationship) (*domain.Entity, *domain.Relationship, bool) {
	if rel.Reverse == "" {
		return nil, nil, false
	}
	target, ok := r.entities[rel.Target]
	if !ok {
		return nil, nil, false
	}
	rev, ok := target.Relationship(rel.Reverse)
	if !ok {
		return nil, nil, false
	}
	return target, rev, true
}

// SortTables returns all tables parents first: a table comes after every table
// its foreign keys reference. Tables on a reference cycle are appended in name
// order.
func (r *Resolver) SortTables() []string {
	return append([]string(nil), r.order...)
}

// TableIndex returns the position of table in SortTables, or -1.
func (r *Resolver) TableIndex(table string) int {
	if i, ok := r.index[table]; ok {
		return i
	}
	return -1
}

// SelfReferencing reports whether table has a foreign key to itself.
func (r *Resolver) SelfReferencing(table string) bool {
	return r.selfRef[table]
}

func (r *Resolver) sortTables() {
	deps := make(map[string]map[string]bool)
	addTable := func(t string) {
		if _, ok := deps[t]; !ok {
			deps[t] = make(map[string]bool)
		}
	}
	dependsOn := func(child, parent string) {
		addTable(child)
		addTable(parent)
		if child == parent {
			r.selfRef[child] = true
			return
		}
		deps[child][parent] = true
	}
	for _, e := range r.Entities() {
		addTable(e.Table)
		for _, st := range e.SecondaryTables {
			dependsOn(st.Name, e.Table)
		}
		for i := range e.Relationships {
			rel := &e.Relationships[i]
			target := r.entities[rel.Target]
			switch {
			case rel.Flattened():
				dependsOn(rel.JoinTable.Name, e.Table)
				dependsOn(rel.JoinTable.Name, target.Table)
			case !rel.ToMany:
				dependsOn(e.Table, target.Table)
			}
		}
	}

	remaining := make(map[string]map[string]bool, len(deps))
	for t, parents := range deps {
		cp := make(map[string]bool, len(parents))
		for p := range parents {
			cp[p] = true
		}
		remaining[t] = cp
	}
	var order []string
	for len(remaining) > 0 {
		var ready []string
		for t, parents := range remaining {
			if len(parents) == 0 {
				ready = append(ready, t)
			}
		}
		if len(ready) == 0 {
			var cyclic []string
			for t := range remaining {
				cyclic = append(cyclic, t)
			}
			sort.Strings(cyclic)
			order = append(order, cyclic...)
			break
		}
		sort.Strings(ready)
		for _, t := range ready {
			order = append(order, t)
			delete(remaining, t)
			for _, parents := range remaining {
				delete(parents, t)
			}
		}
	}
	r.order = order
	r.index = make(map[string]int, len(order))
	for i, t := range order {
		r.index[t] = i
	}
}
