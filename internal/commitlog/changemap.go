// Package commitlog describes what a commit changed. A ChangeMap is built
// while the commit is planned and handed to listeners once the database
// accepted it, with temporary identities resolved to permanent ones.
package commitlog

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"graphsync/pkg/domain"
)

// ChangeType is the row operation a change stands for.
type ChangeType string

const (
	Insert ChangeType = "insert"
	Update ChangeType = "update"
	Delete ChangeType = "delete"
)

// AttributeChange holds the value before and after the commit.
type AttributeChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ToOneChange holds the target before and after the commit.
type ToOneChange struct {
	Old domain.ObjectID `json:"old"`
	New domain.ObjectID `json:"new"`
}

// ToManyChange lists the targets added to and removed from a to-many
// relationship.
type ToManyChange struct {
	Added   []domain.ObjectID `json:"added,omitempty"`
	Removed []domain.ObjectID `json:"removed,omitempty"`
}

// ObjectChange is the net change of one object.
type ObjectChange struct {
	PreCommitID  domain.ObjectID            `json:"pre_commit_id"`
	PostCommitID domain.ObjectID            `json:"post_commit_id"`
	Entity       string                     `json:"entity"`
	Type         ChangeType                 `json:"type"`
	Attributes   map[string]AttributeChange `json:"attributes,omitempty"`
	ToOne        map[string]ToOneChange     `json:"to_one,omitempty"`
	ToMany       map[string]*ToManyChange   `json:"to_many,omitempty"`
}

// NewObjectChange starts the change record of id.
func NewObjectChange(id domain.ObjectID, entity string, typ ChangeType) *ObjectChange {
	return &ObjectChange{PreCommitID: id, PostCommitID: id, Entity: entity, Type: typ}
}

// SetAttribute records an attribute change. Repeated calls keep the first
// old value.
func (c *ObjectChange) SetAttribute(name string, old, new any) {
	if c.Attributes == nil {
		c.Attributes = make(map[string]AttributeChange)
	}
	if prev, ok := c.Attributes[name]; ok {
		old = prev.Old
	}
	c.Attributes[name] = AttributeChange{Old: old, New: new}
}

// SetToOne records a to-one change. Repeated calls keep the first old target.
func (c *ObjectChange) SetToOne(name string, old, new domain.ObjectID) {
	if c.ToOne == nil {
		c.ToOne = make(map[string]ToOneChange)
	}
	if prev, ok := c.ToOne[name]; ok {
		old = prev.Old
	}
	c.ToOne[name] = ToOneChange{Old: old, New: new}
}

// AddToMany records target joining a to-many relationship. It cancels an
// earlier removal of the same target.
func (c *ObjectChange) AddToMany(name string, target domain.ObjectID) {
	m := c.toMany(name)
	if i := slices.Index(m.Removed, target); i >= 0 {
		m.Removed = slices.Delete(m.Removed, i, i+1)
	} else if !slices.Contains(m.Added, target) {
		m.Added = append(m.Added, target)
	}
	c.pruneToMany(name)
}

// RemoveToMany records target leaving a to-many relationship. It cancels an
// earlier addition of the same target.
func (c *ObjectChange) RemoveToMany(name string, target domain.ObjectID) {
	m := c.toMany(name)
	if i := slices.Index(m.Added, target); i >= 0 {
		m.Added = slices.Delete(m.Added, i, i+1)
	} else if !slices.Contains(m.Removed, target) {
		m.Removed = append(m.Removed, target)
	}
	c.pruneToMany(name)
}

func (c *ObjectChange) toMany(name string) *ToManyChange {
	if c.ToMany == nil {
		c.ToMany = make(map[string]*ToManyChange)
	}
	m := c.ToMany[name]
	if m == nil {
		m = &ToManyChange{}
		c.ToMany[name] = m
	}
	return m
}

func (c *ObjectChange) pruneToMany(name string) {
	if m := c.ToMany[name]; len(m.Added) == 0 && len(m.Removed) == 0 {
		delete(c.ToMany, name)
	}
}

// Empty reports whether the change carries no attribute or relationship
// changes.
func (c *ObjectChange) Empty() bool {
	return len(c.Attributes) == 0 && len(c.ToOne) == 0 && len(c.ToMany) == 0
}

// ChangeMap groups the object changes of one commit.
type ChangeMap struct {
	ID        string          `json:"id"`
	Node      string          `json:"node"`
	Committed time.Time       `json:"committed"`
	Changes   []*ObjectChange `json:"changes"`

	index map[domain.ObjectID]*ObjectChange
}

// NewChangeMap returns an empty change map for a commit against node.
func NewChangeMap(node string) *ChangeMap {
	return &ChangeMap{
		ID:    uuid.NewString(),
		Node:  node,
		index: make(map[domain.ObjectID]*ObjectChange),
	}
}

// Add appends ch, replacing an earlier change of the same object.
func (m *ChangeMap) Add(ch *ObjectChange) {
	if m.index == nil {
		m.index = make(map[domain.ObjectID]*ObjectChange)
	}
	if prev, ok := m.index[ch.PreCommitID]; ok {
		*prev = *ch
		return
	}
	m.index[ch.PreCommitID] = ch
	m.Changes = append(m.Changes, ch)
}

// Len returns the number of object changes.
func (m *ChangeMap) Len() int { return len(m.Changes) }

// ChangeFor returns the change of the object known as id before the commit.
func (m *ChangeMap) ChangeFor(id domain.ObjectID) (*ObjectChange, bool) {
	ch, ok := m.index[id]
	return ch, ok
}

// Resolve replaces temporary identities with the permanent ones assigned
// by the commit, both on the changed objects and on relationship targets.
func (m *ChangeMap) Resolve(idChanges map[domain.ObjectID]domain.ObjectID) {
	if len(idChanges) == 0 {
		return
	}
	resolve := func(id domain.ObjectID) domain.ObjectID {
		if perm, ok := idChanges[id]; ok {
			return perm
		}
		return id
	}
	for _, ch := range m.Changes {
		ch.PostCommitID = resolve(ch.PreCommitID)
		for name, t := range ch.ToOne {
			ch.ToOne[name] = ToOneChange{Old: resolve(t.Old), New: resolve(t.New)}
		}
		for _, tm := range ch.ToMany {
			for i, id := range tm.Added {
				tm.Added[i] = resolve(id)
			}
			for i, id := range tm.Removed {
				tm.Removed[i] = resolve(id)
			}
		}
	}
}
