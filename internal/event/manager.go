// Package event implements the synchronous publish/subscribe bus used to
// propagate graph and snapshot changes between sessions.
package event

import (
	"sync"

	"github.com/zeebo/errs"
)

// Error is the error class for this package.
var Error = errs.Class("event")

// Subject names a notification stream.
type Subject string

// Subjects posted by graphsync components.
const (
	// GraphChanged is posted by a channel that absorbed uncommitted changes
	// from one of its children.
	GraphChanged Subject = "graph.changed"
	// GraphFlushed is posted by a channel after changes were committed.
	GraphFlushed Subject = "graph.flushed"
	// GraphRolledBack is posted by a session that discarded its changes.
	GraphRolledBack Subject = "graph.rolledback"
	// SnapshotsChanged is posted by a snapshot store after ApplyChanges.
	SnapshotsChanged Subject = "snapshots.changed"
)

// Event is delivered to listeners. Source is the component that posted it and
// Origin the session whose action caused it (may equal Source).
type Event struct {
	Subject Subject
	Source  any
	Origin  any
	Payload any
}

// Listener receives events synchronously on the posting goroutine.
type Listener func(Event)

// Subscription identifies a registered listener.
type Subscription struct {
	subject Subject
	id      uint64
}

// Manager dispatches events synchronously. Listener lists are copied under
// the lock and invoked after it is released, so listeners may post or
// subscribe.
type Manager struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[Subject][]entry
}

type entry struct {
	id       uint64
	listener Listener
}

// NewManager constructs an empty manager.
func NewManager() *Manager {
	return &Manager{listeners: make(map[Subject][]entry)}
}

// Subscribe registers listener for subject.
func (m *Manager) Subscribe(subject Subject, listener Listener) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.listeners[subject] = append(m.listeners[subject], entry{id: m.nextID, listener: listener})
	return Subscription{subject: subject, id: m.nextID}
}

// Unsubscribe removes a listener. Removing an unknown subscription is an error.
func (m *Manager) Unsubscribe(sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.listeners[sub.subject]
	for i, e := range list {
		if e.id == sub.id {
			m.listeners[sub.subject] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return Error.New("no subscription %d for %s", sub.id, sub.subject)
}

// Post delivers ev to all listeners of ev.Subject in subscription order.
func (m *Manager) Post(ev Event) {
	m.mu.Lock()
	list := append([]entry(nil), m.listeners[ev.Subject]...)
	m.mu.Unlock()
	for _, e := range list {
		e.listener(ev)
	}
}

// Listeners returns the number of listeners subscribed to subject.
func (m *Manager) Listeners(subject Subject) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners[subject])
}
