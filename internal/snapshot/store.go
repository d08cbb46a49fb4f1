// Package snapshot implements the shared, bounded cache of committed row
// snapshots keyed by object identity. Sessions attached to the same store see
// each other's committed changes through the events it posts.
package snapshot

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"graphsync/internal/event"
	"graphsync/internal/observability"
	"graphsync/pkg/domain"
)

// DefaultSize is the default cache capacity.
const DefaultSize = 10000

// Event is the payload posted on event.SnapshotsChanged. Diffs holds, per
// object whose cached snapshot was replaced, the changed columns; Updated the
// new snapshot for the same objects.
type Event struct {
	PostedBy           any
	Diffs              map[domain.ObjectID]map[string]any
	Updated            map[domain.ObjectID]domain.Snapshot
	Deleted            []domain.ObjectID
	Invalidated        []domain.ObjectID
	IndirectlyModified []domain.ObjectID
}

// Changes is the input of ApplyChanges.
type Changes struct {
	Updated            map[domain.ObjectID]domain.Snapshot
	Deleted            []domain.ObjectID
	Invalidated        []domain.ObjectID
	IndirectlyModified []domain.ObjectID
}

// Empty reports whether c carries nothing.
func (c Changes) Empty() bool {
	return len(c.Updated) == 0 && len(c.Deleted) == 0 && len(c.Invalidated) == 0 && len(c.IndirectlyModified) == 0
}

// Options configures a Store.
type Options struct {
	Name    string
	Size    int
	Events  *event.Manager
	Log     *zap.Logger
	Metrics observability.MetricsRecorder
}

// Store is a bounded LRU of snapshots. One mutex serializes mutations, the
// recency-touching read and notification.
type Store struct {
	name    string
	mu      sync.Mutex
	cache   *lru.Cache[domain.ObjectID, domain.Snapshot]
	events  *event.Manager
	log     *zap.Logger
	metrics observability.MetricsRecorder
	size    int

	subsMu sync.Mutex
	subs   []event.Subscription
}

// New constructs a store.
func New(opts Options) (*Store, error) {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[domain.ObjectID, domain.Snapshot](size)
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	events := opts.Events
	if events == nil {
		events = event.NewManager()
	}
	name := opts.Name
	if name == "" {
		name = "snapshots"
	}
	return &Store{
		name:    name,
		cache:   cache,
		events:  events,
		log:     log.Named("snapshot"),
		metrics: observability.OrNop(opts.Metrics),
		size:    size,
	}, nil
}

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// Size returns the configured capacity.
func (s *Store) Size() int { return s.size }

// Len returns the number of cached snapshots.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Events returns the manager notifications are posted to.
func (s *Store) Events() *event.Manager { return s.events }

// Get returns a cached snapshot without I/O.
func (s *Store) Get(id domain.ObjectID) (domain.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.cache.Get(id)
	if ok {
		s.metrics.Add(observability.SnapshotHits, 1)
	} else {
		s.metrics.Add(observability.SnapshotMisses, 1)
	}
	return snap, ok
}

// Peek returns a cached snapshot without touching recency or counters.
func (s *Store) Peek(id domain.ObjectID) (domain.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Peek(id)
}

// Put stores snap for id. If a snapshot is already cached and snap does not
// declare that it replaces it, the cached entry is dropped and snap is not
// stored.
func (s *Store) Put(id domain.ObjectID, snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(id, snap)
}

// PutAll stores several snapshots under one lock acquisition.
func (s *Store) PutAll(snaps map[domain.ObjectID]domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, snap := range snaps {
		s.putLocked(id, snap)
	}
}

func (s *Store) putLocked(id domain.ObjectID, snap domain.Snapshot) bool {
	if prior, ok := s.cache.Peek(id); ok && prior.Version() != snap.ReplacesVersion() && prior.Version() != snap.Version() {
		s.log.Debug("snapshot version conflict, discarding cached snapshot",
			zap.Stringer("id", id),
			zap.Int64("cached", prior.Version()),
			zap.Int64("replaces", snap.ReplacesVersion()))
		s.cache.Remove(id)
		s.metrics.Add(observability.SnapshotDiscards, 1)
		return false
	}
	if s.cache.Add(id, snap) {
		s.metrics.Add(observability.SnapshotEvictions, 1)
	}
	return true
}

// Refresh merges freshly fetched snapshots. A fetched snapshot equal to the
// cached one keeps the cached entry; a differing one replaces it and is
// reported to listeners. The returned map holds the snapshot now current for
// each id.
func (s *Store) Refresh(postedBy any, fetched map[domain.ObjectID]domain.Snapshot) map[domain.ObjectID]domain.Snapshot {
	if len(fetched) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[domain.ObjectID]domain.Snapshot, len(fetched))
	var ev Event
	for id, snap := range fetched {
		prior, ok := s.cache.Peek(id)
		if !ok {
			s.putLocked(id, snap)
			out[id] = snap
			continue
		}
		diff := prior.Diff(snap)
		if diff == nil && prior.Equal(snap) {
			s.cache.Get(id)
			out[id] = prior
			continue
		}
		snap = snap.WithReplacesVersion(prior.Version())
		s.putLocked(id, snap)
		out[id] = snap
		if ev.Diffs == nil {
			ev.Diffs = make(map[domain.ObjectID]map[string]any)
			ev.Updated = make(map[domain.ObjectID]domain.Snapshot)
		}
		ev.Diffs[id] = diff
		ev.Updated[id] = snap
	}
	if len(ev.Diffs) > 0 {
		ev.PostedBy = postedBy
		s.events.Post(event.Event{Subject: event.SnapshotsChanged, Source: s, Origin: postedBy, Payload: ev})
	}
	return out
}

// Evict removes id without notification.
func (s *Store) Evict(id domain.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(id)
}

// EvictAll removes ids without notification.
func (s *Store) EvictAll(ids []domain.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.cache.Remove(id)
	}
}

// Clear drops every cached snapshot.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}

// ApplyChanges updates the cache and posts one aggregated event. Nothing
// happens when c is empty. Snapshots for objects that were not cached before
// are stored but not reported.
func (s *Store) ApplyChanges(postedBy any, c Changes) {
	if c.Empty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := Event{
		PostedBy:           postedBy,
		Deleted:            c.Deleted,
		Invalidated:        c.Invalidated,
		IndirectlyModified: c.IndirectlyModified,
	}
	for id, snap := range c.Updated {
		prior, existed := s.cache.Peek(id)
		if !s.putLocked(id, snap) || !existed {
			continue
		}
		diff := prior.Diff(snap)
		if diff == nil {
			continue
		}
		if ev.Diffs == nil {
			ev.Diffs = make(map[domain.ObjectID]map[string]any)
			ev.Updated = make(map[domain.ObjectID]domain.Snapshot)
		}
		ev.Diffs[id] = diff
		ev.Updated[id] = snap
	}
	for _, id := range c.Deleted {
		s.cache.Remove(id)
	}
	for _, id := range c.Invalidated {
		s.cache.Remove(id)
	}
	if len(ev.Diffs) == 0 && len(ev.Deleted) == 0 && len(ev.Invalidated) == 0 && len(ev.IndirectlyModified) == 0 {
		return
	}
	s.events.Post(event.Event{
		Subject: event.SnapshotsChanged,
		Source:  s,
		Origin:  postedBy,
		Payload: ev,
	})
}

// Subscribe registers a listener for this store's events. Listeners run while
// the store lock is held and must not call back into the store.
func (s *Store) Subscribe(listener func(Event)) event.Subscription {
	sub := s.events.Subscribe(event.SnapshotsChanged, func(ev event.Event) {
		if ev.Source != s {
			return
		}
		if payload, ok := ev.Payload.(Event); ok {
			listener(payload)
		}
	})
	s.subsMu.Lock()
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()
	return sub
}

// Unsubscribe removes a listener registered through Subscribe.
func (s *Store) Unsubscribe(sub event.Subscription) {
	s.subsMu.Lock()
	for i, existing := range s.subs {
		if existing == sub {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			break
		}
	}
	s.subsMu.Unlock()
	if err := s.events.Unsubscribe(sub); err != nil {
		s.log.Warn("unsubscribe failed", zap.Error(err))
	}
}

// Shutdown removes every listener registered through Subscribe. Failures are
// logged and discarded.
func (s *Store) Shutdown() {
	s.subsMu.Lock()
	subs := s.subs
	s.subs = nil
	s.subsMu.Unlock()
	for _, sub := range subs {
		if err := s.events.Unsubscribe(sub); err != nil {
			s.log.Warn("unsubscribe failed during shutdown", zap.Error(err))
		}
	}
}

// Copy returns a new store with the same capacity and event manager that
// holds copies of the snapshots cached for ids.
func (s *Store) Copy(ids []domain.ObjectID) (*Store, error) {
	cp, err := New(Options{Name: s.name + "-copy", Size: s.size, Events: s.events, Metrics: s.metrics})
	if err != nil {
		return nil, err
	}
	cp.log = s.log
	snaps := make(map[domain.ObjectID]domain.Snapshot, len(ids))
	s.mu.Lock()
	for _, id := range ids {
		if snap, ok := s.cache.Peek(id); ok {
			snaps[id] = snap
		}
	}
	s.mu.Unlock()
	cp.PutAll(snaps)
	return cp, nil
}
