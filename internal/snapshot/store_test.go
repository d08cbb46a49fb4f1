package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"graphsync/internal/event"
	"graphsync/internal/observability"
	"graphsync/pkg/domain"
)

func artistID(n int) domain.ObjectID {
	return domain.NewSingleKeyID("Artist", "ID", n)
}

func newStore(t *testing.T, size int) (*Store, *observability.ExpvarRecorder) {
	t.Helper()
	rec := observability.NewExpvarRecorder("")
	s, err := New(Options{Size: size, Log: zaptest.NewLogger(t), Metrics: rec})
	require.NoError(t, err)
	return s, rec
}

func TestGetPutAndLRUEviction(t *testing.T) {
	s, rec := newStore(t, 2)
	s.Put(artistID(1), domain.NewSnapshot(map[string]any{"NAME": "a"}))
	s.Put(artistID(2), domain.NewSnapshot(map[string]any{"NAME": "b"}))

	_, ok := s.Get(artistID(1))
	require.True(t, ok)

	s.Put(artistID(3), domain.NewSnapshot(map[string]any{"NAME": "c"}))
	_, ok = s.Get(artistID(2))
	assert.False(t, ok, "least recently used entry must be evicted")
	_, ok = s.Get(artistID(1))
	assert.True(t, ok)
	assert.Equal(t, 2, s.Len())

	counters := rec.Snapshot().Counters
	assert.Equal(t, int64(1), counters[observability.SnapshotEvictions])
	assert.Equal(t, int64(2), counters[observability.SnapshotHits])
	assert.Equal(t, int64(1), counters[observability.SnapshotMisses])
}

func TestDefaultSize(t *testing.T) {
	s, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, s.Size())
	assert.Equal(t, "snapshots", s.Name())
}

func TestPutVersionConflictDiscards(t *testing.T) {
	s, _ := newStore(t, 10)
	id := artistID(1)
	first := domain.NewSnapshot(map[string]any{"NAME": "a"})
	s.Put(id, first)

	replacing := first.ApplyDiff(map[string]any{"NAME": "b"})
	s.Put(id, replacing)
	got, ok := s.Peek(id)
	require.True(t, ok)
	assert.Equal(t, replacing.Version(), got.Version())

	stale := domain.NewSnapshot(map[string]any{"NAME": "c"}).WithReplacesVersion(first.Version())
	s.Put(id, stale)
	_, ok = s.Peek(id)
	assert.False(t, ok, "mismatched replaces-version must drop the entry")
}

func TestApplyChangesPostsOneEvent(t *testing.T) {
	s, _ := newStore(t, 10)
	existing := domain.NewSnapshot(map[string]any{"NAME": "a"})
	s.Put(artistID(1), existing)
	s.Put(artistID(2), domain.NewSnapshot(map[string]any{"NAME": "x"}))
	s.Put(artistID(3), domain.NewSnapshot(map[string]any{"NAME": "y"}))

	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })

	s.ApplyChanges("me", Changes{
		Updated: map[domain.ObjectID]domain.Snapshot{
			artistID(1): existing.ApplyDiff(map[string]any{"NAME": "b"}),
			artistID(9): domain.NewSnapshot(map[string]any{"NAME": "new"}),
		},
		Deleted:     []domain.ObjectID{artistID(2)},
		Invalidated: []domain.ObjectID{artistID(3)},
	})

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "me", ev.PostedBy)
	assert.Equal(t, map[string]any{"NAME": "b"}, ev.Diffs[artistID(1)])
	assert.NotContains(t, ev.Diffs, artistID(9), "brand-new snapshots are not reported")
	assert.Equal(t, []domain.ObjectID{artistID(2)}, ev.Deleted)
	assert.Equal(t, []domain.ObjectID{artistID(3)}, ev.Invalidated)

	_, ok := s.Peek(artistID(9))
	assert.True(t, ok)
	_, ok = s.Peek(artistID(2))
	assert.False(t, ok)
	_, ok = s.Peek(artistID(3))
	assert.False(t, ok)
}

func TestApplyChangesSkipsEmptyAndInsertOnly(t *testing.T) {
	s, _ := newStore(t, 10)
	calls := 0
	s.Subscribe(func(Event) { calls++ })

	s.ApplyChanges(nil, Changes{})
	s.ApplyChanges(nil, Changes{Updated: map[domain.ObjectID]domain.Snapshot{
		artistID(1): domain.NewSnapshot(map[string]any{"NAME": "a"}),
	}})
	assert.Zero(t, calls)
	assert.Equal(t, 1, s.Len())
}

func TestRefreshReportsChangedRows(t *testing.T) {
	s, _ := newStore(t, 10)
	cached := domain.NewSnapshot(map[string]any{"NAME": "a"})
	s.Put(artistID(1), cached)

	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })

	out := s.Refresh("fetch", map[domain.ObjectID]domain.Snapshot{
		artistID(1): domain.NewSnapshot(map[string]any{"NAME": "a"}),
	})
	assert.Equal(t, cached.Version(), out[artistID(1)].Version(), "equal rows keep the cached snapshot")
	assert.Empty(t, events)

	out = s.Refresh("fetch", map[domain.ObjectID]domain.Snapshot{
		artistID(1): domain.NewSnapshot(map[string]any{"NAME": "b"}),
		artistID(2): domain.NewSnapshot(map[string]any{"NAME": "c"}),
	})
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{"NAME": "b"}, events[0].Diffs[artistID(1)])
	assert.Equal(t, cached.Version(), out[artistID(1)].ReplacesVersion())
	assert.Equal(t, 2, s.Len())
}

func TestShutdownUnsubscribes(t *testing.T) {
	events := event.NewManager()
	s, err := New(Options{Events: events})
	require.NoError(t, err)
	s.Subscribe(func(Event) {})
	sub := s.Subscribe(func(Event) {})
	require.Equal(t, 2, events.Listeners(event.SnapshotsChanged))

	s.Unsubscribe(sub)
	assert.Equal(t, 1, events.Listeners(event.SnapshotsChanged))
	s.Shutdown()
	assert.Zero(t, events.Listeners(event.SnapshotsChanged))
	s.Shutdown()
}

func TestListenersIgnoreOtherStores(t *testing.T) {
	events := event.NewManager()
	a, err := New(Options{Events: events})
	require.NoError(t, err)
	b, err := New(Options{Events: events})
	require.NoError(t, err)

	calls := 0
	a.Subscribe(func(Event) { calls++ })
	b.ApplyChanges(nil, Changes{Deleted: []domain.ObjectID{artistID(1)}})
	assert.Zero(t, calls)
	a.ApplyChanges(nil, Changes{Deleted: []domain.ObjectID{artistID(1)}})
	assert.Equal(t, 1, calls)
}

func TestEvictAndCopy(t *testing.T) {
	s, _ := newStore(t, 10)
	for i := 1; i <= 3; i++ {
		s.Put(artistID(i), domain.NewSnapshot(map[string]any{"ID": i}))
	}
	s.Evict(artistID(1))
	s.EvictAll([]domain.ObjectID{artistID(2)})
	assert.Equal(t, 1, s.Len())

	cp, err := s.Copy([]domain.ObjectID{artistID(3), artistID(4)})
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Len())
	cp.Clear()
	assert.Zero(t, cp.Len())
	assert.Equal(t, 1, s.Len())
}
