package core_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"graphsync/internal/commitlog"
	"graphsync/internal/core"
	blobmemory "graphsync/internal/infra/blob/memory"
	"graphsync/internal/infra/persistence/memory"
	"graphsync/internal/metadata/metadatatest"
	"graphsync/internal/observability"
	"graphsync/pkg/domain"
)

func TestCommitInsertsAndAssignsPermanentIDs(t *testing.T) {
	f := newFixture(t, nil)
	c := f.context(t)

	artist := newObject(t, c, metadatatest.Artist, map[string]any{"name": "Monet"})
	gallery := newObject(t, c, metadatatest.Gallery, map[string]any{"name": "Orangerie"})
	painting := newObject(t, c, metadatatest.Painting, map[string]any{"title": "Water Lilies", "price": 10.5})
	require.NoError(t, painting.SetToOne(bg, "artist", artist))
	require.NoError(t, gallery.AddToMany(bg, "paintings", painting))
	tempArtist, tempPainting := artist.ID(), painting.ID()
	require.True(t, tempArtist.IsTemporary())
	assert.Len(t, c.NewObjects(), 3)

	res, err := c.Commit(bg)
	require.NoError(t, err)
	assert.Equal(t, []string{"insert ARTIST", "insert GALLERY", "insert PAINTING"}, f.writes())

	assert.Equal(t, artistID(memory.FirstKey), artist.ID())
	assert.Equal(t, artist.ID(), res.Resolve(tempArtist))
	assert.Equal(t, paintingID(memory.FirstKey), res.Resolve(tempPainting))
	assert.Equal(t, int64(memory.FirstKey), get(t, artist, "id"))
	for _, o := range []*core.Object{artist, gallery, painting} {
		assert.Equal(t, domain.Committed, o.State())
		assert.False(t, o.Snapshot().IsZero())
	}
	assert.False(t, c.HasChanges())
	assert.Empty(t, c.UncommittedObjects())

	rows := f.node.Rows("PAINTING")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(memory.FirstKey), rows[0]["ARTIST_ID"])
	assert.Equal(t, get(t, gallery, "id"), rows[0]["GALLERY_ID"])

	got, err := painting.ToOne(bg, "artist")
	require.NoError(t, err)
	assert.Same(t, artist, got)
	list, err := artist.ToMany(bg, "paintings")
	require.NoError(t, err)
	assert.Equal(t, []*core.Object{painting}, list)
}

func TestCommitWithoutChangesDoesNoIO(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.context(t).Commit(bg)
	require.NoError(t, err)
	assert.Zero(t, res.Statements)
	assert.Empty(t, f.node.Statements())
}

func TestPhantomChangesIssueNoStatements(t *testing.T) {
	f := newFixture(t, nil)
	f.seedArtist(1, "Monet", nil)
	c := f.context(t)
	artist := object(t, c, artistID(1))
	require.Equal(t, "Monet", get(t, artist, "name"))
	f.node.ResetStatements()

	set(t, artist, map[string]any{"name": "Renoir"})
	set(t, artist, map[string]any{"name": "Monet"})
	assert.True(t, c.HasChanges())
	assert.Equal(t, domain.Modified, artist.State())

	_, err := c.Commit(bg)
	require.NoError(t, err)
	assert.Empty(t, f.writes())
	assert.False(t, c.HasChanges())
	assert.Equal(t, domain.Committed, artist.State())
}

func TestUpdateWritesChangedColumns(t *testing.T) {
	f := newFixture(t, nil)
	f.seedArtist(1, "Monet", nil)
	c := f.context(t)
	objs, err := c.Select(bg, domain.ObjectQuery{Entity: metadatatest.Artist})
	require.NoError(t, err)
	require.Len(t, objs, 1)
	artist := objs[0]
	before := artist.Snapshot()

	set(t, artist, map[string]any{"born": 1840})
	assert.Equal(t, []*core.Object{artist}, c.ModifiedObjects())
	_, err = c.Commit(bg)
	require.NoError(t, err)

	assert.Equal(t, []string{"update ARTIST"}, f.writes())
	assert.Equal(t, int64(1840), f.node.Rows("ARTIST")[0]["BORN"])
	assert.Equal(t, before.Version(), artist.Snapshot().ReplacesVersion())
}

func TestCommitRoundTripByIdentity(t *testing.T) {
	f := newFixture(t, nil)
	c := f.context(t)
	artist := newObject(t, c, metadatatest.Artist, map[string]any{"name": "Paris"})
	_, err := c.Commit(bg)
	require.NoError(t, err)
	f.dom.Snapshots().Clear()
	f.node.ResetStatements()

	fresh := f.context(t)
	got := object(t, fresh, artist.ID())
	assert.Equal(t, domain.Hollow, got.State())
	assert.Empty(t, f.node.Statements())
	assert.Equal(t, "Paris", get(t, got, "name"))
	assert.Equal(t, domain.Committed, got.State())
	assert.NotSame(t, artist, got)
}

func TestSecondaryRowSurvivesClearedValues(t *testing.T) {
	f := newFixture(t, nil)
	c := f.context(t)
	artist := newObject(t, c, metadatatest.Artist, map[string]any{"name": "Morisot", "bio": "first"})
	for _, bio := range []any{nil, "second"} {
		_, err := c.Commit(bg)
		require.NoError(t, err)
		set(t, artist, map[string]any{"bio": bio})
	}
	f.node.ResetStatements()
	_, err := c.Commit(bg)
	require.NoError(t, err)

	assert.Equal(t, []string{"update ARTIST_INFO"}, f.writes())
	rows := f.node.Rows("ARTIST_INFO")
	require.Len(t, rows, 1)
	assert.Equal(t, "second", rows[0]["BIO"])
}

func TestFetchedEmptySecondaryRowIsUpdated(t *testing.T) {
	f := newFixture(t, nil)
	f.seedArtist(1, "Cassatt", nil)
	f.node.Seed("ARTIST_INFO", domain.Row{"ARTIST_ID": 1, "BIO": nil})
	c := f.context(t)
	artist := object(t, c, artistID(1))
	assert.Nil(t, get(t, artist, "bio"))
	f.node.ResetStatements()

	set(t, artist, map[string]any{"bio": "mothers"})
	_, err := c.Commit(bg)
	require.NoError(t, err)

	assert.Equal(t, []string{"update ARTIST_INFO"}, f.writes())
	rows := f.node.Rows("ARTIST_INFO")
	require.Len(t, rows, 1)
	assert.Equal(t, "mothers", rows[0]["BIO"])
}

func TestFailedCommitKeepsChanges(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	metrics := observability.NewExpvarRecorder("")
	f := newFixture(t, []memory.Option{memory.WithFailure(func(s memory.Statement) error {
		if fail.Load() && s.Kind == memory.KindInsert {
			return errors.New("disk full")
		}
		return nil
	})}, core.WithMetrics(metrics))
	c := f.context(t)
	artist := newObject(t, c, metadatatest.Artist, map[string]any{"name": "Monet"})

	_, err := c.Commit(bg)
	require.Error(t, err)
	assert.Equal(t, domain.New, artist.State())
	assert.True(t, artist.ID().IsTemporary())
	assert.True(t, c.HasChanges())
	assert.Empty(t, f.node.Rows("ARTIST"))

	fail.Store(false)
	_, err = c.Commit(bg)
	require.NoError(t, err)
	assert.False(t, artist.ID().IsTemporary())
	assert.Len(t, f.node.Rows("ARTIST"), 1)

	results := metrics.Snapshot().Results[observability.OpCommit]
	assert.Equal(t, int64(1), results["error"])
	assert.Equal(t, int64(1), results["success"])
}

func TestOptimisticLockConflict(t *testing.T) {
	f := newFixture(t, nil)
	f.seedArtist(1, "Monet", nil)
	first, second := f.context(t), f.context(t)
	a1, a2 := object(t, first, artistID(1)), object(t, second, artistID(1))
	set(t, a2, map[string]any{"name": "Manet"})
	set(t, a1, map[string]any{"name": "Degas"})

	_, err := first.Commit(bg)
	require.NoError(t, err)

	_, err = second.Commit(bg)
	var lockErr *domain.OptimisticLockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, artistID(1), lockErr.ID)
	assert.Equal(t, domain.Modified, a2.State())
	assert.Equal(t, "Manet", get(t, a2, "name"))
	assert.Equal(t, "Degas", f.node.Rows("ARTIST")[0]["NAME"])
}

type priceRule struct {
	seen atomic.Int32
}

func (r *priceRule) Name() string { return "price" }

func (r *priceRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		if ch.Entity != metadatatest.Painting || ch.After == nil {
			continue
		}
		if _, ok := view.Find(ch.ID); ok {
			r.seen.Add(1)
		}
		price, _ := ch.After["price"].(float64)
		switch {
		case price < 0:
			res.Violations = append(res.Violations, domain.Violation{Rule: r.Name(), Severity: domain.SeverityBlock, Entity: ch.Entity, ID: ch.ID, Message: "negative price"})
		case price == 0:
			res.Violations = append(res.Violations, domain.Violation{Rule: r.Name(), Severity: domain.SeverityWarn, Entity: ch.Entity, ID: ch.ID, Message: "no price"})
		}
	}
	return res, nil
}

func TestRulesBlockCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	rule := &priceRule{}
	engine.Register(rule)
	f := newFixture(t, nil, core.WithRules(engine))
	c := f.context(t)
	painting := newObject(t, c, metadatatest.Painting, map[string]any{"title": "Forgery", "price": -1.5})

	_, err := c.Commit(bg)
	var blocked domain.RuleViolationError
	require.ErrorAs(t, err, &blocked)
	assert.True(t, blocked.Result.HasBlocking())
	assert.Empty(t, f.writes())
	assert.Equal(t, domain.New, painting.State())
	assert.Equal(t, int32(1), rule.seen.Load())

	set(t, painting, map[string]any{"price": 0.0})
	_, err = c.Commit(bg)
	require.NoError(t, err, "warnings do not block")
	assert.Len(t, f.node.Rows("PAINTING"), 1)
}

func TestValidateOnCommitCanBeDisabled(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(&priceRule{})
	f := newFixture(t, nil, core.WithRules(engine), core.WithValidateOnCommit(false))
	c := f.context(t)
	newObject(t, c, metadatatest.Painting, map[string]any{"title": "Forgery", "price": -1.5})
	_, err := c.Commit(bg)
	require.NoError(t, err)
}

func TestCommitListenersReceiveResolvedChangeMap(t *testing.T) {
	archive := blobmemory.New()
	var got atomic.Pointer[commitlog.ChangeMap]
	f := newFixture(t, nil,
		core.WithCommitListener(commitlog.NewArchive(archive, zaptest.NewLogger(t))),
		core.WithCommitListener(commitlog.ListenerFunc(func(_ context.Context, m *commitlog.ChangeMap) error {
			got.Store(m)
			return nil
		})),
		core.WithCommitListener(commitlog.ListenerFunc(func(context.Context, *commitlog.ChangeMap) error {
			return errors.New("listener down")
		})),
	)
	c := f.context(t)
	artist := newObject(t, c, metadatatest.Artist, map[string]any{"name": "Monet"})
	painting := newObject(t, c, metadatatest.Painting, map[string]any{"title": "Water Lilies"})
	require.NoError(t, artist.AddToMany(bg, "paintings", painting))
	tempArtist, tempPainting := artist.ID(), painting.ID()

	_, err := c.Commit(bg)
	require.NoError(t, err, "listener failures do not fail the commit")

	m := got.Load()
	require.NotNil(t, m)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "test", m.Node)
	assert.False(t, m.Committed.IsZero())

	ach, ok := m.ChangeFor(tempArtist)
	require.True(t, ok)
	assert.Equal(t, commitlog.Insert, ach.Type)
	assert.Equal(t, artist.ID(), ach.PostCommitID)
	assert.Equal(t, "Monet", ach.Attributes["name"].New)
	assert.Equal(t, []domain.ObjectID{painting.ID()}, ach.ToMany["paintings"].Added)

	pch, ok := m.ChangeFor(tempPainting)
	require.True(t, ok)
	assert.Equal(t, artist.ID(), pch.ToOne["artist"].New)
	assert.Equal(t, 1, archive.Len())
}

func TestCommitListenerSeesUpdateOldValues(t *testing.T) {
	var got atomic.Pointer[commitlog.ChangeMap]
	f := newFixture(t, nil, core.WithCommitListener(commitlog.ListenerFunc(func(_ context.Context, m *commitlog.ChangeMap) error {
		got.Store(m)
		return nil
	})))
	f.seedArtist(1, "Monet", nil)
	c := f.context(t)
	artist := object(t, c, artistID(1))
	set(t, artist, map[string]any{"name": "Manet"})
	_, err := c.Commit(bg)
	require.NoError(t, err)

	m := got.Load()
	require.NotNil(t, m)
	ch, ok := m.ChangeFor(artistID(1))
	require.True(t, ok)
	assert.Equal(t, commitlog.Update, ch.Type)
	assert.Equal(t, commitlog.AttributeChange{Old: "Monet", New: "Manet"}, ch.Attributes["name"])
}
