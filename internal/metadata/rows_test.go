package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/internal/metadata"
	"graphsync/internal/metadata/metadatatest"
	"graphsync/pkg/domain"
)

func TestColumnsAndSnapshotKeys(t *testing.T) {
	r := metadatatest.Resolver()
	artist, err := r.Entity(metadatatest.Artist)
	require.NoError(t, err)

	assert.Equal(t, []string{"ID", "NAME", "BORN", "MENTOR_ID"}, metadata.PrimaryColumns(artist))
	st, ok := artist.SecondaryTable("ARTIST_INFO")
	require.True(t, ok)
	assert.Equal(t, []string{"ARTIST_ID", "BIO"}, metadata.SecondaryColumns(artist, st))

	bio, _ := artist.Attribute("bio")
	name, _ := artist.Attribute("name")
	assert.Equal(t, "ARTIST_INFO.BIO", metadata.SnapshotKey(artist, bio))
	assert.Equal(t, "NAME", metadata.SnapshotKey(artist, name))
}

func TestMergeRowsAndObjectValues(t *testing.T) {
	r := metadatatest.Resolver()
	artist, _ := r.Entity(metadatatest.Artist)

	cols := metadata.MergeRows(artist,
		domain.Row{"ID": int64(7), "NAME": "Monet", "BORN": int64(1840), "MENTOR_ID": int64(3)},
		map[string]domain.Row{"ARTIST_INFO": {"ARTIST_ID": int64(7), "BIO": "impressionist"}},
	)
	id, ok := metadata.IDFromRow(artist, cols)
	require.True(t, ok)
	assert.Equal(t, domain.NewSingleKeyID(metadatatest.Artist, "ID", 7), id)

	snap := domain.NewSnapshot(cols)
	attrs, toOne := metadata.ObjectValues(artist, snap)
	assert.Equal(t, "Monet", attrs["name"])
	assert.Equal(t, "impressionist", attrs["bio"])
	assert.Equal(t, domain.NewSingleKeyID(metadatatest.Artist, "ID", 3), toOne["mentor"])

	info, _ := artist.SecondaryTable("ARTIST_INFO")
	assert.Equal(t, "ARTIST_INFO.ARTIST_ID", metadata.SecondaryRowKey(info))
	assert.True(t, metadata.SecondaryRowExists(snap, info))

	rebuilt, ok := metadata.SnapshotColumns(artist, id, attrs, toOne, map[string]bool{"ARTIST_INFO": true})
	require.True(t, ok)
	assert.True(t, snap.Equal(domain.NewSnapshot(rebuilt)))

	withoutRow, ok := metadata.SnapshotColumns(artist, id, attrs, toOne, nil)
	require.True(t, ok)
	assert.False(t, metadata.SecondaryRowExists(domain.NewSnapshot(withoutRow), info))

	toOne["mentor"] = domain.NewTempID(metadatatest.Artist)
	_, ok = metadata.SnapshotColumns(artist, id, attrs, toOne, nil)
	assert.False(t, ok)

	noSecondary := metadata.MergeRows(artist, domain.Row{"ID": int64(8), "NAME": "Manet"}, nil)
	assert.Nil(t, noSecondary["ARTIST_INFO.BIO"])
	assert.False(t, metadata.SecondaryRowExists(domain.NewSnapshot(noSecondary), info))

	emptyRow := metadata.MergeRows(artist, domain.Row{"ID": int64(9), "NAME": "Morisot"},
		map[string]domain.Row{"ARTIST_INFO": {"ARTIST_ID": int64(9), "BIO": nil}})
	assert.True(t, metadata.SecondaryRowExists(domain.NewSnapshot(emptyRow), info))
	assert.True(t, metadata.TargetID(mustRel(t, r, metadatatest.Artist, "mentor"), noSecondary).IsZero())
}

func TestFKValues(t *testing.T) {
	r := metadatatest.Resolver()
	rel := mustRel(t, r, metadatatest.Painting, "gallery")

	fk, ok := metadata.FKValues(rel, domain.NewSingleKeyID(metadatatest.Gallery, "ID", 2))
	require.True(t, ok)
	assert.Equal(t, map[string]any{"GALLERY_ID": int64(2)}, fk)

	fk, ok = metadata.FKValues(rel, domain.ObjectID{})
	require.True(t, ok)
	assert.Equal(t, map[string]any{"GALLERY_ID": nil}, fk)

	_, ok = metadata.FKValues(rel, domain.NewTempID(metadatatest.Gallery))
	assert.False(t, ok)
}

func TestLockingAttributes(t *testing.T) {
	r := metadatatest.Resolver()
	artist, _ := r.Entity(metadatatest.Artist)
	painting, _ := r.Entity(metadatatest.Painting)

	names := func(attrs []*domain.Attribute) []string {
		var out []string
		for _, a := range attrs {
			out = append(out, a.Name)
		}
		return out
	}
	assert.Equal(t, []string{"name"}, names(metadata.LockingAttributes(artist)))
	assert.Equal(t, []string{"title", "price"}, names(metadata.LockingAttributes(painting)))
	assert.Empty(t, metadata.LockingRelationships(artist))
}

func TestTranslateQuery(t *testing.T) {
	r := metadatatest.Resolver()
	artistID := domain.NewSingleKeyID(metadatatest.Artist, "ID", 7)

	e, q, err := r.TranslateQuery(domain.ObjectQuery{
		Entity:  metadatatest.Painting,
		Where:   []domain.Condition{{Column: "artist", Op: domain.OpEq, Value: artistID}, {Column: "title", Op: domain.OpLike, Value: "Water%"}},
		OrderBy: []domain.Ordering{{Column: "price", Descending: true}},
		Limit:   5,
	})
	require.NoError(t, err)
	assert.Equal(t, metadatatest.Painting, e.Name)
	assert.Equal(t, "PAINTING", q.Table)
	assert.Equal(t, []domain.Condition{
		{Column: "ARTIST_ID", Op: domain.OpEq, Value: int64(7)},
		{Column: "TITLE", Op: domain.OpLike, Value: "Water%"},
	}, q.Where)
	assert.Equal(t, []domain.Ordering{{Column: "PRICE", Descending: true}}, q.OrderBy)
	assert.Equal(t, 5, q.Limit)

	_, q, err = r.TranslateQuery(domain.ObjectQuery{Entity: metadatatest.Painting, Where: []domain.Condition{{Column: "gallery", Op: domain.OpEq}}})
	require.NoError(t, err)
	assert.Equal(t, []domain.Condition{{Column: "GALLERY_ID", Op: domain.OpIsNull}}, q.Where)

	_, q, err = r.TranslateQuery(domain.ObjectQuery{Entity: metadatatest.Painting, Where: []domain.Condition{{Column: "gallery", Op: domain.OpNe}}})
	require.NoError(t, err)
	assert.Equal(t, []domain.Condition{{Column: "GALLERY_ID", Op: domain.OpNotNull}}, q.Where)

	for _, bad := range []domain.ObjectQuery{
		{Entity: "Sculpture"},
		{Entity: metadatatest.Artist, Where: []domain.Condition{{Column: "bio", Op: domain.OpEq, Value: "x"}}},
		{Entity: metadatatest.Artist, Where: []domain.Condition{{Column: "paintings", Op: domain.OpEq}}},
		{Entity: metadatatest.Painting, Where: []domain.Condition{{Column: "artist", Op: domain.OpEq, Value: 7}}},
		{Entity: metadatatest.Painting, Where: []domain.Condition{{Column: "artist", Op: domain.OpEq, Value: domain.NewTempID(metadatatest.Artist)}}},
		{Entity: metadatatest.Artist, OrderBy: []domain.Ordering{{Column: "bio"}}},
	} {
		_, _, err := r.TranslateQuery(bad)
		assert.Error(t, err, "%+v", bad)
	}
}

func TestRelationshipQueries(t *testing.T) {
	r := metadatatest.Resolver()
	artist, _ := r.Entity(metadatatest.Artist)
	painting, _ := r.Entity(metadatatest.Painting)
	id := domain.NewSingleKeyID(metadatatest.Artist, "ID", 7)

	q := metadata.ToManyQuery(painting, mustRel(t, r, metadatatest.Artist, "paintings"), id)
	assert.Equal(t, "PAINTING", q.Table)
	assert.Equal(t, []domain.Condition{{Column: "ARTIST_ID", Op: domain.OpEq, Value: int64(7)}}, q.Where)

	exhibits := mustRel(t, r, metadatatest.Artist, "exhibits")
	q = metadata.JoinRowsQuery(exhibits, id)
	assert.Equal(t, "ARTIST_EXHIBIT", q.Table)
	assert.Equal(t, []string{"EXHIBIT_ID"}, q.Columns)
	assert.Equal(t, []domain.Condition{{Column: "ARTIST_ID", Op: domain.OpEq, Value: int64(7)}}, q.Where)

	target, ok := metadata.JoinRowTarget(exhibits, domain.Row{"EXHIBIT_ID": int64(4)})
	require.True(t, ok)
	assert.Equal(t, domain.NewSingleKeyID(metadatatest.Exhibit, "ID", 4), target)

	row, ok := metadata.JoinRow(exhibits, id, target)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"ARTIST_ID": int64(7), "EXHIBIT_ID": int64(4)}, row)
	_, ok = metadata.JoinRow(exhibits, id, domain.NewTempID(metadatatest.Exhibit))
	assert.False(t, ok)

	st, _ := artist.SecondaryTable("ARTIST_INFO")
	q = metadata.SecondaryQuery(artist, st, []domain.ObjectID{id})
	assert.Equal(t, []domain.Condition{{Column: "ARTIST_ID", Op: domain.OpIn, Value: []any{int64(7)}}}, q.Where)
	owner, ok := metadata.SecondaryRowID(artist, st, domain.Row{"ARTIST_ID": int64(7)})
	require.True(t, ok)
	assert.Equal(t, id, owner)

	q = metadata.ByIDQuery(artist, id)
	assert.Equal(t, []domain.Condition{{Column: "ID", Op: domain.OpEq, Value: int64(7)}}, q.Where)
}

func mustRel(t *testing.T, r *metadata.Resolver, entity, name string) *domain.Relationship {
	t.Helper()
	_, rel, err := r.Relationship(entity, name)
	require.NoError(t, err)
	return rel
}
