package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/internal/metadata"
	"graphsync/internal/metadata/metadatatest"
	"graphsync/pkg/domain"
)

func TestResolverSortsTablesParentsFirst(t *testing.T) {
	r := metadatatest.Resolver()

	assert.Equal(t, []string{"ARTIST", "GALLERY", "ARTIST_INFO", "EXHIBIT", "PAINTING", "ARTIST_EXHIBIT"}, r.SortTables())
	assert.Equal(t, 0, r.TableIndex("ARTIST"))
	assert.Equal(t, 5, r.TableIndex("ARTIST_EXHIBIT"))
	assert.Equal(t, -1, r.TableIndex("NOPE"))
	assert.True(t, r.SelfReferencing("ARTIST"))
	assert.False(t, r.SelfReferencing("PAINTING"))
}

func TestResolverLookups(t *testing.T) {
	r := metadatatest.Resolver()

	e, err := r.Entity(metadatatest.Artist)
	require.NoError(t, err)
	assert.Equal(t, "ARTIST", e.Table)
	assert.Equal(t, domain.LockOptimistic, e.Lock)

	_, err = r.Entity("Sculpture")
	require.Error(t, err)
	assert.True(t, domain.ErrProgrammer.Has(err))

	owner, ok := r.EntityForTable("ARTIST_INFO")
	require.True(t, ok)
	assert.Equal(t, metadatatest.Artist, owner.Name)

	jt, ok := r.JoinTable("ARTIST_EXHIBIT")
	require.True(t, ok)
	assert.Equal(t, "ARTIST_ID", jt.SourceJoins[0].Target)

	_, rel, err := r.Relationship(metadatatest.Painting, "artist")
	require.NoError(t, err)
	target, rev, ok := r.Reverse(rel)
	require.True(t, ok)
	assert.Equal(t, metadatatest.Artist, target.Name)
	assert.Equal(t, "paintings", rev.Name)

	_, _, err = r.Relationship(metadatatest.Painting, "frame")
	require.Error(t, err)

	gallery, err := r.Entity(metadatatest.Gallery)
	require.NoError(t, err)
	assert.Equal(t, "pk_gallery", gallery.Sequence)

	exhibit, err := r.Entity(metadatatest.Exhibit)
	require.NoError(t, err)
	assert.Equal(t, domain.PKProvided, exhibit.PKStrategy)
	assert.Equal(t, domain.LockNone, exhibit.Lock)
}

func TestResolverCopiesInput(t *testing.T) {
	entities := metadatatest.Entities()
	r := metadata.MustResolver(entities...)
	entities[0].Attributes[1].Column = "CHANGED"

	e, err := r.Entity(metadatatest.Artist)
	require.NoError(t, err)
	a, ok := e.Attribute("name")
	require.True(t, ok)
	assert.Equal(t, "NAME", a.Column)
}

func TestResolverRejectsInvalidModels(t *testing.T) {
	pk := domain.Attribute{Name: "id", Column: "ID", Type: domain.TypeInt, PrimaryKey: true}
	cases := []struct {
		name     string
		entities []domain.Entity
		want     string
	}{
		{
			name:     "duplicate entity",
			entities: []domain.Entity{{Name: "A", Table: "A", Attributes: []domain.Attribute{pk}}, {Name: "A", Table: "B", Attributes: []domain.Attribute{pk}}},
			want:     `duplicate entity "A"`,
		},
		{
			name:     "shared table",
			entities: []domain.Entity{{Name: "A", Table: "T", Attributes: []domain.Attribute{pk}}, {Name: "B", Table: "T", Attributes: []domain.Attribute{pk}}},
			want:     `table "T" is mapped by both`,
		},
		{
			name:     "no primary key",
			entities: []domain.Entity{{Name: "A", Table: "A", Attributes: []domain.Attribute{{Name: "x"}}}},
			want:     "has no primary key attribute",
		},
		{
			name:     "unknown type",
			entities: []domain.Entity{{Name: "A", Table: "A", Attributes: []domain.Attribute{pk, {Name: "x", Type: "varchar"}}}},
			want:     `unknown type "varchar"`,
		},
		{
			name: "generated compound key",
			entities: []domain.Entity{{Name: "A", Table: "A", PKStrategy: domain.PKDBGenerated, Attributes: []domain.Attribute{
				pk, {Name: "k", Column: "K", PrimaryKey: true},
			}}},
			want: "needs a single-column key",
		},
		{
			name: "unknown target",
			entities: []domain.Entity{{Name: "A", Table: "A", Attributes: []domain.Attribute{pk}, Relationships: []domain.Relationship{
				{Name: "b", Target: "B", Joins: []domain.Join{{Source: "B_ID", Target: "ID"}}},
			}}},
			want: `targets unknown entity "B"`,
		},
		{
			name: "to-many without reverse",
			entities: []domain.Entity{
				{Name: "A", Table: "A", Attributes: []domain.Attribute{pk}, Relationships: []domain.Relationship{
					{Name: "bs", Target: "B", ToMany: true, Joins: []domain.Join{{Source: "ID", Target: "A_ID"}}},
				}},
				{Name: "B", Table: "B", Attributes: []domain.Attribute{pk}},
			},
			want: "needs a to-one reverse",
		},
		{
			name: "fk mapped as attribute",
			entities: []domain.Entity{
				{Name: "A", Table: "A", Attributes: []domain.Attribute{pk, {Name: "bID", Column: "B_ID"}}, Relationships: []domain.Relationship{
					{Name: "b", Target: "B", Joins: []domain.Join{{Source: "B_ID", Target: "ID"}}},
				}},
				{Name: "B", Table: "B", Attributes: []domain.Attribute{pk}},
			},
			want: "is also mapped as an attribute",
		},
		{
			name: "secondary table missing key join",
			entities: []domain.Entity{{Name: "A", Table: "A", Attributes: []domain.Attribute{pk},
				SecondaryTables: []domain.SecondaryTable{{Name: "A_X"}}}},
			want: "must join on every primary key column",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := metadata.NewResolver(tc.entities...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestMustResolverPanics(t *testing.T) {
	assert.Panics(t, func() { metadata.MustResolver(domain.Entity{Name: "A"}) })
}
