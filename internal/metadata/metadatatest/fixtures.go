// Package metadatatest provides the gallery mapping model shared by tests.
//
// Artist (TABLE keys, optimistic locking, secondary table ARTIST_INFO,
// self-referencing mentor/students) owns Paintings (DB generated keys) and is
// linked to Exhibits (provided keys) through the ARTIST_EXHIBIT join table.
// Galleries (SEQUENCE keys) hold Paintings and Exhibits.
package metadatatest

import (
	"graphsync/internal/metadata"
	"graphsync/pkg/domain"
)

// Entity names.
const (
	Artist   = "Artist"
	Painting = "Painting"
	Gallery  = "Gallery"
	Exhibit  = "Exhibit"
)

// Entities returns a fresh copy of the gallery model.
func Entities() []domain.Entity {
	artistExhibit := func(reverse bool) *domain.JoinTable {
		if reverse {
			return &domain.JoinTable{
				Name:        "ARTIST_EXHIBIT",
				SourceJoins: []domain.Join{{Source: "ID", Target: "EXHIBIT_ID"}},
				TargetJoins: []domain.Join{{Source: "ARTIST_ID", Target: "ID"}},
			}
		}
		return &domain.JoinTable{
			Name:        "ARTIST_EXHIBIT",
			SourceJoins: []domain.Join{{Source: "ID", Target: "ARTIST_ID"}},
			TargetJoins: []domain.Join{{Source: "EXHIBIT_ID", Target: "ID"}},
		}
	}
	return []domain.Entity{
		{
			Name:       Artist,
			Table:      "ARTIST",
			PKStrategy: domain.PKTable,
			Lock:       domain.LockOptimistic,
			SecondaryTables: []domain.SecondaryTable{
				{Name: "ARTIST_INFO", Joins: []domain.Join{{Source: "ID", Target: "ARTIST_ID"}}},
			},
			Attributes: []domain.Attribute{
				{Name: "id", Column: "ID", Type: domain.TypeInt, PrimaryKey: true},
				{Name: "name", Column: "NAME", Type: domain.TypeText, Mandatory: true, UsedForLocking: true},
				{Name: "born", Column: "BORN", Type: domain.TypeInt},
				{Name: "bio", Column: "BIO", Table: "ARTIST_INFO", Type: domain.TypeText},
			},
			Relationships: []domain.Relationship{
				{Name: "paintings", Target: Painting, ToMany: true, Joins: []domain.Join{{Source: "ID", Target: "ARTIST_ID"}}, Reverse: "artist", DeleteRule: domain.DeleteCascade},
				{Name: "mentor", Target: Artist, Joins: []domain.Join{{Source: "MENTOR_ID", Target: "ID"}}, Reverse: "students"},
				{Name: "students", Target: Artist, ToMany: true, Joins: []domain.Join{{Source: "ID", Target: "MENTOR_ID"}}, Reverse: "mentor", DeleteRule: domain.DeleteNullify},
				{Name: "exhibits", Target: Exhibit, ToMany: true, JoinTable: artistExhibit(false), Reverse: "artists", DeleteRule: domain.DeleteNullify},
			},
		},
		{
			Name:       Painting,
			Table:      "PAINTING",
			PKStrategy: domain.PKDBGenerated,
			Attributes: []domain.Attribute{
				{Name: "id", Column: "ID", Type: domain.TypeInt, PrimaryKey: true},
				{Name: "title", Column: "TITLE", Type: domain.TypeText, Mandatory: true},
				{Name: "price", Column: "PRICE", Type: domain.TypeReal},
			},
			Relationships: []domain.Relationship{
				{Name: "artist", Target: Artist, Joins: []domain.Join{{Source: "ARTIST_ID", Target: "ID"}}, Reverse: "paintings", DeleteRule: domain.DeleteNullify},
				{Name: "gallery", Target: Gallery, Joins: []domain.Join{{Source: "GALLERY_ID", Target: "ID"}}, Reverse: "paintings", DeleteRule: domain.DeleteNullify},
			},
		},
		{
			Name:       Gallery,
			Table:      "GALLERY",
			PKStrategy: domain.PKSequence,
			Attributes: []domain.Attribute{
				{Name: "id", Column: "ID", Type: domain.TypeInt, PrimaryKey: true},
				{Name: "name", Column: "NAME", Type: domain.TypeText, Mandatory: true},
			},
			Relationships: []domain.Relationship{
				{Name: "paintings", Target: Painting, ToMany: true, Joins: []domain.Join{{Source: "ID", Target: "GALLERY_ID"}}, Reverse: "gallery", DeleteRule: domain.DeleteDeny},
				{Name: "exhibits", Target: Exhibit, ToMany: true, Joins: []domain.Join{{Source: "ID", Target: "GALLERY_ID"}}, Reverse: "gallery", DeleteRule: domain.DeleteCascade},
			},
		},
		{
			Name:  Exhibit,
			Table: "EXHIBIT",
			Attributes: []domain.Attribute{
				{Name: "id", Column: "ID", Type: domain.TypeInt, PrimaryKey: true},
				{Name: "title", Column: "TITLE", Type: domain.TypeText},
			},
			Relationships: []domain.Relationship{
				{Name: "gallery", Target: Gallery, Joins: []domain.Join{{Source: "GALLERY_ID", Target: "ID"}}, Reverse: "exhibits"},
				{Name: "artists", Target: Artist, ToMany: true, JoinTable: artistExhibit(true), Reverse: "exhibits"},
			},
		},
	}
}

// Resolver returns a resolver over the gallery model.
func Resolver() *metadata.Resolver {
	return metadata.MustResolver(Entities()...)
}
