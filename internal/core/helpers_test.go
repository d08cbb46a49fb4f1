package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"graphsync/internal/core"
	"graphsync/internal/infra/persistence/memory"
	"graphsync/internal/metadata/metadatatest"
	"graphsync/pkg/domain"
)

var bg = context.Background()

type fixture struct {
	node *memory.Node
	dom  *core.Domain
}

func newFixture(t *testing.T, nodeOpts []memory.Option, opts ...core.Option) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	r := metadatatest.Resolver()
	node := memory.New("test", append([]memory.Option{memory.WithSchema(r), memory.WithLogger(log)}, nodeOpts...)...)
	dom, err := core.NewDomain("gallery", r, node, append([]core.Option{core.WithLogger(log)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(dom.Close)
	return &fixture{node: node, dom: dom}
}

func (f *fixture) context(t *testing.T) *core.Context {
	t.Helper()
	c := f.dom.NewContext()
	t.Cleanup(c.Close)
	return c
}

func (f *fixture) seedArtist(id int64, name string, mentor any) {
	f.node.Seed("ARTIST", domain.Row{"ID": id, "NAME": name, "BORN": nil, "MENTOR_ID": mentor})
}

func (f *fixture) seedPainting(id int64, title string, artist, gallery any) {
	f.node.Seed("PAINTING", domain.Row{"ID": id, "TITLE": title, "PRICE": nil, "ARTIST_ID": artist, "GALLERY_ID": gallery})
}

// writes lists executed write statements as "kind TABLE".
func (f *fixture) writes() []string {
	var out []string
	for _, s := range f.node.Statements() {
		if s.Kind != memory.KindSelect {
			out = append(out, s.Kind+" "+s.Table)
		}
	}
	return out
}

func artistID(v int64) domain.ObjectID {
	return domain.NewSingleKeyID(metadatatest.Artist, "ID", v)
}

func paintingID(v int64) domain.ObjectID {
	return domain.NewSingleKeyID(metadatatest.Painting, "ID", v)
}

func galleryID(v int64) domain.ObjectID {
	return domain.NewSingleKeyID(metadatatest.Gallery, "ID", v)
}

func exhibitID(v int64) domain.ObjectID {
	return domain.NewSingleKeyID(metadatatest.Exhibit, "ID", v)
}

func get(t *testing.T, o *core.Object, name string) any {
	t.Helper()
	v, err := o.Get(bg, name)
	require.NoError(t, err)
	return v
}

func set(t *testing.T, o *core.Object, values map[string]any) {
	t.Helper()
	for name, v := range values {
		require.NoError(t, o.Set(bg, name, v))
	}
}

func newObject(t *testing.T, c *core.Context, entity string, values map[string]any) *core.Object {
	t.Helper()
	o, err := c.NewObject(entity)
	require.NoError(t, err)
	set(t, o, values)
	return o
}

func object(t *testing.T, c *core.Context, id domain.ObjectID) *core.Object {
	t.Helper()
	o, err := c.ObjectForID(id)
	require.NoError(t, err)
	return o
}
