package graph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/pkg/domain"
)

var (
	artist  = domain.NewSingleKeyID("Artist", "ID", 1)
	artist2 = domain.NewSingleKeyID("Artist", "ID", 2)
	paint   = domain.NewSingleKeyID("Painting", "ID", 10)
)

type recorder struct{ calls []string }

func (r *recorder) NodeCreated(id domain.ObjectID) {
	r.calls = append(r.calls, "create "+id.String())
}
func (r *recorder) NodeRemoved(id domain.ObjectID) {
	r.calls = append(r.calls, "remove "+id.String())
}
func (r *recorder) NodePropertyChanged(id domain.ObjectID, p string, old, new any) {
	r.calls = append(r.calls, fmt.Sprintf("prop %s.%s %v->%v", id, p, old, new))
}
func (r *recorder) ArcCreated(id, target domain.ObjectID, arc string) {
	r.calls = append(r.calls, fmt.Sprintf("arc+ %s.%s %s", id, arc, target))
}
func (r *recorder) ArcDeleted(id, target domain.ObjectID, arc string) {
	r.calls = append(r.calls, fmt.Sprintf("arc- %s.%s %s", id, arc, target))
}

func TestPhantomPropertyChange(t *testing.T) {
	l := NewLedger(nil)
	l.RecordProperty(artist, "name", "X", "Y")
	l.RecordProperty(artist, "name", "Y", "X")

	assert.True(t, l.HasChanges())
	assert.True(t, l.IsNoop())
	assert.True(t, l.IsPhantom(artist))
	assert.Len(t, l.Diff(), 2, "phantom writes are still recorded")

	l.RecordProperty(artist, "name", "X", "Z")
	assert.False(t, l.IsNoop())
	n, ok := l.NodeDiff(artist)
	require.True(t, ok)
	assert.Equal(t, []string{"name"}, n.ChangedProperties())
	assert.Equal(t, map[string]any{"name": "X"}, n.Baseline())
	assert.Equal(t, map[string]any{"name": "Z"}, n.Current())
}

func TestPhantomArcsAndFilter(t *testing.T) {
	l := NewLedger(func(_ domain.ObjectID, arc string) bool { return arc == "artist" })
	l.RecordArcDeleted(paint, artist, "artist")
	l.RecordArcCreated(paint, artist2, "artist")
	assert.False(t, l.IsPhantom(paint))

	l.RecordArcDeleted(paint, artist2, "artist")
	l.RecordArcCreated(paint, artist, "artist")
	assert.True(t, l.IsPhantom(paint))

	l.RecordArcCreated(artist, paint, "paintings")
	assert.True(t, l.IsPhantom(artist), "filtered arcs do not make a node dirty")
	assert.True(t, l.IsNoop())

	n, _ := l.NodeDiff(artist)
	created, deleted := n.NetArcs()
	assert.Equal(t, map[string][]domain.ObjectID{"paintings": {paint}}, created)
	assert.Nil(t, deleted)
}

func TestCreateRemoveNeverPhantom(t *testing.T) {
	l := NewLedger(nil)
	l.RecordCreated(paint)
	assert.False(t, l.IsNoop())
	l.Clear()
	l.RecordRemoved(paint)
	assert.False(t, l.IsPhantom(paint))
}

func TestDiffApplyOrder(t *testing.T) {
	l := NewLedger(nil)
	l.RecordCreated(paint)
	l.RecordProperty(paint, "title", nil, "Sunflowers")
	l.RecordArcCreated(paint, artist, "artist")
	l.RecordArcCreated(artist, paint, "paintings")

	var r recorder
	l.Diff().Apply(&r)
	assert.Equal(t, []string{
		"create Painting{ID=10}",
		"prop Painting{ID=10}.title <nil>->Sunflowers",
		"arc+ Painting{ID=10}.artist Artist{ID=1}",
		"arc+ Artist{ID=1}.paintings Painting{ID=10}",
	}, r.calls)
}

func TestChangedOrderForgetAndRemap(t *testing.T) {
	l := NewLedger(nil)
	tmp := domain.NewTempID("Painting")
	l.RecordCreated(tmp)
	l.RecordProperty(artist, "name", "a", "b")
	l.RecordArcCreated(artist, tmp, "paintings")
	assert.Equal(t, []domain.ObjectID{tmp, artist}, l.Changed())

	l.Remap(tmp, paint)
	assert.Equal(t, []domain.ObjectID{paint, artist}, l.Changed())
	n, _ := l.NodeDiff(artist)
	created, _ := n.NetArcs()
	assert.Equal(t, []domain.ObjectID{paint}, created["paintings"])

	l.Forget(paint)
	assert.Equal(t, []domain.ObjectID{artist}, l.Changed())
	assert.Equal(t, 2, l.Len())
	l.Forget(paint)
}

func TestCopyIsIndependent(t *testing.T) {
	l := NewLedger(nil)
	l.RecordProperty(artist, "name", "a", "b")
	cp := l.Copy()
	l.RecordProperty(artist, "name", "b", "c")
	assert.Equal(t, 1, cp.Len())
	assert.Equal(t, 2, l.Len())
	assert.False(t, cp.IsPhantom(artist))
	assert.True(t, Diff(nil).IsEmpty())
}
