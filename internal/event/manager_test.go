package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostDeliversInOrder(t *testing.T) {
	m := NewManager()
	var got []string
	m.Subscribe(GraphFlushed, func(ev Event) { got = append(got, "a:"+ev.Payload.(string)) })
	m.Subscribe(GraphFlushed, func(ev Event) { got = append(got, "b:"+ev.Payload.(string)) })
	m.Subscribe(GraphChanged, func(Event) { got = append(got, "other") })

	m.Post(Event{Subject: GraphFlushed, Payload: "x"})
	assert.Equal(t, []string{"a:x", "b:x"}, got)
	assert.Equal(t, 2, m.Listeners(GraphFlushed))
}

func TestUnsubscribe(t *testing.T) {
	m := NewManager()
	calls := 0
	sub := m.Subscribe(SnapshotsChanged, func(Event) { calls++ })
	require.NoError(t, m.Unsubscribe(sub))
	m.Post(Event{Subject: SnapshotsChanged})
	assert.Zero(t, calls)

	err := m.Unsubscribe(sub)
	require.Error(t, err)
	assert.True(t, Error.Has(err))
}

func TestListenerMayPostAndSubscribe(t *testing.T) {
	m := NewManager()
	var nested int
	m.Subscribe(GraphChanged, func(Event) {
		m.Subscribe(GraphRolledBack, func(Event) { nested++ })
		m.Post(Event{Subject: GraphRolledBack})
	})
	m.Post(Event{Subject: GraphChanged})
	assert.Equal(t, 1, nested)
}
