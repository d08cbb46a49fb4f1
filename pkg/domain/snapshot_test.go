package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotVersionsAreUnique(t *testing.T) {
	a := NewSnapshot(map[string]any{"name": "x"})
	b := NewSnapshot(map[string]any{"name": "x"})
	assert.NotEqual(t, a.Version(), b.Version())
	assert.True(t, a.Equal(b))
	assert.Zero(t, a.ReplacesVersion())
}

func TestSnapshotIsImmutable(t *testing.T) {
	src := map[string]any{"name": "x", "raw": []byte{1}}
	s := NewSnapshot(src)
	src["name"] = "y"
	src["raw"].([]byte)[0] = 9

	v, ok := s.Get("name")
	require.True(t, ok)
	assert.Equal(t, "x", v)
	raw, _ := s.Get("raw")
	assert.Equal(t, []byte{1}, raw)

	values := s.Values()
	values["name"] = "z"
	v, _ = s.Get("name")
	assert.Equal(t, "x", v)
}

func TestSnapshotDiffAndApply(t *testing.T) {
	base := NewSnapshot(map[string]any{"id": 1, "name": "x", "age": 3})
	newer := NewSnapshot(map[string]any{"id": int64(1), "name": "y", "age": 3, "city": "z"})

	diff := base.Diff(newer)
	assert.Equal(t, map[string]any{"name": "y", "city": "z"}, diff)
	assert.Nil(t, base.Diff(base))

	applied := base.ApplyDiff(diff)
	assert.True(t, applied.Equal(newer))
	assert.Equal(t, base.Version(), applied.ReplacesVersion())
	assert.Greater(t, applied.Version(), base.Version())
}

func TestSnapshotWithReplacesVersion(t *testing.T) {
	s := NewSnapshot(map[string]any{"id": 1}).WithReplacesVersion(7)
	assert.Equal(t, int64(7), s.ReplacesVersion())
	assert.Equal(t, []string{"id"}, s.Columns())
	assert.Equal(t, 1, s.Len())
	assert.False(t, s.IsZero())
	assert.True(t, Snapshot{}.IsZero())
}

func TestValuesEqual(t *testing.T) {
	now := time.Now()
	cases := []struct {
		a, b any
		want bool
	}{
		{nil, nil, true},
		{nil, 0, false},
		{int32(5), int64(5), true},
		{uint8(5), 5, true},
		{5, 5.0, true},
		{"a", "a", true},
		{"a", "b", false},
		{[]byte("ab"), []byte("ab"), true},
		{[]byte("ab"), "ab", false},
		{now, now.UTC(), true},
		{map[string]int{"a": 1}, map[string]int{"a": 1}, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ValuesEqual(tc.a, tc.b), "%v vs %v", tc.a, tc.b)
	}
}
