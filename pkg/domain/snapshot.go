package domain

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

var snapshotVersions atomic.Int64

// NextSnapshotVersion returns a process-wide unique, monotonically increasing
// snapshot version.
func NextSnapshotVersion() int64 {
	return snapshotVersions.Add(1)
}

// Snapshot is an immutable column-name to value map describing the last known
// committed state of one row. Every snapshot carries a unique version; a
// snapshot produced from an earlier one records that predecessor in
// ReplacesVersion.
type Snapshot struct {
	columns         []string
	values          map[string]any
	version         int64
	replacesVersion int64
}

// NewSnapshot copies values into a new snapshot with a fresh version.
func NewSnapshot(values map[string]any) Snapshot {
	cols := make([]string, 0, len(values))
	copied := make(map[string]any, len(values))
	for col, v := range values {
		cols = append(cols, col)
		copied[col] = cloneValue(NormalizeValue(v))
	}
	sort.Strings(cols)
	return Snapshot{
		columns: cols,
		values:  copied,
		version: NextSnapshotVersion(),
	}
}

// IsZero reports whether s is the zero snapshot.
func (s Snapshot) IsZero() bool {
	return s.values == nil
}

// Version returns the snapshot's unique version.
func (s Snapshot) Version() int64 { return s.version }

// ReplacesVersion returns the version of the snapshot s was derived from, or 0.
func (s Snapshot) ReplacesVersion() int64 { return s.replacesVersion }

// WithReplacesVersion returns a copy of s that declares it replaces version v.
func (s Snapshot) WithReplacesVersion(v int64) Snapshot {
	s.replacesVersion = v
	return s
}

// Get returns a column value.
func (s Snapshot) Get(column string) (any, bool) {
	v, ok := s.values[column]
	return v, ok
}

// Columns returns the sorted column names.
func (s Snapshot) Columns() []string {
	return append([]string(nil), s.columns...)
}

// Len returns the number of columns.
func (s Snapshot) Len() int { return len(s.columns) }

// Values returns a copy of the column values.
func (s Snapshot) Values() map[string]any {
	out := make(map[string]any, len(s.values))
	for col, v := range s.values {
		out[col] = cloneValue(v)
	}
	return out
}

// Equal compares column sets and values, ignoring versions.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.values) != len(other.values) {
		return false
	}
	for col, v := range s.values {
		ov, ok := other.values[col]
		if !ok || !ValuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// Diff returns the columns of newer whose value differs from s, including
// columns s lacks. A nil map means there is no difference.
func (s Snapshot) Diff(newer Snapshot) map[string]any {
	var diff map[string]any
	for col, v := range newer.values {
		old, ok := s.values[col]
		if ok && ValuesEqual(old, v) {
			continue
		}
		if diff == nil {
			diff = make(map[string]any)
		}
		diff[col] = cloneValue(v)
	}
	return diff
}

// ApplyDiff returns a new snapshot with diff applied on top of s. The result
// replaces s's version.
func (s Snapshot) ApplyDiff(diff map[string]any) Snapshot {
	merged := s.Values()
	for col, v := range diff {
		merged[col] = v
	}
	out := NewSnapshot(merged)
	out.replacesVersion = s.version
	return out
}

func (s Snapshot) String() string {
	parts := make([]string, 0, len(s.columns))
	for _, col := range s.columns {
		parts = append(parts, fmt.Sprintf("%s=%v", col, s.values[col]))
	}
	return fmt.Sprintf("v%d{%s}", s.version, strings.Join(parts, ","))
}
