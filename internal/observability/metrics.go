// Package observability provides the metrics recorders used by the snapshot
// cache, the flush pipeline and the session layer.
package observability

import (
	"context"
	"time"
)

// Metric names reported through Add.
const (
	SnapshotHits      = "snapshot_cache_hits"
	SnapshotMisses    = "snapshot_cache_misses"
	SnapshotEvictions = "snapshot_cache_evictions"
	SnapshotDiscards  = "snapshot_version_discards"
	RowsInserted      = "rows_inserted"
	RowsUpdated       = "rows_updated"
	RowsDeleted       = "rows_deleted"
	Statements        = "statements"
)

// Operation names reported through Observe.
const (
	OpCommit         = "commit"
	OpCommitToParent = "commit_to_parent"
	OpSelect         = "select"
	OpFault          = "fault"
	OpFlush          = "flush"
)

// MetricsRecorder receives operation timings and counters.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	Add(name string, delta int64)
}

// Nop discards everything.
type Nop struct{}

// Observe implements MetricsRecorder.
func (Nop) Observe(context.Context, string, bool, time.Duration) {}

// Add implements MetricsRecorder.
func (Nop) Add(string, int64) {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r MetricsRecorder) MetricsRecorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Track observes the duration of an operation when the returned func is
// invoked with the operation's error.
func Track(ctx context.Context, r MetricsRecorder, operation string) func(error) {
	start := time.Now()
	return func(err error) {
		r.Observe(ctx, operation, err == nil, time.Since(start))
	}
}
