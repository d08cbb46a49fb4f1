package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpvarRecorderAggregates(t *testing.T) {
	rec := NewExpvarRecorder("")
	require.NotEmpty(t, rec.Name())

	rec.Observe(context.Background(), OpCommit, true, 2*time.Millisecond)
	rec.Observe(context.Background(), OpCommit, false, time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond)
	rec.Add(SnapshotHits, 3)
	rec.Add(SnapshotHits, 1)

	snap := rec.Snapshot()
	assert.InDelta(t, 3.0, snap.DurationsMS[OpCommit], 0.001)
	assert.Equal(t, int64(1), snap.Results[OpCommit]["success"])
	assert.Equal(t, int64(1), snap.Results[OpCommit]["error"])
	assert.Equal(t, int64(4), snap.Counters[SnapshotHits])
	assert.NotContains(t, snap.Results, "")
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg, "test")
	require.NoError(t, err)

	rec.Add(Statements, 2)
	rec.Add(Statements, 0)
	rec.Observe(context.Background(), OpFlush, true, time.Millisecond)
	assert.InDelta(t, 2.0, testutil.ToFloat64(rec.counters.WithLabelValues(Statements)), 0.001)
	assert.Equal(t, 1, testutil.CollectAndCount(rec.durations))

	_, err = NewPrometheusRecorder(reg, "test")
	assert.Error(t, err, "duplicate registration must fail")
}

func TestTrackAndNop(t *testing.T) {
	rec := NewExpvarRecorder("")
	done := Track(context.Background(), rec, OpSelect)
	done(errors.New("x"))
	assert.Equal(t, int64(1), rec.Snapshot().Results[OpSelect]["error"])

	assert.Equal(t, Nop{}, OrNop(nil))
	assert.Equal(t, rec, OrNop(rec))
	Nop{}.Observe(context.Background(), "x", true, 0)
	Nop{}.Add("x", 1)
}
