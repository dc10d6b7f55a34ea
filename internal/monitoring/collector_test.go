package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/model"
)

// countStore returns fixed run counts and records the requested cutoff.
type countStore struct {
	counts map[model.RunStatus]int
	err    error
	since  time.Time
}

func (s *countStore) CountRunsByStatus(_ context.Context, since time.Time) (map[model.RunStatus]int, error) {
	s.since = since
	return s.counts, s.err
}

func TestCollector_Collect(t *testing.T) {
	st := &countStore{counts: map[model.RunStatus]int{
		model.RunStatusComplete:    6,
		model.RunStatusError:       2,
		model.RunStatusSkipped:     1,
		model.RunStatusDiscovering: 1,
		model.RunStatusNew:         3,
	}}

	before := time.Now().UTC()
	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 13, snap.Total)
	assert.Equal(t, 6, snap.Complete)
	assert.Equal(t, 2, snap.Errored)
	assert.Equal(t, 1, snap.Skipped)
	assert.Equal(t, 4, snap.InFlight)
	assert.Equal(t, 8, snap.Finished())
	assert.InDelta(t, 0.25, snap.FailRate, 1e-9)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.WithinDuration(t, before.Add(-24*time.Hour), st.since, 5*time.Second)
}

func TestCollector_Collect_NoRuns(t *testing.T) {
	snap, err := NewCollector(&countStore{}).Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.FailRate)
}

func TestCollector_Collect_StoreError(t *testing.T) {
	_, err := NewCollector(&countStore{err: errors.New("locked")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: count runs")
}
