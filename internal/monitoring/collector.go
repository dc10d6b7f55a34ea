package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/model"
)

// HealthSnapshot holds a point-in-time view of run outcomes.
type HealthSnapshot struct {
	Total    int     `json:"total"`
	Complete int     `json:"complete"`
	Errored  int     `json:"errored"`
	Skipped  int     `json:"skipped"`
	InFlight int     `json:"in_flight"`
	FailRate float64 `json:"fail_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished returns the runs that reached COMPLETE or ERROR.
func (s *HealthSnapshot) Finished() int {
	return s.Complete + s.Errored
}

// RunCounter is the slice of the store the collector needs.
type RunCounter interface {
	CountRunsByStatus(ctx context.Context, since time.Time) (map[model.RunStatus]int, error)
}

// Collector gathers run health from the store.
type Collector struct {
	store RunCounter
}

// NewCollector creates a new run health collector.
func NewCollector(st RunCounter) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of runs created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*HealthSnapshot, error) {
	now := nowUTC()
	snap := &HealthSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	counts, err := c.store.CountRunsByStatus(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count runs")
	}

	for status, n := range counts {
		snap.Total += n
		switch status {
		case model.RunStatusComplete:
			snap.Complete += n
		case model.RunStatusError:
			snap.Errored += n
		case model.RunStatusSkipped:
			snap.Skipped += n
		default:
			snap.InFlight += n
		}
	}

	if finished := snap.Finished(); finished > 0 {
		snap.FailRate = float64(snap.Errored) / float64(finished)
	}
	return snap, nil
}
