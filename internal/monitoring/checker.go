package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/config"
	"github.com/sells-group/intel-cli/internal/model"
)

const (
	defaultCheckInterval = 5 * time.Minute
	defaultLookbackHours = 24
	defaultStuckAfter    = time.Hour
	stuckScanLimit       = 500
)

// AlertStuckRun fires once per run that sits in a non-terminal status for
// longer than the stuck threshold.
const AlertStuckRun AlertType = "stuck_run"

// RunLister lists runs for the stuck-run scan.
type RunLister interface {
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)
}

// Checker periodically checks run health: the failure rate over the lookback
// window, and runs that never reached a terminal status.
type Checker struct {
	collector  *Collector
	alerter    *Alerter
	runs       RunLister
	lookback   int
	interval   time.Duration
	stuckAfter time.Duration

	mu       sync.Mutex
	reported map[string]struct{}
}

// NewChecker creates a run health checker. A nil runs disables the
// stuck-run scan.
func NewChecker(collector *Collector, alerter *Alerter, runs RunLister, cfg config.MonitoringConfig) *Checker {
	c := &Checker{
		collector:  collector,
		alerter:    alerter,
		runs:       runs,
		lookback:   cfg.LookbackHours,
		interval:   time.Duration(cfg.CheckIntervalMins) * time.Minute,
		stuckAfter: time.Duration(cfg.StuckRunMins) * time.Minute,
		reported:   make(map[string]struct{}),
	}
	if c.interval <= 0 {
		c.interval = defaultCheckInterval
	}
	if c.lookback <= 0 {
		c.lookback = defaultLookbackHours
	}
	if c.stuckAfter <= 0 {
		c.stuckAfter = defaultStuckAfter
	}
	return c
}

// Run checks on every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting run health checker",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
		zap.Duration("stuck_after", c.stuckAfter),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("run health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check evaluates run health once, sends what it finds and returns the
// alerts raised.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	var alerts []Alert
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: failed to collect run health", zap.Error(err))
	} else {
		log.Debug("monitoring: run health",
			zap.Int("complete", snap.Complete),
			zap.Int("errored", snap.Errored),
			zap.Int("in_flight", snap.InFlight),
			zap.Float64("fail_rate", snap.FailRate),
		)
		alerts = append(alerts, c.alerter.Evaluate(snap)...)
	}
	alerts = append(alerts, c.stuckRuns(ctx, log)...)

	if len(alerts) == 0 {
		return nil
	}
	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: health check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}

// stuckRuns alerts on runs created in the lookback window that are still
// not terminal after stuckAfter. Each run is reported once while stuck.
func (c *Checker) stuckRuns(ctx context.Context, log *zap.Logger) []Alert {
	if c.runs == nil {
		return nil
	}
	now := nowUTC()
	runs, err := c.runs.ListRuns(ctx, model.RunFilter{
		Since: now.Add(-time.Duration(c.lookback) * time.Hour),
		Limit: stuckScanLimit,
	})
	if err != nil {
		log.Error("monitoring: failed to list runs", zap.Error(err))
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stuck := make(map[string]struct{})
	var alerts []Alert
	for _, r := range runs {
		age := now.Sub(r.CreatedAt)
		if r.Status.Terminal() || age < c.stuckAfter {
			continue
		}
		stuck[r.ID] = struct{}{}
		if _, seen := c.reported[r.ID]; seen {
			continue
		}
		alerts = append(alerts, Alert{
			Type:      AlertStuckRun,
			Severity:  SeverityMedium,
			Message:   fmt.Sprintf("Run %s has been %s for %s", r.ID, r.Status, age.Truncate(time.Minute)),
			ProjectID: r.ProjectID,
			RunID:     r.ID,
			Details: map[string]any{
				"status":      string(r.Status),
				"age_minutes": int(age.Minutes()),
			},
			Timestamp: now,
		})
	}
	c.reported = stuck
	return alerts
}
