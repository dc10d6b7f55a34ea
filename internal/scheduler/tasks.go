package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/monitoring"
)

const (
	defaultRerunMinAge = 7 * 24 * time.Hour
	defaultCleanupAge  = 30 * 24 * time.Hour
	defaultWaitPoll    = 10 * time.Second
	defaultMaxRunWait  = 2 * time.Hour
)

// RerunStore is the slice of the store AUTO_RERUN needs.
type RerunStore interface {
	LatestRun(ctx context.Context, projectID string, status model.RunStatus) (*model.Run, error)
	CreateRun(ctx context.Context, projectID string) (*model.Run, error)
	EnqueueJob(ctx context.Context, runID string) (*model.Job, error)
}

// CreditLedger meters automated runs.
type CreditLedger interface {
	CanConsume(ctx context.Context, projectID string) (bool, error)
	Consume(ctx context.Context, projectID string) (bool, error)
}

// ChangeDetector compares a finished run with the previous completed one.
type ChangeDetector interface {
	Run(ctx context.Context, prevRunID, curRunID string) (*monitoring.ChangeReport, error)
}

// AutoRerun re-runs a monitored project. It returns once the run is queued;
// when a previous completed run exists it schedules a CHANGE_DETECTION task
// that follows the new run.
type AutoRerun struct {
	Store   RerunStore
	Credits CreditLedger

	// MinAge is how old the latest run must be before a new one is started.
	MinAge time.Duration
	// WaitPoll delays the first change check; MaxWait bounds how long the
	// follow-up waits for the run to finish.
	WaitPoll time.Duration
	MaxWait  time.Duration

	// Schedule queues follow-up tasks. Without it no change detection runs.
	Schedule func(Task) string

	Now func() time.Time
}

func (a *AutoRerun) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Handle implements TaskHandler.
func (a *AutoRerun) Handle(ctx context.Context, t Task) error {
	log := zap.L().With(zap.String("task_id", t.ID), zap.String("project_id", t.ProjectID))
	if t.ProjectID == "" {
		return eris.New("scheduler: auto rerun without project")
	}

	ok, err := a.Credits.CanConsume(ctx, t.ProjectID)
	if err != nil {
		return eris.Wrap(err, "scheduler: check credits")
	}
	if !ok {
		log.Info("scheduler: auto rerun skipped, no credits left")
		return nil
	}

	latest, err := a.Store.LatestRun(ctx, t.ProjectID, "")
	if err != nil {
		return eris.Wrap(err, "scheduler: latest run")
	}
	minAge := a.MinAge
	if minAge <= 0 {
		minAge = defaultRerunMinAge
	}
	now := a.now()
	if latest != nil && now.Sub(latest.CreatedAt) < minAge {
		log.Info("scheduler: auto rerun skipped, recent run exists",
			zap.String("run_id", latest.ID),
			zap.Time("created_at", latest.CreatedAt),
		)
		return nil
	}

	prev, err := a.Store.LatestRun(ctx, t.ProjectID, model.RunStatusComplete)
	if err != nil {
		return eris.Wrap(err, "scheduler: previous completed run")
	}

	run, err := a.Store.CreateRun(ctx, t.ProjectID)
	if err != nil {
		return eris.Wrap(err, "scheduler: create run")
	}
	if ok, err := a.Credits.Consume(ctx, t.ProjectID); err != nil {
		return eris.Wrap(err, "scheduler: consume credit")
	} else if !ok {
		log.Warn("scheduler: credit allowance reached while creating run", zap.String("run_id", run.ID))
	}
	if _, err := a.Store.EnqueueJob(ctx, run.ID); err != nil {
		return eris.Wrapf(err, "scheduler: enqueue run %s", run.ID)
	}
	log.Info("scheduler: auto rerun submitted", zap.String("run_id", run.ID))

	if a.Schedule == nil || prev == nil {
		return nil
	}
	poll := orDefault(a.WaitPoll, defaultWaitPoll)
	a.Schedule(Task{
		Kind:         KindChangeDetection,
		ProjectID:    t.ProjectID,
		RunID:        run.ID,
		ScheduledFor: now.Add(poll),
		Data: map[string]string{
			dataPrevRunID: prev.ID,
			dataDeadline:  now.Add(orDefault(a.MaxWait, defaultMaxRunWait)).Format(time.RFC3339Nano),
		},
	})
	return nil
}

const (
	dataPrevRunID = "prev_run_id"
	dataDeadline  = "deadline"
)

// RunReader loads runs.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*model.Run, error)
}

// ChangeDetection diffs a re-run against the previous completed run once the
// re-run reaches a terminal status. Until then each invocation checks once
// and re-schedules itself WaitPoll later, up to the task's deadline.
type ChangeDetection struct {
	Store    RunReader
	Detector ChangeDetector
	Schedule func(Task) string
	WaitPoll time.Duration
	Now      func() time.Time
}

// Handle implements TaskHandler.
func (c *ChangeDetection) Handle(ctx context.Context, t Task) error {
	prevID := t.Data[dataPrevRunID]
	if t.RunID == "" || prevID == "" {
		return eris.Errorf("scheduler: change detection %s without runs", t.ID)
	}
	log := zap.L().With(zap.String("task_id", t.ID), zap.String("run_id", t.RunID))

	run, err := c.Store.GetRun(ctx, t.RunID)
	if err != nil {
		return eris.Wrapf(err, "scheduler: poll run %s", t.RunID)
	}

	if !run.Status.Terminal() {
		now := time.Now()
		if c.Now != nil {
			now = c.Now()
		}
		deadline, err := time.Parse(time.RFC3339Nano, t.Data[dataDeadline])
		if err != nil {
			return eris.Wrapf(err, "scheduler: change detection %s deadline", t.ID)
		}
		if now.After(deadline) {
			return eris.Errorf("scheduler: waiting for run %s: not finished by %s", t.RunID, deadline.Format(time.RFC3339))
		}
		if c.Schedule == nil {
			return eris.Errorf("scheduler: waiting for run %s: cannot re-schedule", t.RunID)
		}
		t.ID = ""
		t.ScheduledFor = now.Add(orDefault(c.WaitPoll, defaultWaitPoll))
		c.Schedule(t)
		return nil
	}

	if run.Status != model.RunStatusComplete {
		log.Info("scheduler: rerun did not complete, skipping change detection",
			zap.String("status", string(run.Status)),
		)
		return nil
	}

	rep, err := c.Detector.Run(ctx, prevID, run.ID)
	if err != nil {
		return eris.Wrapf(err, "scheduler: detect changes %s", run.ID)
	}
	log.Info("scheduler: change detection done",
		zap.Int("changes", rep.Summary.TotalChanges),
		zap.String("severity", rep.Summary.Severity),
	)

	if c.Schedule != nil && rep.Summary.TotalChanges > 0 {
		c.Schedule(Task{
			Kind:      KindEmailNotification,
			ProjectID: t.ProjectID,
			RunID:     run.ID,
			Data: map[string]string{
				"subject": fmt.Sprintf("%d changes detected (%s)", rep.Summary.TotalChanges, rep.Summary.Severity),
				"body":    strings.Join(rep.Summary.Highlights, "\n"),
			},
		})
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// LogPruner deletes old run logs.
type LogPruner interface {
	DeleteRunLogsBefore(ctx context.Context, before time.Time) (int, error)
}

// Cleanup prunes run logs of runs older than MaxAge.
type Cleanup struct {
	Store  LogPruner
	MaxAge time.Duration
	Now    func() time.Time
}

// Handle implements TaskHandler.
func (c *Cleanup) Handle(ctx context.Context, _ Task) error {
	maxAge := orDefault(c.MaxAge, defaultCleanupAge)
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	n, err := c.Store.DeleteRunLogsBefore(ctx, now.Add(-maxAge))
	if err != nil {
		return eris.Wrap(err, "scheduler: cleanup run logs")
	}
	zap.L().Info("scheduler: run logs pruned", zap.Int("deleted", n), zap.Duration("max_age", maxAge))
	return nil
}
