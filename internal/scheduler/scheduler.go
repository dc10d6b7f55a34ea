// Package scheduler runs deferred and recurring background tasks: automatic
// re-runs for monitored projects, notifications and housekeeping.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intel-cli/internal/config"
)

const (
	defaultPoll         = 30 * time.Second
	defaultConcurrency  = 3
	defaultErrorBackoff = 60 * time.Second

	// MonitoringInterval spaces the automatic re-runs of a monitored project.
	MonitoringInterval = 7 * 24 * time.Hour
	monitoringHour     = 9
)

// TaskKind selects the handler that executes a task.
type TaskKind string

const (
	KindAutoRerun         TaskKind = "AUTO_RERUN"
	KindEmailNotification TaskKind = "EMAIL_NOTIFICATION"
	KindCleanup           TaskKind = "CLEANUP"
	KindChangeDetection   TaskKind = "CHANGE_DETECTION"
)

// Task is a unit of deferred work.
type Task struct {
	ID           string            `json:"id"`
	Kind         TaskKind          `json:"kind"`
	ProjectID    string            `json:"project_id,omitempty"`
	RunID        string            `json:"run_id,omitempty"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	Priority     int               `json:"priority"`
	Data         map[string]string `json:"data,omitempty"`

	// Every re-schedules the task this long after its slot once it has run.
	Every time.Duration `json:"every,omitempty"`
}

// TaskHandler executes tasks of one kind.
type TaskHandler interface {
	Handle(ctx context.Context, t Task) error
}

// HandlerFunc adapts a function to TaskHandler.
type HandlerFunc func(ctx context.Context, t Task) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, t Task) error { return f(ctx, t) }

// Scheduler holds tasks in memory and executes them once they are due.
type Scheduler struct {
	poll        time.Duration
	backoff     time.Duration
	concurrency int
	now         func() time.Time

	mu        sync.Mutex
	queue     taskQueue
	byID      map[string]*entry
	seq       uint64
	handlers  map[TaskKind]TaskHandler
	monitored map[string]bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the scheduler's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithHandler registers h for kind.
func WithHandler(kind TaskKind, h TaskHandler) Option {
	return func(s *Scheduler) { s.handlers[kind] = h }
}

// New creates a Scheduler from cfg. Zero values fall back to a 30s poll,
// 3 concurrent tasks and a 60s error back-off.
func New(cfg config.SchedulerConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		poll:        time.Duration(cfg.PollSecs) * time.Second,
		backoff:     time.Duration(cfg.ErrorBackoffSecs) * time.Second,
		concurrency: cfg.Concurrency,
		now:         time.Now,
		byID:        make(map[string]*entry),
		handlers:    make(map[TaskKind]TaskHandler),
		monitored:   make(map[string]bool),
	}
	if s.poll <= 0 {
		s.poll = defaultPoll
	}
	if s.backoff <= 0 {
		s.backoff = defaultErrorBackoff
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers h for kind, replacing any previous handler.
func (s *Scheduler) Handle(kind TaskKind, h TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// Schedule queues t and returns its id. An empty ScheduledFor means now.
func (s *Scheduler) Schedule(t Task) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(t)
}

func (s *Scheduler) scheduleLocked(t Task) string {
	now := s.now()
	if t.ID == "" {
		t.ID = fmt.Sprintf("task_%d_%s", now.UnixMilli(), randSuffix())
	}
	if t.ScheduledFor.IsZero() {
		t.ScheduledFor = now
	}
	if old, ok := s.byID[t.ID]; ok {
		heap.Remove(&s.queue, old.index)
	}
	s.seq++
	e := &entry{task: t, seq: s.seq}
	heap.Push(&s.queue, e)
	s.byID[t.ID] = e

	zap.L().Debug("scheduler: task scheduled",
		zap.String("task_id", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.Time("scheduled_for", t.ScheduledFor),
	)
	return t.ID
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randSuffix() string {
	b := make([]byte, 9)
	for i := range b {
		b[i] = suffixAlphabet[rand.IntN(len(suffixAlphabet))]
	}
	return string(b)
}

// Cancel removes a pending task. It reports whether the task was queued.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.queue, e.index)
	delete(s.byID, id)
	return true
}

// NextTaskTime returns when the earliest pending task is due.
func (s *Scheduler) NextTaskTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.queue.peek(); e != nil {
		return e.task.ScheduledFor, true
	}
	return time.Time{}, false
}

// Pending returns a snapshot of queued tasks in execution order.
func (s *Scheduler) Pending() []Task {
	s.mu.Lock()
	entries := make(taskQueue, len(s.queue))
	copy(entries, s.queue)
	s.mu.Unlock()

	sort.Slice(entries, entries.Less)
	out := make([]Task, len(entries))
	for i, e := range entries {
		out[i] = e.task
	}
	return out
}

// ScheduleProjectMonitoring queues a weekly AUTO_RERUN for projectID, first
// due at 09:00 local time tomorrow. Existing monitoring for the project is
// replaced.
func (s *Scheduler) ScheduleProjectMonitoring(projectID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelMonitoringLocked(projectID)
	s.monitored[projectID] = true

	now := s.now()
	first := time.Date(now.Year(), now.Month(), now.Day()+1, monitoringHour, 0, 0, 0, now.Location())
	return s.scheduleLocked(Task{
		Kind:         KindAutoRerun,
		ProjectID:    projectID,
		ScheduledFor: first,
		Every:        MonitoringInterval,
		Data:         map[string]string{"source": "monitoring"},
	})
}

// CancelProjectMonitoring drops every pending AUTO_RERUN of projectID and
// stops recurring ones from re-scheduling. It returns the number removed.
func (s *Scheduler) CancelProjectMonitoring(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.monitored, projectID)
	return s.cancelMonitoringLocked(projectID)
}

func (s *Scheduler) cancelMonitoringLocked(projectID string) int {
	var ids []string
	for id, e := range s.byID {
		if e.task.Kind == KindAutoRerun && e.task.ProjectID == projectID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		heap.Remove(&s.queue, s.byID[id].index)
		delete(s.byID, id)
	}
	return len(ids)
}

// Start launches the poll loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop cancels the loop and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	log := zap.L().With(zap.String("component", "scheduler"))
	log.Info("scheduler started", zap.Duration("poll", s.poll), zap.Int("concurrency", s.concurrency))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-timer.C:
		}

		wait := s.poll
		if err := s.safeRunDue(ctx); err != nil {
			log.Error("scheduler: loop error, backing off", zap.Error(err), zap.Duration("backoff", s.backoff))
			wait = s.backoff
		}
		timer.Reset(wait)
	}
}

func (s *Scheduler) safeRunDue(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("scheduler: panic: %v", r)
		}
	}()
	s.RunDue(ctx)
	return nil
}

// RunDue pops every task due by now and executes them with bounded
// concurrency. It blocks until they finish and returns how many ran.
func (s *Scheduler) RunDue(ctx context.Context) int {
	due := s.popDue()
	if len(due) == 0 {
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, t := range due {
		g.Go(func() error {
			s.execute(gctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return len(due)
}

func (s *Scheduler) popDue() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []Task
	for {
		e := s.queue.peek()
		if e == nil || e.task.ScheduledFor.After(now) {
			break
		}
		heap.Pop(&s.queue)
		delete(s.byID, e.task.ID)
		due = append(due, e.task)
	}
	return due
}

// execute runs one task and re-schedules it when it recurs. Handler errors
// and panics are logged and never escape.
func (s *Scheduler) execute(ctx context.Context, t Task) {
	log := zap.L().With(
		zap.String("task_id", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.String("project_id", t.ProjectID),
	)

	s.mu.Lock()
	h := s.handlers[t.Kind]
	s.mu.Unlock()

	start := time.Now()
	if err := runHandler(ctx, h, t); err != nil {
		log.Error("scheduler: task failed", zap.Error(err))
	} else {
		log.Info("scheduler: task done", zap.Duration("elapsed", time.Since(start)))
	}

	if t.Every > 0 {
		s.reschedule(t)
	}
}

func runHandler(ctx context.Context, h TaskHandler, t Task) (err error) {
	if h == nil {
		return eris.Errorf("scheduler: no handler for %s", t.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("scheduler: task panic: %v", r)
		}
	}()
	return h.Handle(ctx, t)
}

func (s *Scheduler) reschedule(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Kind == KindAutoRerun && t.ProjectID != "" && !s.monitored[t.ProjectID] {
		return
	}

	next := t.ScheduledFor.Add(t.Every)
	if now := s.now(); !next.After(now) {
		next = now.Add(t.Every)
	}
	t.ID = ""
	t.ScheduledFor = next
	s.scheduleLocked(t)
}
