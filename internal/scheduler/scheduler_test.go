package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/intel-cli/internal/config"
)

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

var base = time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

// recorder is a handler that remembers the tasks it saw, in order.
type recorder struct {
	mu    sync.Mutex
	tasks []Task
}

func (r *recorder) Handle(_ context.Context, t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = t.ID
	}
	return out
}

func TestSchedule_IDFormat(t *testing.T) {
	s := New(config.SchedulerConfig{}, WithClock(newClock(base).Now))
	id := s.Schedule(Task{Kind: KindCleanup})
	assert.Regexp(t, `^task_1749567600000_[a-z0-9]{9}$`, id)

	other := s.Schedule(Task{Kind: KindCleanup})
	assert.NotEqual(t, id, other)
}

func TestScheduler_Defaults(t *testing.T) {
	s := New(config.SchedulerConfig{})
	assert.Equal(t, 30*time.Second, s.poll)
	assert.Equal(t, 60*time.Second, s.backoff)
	assert.Equal(t, 3, s.concurrency)
}

func TestRunDue_Order(t *testing.T) {
	clk := newClock(base)
	rec := &recorder{}
	s := New(config.SchedulerConfig{Concurrency: 1}, WithClock(clk.Now), WithHandler(KindCleanup, rec))

	late := s.Schedule(Task{ID: "late", Kind: KindCleanup, ScheduledFor: base.Add(2 * time.Minute)})
	early := s.Schedule(Task{ID: "early", Kind: KindCleanup, ScheduledFor: base.Add(time.Minute)})
	urgent := s.Schedule(Task{ID: "urgent", Kind: KindCleanup, ScheduledFor: base.Add(2 * time.Minute), Priority: 5})
	future := s.Schedule(Task{ID: "future", Kind: KindCleanup, ScheduledFor: base.Add(time.Hour)})

	assert.Zero(t, s.RunDue(context.Background()))

	next, ok := s.NextTaskTime()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Minute), next)

	pending := s.Pending()
	require.Len(t, pending, 4)
	assert.Equal(t, []string{early, urgent, late, future},
		[]string{pending[0].ID, pending[1].ID, pending[2].ID, pending[3].ID})

	clk.Set(base.Add(5 * time.Minute))
	assert.Equal(t, 3, s.RunDue(context.Background()))
	assert.Equal(t, []string{early, urgent, late}, rec.ids())

	pending = s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, future, pending[0].ID)
}

func TestRunDue_ConcurrencyLimit(t *testing.T) {
	var active, peak atomic.Int32
	h := HandlerFunc(func(context.Context, Task) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil
	})

	s := New(config.SchedulerConfig{}, WithClock(newClock(base).Now), WithHandler(KindCleanup, h))
	for i := 0; i < 9; i++ {
		s.Schedule(Task{Kind: KindCleanup})
	}

	assert.Equal(t, 9, s.RunDue(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestCancel(t *testing.T) {
	s := New(config.SchedulerConfig{}, WithClock(newClock(base).Now))
	a := s.Schedule(Task{Kind: KindCleanup, ScheduledFor: base.Add(time.Minute)})
	b := s.Schedule(Task{Kind: KindCleanup, ScheduledFor: base.Add(2 * time.Minute)})

	assert.True(t, s.Cancel(a))
	assert.False(t, s.Cancel(a))
	assert.False(t, s.Cancel("task_0_missing"))

	next, ok := s.NextTaskTime()
	require.True(t, ok)
	assert.Equal(t, base.Add(2*time.Minute), next)

	assert.True(t, s.Cancel(b))
	_, ok = s.NextTaskTime()
	assert.False(t, ok)
	assert.Empty(t, s.Pending())
}

func TestRunDue_ErrorsAndPanicsAreContained(t *testing.T) {
	rec := &recorder{}
	s := New(config.SchedulerConfig{Concurrency: 1}, WithClock(newClock(base).Now),
		WithHandler(KindAutoRerun, HandlerFunc(func(context.Context, Task) error { return errors.New("boom") })),
		WithHandler(KindEmailNotification, HandlerFunc(func(context.Context, Task) error { panic("bad template") })),
		WithHandler(KindCleanup, rec),
	)
	s.Schedule(Task{ID: "a", Kind: KindAutoRerun, ProjectID: "p1"})
	s.Schedule(Task{ID: "b", Kind: KindEmailNotification})
	s.Schedule(Task{ID: "c", Kind: TaskKind("UNKNOWN")})
	s.Schedule(Task{ID: "d", Kind: KindCleanup})

	assert.Equal(t, 4, s.RunDue(context.Background()))
	assert.Equal(t, []string{"d"}, rec.ids())
}

func TestScheduleProjectMonitoring(t *testing.T) {
	clk := newClock(base)
	rec := &recorder{}
	s := New(config.SchedulerConfig{}, WithClock(clk.Now), WithHandler(KindAutoRerun, rec))

	id := s.ScheduleProjectMonitoring("p1")
	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, KindAutoRerun, pending[0].Kind)
	assert.Equal(t, time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC), pending[0].ScheduledFor)

	// Scheduling again replaces rather than duplicates.
	s.ScheduleProjectMonitoring("p1")
	require.Len(t, s.Pending(), 1)

	clk.Set(time.Date(2025, 6, 11, 9, 0, 30, 0, time.UTC))
	assert.Equal(t, 1, s.RunDue(context.Background()))
	require.Len(t, rec.ids(), 1)

	pending = s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, time.Date(2025, 6, 18, 9, 0, 0, 0, time.UTC), pending[0].ScheduledFor)
	assert.Equal(t, "p1", pending[0].ProjectID)

	assert.Equal(t, 1, s.CancelProjectMonitoring("p1"))
	assert.Empty(t, s.Pending())
	assert.Zero(t, s.CancelProjectMonitoring("p1"))
}

func TestCancelProjectMonitoring_DuringRun(t *testing.T) {
	var s *Scheduler
	h := HandlerFunc(func(_ context.Context, t Task) error {
		s.CancelProjectMonitoring(t.ProjectID)
		return nil
	})
	clk := newClock(base)
	s = New(config.SchedulerConfig{}, WithClock(clk.Now), WithHandler(KindAutoRerun, h))

	s.ScheduleProjectMonitoring("p1")
	clk.Set(base.Add(24 * time.Hour))
	assert.Equal(t, 1, s.RunDue(context.Background()))
	assert.Empty(t, s.Pending(), "cancelled monitoring must not re-schedule")
}

func TestCancelProjectMonitoring_KeepsOtherTasks(t *testing.T) {
	s := New(config.SchedulerConfig{}, WithClock(newClock(base).Now))
	s.ScheduleProjectMonitoring("p1")
	s.ScheduleProjectMonitoring("p2")
	s.Schedule(Task{Kind: KindCleanup, ProjectID: "p1"})

	assert.Equal(t, 1, s.CancelProjectMonitoring("p1"))
	pending := s.Pending()
	require.Len(t, pending, 2)
	for _, p := range pending {
		assert.False(t, p.Kind == KindAutoRerun && p.ProjectID == "p1")
	}
}

func TestSafeRunDue_RecoversPanic(t *testing.T) {
	var explode atomic.Bool
	s := New(config.SchedulerConfig{}, WithClock(func() time.Time {
		if explode.Load() {
			panic("clock broke")
		}
		return base
	}))
	s.Schedule(Task{Kind: KindCleanup})

	explode.Store(true)
	err := s.safeRunDue(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clock broke")
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	done := make(chan struct{})
	var once sync.Once
	h := HandlerFunc(func(context.Context, Task) error {
		once.Do(func() { close(done) })
		return nil
	})

	s := New(config.SchedulerConfig{PollSecs: 1}, WithHandler(KindCleanup, h))
	s.Schedule(Task{Kind: KindCleanup})
	s.Start(context.Background())
	s.Start(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("due task was not run")
	}
	s.Stop()
	s.Stop()
}
