package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/model"
)

const defaultWorkerPoll = 5 * time.Second

// Runner orchestrates a single run.
type Runner interface {
	Run(ctx context.Context, runID string) error
}

// JobQueue is the slice of the store the worker consumes.
type JobQueue interface {
	ClaimJob(ctx context.Context) (*model.Job, error)
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, msg string) error
}

// Worker drains the run job queue, orchestrating one run at a time.
type Worker struct {
	queue  JobQueue
	runner Runner
	poll   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a Worker. A non-positive poll uses the default interval.
func NewWorker(queue JobQueue, runner Runner, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = defaultWorkerPoll
	}
	return &Worker{queue: queue, runner: runner, poll: poll}
}

// Start launches the polling loop. Calling Start on a running worker is a
// no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

// Stop cancels the loop and waits for the in-flight job to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	log := zap.L().With(zap.String("component", "pipeline.worker"))
	log.Info("worker started", zap.Duration("poll", w.poll))

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		// Drain everything pending before sleeping again.
		for ctx.Err() == nil {
			ran, err := w.ProcessNext(ctx)
			if err != nil {
				log.Error("worker: job failed", zap.Error(err))
			}
			if !ran {
				break
			}
		}
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// ProcessNext claims and runs one job. It reports whether a job was claimed.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimJob(ctx)
	if err != nil {
		return false, eris.Wrap(err, "worker: claim job")
	}
	if job == nil {
		return false, nil
	}

	log := zap.L().With(zap.String("job_id", job.ID), zap.String("run_id", job.RunID))
	log.Info("worker: job claimed", zap.Int("attempts", job.Attempts))

	// Job bookkeeping must land even when the worker is stopping.
	wctx := context.WithoutCancel(ctx)
	if runErr := w.runner.Run(ctx, job.RunID); runErr != nil {
		if err := w.queue.FailJob(wctx, job.ID, runErr.Error()); err != nil {
			log.Warn("worker: failed to mark job failed", zap.Error(err))
		}
		return true, eris.Wrapf(runErr, "worker: run %s", job.RunID)
	}
	if err := w.queue.CompleteJob(wctx, job.ID); err != nil {
		return true, eris.Wrap(err, "worker: complete job")
	}
	log.Info("worker: job done")
	return true, nil
}
