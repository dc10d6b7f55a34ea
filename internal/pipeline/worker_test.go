package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/intel-cli/internal/model"
)

func TestWorker_ProcessNext_NoJob(t *testing.T) {
	q := new(mockQueue)
	r := new(mockRunner)
	q.On("ClaimJob", mock.Anything).Return(nil, nil)

	ran, err := NewWorker(q, r, time.Second).ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	r.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestWorker_ProcessNext_Completes(t *testing.T) {
	q := new(mockQueue)
	r := new(mockRunner)
	q.On("ClaimJob", mock.Anything).Return(&model.Job{ID: "job-1", RunID: "run-1"}, nil)
	q.On("CompleteJob", mock.Anything, "job-1").Return(nil)
	r.On("Run", mock.Anything, "run-1").Return(nil)

	ran, err := NewWorker(q, r, time.Second).ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	q.AssertExpectations(t)
	r.AssertExpectations(t)
}

func TestWorker_ProcessNext_RunFails(t *testing.T) {
	q := new(mockQueue)
	r := new(mockRunner)
	q.On("ClaimJob", mock.Anything).Return(&model.Job{ID: "job-1", RunID: "run-1"}, nil)
	q.On("FailJob", mock.Anything, "job-1", "search exploded").Return(nil)
	r.On("Run", mock.Anything, "run-1").Return(errors.New("search exploded"))

	ran, err := NewWorker(q, r, time.Second).ProcessNext(context.Background())
	require.Error(t, err)
	assert.True(t, ran)
	assert.Contains(t, err.Error(), "worker: run run-1")
	q.AssertNotCalled(t, "CompleteJob", mock.Anything, mock.Anything)
	q.AssertExpectations(t)
}

func TestWorker_ProcessNext_ClaimError(t *testing.T) {
	q := new(mockQueue)
	q.On("ClaimJob", mock.Anything).Return(nil, errors.New("locked"))

	ran, err := NewWorker(q, new(mockRunner), time.Second).ProcessNext(context.Background())
	require.Error(t, err)
	assert.False(t, ran)
	assert.Contains(t, err.Error(), "worker: claim job")
}

func TestWorker_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := new(mockQueue)
	r := new(mockRunner)
	done := make(chan struct{})
	q.On("ClaimJob", mock.Anything).Return(&model.Job{ID: "job-1", RunID: "run-1"}, nil).Once()
	q.On("ClaimJob", mock.Anything).Return(nil, nil)
	q.On("CompleteJob", mock.Anything, "job-1").Return(nil).Run(func(mock.Arguments) { close(done) })
	r.On("Run", mock.Anything, "run-1").Return(nil)

	w := NewWorker(q, r, 10*time.Millisecond)
	w.Start(context.Background())
	w.Start(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}
	w.Stop()
	w.Stop()

	r.AssertNumberOfCalls(t, "Run", 1)
}

func TestWorker_EndToEnd(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, run := seedRun(t, st)
	job, err := st.EnqueueJob(ctx, run.ID)
	require.NoError(t, err)

	p := New(testConfig(), st, nil, &fakeFetcher{pages: acmePages()},
		WithSearchProvider(&fakeProvider{results: acmeResults()}))
	w := NewWorker(st, p, time.Second)

	ran, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)

	again, err := st.ClaimJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "job %s should no longer be pending", job.ID)
}
