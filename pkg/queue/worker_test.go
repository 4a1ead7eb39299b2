package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crm-service/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingHandler struct {
	mu       sync.Mutex
	errs     []error
	attempts []int
	failed   []error
	done     chan struct{}
}

func newRecordingHandler(errs ...error) *recordingHandler {
	return &recordingHandler{errs: errs, done: make(chan struct{}, 10)}
}

func (h *recordingHandler) Handle(_ context.Context, job *Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = append(h.attempts, job.Attempt)
	var err error
	if len(h.errs) > 0 {
		err, h.errs = h.errs[0], h.errs[1:]
	}
	if err == nil {
		h.done <- struct{}{}
	}
	return err
}

func (h *recordingHandler) Failed(_ context.Context, _ *Job, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = append(h.failed, err)
	h.done <- struct{}{}
}

func (h *recordingHandler) snapshot() ([]int, []error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.attempts...), append([]error(nil), h.failed...)
}

func runWorker(t *testing.T, h Handler, job *Job) func() {
	t.Helper()
	q := NewMemoryQueue(16)
	w := NewWorker(q, WorkerConfig{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, JobTimeout: time.Second}, zaptest.NewLogger(t))
	w.Register("test", h)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		w.Run(ctx)
	}()
	require.NoError(t, q.Enqueue(ctx, job, 0))

	return func() {
		cancel()
		q.Close()
		<-stopped
	}
}

func waitDone(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestWorkerRetriesTransientFailures(t *testing.T) {
	h := newRecordingHandler(errors.New("connection reset"), errors.New("connection reset"))
	job, err := NewJob("test", map[string]int{"tenant_id": 1}, 3)
	require.NoError(t, err)

	stop := runWorker(t, h, job)
	defer stop()
	waitDone(t, h)

	attempts, failed := h.snapshot()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Empty(t, failed)
}

func TestWorkerStopsAfterMaxAttempts(t *testing.T) {
	boom := errors.New("boom")
	h := newRecordingHandler(boom, boom, boom, boom)
	job, err := NewJob("test", nil, 3)
	require.NoError(t, err)

	stop := runWorker(t, h, job)
	defer stop()
	waitDone(t, h)

	attempts, failed := h.snapshot()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0], boom)
}

func TestWorkerDoesNotRetryPermanentFailures(t *testing.T) {
	h := newRecordingHandler(apperr.Permanent(errors.New("bad input")))
	job, err := NewJob("test", nil, 3)
	require.NoError(t, err)

	stop := runWorker(t, h, job)
	defer stop()
	waitDone(t, h)

	attempts, failed := h.snapshot()
	assert.Equal(t, []int{1}, attempts)
	require.Len(t, failed, 1)
	assert.True(t, apperr.IsPermanent(failed[0]))
}

type panicHandler struct{ failed chan error }

func (h *panicHandler) Handle(context.Context, *Job) error { panic("nil map") }
func (h *panicHandler) Failed(_ context.Context, _ *Job, err error) {
	h.failed <- err
}

func TestWorkerRecoversPanics(t *testing.T) {
	h := &panicHandler{failed: make(chan error, 1)}
	w := NewWorker(NewMemoryQueue(1), WorkerConfig{}, zaptest.NewLogger(t))
	w.Register("test", h)

	job, err := NewJob("test", nil, 1)
	require.NoError(t, err)
	w.Process(context.Background(), job)

	select {
	case err := <-h.failed:
		assert.Contains(t, err.Error(), "panicked")
	default:
		t.Fatal("Failed was not called")
	}
}

func TestRetryDelayGrows(t *testing.T) {
	w := NewWorker(NewMemoryQueue(1), WorkerConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}, zaptest.NewLogger(t))

	first := w.retryDelay(1)
	third := w.retryDelay(3)
	assert.InDelta(t, float64(100*time.Millisecond), float64(first), float64(60*time.Millisecond))
	assert.Greater(t, third, first)
	assert.LessOrEqual(t, w.retryDelay(20), time.Second+time.Second/2)
}

func TestMemoryQueueDelayAndClose(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	job, err := NewJob("test", nil, 1)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, job, 20*time.Millisecond))
	assert.Equal(t, 0, q.Len())

	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := q.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	require.NoError(t, q.Close())
	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.Enqueue(ctx, job, 0), ErrClosed)
}

func TestMemoryQueueFullDoesNotBlockOthers(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()

	first, err := NewJob("test", nil, 1)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, first, 0))

	blocked := make(chan error, 1)
	go func() {
		job, err := NewJob("test", nil, 1)
		if err != nil {
			blocked <- err
			return
		}
		blocked <- q.Enqueue(ctx, job, 0)
	}()

	// a delayed enqueue and Close both go through while the send above waits
	delayed, err := NewJob("test", nil, 1)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, delayed, time.Hour) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed enqueue waited on a full queue")
	}

	closed := make(chan error, 1)
	go func() { closed <- q.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close waited on a full queue")
	}

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked enqueue was not released by Close")
	}
}

func TestMemoryQueueEnqueueHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()

	job, err := NewJob("test", nil, 1)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), job, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, job, 0), context.DeadlineExceeded)
}
