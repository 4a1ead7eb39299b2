package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process queue. Jobs are lost when the process exits,
// so it only suits a single process running the API and the worker.
type MemoryQueue struct {
	jobs chan *Job
	done chan struct{}

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

// NewMemoryQueue creates a queue holding up to size ready jobs
func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		jobs:   make(chan *Job, size),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Enqueue adds job, immediately or after delay. An immediate enqueue on a
// full queue blocks until there is room, ctx ends or the queue closes.
func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job, delay time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if delay <= 0 {
		q.mu.Unlock()
		return q.push(ctx, job)
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		q.push(context.Background(), job)
	})
	q.timers[timer] = struct{}{}
	q.mu.Unlock()
	return nil
}

// push is called without q.mu held so a full queue never blocks Close
func (q *MemoryQueue) push(ctx context.Context, job *Job) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue waits for the next job
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack is a no-op; a dequeued job is already gone
func (q *MemoryQueue) Ack(context.Context, *Job) error {
	return nil
}

// Len returns the number of ready jobs
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

// Close stops pending delayed jobs and wakes blocked consumers
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	close(q.done)
	return nil
}
