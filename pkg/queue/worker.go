package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-service/internal/apperr"
	"crm-service/prometheus"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler processes jobs of one type
type Handler interface {
	// Handle runs one attempt of job. Errors marked apperr.Permanent are not
	// retried.
	Handle(ctx context.Context, job *Job) error
	// Failed is called once when job will not be attempted again
	Failed(ctx context.Context, job *Job, err error)
}

// WorkerConfig holds retry settings
type WorkerConfig struct {
	Concurrency    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JobTimeout     time.Duration
}

// Worker consumes a queue and dispatches jobs to handlers by type
type Worker struct {
	queue    Queue
	cfg      WorkerConfig
	handlers map[string]Handler
	log      *zap.Logger
}

// NewWorker creates a worker on queue
func NewWorker(q Queue, cfg WorkerConfig, log *zap.Logger) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Worker{
		queue:    q,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		log:      log.Named("worker"),
	}
}

// Register routes jobs of typ to h
func (w *Worker) Register(typ string, h Handler) {
	w.handlers[typ] = h
}

// Run processes jobs until ctx is cancelled or the queue is closed
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Worker started", zap.Int("concurrency", w.cfg.Concurrency))
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				job, err := w.queue.Dequeue(ctx)
				if err != nil {
					if errors.Is(err, ErrClosed) || ctx.Err() != nil {
						return nil
					}
					w.log.Error("Failed to dequeue job", zap.Error(err))
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
						return nil
					}
					continue
				}
				w.Process(ctx, job)
			}
		})
	}
	err := g.Wait()
	w.log.Info("Worker stopped")
	return err
}

// Process runs one attempt of job and decides whether it is retried
func (w *Worker) Process(ctx context.Context, job *Job) {
	job.Attempt++
	log := w.log.With(
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempt),
		zap.Int("max_attempts", job.MaxAttempts))

	h, ok := w.handlers[job.Type]
	if !ok {
		log.Error("No handler registered for job type")
		w.ack(ctx, job, log)
		prometheus.RecordJob(job.Type, "unhandled")
		return
	}

	err := w.attempt(ctx, h, job)
	switch {
	case err == nil:
		log.Info("Job completed")
		prometheus.RecordJob(job.Type, "success")

	case apperr.IsPermanent(err) || job.LastAttempt():
		log.Error("Job failed", zap.Error(err), zap.Bool("permanent", apperr.IsPermanent(err)))
		h.Failed(ctx, job, err)
		prometheus.RecordJob(job.Type, "failed")

	default:
		delay := w.retryDelay(job.Attempt)
		log.Warn("Job attempt failed, retrying", zap.Error(err), zap.Duration("delay", delay))
		if enqErr := w.queue.Enqueue(ctx, job, delay); enqErr != nil {
			log.Error("Failed to re-enqueue job", zap.Error(enqErr))
			h.Failed(ctx, job, err)
			prometheus.RecordJob(job.Type, "failed")
			break
		}
		prometheus.RecordJob(job.Type, "retry")
	}

	w.ack(ctx, job, log)
}

func (w *Worker) attempt(ctx context.Context, h Handler, job *Job) (err error) {
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h.Handle(ctx, job)
}

func (w *Worker) ack(ctx context.Context, job *Job, log *zap.Logger) {
	if err := w.queue.Ack(ctx, job); err != nil {
		log.Error("Failed to acknowledge job", zap.Error(err))
	}
}

// retryDelay returns the exponential backoff delay after attempt
func (w *Worker) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	if w.cfg.InitialBackoff > 0 {
		b.InitialInterval = w.cfg.InitialBackoff
	}
	if w.cfg.MaxBackoff > 0 {
		b.MaxInterval = w.cfg.MaxBackoff
	}
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
