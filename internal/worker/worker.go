// Package worker consumes background jobs from the Redis queue.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulsecheck/backend/pkg/queue"
)

// JobSource is the queue the worker consumes.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor executes one kind of job.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// Worker routes dequeued jobs to their processor and retries failures.
type Worker struct {
	queue      JobSource
	processors map[queue.JobType]Processor
	backoff    time.Duration
	logger     *zap.Logger
}

// New creates a worker over q.
func New(q JobSource, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: q, processors: map[queue.JobType]Processor{}, backoff: queue.RetryBackoff, logger: logger}
}

// Handle registers p for jobs of type t.
func (w *Worker) Handle(t queue.JobType, p Processor) *Worker {
	w.processors[t] = p
	return w
}

// Process executes one job.
func (w *Worker) Process(ctx context.Context, job *queue.Job) error {
	p, ok := w.processors[job.Type]
	if !ok {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	return p.Process(ctx, job)
}

// Run starts the worker loop: dequeue, process, retry on error.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		default:
		}

		job, _, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("dequeue error", zap.Error(err))
			w.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		w.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := w.Process(ctx, job); err != nil {
			w.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)),
				zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := w.queue.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				w.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			w.sleep(ctx)
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
