package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueNotifications is the Redis list key for notification fan-out jobs.
	QueueNotifications = "worker:notifications"
	// QueueEmails is the Redis list key for email jobs.
	QueueEmails = "worker:emails"
	// QueueArchive is the Redis list key for snapshot archive jobs.
	QueueArchive = "worker:archive"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// DequeueTimeout bounds a single blocking pop so the consumer can observe shutdown.
	DequeueTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeNotification    JobType = "notification"
	JobTypeEmail           JobType = "email"
	JobTypeSnapshotArchive JobType = "snapshot_archive"
)

// QueueFor returns the list key a job type is consumed from.
func QueueFor(t JobType) string {
	switch t {
	case JobTypeNotification:
		return QueueNotifications
	case JobTypeEmail:
		return QueueEmails
	case JobTypeSnapshotArchive:
		return QueueArchive
	default:
		return QueueDLQ
	}
}

// EmailPayload is the payload for email jobs. Data carries template variables
// (links, names) rendered by the worker per EmailType.
type EmailPayload struct {
	EmailType      string            `json:"email_type"`
	RecipientEmail string            `json:"recipient_email"`
	Subject        string            `json:"subject"`
	Data           map[string]string `json:"data,omitempty"`
}

// ArchivePayload is the payload for snapshot archive jobs.
type ArchivePayload struct {
	AssessmentID uuid.UUID `json:"assessment_id"`
	OrgName      string    `json:"org_name"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Type, err)
	}
	return nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func (q *Queue) enqueue(ctx context.Context, jobType JobType, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueFor(jobType), raw).Err(); err != nil {
		return "", fmt.Errorf("rpush: %w", err)
	}
	return job.ID, nil
}

// EnqueueNotification enqueues a notification fan-out job. The payload is owned
// by the notifications package and only passed through here.
func (q *Queue) EnqueueNotification(ctx context.Context, payload any) error {
	id, err := q.enqueue(ctx, JobTypeNotification, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued notification job", zap.String("job_id", id))
	return nil
}

// EnqueueEmail enqueues an email job.
func (q *Queue) EnqueueEmail(ctx context.Context, payload EmailPayload) error {
	id, err := q.enqueue(ctx, JobTypeEmail, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued email job", zap.String("job_id", id), zap.String("email_type", payload.EmailType))
	return nil
}

// EnqueueArchive enqueues a snapshot archive job.
func (q *Queue) EnqueueArchive(ctx context.Context, payload ArchivePayload) error {
	id, err := q.enqueue(ctx, JobTypeSnapshotArchive, payload)
	if err != nil {
		return err
	}
	q.logger.Debug("enqueued archive job", zap.String("job_id", id), zap.String("assessment_id", payload.AssessmentID.String()))
	return nil
}

// Dequeue blocks until a job is available on any consumer queue, DequeueTimeout elapses,
// or ctx is done. Returns job and key (queue name); a nil job means nothing was ready.
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, DequeueTimeout, QueueNotifications, QueueEmails, QueueArchive).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueFor(job.Type), raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
