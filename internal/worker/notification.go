package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/internal/notifications"
	"github.com/pulsecheck/backend/pkg/queue"
)

// Dispatcher fans out a notification event.
type Dispatcher interface {
	Dispatch(ctx context.Context, e models.NotificationEvent) (notifications.Result, error)
}

// NotificationProcessor handles notification fan-out jobs.
type NotificationProcessor struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewNotificationProcessor creates a notification processor.
func NewNotificationProcessor(d Dispatcher, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{dispatcher: d, logger: logger}
}

// Process executes one notification job.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	var e models.NotificationEvent
	if err := job.Decode(&e); err != nil {
		return err
	}
	res, err := p.dispatcher.Dispatch(ctx, e)
	if err != nil {
		return err
	}
	p.logger.Info("notification dispatched", zap.String("job_id", job.ID), zap.String("audience", string(e.Audience)),
		zap.Int("recipients", res.Recipients), zap.Int("in_app", res.InApp), zap.Int("emails", res.Emails))
	return nil
}
