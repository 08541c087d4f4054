// Package notifications fans notification events out to in-app rows, realtime
// pushes and emails, and serves the recipient's notification queries.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/queue"
)

// Enqueuer puts notification events on the job queue.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, payload any) error
}

// QueueNotifier hands events to the worker. Notify never fails the caller.
type QueueNotifier struct {
	queue  Enqueuer
	logger *zap.Logger
}

// NewQueueNotifier creates a notifier backed by the job queue.
func NewQueueNotifier(q Enqueuer, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueNotifier{queue: q, logger: logger}
}

// Notify enqueues e. The enqueue outlives the request that triggered it.
func (n *QueueNotifier) Notify(ctx context.Context, e models.NotificationEvent) {
	if err := n.queue.EnqueueNotification(context.WithoutCancel(ctx), e); err != nil {
		n.logger.Warn("enqueue notification failed", zap.Error(err),
			zap.String("audience", string(e.Audience)), zap.String("title", e.Title))
	}
}

// RecipientStore resolves audiences and stores in-app notifications.
type RecipientStore interface {
	Recipients(ctx context.Context, e models.NotificationEvent) ([]Recipient, error)
	CreateMany(ctx context.Context, list []*models.Notification) error
}

// Publisher pushes an event to a user's live connections.
type Publisher interface {
	PublishUserEvent(userID uuid.UUID, event string, payload []byte) error
}

// EmailEnqueuer hands emails to the delivery worker.
type EmailEnqueuer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// Dispatcher performs the fan-out of one event.
type Dispatcher struct {
	store     RecipientStore
	publisher Publisher
	emails    EmailEnqueuer
	event     string
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. publisher and emails may be nil. event is the
// realtime event name pushed with each new notification.
func NewDispatcher(store RecipientStore, publisher Publisher, emails EmailEnqueuer, event string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{store: store, publisher: publisher, emails: emails, event: event, logger: logger}
}

// Result summarizes a dispatch.
type Result struct {
	Recipients int
	InApp      int
	Emails     int
}

// Dispatch resolves the audience and delivers e to every recipient according to
// their preferences. An error means nothing was stored and the job may be retried;
// push and email failures after that point are only logged.
func (d *Dispatcher) Dispatch(ctx context.Context, e models.NotificationEvent) (Result, error) {
	var res Result
	recipients, err := d.store.Recipients(ctx, e)
	if err != nil {
		return res, fmt.Errorf("resolve audience: %w", err)
	}
	res.Recipients = len(recipients)
	typ := e.Type
	switch typ {
	case models.NotificationInfo, models.NotificationSuccess, models.NotificationWarning, models.NotificationError:
	default:
		typ = models.NotificationInfo
	}

	var inApp []*models.Notification
	for _, r := range recipients {
		if r.Preferences.System {
			inApp = append(inApp, &models.Notification{
				RecipientID: r.ID, Title: e.Title, Message: e.Message, Type: typ, Link: e.Link,
			})
		}
	}
	if err := d.store.CreateMany(ctx, inApp); err != nil {
		return res, fmt.Errorf("store notifications: %w", err)
	}
	res.InApp = len(inApp)

	if d.publisher != nil {
		for _, n := range inApp {
			body, err := json.Marshal(n)
			if err == nil {
				err = d.publisher.PublishUserEvent(n.RecipientID, d.event, body)
			}
			if err != nil {
				d.logger.Warn("realtime push failed", zap.Error(err), zap.String("recipient_id", n.RecipientID.String()))
			}
		}
	}

	if d.emails != nil {
		for _, r := range recipients {
			if !r.Preferences.Email || r.Email == "" {
				continue
			}
			data := map[string]string{"title": e.Title, "message": e.Message}
			if e.Link != nil {
				data["link"] = *e.Link
			}
			err := d.emails.EnqueueEmail(ctx, queue.EmailPayload{
				EmailType:      models.EmailTypeNotification,
				RecipientEmail: r.Email,
				Subject:        e.Title,
				Data:           data,
			})
			if err != nil {
				d.logger.Warn("enqueue notification email failed", zap.Error(err), zap.String("recipient_id", r.ID.String()))
				continue
			}
			res.Emails++
		}
	}
	return res, nil
}
