package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/queue"
)

type fakeRecipients struct {
	recipients []Recipient
	resolveErr error
	createErr  error
	created    []*models.Notification
	seen       []models.NotificationEvent
}

func (f *fakeRecipients) Recipients(_ context.Context, e models.NotificationEvent) ([]Recipient, error) {
	f.seen = append(f.seen, e)
	return f.recipients, f.resolveErr
}

func (f *fakeRecipients) CreateMany(_ context.Context, list []*models.Notification) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, n := range list {
		n.ID = uuid.New()
	}
	f.created = append(f.created, list...)
	return nil
}

type pushed struct {
	userID  uuid.UUID
	event   string
	payload []byte
}

type recordingPublisher struct {
	pushes []pushed
	err    error
}

func (p *recordingPublisher) PublishUserEvent(userID uuid.UUID, event string, payload []byte) error {
	p.pushes = append(p.pushes, pushed{userID, event, payload})
	return p.err
}

type recordingEmails struct {
	sent []queue.EmailPayload
	err  error
}

func (r *recordingEmails) EnqueueEmail(_ context.Context, p queue.EmailPayload) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, p)
	return nil
}

func recipient(email string, system, mail bool) Recipient {
	return Recipient{ID: uuid.New(), Email: email, Preferences: models.NotificationPreferences{System: system, Email: mail}}
}

func TestDispatchHonoursPreferences(t *testing.T) {
	inAppOnly := recipient("a@acme.io", true, false)
	both := recipient("b@acme.io", true, true)
	emailOnly := recipient("c@acme.io", false, true)
	muted := recipient("d@acme.io", false, false)
	store := &fakeRecipients{recipients: []Recipient{inAppOnly, both, emailOnly, muted}}
	pub := &recordingPublisher{}
	mails := &recordingEmails{}
	d := NewDispatcher(store, pub, mails, "notification", nil)

	e := models.NotifyOrgStaff("Acme", nil, "Assessment submitted", "Jane finished", models.NotificationSuccess).
		WithLink("/assessments/1")
	res, err := d.Dispatch(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, Result{Recipients: 4, InApp: 2, Emails: 2}, res)

	require.Len(t, store.created, 2)
	assert.Equal(t, inAppOnly.ID, store.created[0].RecipientID)
	assert.Equal(t, both.ID, store.created[1].RecipientID)
	assert.Equal(t, models.NotificationSuccess, store.created[0].Type)

	require.Len(t, pub.pushes, 2)
	assert.Equal(t, "notification", pub.pushes[0].event)
	var n models.Notification
	require.NoError(t, json.Unmarshal(pub.pushes[1].payload, &n))
	assert.Equal(t, both.ID, n.RecipientID)
	assert.Equal(t, "Assessment submitted", n.Title)

	require.Len(t, mails.sent, 2)
	assert.Equal(t, "b@acme.io", mails.sent[0].RecipientEmail)
	assert.Equal(t, "c@acme.io", mails.sent[1].RecipientEmail)
	assert.Equal(t, models.EmailTypeNotification, mails.sent[0].EmailType)
	assert.Equal(t, "Assessment submitted", mails.sent[0].Subject)
	assert.Equal(t, "/assessments/1", mails.sent[0].Data["link"])
}

func TestDispatchUnknownTypeFallsBackToInfo(t *testing.T) {
	store := &fakeRecipients{recipients: []Recipient{recipient("a@acme.io", true, false)}}
	d := NewDispatcher(store, nil, nil, "notification", nil)

	_, err := d.Dispatch(context.Background(), models.NotifyUser(uuid.New(), "t", "m", "shouting"))
	require.NoError(t, err)
	require.Len(t, store.created, 1)
	assert.Equal(t, models.NotificationInfo, store.created[0].Type)
}

func TestDispatchNoRecipients(t *testing.T) {
	store := &fakeRecipients{}
	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, &recordingEmails{}, "notification", nil)

	res, err := d.Dispatch(context.Background(), models.NotifyOrgStaff("", nil, "t", "m", models.NotificationInfo))
	require.NoError(t, err)
	assert.Zero(t, res.Recipients)
	assert.Empty(t, pub.pushes)
}

func TestDispatchStorageFailuresAreReturned(t *testing.T) {
	d := NewDispatcher(&fakeRecipients{resolveErr: errors.New("db down")}, nil, nil, "notification", nil)
	_, err := d.Dispatch(context.Background(), models.NotifySuperAdmins(nil, "t", "m", models.NotificationInfo))
	assert.ErrorContains(t, err, "resolve audience")

	store := &fakeRecipients{recipients: []Recipient{recipient("a@acme.io", true, false)}, createErr: errors.New("db down")}
	pub := &recordingPublisher{}
	d = NewDispatcher(store, pub, nil, "notification", nil)
	_, err = d.Dispatch(context.Background(), models.NotifySuperAdmins(nil, "t", "m", models.NotificationInfo))
	assert.ErrorContains(t, err, "store notifications")
	assert.Empty(t, pub.pushes)
}

func TestDispatchDeliveryFailuresAreTolerated(t *testing.T) {
	store := &fakeRecipients{recipients: []Recipient{recipient("a@acme.io", true, true)}}
	d := NewDispatcher(store, &recordingPublisher{err: errors.New("redis down")},
		&recordingEmails{err: errors.New("redis down")}, "notification", nil)

	res, err := d.Dispatch(context.Background(), models.NotifySuperAdmins(nil, "t", "m", models.NotificationInfo))
	require.NoError(t, err)
	assert.Equal(t, 1, res.InApp)
	assert.Zero(t, res.Emails)
}

type recordingEnqueuer struct {
	payloads []any
	err      error
	ctxErr   error
}

func (r *recordingEnqueuer) EnqueueNotification(ctx context.Context, payload any) error {
	r.ctxErr = ctx.Err()
	r.payloads = append(r.payloads, payload)
	return r.err
}

func TestQueueNotifierOutlivesRequest(t *testing.T) {
	q := &recordingEnqueuer{}
	n := NewQueueNotifier(q, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n.Notify(ctx, models.NotifyUser(uuid.New(), "t", "m", models.NotificationInfo))
	require.Len(t, q.payloads, 1)
	assert.NoError(t, q.ctxErr)

	q.err = errors.New("redis down")
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), models.NotifyUser(uuid.New(), "t", "m", models.NotificationInfo))
	})
}
