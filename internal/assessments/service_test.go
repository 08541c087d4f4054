package assessments

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecheck/backend/internal/auth"
	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/apperr"
	"github.com/pulsecheck/backend/pkg/queue"
)

type fakeStore struct {
	mu        sync.Mutex
	items     map[uuid.UUID]*models.Assessment
	responses map[uuid.UUID][]models.Response
	used      map[uuid.UUID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:     map[uuid.UUID]*models.Assessment{},
		responses: map[uuid.UUID][]models.Response{},
		used:      map[uuid.UUID]bool{},
	}
}

func (f *fakeStore) find(match func(*models.Assessment) bool) (*models.Assessment, error) {
	for _, a := range f.items {
		if match(a) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Assessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(a *models.Assessment) bool { return a.ID == id })
}

func (f *fakeStore) OpenForUser(_ context.Context, userID uuid.UUID) (*models.Assessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(a *models.Assessment) bool { return !a.IsCompleted && a.OwnedBy(userID) })
}

func (f *fakeStore) OpenForInvitation(_ context.Context, invitationID uuid.UUID) (*models.Assessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(a *models.Assessment) bool {
		return !a.IsCompleted && a.UserID == nil && a.BoundTo(invitationID)
	})
}

func (f *fakeStore) LatestCompletedAt(_ context.Context, userID uuid.UUID) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *time.Time
	for _, a := range f.items {
		if a.IsCompleted && a.OwnedBy(userID) && (latest == nil || a.SubmittedAt.After(*latest)) {
			t := *a.SubmittedAt
			latest = &t
		}
	}
	return latest, nil
}

func (f *fakeStore) CreateOpen(_ context.Context, a *models.Assessment) (*models.Assessment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, err := f.find(func(x *models.Assessment) bool {
		if x.IsCompleted {
			return false
		}
		if a.UserID != nil {
			return x.OwnedBy(*a.UserID)
		}
		return x.UserID == nil && x.BoundTo(*a.InvitationID)
	})
	if err == nil {
		return existing, false, nil
	}
	cp := *a
	cp.ID = uuid.New()
	f.items[cp.ID] = &cp
	out := cp
	return &out, true, nil
}

func (f *fakeStore) CountResponses(_ context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.responses[id]), nil
}

func (f *fakeStore) ListResponses(_ context.Context, id uuid.UUID) ([]models.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Response{}, f.responses[id]...), nil
}

func (f *fakeStore) Complete(_ context.Context, c Completion) (*models.SubmittedAssessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.items[c.AssessmentID]
	if !ok || a.IsCompleted {
		return nil, ErrAlreadyCompleted
	}
	list := f.responses[a.ID]
	if len(list) == 0 {
		return nil, ErrNoResponses
	}
	if c.ConsumeInvitation != nil {
		if f.used[*c.ConsumeInvitation] {
			return nil, ErrInvitationUsed
		}
		f.used[*c.ConsumeInvitation] = true
	}
	a.IsCompleted = true
	at := c.SubmittedAt
	a.SubmittedAt = &at
	if c.UserDetails != nil {
		a.UserDetails = c.UserDetails
	}
	return &models.SubmittedAssessment{
		ID:      uuid.New(), AssessmentID: a.ID, Stakeholder: a.Stakeholder, UserID: a.UserID, InvitationID: a.InvitationID,
		OrgName: a.OrgName, UserDetails: a.UserDetails, Responses: append([]models.Response{}, list...), SubmittedAt: at,
	}, nil
}

func (f *fakeStore) addResponses(id uuid.UUID, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		v := 4
		f.responses[id] = append(f.responses[id], models.Response{ID: uuid.New(), AssessmentID: id, QuestionID: uuid.New(), Value: &v})
	}
}

type fakeUsers map[uuid.UUID]*models.User

func (f fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, pgx.ErrNoRows
}

type fakeInvitations struct {
	byID map[uuid.UUID]*models.Invitation
}

func (f *fakeInvitations) GetByID(_ context.Context, id uuid.UUID) (*models.Invitation, error) {
	if inv, ok := f.byID[id]; ok {
		cp := *inv
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeInvitations) LatestByEmail(_ context.Context, email string) (*models.Invitation, error) {
	var latest *models.Invitation
	for _, inv := range f.byID {
		if strings.EqualFold(inv.Email, email) && (latest == nil || inv.CreatedAt.After(latest.CreatedAt)) {
			latest = inv
		}
	}
	if latest == nil {
		return nil, pgx.ErrNoRows
	}
	return latest, nil
}

type recordingArchiver struct{ jobs []queue.ArchivePayload }

func (r *recordingArchiver) EnqueueArchive(_ context.Context, p queue.ArchivePayload) error {
	r.jobs = append(r.jobs, p)
	return nil
}

type recordingNotifier struct{ events []models.NotificationEvent }

func (r *recordingNotifier) Notify(_ context.Context, e models.NotificationEvent) {
	r.events = append(r.events, e)
}

type harness struct {
	svc         *Service
	store       *fakeStore
	invitations *fakeInvitations
	archiver    *recordingArchiver
	notifier    *recordingNotifier
	now         time.Time
	leader      *models.User
	invite      *models.Invitation
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:       newFakeStore(),
		invitations: &fakeInvitations{byID: map[uuid.UUID]*models.Invitation{}},
		archiver:    &recordingArchiver{},
		notifier:    &recordingNotifier{},
		now:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	adminID := uuid.New()
	h.leader = &models.User{ID: uuid.New(), Email: "lee@acme.io", Role: models.RoleLeader, OrgName: "Acme",
		FirstName: "Lee", LastName: "Park", Department: "Ops", Password: "hash", EmailVerified: true, ProfileCompleted: true}
	h.invite = &models.Invitation{ID: uuid.New(), Email: "lee@acme.io", Role: models.RoleLeader, OrgName: "Acme",
		InvitedBy: adminID, Used: true, ExpiredAt: h.now.Add(-time.Hour), CreatedAt: h.now.Add(-2 * time.Hour)}
	h.invitations.byID[h.invite.ID] = h.invite
	users := fakeUsers{h.leader.ID: h.leader}
	h.svc = NewService(h.store, users, h.invitations, h.archiver, h.notifier, Config{CooldownMonths: 3}, nil).
		WithClock(func() time.Time { return h.now })
	return h
}

func (h *harness) identity() auth.Identity {
	return auth.Identity{UserID: h.leader.ID, Email: h.leader.Email, Role: h.leader.Role, OrgName: h.leader.OrgName}
}

func TestCooldownRemaining(t *testing.T) {
	done := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	until := time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, CooldownRemaining(done, 3, until))
	assert.Equal(t, 0, CooldownRemaining(done, 3, until.Add(time.Hour)))
	assert.Equal(t, 1, CooldownRemaining(done, 3, until.Add(-time.Second)))
	assert.Equal(t, 10, CooldownRemaining(done, 3, until.Add(-10*24*time.Hour)))
	assert.Equal(t, 10, CooldownRemaining(done, 3, until.Add(-9*24*time.Hour-12*time.Hour)))
	assert.Equal(t, 0, CooldownRemaining(done, 0, done))
}

func TestStartCreatesThenResumes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Start(ctx, h.identity(), "director")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	res, err := h.svc.Start(ctx, h.identity(), "Leader")
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	a := res.Assessment
	assert.Equal(t, models.StakeholderLeader, a.Stakeholder)
	assert.Equal(t, models.AssessmentDraft, a.State())
	assert.Equal(t, "Acme", a.OrgName)
	require.NotNil(t, a.UserDetails)
	assert.Equal(t, "Lee", a.UserDetails.FirstName)
	assert.Equal(t, models.RoleLeader, a.UserDetails.Role)
	require.NotNil(t, a.InvitationID)
	assert.Equal(t, h.invite.ID, *a.InvitationID)
	assert.Equal(t, h.invite.InvitedBy, *a.InvitedBy)

	again, err := h.svc.Start(ctx, h.identity(), "self")
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, a.ID, again.Assessment.ID)
	assert.Len(t, h.store.items, 1)
}

func TestStartWithoutInvitationLinkage(t *testing.T) {
	h := newHarness(t)
	delete(h.invitations.byID, h.invite.ID)
	res, err := h.svc.Start(context.Background(), h.identity(), "leader")
	require.NoError(t, err)
	assert.Nil(t, res.Assessment.InvitationID)
}

func TestStartHonoursCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Start(ctx, h.identity(), "leader")
	require.NoError(t, err)
	h.store.addResponses(res.Assessment.ID, 2)
	_, err = h.svc.Submit(ctx, res.Assessment.ID, h.identity())
	require.NoError(t, err)
	submitted := h.now

	h.now = submitted.AddDate(0, 3, 0).Add(-36 * time.Hour)
	_, err = h.svc.Start(ctx, h.identity(), "leader")
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindTooSoon, ae.Kind)
	assert.Equal(t, 2, ae.Details["remaining_days"])

	h.now = submitted.AddDate(0, 3, 0)
	next, err := h.svc.Start(ctx, h.identity(), "leader")
	require.NoError(t, err)
	assert.False(t, next.Resumed)
	assert.NotEqual(t, res.Assessment.ID, next.Assessment.ID)
}

func TestSubmit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.svc.Start(ctx, h.identity(), "leader")
	require.NoError(t, err)
	id := res.Assessment.ID

	_, err = h.svc.Submit(ctx, uuid.New(), h.identity())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	stranger := auth.Identity{UserID: uuid.New(), Role: models.RoleManager}
	_, err = h.svc.Submit(ctx, id, stranger)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = h.svc.Submit(ctx, id, h.identity())
	assert.Equal(t, apperr.KindNoResponses, apperr.KindOf(err))

	h.store.addResponses(id, 5)
	h.leader.FirstName = "Leona"
	sub, err := h.svc.Submit(ctx, id, h.identity())
	require.NoError(t, err)
	assert.Len(t, sub.Responses, 5)
	live, _ := h.store.ListResponses(ctx, id)
	assert.Equal(t, live, sub.Responses)
	require.NotNil(t, sub.UserDetails)
	assert.Equal(t, "Leona", sub.UserDetails.FirstName, "snapshot reflects the profile at submission")
	assert.Equal(t, h.now, sub.SubmittedAt)

	stored, err := h.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentCompleted, stored.State())

	require.Len(t, h.archiver.jobs, 1)
	assert.Equal(t, id, h.archiver.jobs[0].AssessmentID)
	assert.Equal(t, "Acme", h.archiver.jobs[0].OrgName)

	require.Len(t, h.notifier.events, 3)
	assert.Equal(t, models.AudienceUser, h.notifier.events[0].Audience)
	assert.Equal(t, models.AudienceOrgStaff, h.notifier.events[1].Audience)
	assert.Equal(t, "Acme", h.notifier.events[1].OrgName)
	assert.Equal(t, h.leader.ID, *h.notifier.events[1].ExcludeID)
	assert.Equal(t, models.AudienceSuperAdmins, h.notifier.events[2].Audience)
	assert.Contains(t, h.notifier.events[2].Message, "Leona Park")

	_, err = h.svc.Submit(ctx, id, h.identity())
	assert.Equal(t, apperr.KindAlreadyCompleted, apperr.KindOf(err))

	detail, err := h.svc.Get(ctx, id, h.identity().Owner())
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentCompleted, detail.State)
	assert.Len(t, detail.Responses, 5)
}

func TestSubmitLosesRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.svc.Start(ctx, h.identity(), "leader")
	require.NoError(t, err)
	h.store.addResponses(res.Assessment.ID, 1)

	// Another request completes the attempt after our checks passed.
	_, err = h.store.Complete(ctx, Completion{AssessmentID: res.Assessment.ID, SubmittedAt: h.now})
	require.NoError(t, err)
	_, err = h.svc.complete(ctx, Completion{AssessmentID: res.Assessment.ID, SubmittedAt: h.now})
	assert.Equal(t, apperr.KindAlreadyCompleted, apperr.KindOf(err))
}

func employeeInvite(h *harness) (*models.Invitation, *auth.InviteSessionClaims) {
	inv := &models.Invitation{ID: uuid.New(), Email: "emp@acme.io", Role: models.RoleEmployee, OrgName: "Acme",
		InvitedBy: uuid.New(), ExpiredAt: h.now.Add(time.Hour), CreatedAt: h.now}
	h.invitations.byID[inv.ID] = inv
	return inv, &auth.InviteSessionClaims{InvitationID: inv.ID, Email: inv.Email, Role: string(inv.Role), OrgName: inv.OrgName}
}

func TestEmployeeFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inv, sess := employeeInvite(h)

	res, err := h.svc.StartEmployee(ctx, sess)
	require.NoError(t, err)
	a := res.Assessment
	assert.Equal(t, models.StakeholderEmployee, a.Stakeholder)
	assert.Nil(t, a.UserID)
	assert.Equal(t, "emp@acme.io", a.EmployeeEmail)
	assert.Equal(t, inv.InvitedBy, *a.InvitedBy)

	again, err := h.svc.StartEmployee(ctx, sess)
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, a.ID, again.Assessment.ID)

	h.store.addResponses(a.ID, 3)
	_, err = h.svc.SubmitEmployee(ctx, a.ID, sess, EmployeeDetails{FirstName: "Em", LastName: "Ployee", Email: "emp@acme.io"})
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
	assert.Equal(t, []string{"department"}, ae.Details["missing"])

	_, err = h.svc.Submit(ctx, a.ID, h.identity())
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), "signed-in users cannot submit anonymous attempts")

	details := EmployeeDetails{FirstName: "Em", LastName: "Ployee", Email: " Emp@Acme.io ", Department: "Sales"}
	sub, err := h.svc.SubmitEmployee(ctx, a.ID, sess, details)
	require.NoError(t, err)
	assert.Len(t, sub.Responses, 3)
	assert.Equal(t, "emp@acme.io", sub.UserDetails.Email)
	assert.Equal(t, models.RoleEmployee, sub.UserDetails.Role)
	assert.True(t, h.store.used[inv.ID])

	require.Len(t, h.notifier.events, 2)
	assert.Equal(t, models.AudienceOrgStaff, h.notifier.events[0].Audience)
	assert.Nil(t, h.notifier.events[0].ExcludeID)
	assert.Equal(t, models.AudienceSuperAdmins, h.notifier.events[1].Audience)

	_, err = h.svc.SubmitEmployee(ctx, a.ID, sess, details)
	assert.Equal(t, apperr.KindAlreadyCompleted, apperr.KindOf(err))
}

func TestEmployeeInvitationStates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, leaderSess := employeeInvite(h)
	leaderSess.Role = string(models.RoleLeader)
	_, err := h.svc.StartEmployee(ctx, leaderSess)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = h.svc.StartEmployee(ctx, &auth.InviteSessionClaims{InvitationID: uuid.New(), Role: "employee"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	inv, sess := employeeInvite(h)
	inv.Used = true
	_, err = h.svc.StartEmployee(ctx, sess)
	assert.Equal(t, apperr.KindGone, apperr.KindOf(err))

	inv.Used = false
	h.now = inv.ExpiredAt.Add(time.Second)
	_, err = h.svc.StartEmployee(ctx, sess)
	assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))
}

func TestSubmitEmployeeInvitationConsumedConcurrently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inv, sess := employeeInvite(h)
	res, err := h.svc.StartEmployee(ctx, sess)
	require.NoError(t, err)
	h.store.addResponses(res.Assessment.ID, 1)
	h.store.used[inv.ID] = true

	_, err = h.svc.SubmitEmployee(ctx, res.Assessment.ID, sess,
		EmployeeDetails{FirstName: "A", LastName: "B", Email: "a@b.io", Department: "D"})
	assert.Equal(t, apperr.KindGone, apperr.KindOf(err))
	stored, _ := h.store.GetByID(ctx, res.Assessment.ID)
	assert.False(t, stored.IsCompleted)
}
