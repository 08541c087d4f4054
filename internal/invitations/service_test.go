package invitations

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
	mu         sync.Mutex
	items      []*models.Invitation
	registered map[string]bool
	adminRows  []AdminInvitationRow
	issuedRows []IssuedInvitationRow
	orgRows    map[string][]OrgMemberRow
	orgAdmins  map[string]*OrgAdminRow
}

func newFakeStore() *fakeStore { return &fakeStore{registered: map[string]bool{}} }

func (f *fakeStore) CreateExclusive(_ context.Context, inv *models.Invitation, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registered[strings.ToLower(inv.Email)] {
		return ErrUserExists
	}
	for _, x := range f.items {
		if strings.EqualFold(x.Email, inv.Email) && !x.Used && !x.ExpiredAt.Before(now) {
			return ErrAlreadyInvited
		}
	}
	inv.ID = uuid.New()
	inv.CreatedAt, inv.UpdatedAt = now, now
	cp := *inv
	f.items = append(f.items, &cp)
	return nil
}

func (f *fakeStore) get(match func(*models.Invitation) bool) (*models.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.items {
		if match(x) {
			cp := *x
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Invitation, error) {
	return f.get(func(x *models.Invitation) bool { return x.ID == id })
}

func (f *fakeStore) GetByToken(_ context.Context, token string) (*models.Invitation, error) {
	return f.get(func(x *models.Invitation) bool { return x.Token == token })
}

func (f *fakeStore) ListByEmail(_ context.Context, email string) ([]*models.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Invitation
	for _, x := range f.items {
		if strings.EqualFold(x.Email, email) {
			cp := *x
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteExpired(_ context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := map[uuid.UUID]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	var n int64
	kept := f.items[:0]
	for _, x := range f.items {
		if drop[x.ID] && !x.Used && x.ExpiredAt.Before(now) {
			n++
			continue
		}
		kept = append(kept, x)
	}
	f.items = kept
	return n, nil
}

func (f *fakeStore) ListAdminInvitations(context.Context) ([]AdminInvitationRow, error) {
	return f.adminRows, nil
}

func (f *fakeStore) ListIssuedBy(context.Context, uuid.UUID, string) ([]IssuedInvitationRow, error) {
	return f.issuedRows, nil
}

func (f *fakeStore) ListOrgMembers(_ context.Context, orgName string) ([]OrgMemberRow, error) {
	return f.orgRows[orgName], nil
}

func (f *fakeStore) GetOrgAdmin(_ context.Context, orgName string) (*OrgAdminRow, error) {
	if a, ok := f.orgAdmins[orgName]; ok {
		return a, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeStore) byEmail(email string) *models.Invitation {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.items {
		if x.Email == email {
			return x
		}
	}
	return nil
}

type fakeUsers map[uuid.UUID]*models.User

func (f fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, pgx.ErrNoRows
}

type recordingEmails struct{ sent []queue.EmailPayload }

func (r *recordingEmails) EnqueueEmail(_ context.Context, p queue.EmailPayload) error {
	r.sent = append(r.sent, p)
	return nil
}

type recordingNotifier struct{ events []models.NotificationEvent }

func (r *recordingNotifier) Notify(_ context.Context, e models.NotificationEvent) {
	r.events = append(r.events, e)
}

type harness struct {
	svc        *Service
	store      *fakeStore
	emails     *recordingEmails
	notifier   *recordingNotifier
	tokens     *auth.JWTService
	now        time.Time
	superAdmin auth.Identity
	admin      auth.Identity
	leader     auth.Identity
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    newFakeStore(),
		emails:   &recordingEmails{},
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	users := fakeUsers{}
	add := func(role models.Role, org, first string) auth.Identity {
		u := &models.User{ID: uuid.New(), Email: first + "@example.com", Role: role, OrgName: org, FirstName: first, LastName: "Test"}
		users[u.ID] = u
		return auth.Identity{UserID: u.ID, Email: u.Email, Role: role, OrgName: org}
	}
	h.superAdmin = add(models.RoleSuperAdmin, "", "root")
	h.admin = add(models.RoleAdmin, "Acme", "ada")
	h.leader = add(models.RoleLeader, "Acme", "lee")
	h.tokens = auth.NewJWTService("secret", 3).WithClock(clock)
	h.svc = NewService(h.store, users, h.tokens, h.emails, h.notifier, Config{
		TTL:            time.Hour,
		SessionTTL:     time.Hour,
		BackendURL:     "https://api.example.com",
		CooldownMonths: 3,
	}, nil).WithClock(clock)
	return h
}

func TestIssueRoleGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cases := []struct {
		name   string
		issuer auth.Identity
		role   string
		kind   apperr.Kind
	}{
		{"super admin may invite admin", h.superAdmin, "admin", ""},
		{"super admin may not invite leader", h.superAdmin, "leader", apperr.KindUnauthorized},
		{"admin may invite leader", h.admin, "leader", ""},
		{"admin may invite manager", h.admin, "manager", ""},
		{"admin may invite employee", h.admin, "employee", ""},
		{"admin may not invite admin", h.admin, "admin", apperr.KindUnauthorized},
		{"leader may not invite", h.leader, "employee", apperr.KindUnauthorized},
		{"unknown role", h.admin, "owner", apperr.KindValidation},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			email := "person" + string(rune('a'+i)) + "@example.com"
			_, err := h.svc.Issue(ctx, tc.issuer, IssueInput{Email: email, Role: tc.role})
			if tc.kind == "" {
				require.NoError(t, err)
				return
			}
			assert.Equal(t, tc.kind, apperr.KindOf(err))
			assert.Nil(t, h.store.byEmail(email))
		})
	}
}

func TestIssueRoleGateReportsAllowedRoles(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Issue(context.Background(), h.admin, IssueInput{Email: "x@example.com", Role: "admin"})
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, []models.Role{models.RoleLeader, models.RoleManager, models.RoleEmployee}, ae.Details["allowed_roles"])
}

func TestIssueRejectsControlCharactersInOrgName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Issue(ctx, h.superAdmin, IssueInput{Email: "boss@newco.io", Role: "admin", OrgName: "NewCo\r\nBcc: attacker@evil.io"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Nil(t, h.store.byEmail("boss@newco.io"))
	assert.Empty(t, h.emails.sent)

	inv, err := h.svc.Issue(ctx, h.superAdmin, IssueInput{Email: "boss@newco.io", Role: "admin", OrgName: "  NewCo "})
	require.NoError(t, err)
	assert.Equal(t, "NewCo", inv.OrgName)
	assert.Equal(t, "You're invited to join NewCo", h.emails.sent[0].Subject)
}

func TestIssuePersistsSignedInvitation(t *testing.T) {
	h := newHarness(t)
	inv, err := h.svc.Issue(context.Background(), h.admin, IssueInput{Email: "  New.Hire@Example.COM ", Role: "Manager"})
	require.NoError(t, err)

	assert.Equal(t, "new.hire@example.com", inv.Email)
	assert.Equal(t, models.RoleManager, inv.Role)
	assert.Equal(t, "Acme", inv.OrgName)
	assert.Equal(t, h.now.Add(time.Hour), inv.ExpiredAt)
	assert.False(t, inv.Used)
	assert.Equal(t, models.InvitationPending, inv.Status(h.now))

	claims, err := h.tokens.ParseInvitation(inv.Token)
	require.NoError(t, err)
	assert.Equal(t, inv.Email, claims.Email)
	assert.Equal(t, h.admin.UserID, claims.InviterID)
	assert.Equal(t, "Acme", claims.OrgName)

	require.Len(t, h.emails.sent, 1)
	assert.Equal(t, "https://api.example.com/auth/invite/"+inv.Token, h.emails.sent[0].Data["link"])

	require.Len(t, h.notifier.events, 2)
	assert.Equal(t, models.AudienceUser, h.notifier.events[0].Audience)
	assert.Equal(t, h.admin.UserID, *h.notifier.events[0].RecipientID)
	assert.Equal(t, models.AudienceSuperAdmins, h.notifier.events[1].Audience)
	assert.Equal(t, h.admin.UserID, *h.notifier.events[1].ExcludeID)
}

func TestIssueConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.registered["taken@example.com"] = true

	_, err := h.svc.Issue(ctx, h.admin, IssueInput{Email: "TAKEN@example.com", Role: "leader"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = h.svc.Issue(ctx, h.admin, IssueInput{Email: "dup@example.com", Role: "leader"})
	require.NoError(t, err)
	_, err = h.svc.Issue(ctx, h.admin, IssueInput{Email: "dup@example.com", Role: "manager"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// Once the first invitation expires the email may be invited again.
	h.now = h.now.Add(61 * time.Minute)
	_, err = h.svc.Issue(ctx, h.admin, IssueInput{Email: "dup@example.com", Role: "manager"})
	require.NoError(t, err)
}

func TestAcceptLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	issuedAt := h.now

	leader, err := h.svc.Issue(ctx, h.admin, IssueInput{Email: "l@example.com", Role: "leader"})
	require.NoError(t, err)
	employee, err := h.svc.Issue(ctx, h.admin, IssueInput{Email: "e@example.com", Role: "employee"})
	require.NoError(t, err)

	_, err = h.svc.Accept(ctx, "not-a-token")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	h.now = issuedAt.Add(30 * time.Minute)
	res, err := h.svc.Accept(ctx, leader.Token)
	require.NoError(t, err)
	assert.Equal(t, NextRegister, res.Next)
	assert.Equal(t, models.RoleLeader, res.Role)
	sess, err := h.tokens.ValidateInviteSession(res.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, leader.ID, sess.InvitationID)

	res, err = h.svc.Accept(ctx, employee.Token)
	require.NoError(t, err)
	assert.Equal(t, NextAssessment, res.Next)

	// Accepting twice is fine; it does not consume the invitation.
	_, err = h.svc.Accept(ctx, leader.Token)
	require.NoError(t, err)

	h.store.byEmail("e@example.com").Used = true
	_, err = h.svc.Accept(ctx, employee.Token)
	assert.Equal(t, apperr.KindGone, apperr.KindOf(err))

	h.now = issuedAt.Add(61 * time.Minute)
	_, err = h.svc.Accept(ctx, leader.Token)
	assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))

	// Used takes precedence over expired.
	_, err = h.svc.Accept(ctx, employee.Token)
	assert.Equal(t, apperr.KindGone, apperr.KindOf(err))
}

func TestAcceptRejectsMismatchedToken(t *testing.T) {
	h := newHarness(t)
	forged, err := h.tokens.SignInvitation(auth.InvitationClaims{Email: "someone@else.com", Role: "leader"}, h.now.Add(time.Hour))
	require.NoError(t, err)
	h.store.items = append(h.store.items, &models.Invitation{
		ID: uuid.New(), Email: "victim@example.com", Role: models.RoleLeader, Token: forged, ExpiredAt: h.now.Add(time.Hour),
	})
	_, err = h.svc.Accept(context.Background(), forged)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	foreign, err := auth.NewJWTService("other", 1).SignInvitation(auth.InvitationClaims{Email: "x@example.com", Role: "leader"}, h.now.Add(time.Hour))
	require.NoError(t, err)
	h.store.items = append(h.store.items, &models.Invitation{
		ID: uuid.New(), Email: "x@example.com", Role: models.RoleLeader, Token: foreign, ExpiredAt: h.now.Add(time.Hour),
	})
	_, err = h.svc.Accept(context.Background(), foreign)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestIssueBulk(t *testing.T) {
	h := newHarness(t)
	h.store.registered["old@example.com"] = true
	res, err := h.svc.IssueBulk(context.Background(), h.admin, "", []BulkRow{
		{Email: "a@example.com", Role: "leader"},
		{Email: "b@example.com", Role: "employee"},
		{Email: "a@example.com", Role: "manager"},
		{Email: "old@example.com", Role: "manager"},
		{Email: "c@example.com", Role: "admin"},
		{Email: "not-an-email", Role: "employee"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 4, res.FailedCount)
	reasons := map[string]string{}
	for _, f := range res.Failed {
		reasons[f.Email+"/"+f.Reason] = f.Reason
	}
	assert.Contains(t, reasons, "a@example.com/already invited")
	assert.Contains(t, reasons, "old@example.com/already registered")
	assert.Len(t, h.emails.sent, 2)
	require.Len(t, h.notifier.events, 1)
	assert.Contains(t, h.notifier.events[0].Message, "2 invitation(s) sent, 4 failed")

	_, err = h.svc.IssueBulk(context.Background(), h.leader, "", []BulkRow{{Email: "z@example.com", Role: "employee"}})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := h.now

	pending, err := h.svc.Issue(ctx, h.admin, IssueInput{Email: "p@example.com", Role: "leader"})
	require.NoError(t, err)

	_, err = h.svc.Delete(ctx, h.admin, uuid.NewString())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = h.svc.Delete(ctx, h.admin, pending.ID.String())
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	h.now = start.Add(2 * time.Hour)
	again, err := h.svc.Issue(ctx, h.admin, IssueInput{Email: "p@example.com", Role: "leader"})
	require.NoError(t, err)

	// By email: one expired, one pending, so nothing goes.
	_, err = h.svc.Delete(ctx, h.admin, "P@example.com")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// Another admin cannot see these.
	other := auth.Identity{UserID: uuid.New(), Role: models.RoleAdmin, OrgName: "Acme"}
	_, err = h.svc.Delete(ctx, other, pending.ID.String())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	n, err := h.svc.Delete(ctx, h.admin, pending.ID.String())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	h.store.byEmail("p@example.com").Used = true
	_, err = h.svc.Delete(ctx, h.superAdmin, again.ID.String())
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), "accepted invitations are kept")
}

func TestResolveNames(t *testing.T) {
	assert.Equal(t, "Acme", ResolveOrgName("Acme", "Other"))
	assert.Equal(t, "Other", ResolveOrgName(" ", "Other"))
	assert.Equal(t, OrgNamePendingSetup, ResolveOrgName("", ""))

	assert.Equal(t, "Ada Lovelace", ResolveDisplayName(IssuedInvitationRow{UserRegistered: true, UserFirstName: "Ada", UserLastName: "Lovelace"}))
	assert.Equal(t, NamePendingInfo, ResolveDisplayName(IssuedInvitationRow{UserRegistered: true}))
	assert.Equal(t, "Eve", ResolveDisplayName(IssuedInvitationRow{Snapshot: &models.ProfileSnapshot{FirstName: "Eve"}}))
	assert.Equal(t, NameAnonymous, ResolveDisplayName(IssuedInvitationRow{Snapshot: &models.ProfileSnapshot{}}))
	assert.Equal(t, NameUnknown, ResolveDisplayName(IssuedInvitationRow{}))
}

func TestListByRequester(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.adminRows = []AdminInvitationRow{
		{Invitation: &models.Invitation{ID: uuid.New(), Email: "a@x.io", Used: true, ExpiredAt: h.now.Add(-time.Hour)}, AdminOrgName: "Acme", TotalUsers: 4},
		{Invitation: &models.Invitation{ID: uuid.New(), Email: "b@x.io", ExpiredAt: h.now.Add(-time.Hour)}},
	}
	h.store.issuedRows = []IssuedInvitationRow{
		{Invitation: &models.Invitation{ID: uuid.New(), Email: "c@x.io", Role: models.RoleLeader, ExpiredAt: h.now.Add(time.Hour)}, UserRegistered: true},
	}

	got, err := h.svc.List(ctx, h.superAdmin)
	require.NoError(t, err)
	orgs := got.([]AdminListing)
	require.Len(t, orgs, 2)
	assert.Equal(t, "Acme", orgs[0].OrgName)
	assert.Equal(t, models.InvitationAccepted, orgs[0].Status)
	assert.Equal(t, 4, orgs[0].TotalUsers)
	assert.Equal(t, OrgNamePendingSetup, orgs[1].OrgName)
	assert.Equal(t, models.InvitationExpired, orgs[1].Status)

	got, err = h.svc.List(ctx, h.admin)
	require.NoError(t, err)
	issued := got.([]IssuedListing)
	require.Len(t, issued, 1)
	assert.Equal(t, NamePendingInfo, issued[0].Name)
	assert.Equal(t, models.InvitationPending, issued[0].Status)
}

func TestMemberAssessmentStatus(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	recent := now.AddDate(0, -1, 0)
	old := now.AddDate(0, -4, 0)

	assert.Equal(t, MemberNotStarted, MemberAssessmentStatus(false, nil, 3, now))
	assert.Equal(t, MemberInProgress, MemberAssessmentStatus(true, nil, 3, now))
	assert.Equal(t, MemberCompleted, MemberAssessmentStatus(true, &recent, 3, now))
	assert.Equal(t, MemberDue, MemberAssessmentStatus(false, &old, 3, now))
	assert.Equal(t, MemberDue, MemberAssessmentStatus(true, &old, 3, now))
}

func TestOrgDetails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	done := h.now.AddDate(0, -1, 0)
	stale := h.now.AddDate(0, -5, 0)
	adminCreated := h.now.AddDate(-1, 0, 0)
	h.store.orgRows = map[string][]OrgMemberRow{"Acme": {
		{IssuedInvitationRow: IssuedInvitationRow{
			Invitation:     &models.Invitation{ID: uuid.New(), Email: "lee@example.com", Role: models.RoleLeader, Used: true, ExpiredAt: h.now},
			UserRegistered: true, UserFirstName: "Lee", UserLastName: "Test",
		}, LastCompletedAt: &done},
		{IssuedInvitationRow: IssuedInvitationRow{
			Invitation: &models.Invitation{ID: uuid.New(), Email: "emp@example.com", Role: models.RoleEmployee, ExpiredAt: h.now.Add(time.Hour)},
			Snapshot:   &models.ProfileSnapshot{FirstName: "Eve"},
		}, HasOpen: true},
		{IssuedInvitationRow: IssuedInvitationRow{
			Invitation: &models.Invitation{ID: uuid.New(), Email: "gone@example.com", Role: models.RoleManager, ExpiredAt: h.now.Add(-time.Hour)},
		}},
	}}
	h.store.orgAdmins = map[string]*OrgAdminRow{"Acme": {
		ID:        h.admin.UserID, Email: "ADA@example.com", FirstName: "Ada", EmailVerified: true, ProfileCompleted: true,
		CreatedAt: adminCreated, LastCompletedAt: &stale,
	}}

	got, err := h.svc.OrgDetails(ctx, h.admin, " Acme ")
	require.NoError(t, err)
	require.Len(t, got.Members, 4)
	assert.Equal(t, 4, got.Details.TotalMembers)
	assert.Equal(t, models.InvitationAccepted, got.Details.Status)
	assert.Equal(t, adminCreated, *got.Details.CreatedAt)

	admin := got.Members[0]
	assert.Equal(t, "Ada", admin.Name)
	assert.Equal(t, models.RoleAdmin, admin.Role)
	assert.Equal(t, MemberDue, admin.AssessmentStatus)

	assert.Equal(t, "Lee Test", got.Members[1].Name)
	assert.Equal(t, models.InvitationAccepted, got.Members[1].Status)
	assert.Equal(t, MemberCompleted, got.Members[1].AssessmentStatus)
	assert.Equal(t, "Eve", got.Members[2].Name)
	assert.Equal(t, MemberInProgress, got.Members[2].AssessmentStatus)
	assert.Equal(t, NameUnknown, got.Members[3].Name)
	assert.Equal(t, models.InvitationExpired, got.Members[3].Status)
	assert.Equal(t, MemberNotStarted, got.Members[3].AssessmentStatus)

	// An admin already invited into the organization is not listed twice.
	h.store.orgAdmins["Acme"].Email = "lee@example.com"
	got, err = h.svc.OrgDetails(ctx, h.superAdmin, "Acme")
	require.NoError(t, err)
	assert.Len(t, got.Members, 3)

	_, err = h.svc.OrgDetails(ctx, h.leader, "Globex")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = h.svc.OrgDetails(ctx, h.superAdmin, " ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	empty, err := h.svc.OrgDetails(ctx, h.superAdmin, "Globex")
	require.NoError(t, err)
	assert.Empty(t, empty.Members)
	assert.Equal(t, models.InvitationExpired, empty.Details.Status)
	assert.Nil(t, empty.Details.CreatedAt)
}
