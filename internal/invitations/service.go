package invitations

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsecheck/backend/internal/auth"
	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/apperr"
	"github.com/pulsecheck/backend/pkg/database"
	"github.com/pulsecheck/backend/pkg/queue"
)

// Display names used by the org-scoped listing when the invitee has not told us theirs.
const (
	NamePendingInfo     = "Registered (Pending Info)"
	NameAnonymous       = "Completed (Anonymous)"
	NameUnknown         = "—"
	OrgNamePendingSetup = "Pending Setup"
)

// Next steps returned by Accept.
const (
	NextAssessment = "assessment"
	NextRegister   = "register"
)

// Store is the invitation persistence used by the service.
type Store interface {
	CreateExclusive(ctx context.Context, inv *models.Invitation, now time.Time) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error)
	GetByToken(ctx context.Context, token string) (*models.Invitation, error)
	ListByEmail(ctx context.Context, email string) ([]*models.Invitation, error)
	DeleteExpired(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
	ListAdminInvitations(ctx context.Context) ([]AdminInvitationRow, error)
	ListIssuedBy(ctx context.Context, inviterID uuid.UUID, orgName string) ([]IssuedInvitationRow, error)
	ListOrgMembers(ctx context.Context, orgName string) ([]OrgMemberRow, error)
	GetOrgAdmin(ctx context.Context, orgName string) (*OrgAdminRow, error)
}

// UserLookup resolves the issuer's current profile.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// EmailEnqueuer hands emails to the delivery worker.
type EmailEnqueuer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// Notifier emits notification events.
type Notifier interface {
	Notify(ctx context.Context, event models.NotificationEvent)
}

// Config holds invitation lifetimes and the public base URL used in links.
type Config struct {
	TTL            time.Duration
	SessionTTL     time.Duration
	BackendURL     string
	CooldownMonths int
}

// Service implements the invitation engine.
type Service struct {
	store    Store
	users    UserLookup
	tokens   *auth.JWTService
	emails   EmailEnqueuer
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the invitation service.
func NewService(store Store, users UserLookup, tokens *auth.JWTService, emails EmailEnqueuer, notifier Notifier, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, users: users, tokens: tokens, emails: emails, notifier: notifier, cfg: cfg, logger: logger, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IssueInput is one invitation request. OrgName is only read when a super admin
// invites an organization admin; everyone else invites into their own organization.
type IssueInput struct {
	Email   string
	Role    string
	OrgName string
}

// Issue creates and mails an invitation.
func (s *Service) Issue(ctx context.Context, issuer auth.Identity, in IssueInput) (*models.Invitation, error) {
	inv, err := s.issue(ctx, issuer, in)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, models.NotifyUser(issuer.UserID, "Invitation sent",
			fmt.Sprintf("Invitation sent to %s as %s", inv.Email, inv.Role), models.NotificationSuccess))
		s.notifier.Notify(ctx, models.NotifySuperAdmins(&issuer.UserID, "New invitation",
			fmt.Sprintf("%s invited %s as %s", inv.InviterName, inv.Email, inv.Role), models.NotificationInfo))
	}
	return inv, nil
}

func (s *Service) issue(ctx context.Context, issuer auth.Identity, in IssueInput) (*models.Invitation, error) {
	role, ok := models.ParseRole(in.Role)
	if !ok {
		return nil, apperr.Validation("invalid role %q", in.Role)
	}
	if !issuer.Role.CanInvite(role) {
		return nil, apperr.Unauthorized("role %s cannot invite %s", issuer.Role, role).
			With("allowed_roles", issuer.Role.InvitableRoles())
	}
	email := models.NormalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, apperr.Validation("invalid email %q", in.Email)
	}

	inviter, err := s.users.GetByID(ctx, issuer.UserID)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("inviter not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load inviter")
	}
	orgName := inviter.OrgName
	if issuer.Role == models.RoleSuperAdmin {
		org, ok := models.NormalizeOrgName(in.OrgName)
		if !ok {
			return nil, apperr.Validation("invalid organization name")
		}
		orgName = org
	} else if orgName == "" {
		return nil, apperr.Validation("your account has no organization")
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.TTL)
	token, err := s.tokens.SignInvitation(auth.InvitationClaims{
		Email:       email,
		Role:        string(role),
		InviterID:   inviter.ID,
		InviterName: inviter.DisplayName(),
		OrgName:     orgName,
	}, expiresAt)
	if err != nil {
		return nil, apperr.Internal(err, "failed to sign invitation")
	}
	inv := &models.Invitation{
		Email:       email,
		Role:        role,
		OrgName:     orgName,
		InvitedBy:   inviter.ID,
		InviterName: inviter.DisplayName(),
		Token:       token,
		ExpiredAt:   expiresAt,
	}
	switch err := s.store.CreateExclusive(ctx, inv, now); {
	case errors.Is(err, ErrUserExists):
		return nil, apperr.Conflict("already registered")
	case errors.Is(err, ErrAlreadyInvited):
		return nil, apperr.Conflict("already invited")
	case err != nil:
		return nil, apperr.Internal(err, "failed to save invitation")
	}

	if s.emails != nil {
		err := s.emails.EnqueueEmail(ctx, queue.EmailPayload{
			EmailType:      models.EmailTypeInvitation,
			RecipientEmail: inv.Email,
			Subject:        "You're invited to join " + orgLabel(orgName),
			Data: map[string]string{
				"link":         s.cfg.BackendURL + "/auth/invite/" + token,
				"role":         string(role),
				"org_name":     orgName,
				"inviter_name": inv.InviterName,
			},
		})
		if err != nil {
			s.logger.Warn("enqueue invitation email failed", zap.Error(err), zap.String("invitation_id", inv.ID.String()))
		}
	}
	s.logger.Info("invitation issued", zap.String("invitation_id", inv.ID.String()), zap.String("role", string(role)))
	return inv, nil
}

func orgLabel(org string) string {
	if org == "" {
		return "PulseCheck"
	}
	return org
}

// BulkRow is one pre-parsed bulk invitation row.
type BulkRow struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// BulkFailure explains why a row was not invited.
type BulkFailure struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// BulkResult summarizes a bulk issue.
type BulkResult struct {
	Success     int           `json:"success"`
	FailedCount int           `json:"failed_count"`
	Failed      []BulkFailure `json:"failed"`
}

// IssueBulk issues each row independently; a failing row never aborts the batch.
func (s *Service) IssueBulk(ctx context.Context, issuer auth.Identity, orgName string, rows []BulkRow) (*BulkResult, error) {
	if !issuer.Role.CanInvite(models.RoleAdmin) && !issuer.Role.CanInvite(models.RoleEmployee) {
		return nil, apperr.Unauthorized("role %s cannot invite", issuer.Role)
	}
	res := &BulkResult{Failed: []BulkFailure{}}
	for _, row := range rows {
		_, err := s.issue(ctx, issuer, IssueInput{Email: row.Email, Role: row.Role, OrgName: orgName})
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				s.logger.Error("bulk invitation row failed", zap.Error(err), zap.String("email", row.Email))
			}
			res.Failed = append(res.Failed, BulkFailure{Email: row.Email, Reason: reason(err)})
			continue
		}
		res.Success++
	}
	res.FailedCount = len(res.Failed)
	if s.notifier != nil && res.Success > 0 {
		s.notifier.Notify(ctx, models.NotifyUser(issuer.UserID, "Bulk invitations sent",
			fmt.Sprintf("%d invitation(s) sent, %d failed", res.Success, res.FailedCount), models.NotificationInfo))
	}
	return res, nil
}

func reason(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind != apperr.KindInternal {
		return ae.Message
	}
	return "internal error"
}

// AcceptResult tells the client how to continue after opening an invitation link.
type AcceptResult struct {
	Next         string      `json:"next"`
	SessionToken string      `json:"session_token"`
	Email        string      `json:"email"`
	Role         models.Role `json:"role"`
	OrgName      string      `json:"org_name"`
}

// Accept validates an invitation token and returns a short-lived invite session.
// Accepting does not consume the invitation.
func (s *Service) Accept(ctx context.Context, token string) (*AcceptResult, error) {
	inv, err := s.store.GetByToken(ctx, token)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("invitation not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load invitation")
	}
	switch inv.Status(s.now()) {
	case models.InvitationAccepted:
		return nil, apperr.Gone("invitation already used")
	case models.InvitationExpired:
		return nil, apperr.Expired("invitation expired")
	}

	claims, err := s.tokens.ParseInvitation(token)
	if errors.Is(err, auth.ErrExpiredToken) {
		return nil, apperr.Expired("invitation expired")
	}
	if err != nil {
		return nil, apperr.Validation("invalid invitation token")
	}
	if models.NormalizeEmail(claims.Email) != models.NormalizeEmail(inv.Email) || models.Role(claims.Role) != inv.Role {
		return nil, apperr.Validation("invitation token does not match invitation")
	}

	session, err := s.tokens.SignInviteSession(inv, s.cfg.SessionTTL)
	if err != nil {
		return nil, apperr.Internal(err, "failed to sign invitation session")
	}
	next := NextRegister
	if inv.Role == models.RoleEmployee {
		next = NextAssessment
	}
	return &AcceptResult{Next: next, SessionToken: session, Email: inv.Email, Role: inv.Role, OrgName: inv.OrgName}, nil
}

// AdminListing is one organization row in the super-admin view.
type AdminListing struct {
	ID         uuid.UUID               `json:"id"`
	Email      string                  `json:"email"`
	OrgName    string                  `json:"org_name"`
	Status     models.InvitationStatus `json:"status"`
	TotalUsers int                     `json:"total_users"`
	CreatedAt  time.Time               `json:"created_at"`
}

// IssuedListing is one invitation in the org-scoped view.
type IssuedListing struct {
	ID        uuid.UUID               `json:"id"`
	Name      string                  `json:"name"`
	Email     string                  `json:"email"`
	Role      models.Role             `json:"role"`
	Status    models.InvitationStatus `json:"status"`
	CreatedAt time.Time               `json:"created_at"`
}

// ResolveOrgName picks the organization shown for an admin invitation.
func ResolveOrgName(adminOrg, inviteOrg string) string {
	switch {
	case strings.TrimSpace(adminOrg) != "":
		return adminOrg
	case strings.TrimSpace(inviteOrg) != "":
		return inviteOrg
	default:
		return OrgNamePendingSetup
	}
}

// ResolveDisplayName picks the name shown for an invitee: the registered identity first,
// then the profile captured by an attempt bound to the invitation.
func ResolveDisplayName(row IssuedInvitationRow) string {
	if row.UserRegistered {
		if name := strings.TrimSpace(row.UserFirstName + " " + row.UserLastName); name != "" {
			return name
		}
		return NamePendingInfo
	}
	if row.Snapshot != nil {
		if name := row.Snapshot.DisplayName(); name != "" {
			return name
		}
		return NameAnonymous
	}
	return NameUnknown
}

// List returns the listing appropriate for the requester: organizations for super admins,
// invitations they issued for everyone else.
func (s *Service) List(ctx context.Context, requester auth.Identity) (any, error) {
	now := s.now()
	if requester.Role == models.RoleSuperAdmin {
		rows, err := s.store.ListAdminInvitations(ctx)
		if err != nil {
			return nil, apperr.Internal(err, "failed to list invitations")
		}
		out := make([]AdminListing, 0, len(rows))
		for _, r := range rows {
			out = append(out, AdminListing{
				ID:         r.Invitation.ID,
				Email:      r.Invitation.Email,
				OrgName:    ResolveOrgName(r.AdminOrgName, r.Invitation.OrgName),
				Status:     r.Invitation.Status(now),
				TotalUsers: r.TotalUsers,
				CreatedAt:  r.Invitation.CreatedAt,
			})
		}
		return out, nil
	}

	rows, err := s.store.ListIssuedBy(ctx, requester.UserID, requester.OrgName)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list invitations")
	}
	out := make([]IssuedListing, 0, len(rows))
	for _, r := range rows {
		out = append(out, IssuedListing{
			ID:        r.Invitation.ID,
			Name:      ResolveDisplayName(r),
			Email:     r.Invitation.Email,
			Role:      r.Invitation.Role,
			Status:    r.Invitation.Status(now),
			CreatedAt: r.Invitation.CreatedAt,
		})
	}
	return out, nil
}

// Delete removes invitations addressed by id or by email. Every matching record must be
// expired and unused; pending and accepted invitations are kept as history.
func (s *Service) Delete(ctx context.Context, requester auth.Identity, idOrEmail string) (int64, error) {
	var records []*models.Invitation
	if id, err := uuid.Parse(idOrEmail); err == nil {
		inv, err := s.store.GetByID(ctx, id)
		if err != nil && !database.IsNoRows(err) {
			return 0, apperr.Internal(err, "failed to load invitation")
		}
		if inv != nil {
			records = append(records, inv)
		}
	} else {
		list, err := s.store.ListByEmail(ctx, models.NormalizeEmail(idOrEmail))
		if err != nil {
			return 0, apperr.Internal(err, "failed to load invitations")
		}
		records = list
	}
	if requester.Role != models.RoleSuperAdmin {
		records = issuedBy(records, requester.UserID)
	}
	if len(records) == 0 {
		return 0, apperr.NotFound("no invitations found")
	}

	now := s.now()
	ids := make([]uuid.UUID, 0, len(records))
	for _, inv := range records {
		if inv.Status(now) != models.InvitationExpired {
			return 0, apperr.Forbidden("only expired invitations can be deleted")
		}
		ids = append(ids, inv.ID)
	}
	n, err := s.store.DeleteExpired(ctx, ids, now)
	if err != nil {
		return 0, apperr.Internal(err, "failed to delete invitations")
	}
	return n, nil
}

func issuedBy(list []*models.Invitation, userID uuid.UUID) []*models.Invitation {
	out := list[:0:0]
	for _, inv := range list {
		if inv.InvitedBy == userID {
			out = append(out, inv)
		}
	}
	return out
}

// Assessment progress values shown in the organization roster.
const (
	MemberNotStarted = "Not Started"
	MemberInProgress = "In Progress"
	MemberCompleted  = "Completed"
	MemberDue        = "Due"
)

// MemberAssessmentStatus classifies a member's progress. A completion older than the
// cooldown makes the member due again, even while a newer attempt is open.
func MemberAssessmentStatus(hasOpen bool, lastCompleted *time.Time, cooldownMonths int, now time.Time) string {
	switch {
	case lastCompleted != nil && now.Before(lastCompleted.AddDate(0, cooldownMonths, 0)):
		return MemberCompleted
	case lastCompleted != nil:
		return MemberDue
	case hasOpen:
		return MemberInProgress
	default:
		return MemberNotStarted
	}
}

// OrgMember is one row of the organization roster.
type OrgMember struct {
	ID               uuid.UUID               `json:"id"`
	Name             string                  `json:"name"`
	Email            string                  `json:"email"`
	Role             models.Role             `json:"role"`
	Status           models.InvitationStatus `json:"status"`
	AssessmentStatus string                  `json:"assessment_status"`
	CreatedAt        time.Time               `json:"created_at"`
}

// OrgSummary describes an organization through its admin account.
type OrgSummary struct {
	OrgName      string                  `json:"org_name"`
	CreatedAt    *time.Time              `json:"created_at"`
	Status       models.InvitationStatus `json:"status"`
	TotalMembers int                     `json:"total_members"`
}

// OrgDetails is the organization roster.
type OrgDetails struct {
	Details OrgSummary  `json:"details"`
	Members []OrgMember `json:"members"`
}

// OrgDetails lists everyone invited into orgName with their assessment progress. The registered
// admin is listed first when no invitation of theirs is in the organization. Super admins may
// read any organization; everyone else only their own.
func (s *Service) OrgDetails(ctx context.Context, requester auth.Identity, orgName string) (*OrgDetails, error) {
	orgName = strings.TrimSpace(orgName)
	if orgName == "" {
		return nil, apperr.Validation("organization name is required")
	}
	if requester.Role != models.RoleSuperAdmin && requester.OrgName != orgName {
		return nil, apperr.Forbidden("not a member of this organization")
	}
	rows, err := s.store.ListOrgMembers(ctx, orgName)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list organization members")
	}
	admin, err := s.store.GetOrgAdmin(ctx, orgName)
	if err != nil && !database.IsNoRows(err) {
		return nil, apperr.Internal(err, "failed to load organization admin")
	}

	now := s.now()
	members := make([]OrgMember, 0, len(rows)+1)
	listed := make(map[string]bool, len(rows))
	for _, r := range rows {
		listed[models.NormalizeEmail(r.Invitation.Email)] = true
		members = append(members, OrgMember{
			ID:               r.Invitation.ID,
			Name:             ResolveDisplayName(r.IssuedInvitationRow),
			Email:            r.Invitation.Email,
			Role:             r.Invitation.Role,
			Status:           r.Invitation.Status(now),
			AssessmentStatus: MemberAssessmentStatus(r.HasOpen, r.LastCompletedAt, s.cfg.CooldownMonths, now),
			CreatedAt:        r.Invitation.CreatedAt,
		})
	}

	out := &OrgDetails{Details: OrgSummary{OrgName: orgName, Status: models.InvitationExpired}}
	if admin != nil {
		if !listed[models.NormalizeEmail(admin.Email)] {
			name := strings.TrimSpace(admin.FirstName + " " + admin.LastName)
			if name == "" {
				name = "Admin"
			}
			members = append([]OrgMember{{
				ID:               admin.ID,
				Name:             name,
				Email:            admin.Email,
				Role:             models.RoleAdmin,
				Status:           models.InvitationAccepted,
				AssessmentStatus: MemberAssessmentStatus(admin.HasOpen, admin.LastCompletedAt, s.cfg.CooldownMonths, now),
				CreatedAt:        admin.CreatedAt,
			}}, members...)
		}
		created := admin.CreatedAt
		out.Details.CreatedAt = &created
		out.Details.Status = models.InvitationPending
		if admin.EmailVerified && admin.ProfileCompleted {
			out.Details.Status = models.InvitationAccepted
		}
	}
	out.Members = members
	out.Details.TotalMembers = len(members)
	return out, nil
}
