// Package assessments runs the assessment lifecycle: NONE -> DRAFT -> COMPLETED, per
// identity for signed-in respondents and per invitation for anonymous employees.
package assessments

import (
	"context"
	"errors"
	"fmt"
	"math"
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

// Store persists attempts and their snapshots.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Assessment, error)
	OpenForUser(ctx context.Context, userID uuid.UUID) (*models.Assessment, error)
	OpenForInvitation(ctx context.Context, invitationID uuid.UUID) (*models.Assessment, error)
	LatestCompletedAt(ctx context.Context, userID uuid.UUID) (*time.Time, error)
	CreateOpen(ctx context.Context, a *models.Assessment) (*models.Assessment, bool, error)
	CountResponses(ctx context.Context, id uuid.UUID) (int, error)
	ListResponses(ctx context.Context, id uuid.UUID) ([]models.Response, error)
	Complete(ctx context.Context, c Completion) (*models.SubmittedAssessment, error)
}

// UserLookup loads the respondent's profile.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// InvitationLookup resolves invitations for linkage and the employee flow.
type InvitationLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error)
	LatestByEmail(ctx context.Context, email string) (*models.Invitation, error)
}

// Archiver schedules the off-site copy of a snapshot.
type Archiver interface {
	EnqueueArchive(ctx context.Context, payload queue.ArchivePayload) error
}

// Notifier emits notification events.
type Notifier interface {
	Notify(ctx context.Context, event models.NotificationEvent)
}

// Config controls recurrence.
type Config struct {
	CooldownMonths int
}

// Service implements the assessment lifecycle.
type Service struct {
	store       Store
	users       UserLookup
	invitations InvitationLookup
	archiver    Archiver
	notifier    Notifier
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates the assessments service.
func NewService(store Store, users UserLookup, invitations InvitationLookup, archiver Archiver, notifier Notifier,
	cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		users:       users,
		invitations: invitations,
		archiver:    archiver,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CooldownRemaining returns the whole days left before a new attempt may start after
// one completed at completedAt, rounded up. Zero means the cooldown has elapsed.
func CooldownRemaining(completedAt time.Time, months int, now time.Time) int {
	until := completedAt.AddDate(0, months, 0)
	if !now.Before(until) {
		return 0
	}
	return int(math.Ceil(until.Sub(now).Hours() / 24))
}

// StartResult is returned by Start and StartEmployee.
type StartResult struct {
	Assessment *models.Assessment `json:"assessment"`
	Resumed    bool               `json:"resumed"`
}

// Start resumes the identity's open attempt or creates a new draft once the cooldown
// since the last completion has elapsed.
func (s *Service) Start(ctx context.Context, id auth.Identity, stakeholder string) (*StartResult, error) {
	sh, ok := models.ParseStakeholder(stakeholder)
	if !ok {
		return nil, apperr.Validation("invalid stakeholder %q", stakeholder)
	}

	open, err := s.store.OpenForUser(ctx, id.UserID)
	if err == nil {
		return &StartResult{Assessment: open, Resumed: true}, nil
	}
	if !database.IsNoRows(err) {
		return nil, apperr.Internal(err, "failed to load assessment")
	}

	now := s.now()
	last, err := s.store.LatestCompletedAt(ctx, id.UserID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load assessment history")
	}
	if last != nil {
		if days := CooldownRemaining(*last, s.cfg.CooldownMonths, now); days > 0 {
			return nil, apperr.TooSoon(days)
		}
	}

	user, err := s.users.GetByID(ctx, id.UserID)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load user")
	}
	snap := user.Snapshot()
	uid := user.ID
	draft := &models.Assessment{
		Stakeholder: sh,
		UserID:      &uid,
		OrgName:     user.OrgName,
		UserDetails: &snap,
		InvitedBy:   user.InvitedBy,
	}
	s.link(ctx, draft, user.Email)

	a, created, err := s.store.CreateOpen(ctx, draft)
	if err != nil {
		return nil, apperr.Internal(err, "failed to start assessment")
	}
	if created {
		s.logger.Info("assessment started", zap.String("assessment_id", a.ID.String()), zap.String("stakeholder", string(sh)))
	}
	return &StartResult{Assessment: a, Resumed: !created}, nil
}

// link attaches the most recent invitation for email. Linkage is best-effort.
func (s *Service) link(ctx context.Context, a *models.Assessment, email string) {
	inv, err := s.invitations.LatestByEmail(ctx, email)
	if err != nil {
		if !database.IsNoRows(err) {
			s.logger.Warn("invitation linkage lookup failed", zap.Error(err))
		}
		return
	}
	invID, by := inv.ID, inv.InvitedBy
	a.InvitationID = &invID
	if a.InvitedBy == nil {
		a.InvitedBy = &by
	}
	if a.OrgName == "" {
		a.OrgName = inv.OrgName
	}
}

// Submit completes an attempt owned by id and writes its snapshot.
func (s *Service) Submit(ctx context.Context, assessmentID uuid.UUID, id auth.Identity) (*models.SubmittedAssessment, error) {
	a, err := s.loadOpen(ctx, assessmentID, id.Owner())
	if err != nil {
		return nil, err
	}
	c := Completion{AssessmentID: a.ID, SubmittedAt: s.now()}
	user, err := s.users.GetByID(ctx, id.UserID)
	switch {
	case err == nil:
		snap := user.Snapshot()
		c.UserDetails = &snap
	case !database.IsNoRows(err):
		return nil, apperr.Internal(err, "failed to load user")
	}

	sub, err := s.complete(ctx, c)
	if err != nil {
		return nil, err
	}

	name := id.Email
	if sub.UserDetails != nil && sub.UserDetails.DisplayName() != "" {
		name = sub.UserDetails.DisplayName()
	}
	s.afterSubmit(ctx, sub, &id.UserID, name)
	return sub, nil
}

// EmployeeDetails are collected from an anonymous employee on the final step.
type EmployeeDetails struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Department string `json:"department"`
}

func (d EmployeeDetails) validate() error {
	var missing []string
	for name, v := range map[string]string{
		"first_name": d.FirstName, "last_name": d.LastName, "email": d.Email, "department": d.Department,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return apperr.Validation("all fields are required").With("missing", missing)
	}
	return nil
}

// StartEmployee resumes or creates the anonymous attempt bound to the session's invitation.
func (s *Service) StartEmployee(ctx context.Context, sess *auth.InviteSessionClaims) (*StartResult, error) {
	if models.Role(sess.Role) != models.RoleEmployee {
		return nil, apperr.Forbidden("invitation is not for an employee assessment")
	}
	inv, err := s.invitations.GetByID(ctx, sess.InvitationID)
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

	open, err := s.store.OpenForInvitation(ctx, inv.ID)
	if err == nil {
		return &StartResult{Assessment: open, Resumed: true}, nil
	}
	if !database.IsNoRows(err) {
		return nil, apperr.Internal(err, "failed to load assessment")
	}

	invID, by := inv.ID, inv.InvitedBy
	a, created, err := s.store.CreateOpen(ctx, &models.Assessment{
		Stakeholder:   models.StakeholderEmployee,
		EmployeeEmail: inv.Email,
		InvitationID:  &invID,
		InvitedBy:     &by,
		OrgName:       inv.OrgName,
	})
	if err != nil {
		return nil, apperr.Internal(err, "failed to start assessment")
	}
	if created {
		s.logger.Info("employee assessment started", zap.String("assessment_id", a.ID.String()))
	}
	return &StartResult{Assessment: a, Resumed: !created}, nil
}

// SubmitEmployee completes an anonymous attempt and consumes its invitation in the
// same transaction.
func (s *Service) SubmitEmployee(ctx context.Context, assessmentID uuid.UUID, sess *auth.InviteSessionClaims, d EmployeeDetails) (*models.SubmittedAssessment, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	a, err := s.loadOpen(ctx, assessmentID, models.OwnerInvitation(sess.InvitationID))
	if err != nil {
		return nil, err
	}
	snap := &models.ProfileSnapshot{
		FirstName:  strings.TrimSpace(d.FirstName),
		LastName:   strings.TrimSpace(d.LastName),
		Email:      models.NormalizeEmail(d.Email),
		Department: strings.TrimSpace(d.Department),
		Role:       models.RoleEmployee,
	}
	invID := sess.InvitationID
	sub, err := s.complete(ctx, Completion{
		AssessmentID:      a.ID,
		SubmittedAt:       s.now(),
		UserDetails:       snap,
		ConsumeInvitation: &invID,
	})
	if err != nil {
		return nil, err
	}
	s.afterSubmit(ctx, sub, nil, snap.DisplayName())
	return sub, nil
}

// AssessmentDetail is an attempt with its saved responses.
type AssessmentDetail struct {
	*models.Assessment
	State     models.AssessmentState `json:"state"`
	Responses []models.Response      `json:"responses"`
}

// Get returns an attempt and its responses to its owner.
func (s *Service) Get(ctx context.Context, assessmentID uuid.UUID, owner models.Owner) (*AssessmentDetail, error) {
	a, err := s.load(ctx, assessmentID, owner)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListResponses(ctx, a.ID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list responses")
	}
	return &AssessmentDetail{Assessment: a, State: a.State(), Responses: list}, nil
}

func (s *Service) load(ctx context.Context, assessmentID uuid.UUID, owner models.Owner) (*models.Assessment, error) {
	a, err := s.store.GetByID(ctx, assessmentID)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("assessment not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load assessment")
	}
	if !a.IsOwnedBy(owner) {
		return nil, apperr.Forbidden("not your assessment")
	}
	return a, nil
}

func (s *Service) loadOpen(ctx context.Context, assessmentID uuid.UUID, owner models.Owner) (*models.Assessment, error) {
	a, err := s.load(ctx, assessmentID, owner)
	if err != nil {
		return nil, err
	}
	if a.IsCompleted {
		return nil, apperr.AlreadyCompleted("assessment already submitted")
	}
	n, err := s.store.CountResponses(ctx, a.ID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to count responses")
	}
	if n == 0 {
		return nil, apperr.NoResponses("no responses saved for this assessment")
	}
	return a, nil
}

func (s *Service) complete(ctx context.Context, c Completion) (*models.SubmittedAssessment, error) {
	sub, err := s.store.Complete(ctx, c)
	switch {
	case errors.Is(err, ErrAlreadyCompleted):
		return nil, apperr.AlreadyCompleted("assessment already submitted")
	case errors.Is(err, ErrNoResponses):
		return nil, apperr.NoResponses("no responses saved for this assessment")
	case errors.Is(err, ErrInvitationUsed):
		return nil, apperr.Gone("invitation already used")
	case err != nil:
		return nil, apperr.Internal(err, "failed to submit assessment")
	}
	s.logger.Info("assessment submitted",
		zap.String("assessment_id", sub.AssessmentID.String()), zap.Int("responses", len(sub.Responses)))
	return sub, nil
}

// afterSubmit fires the best-effort side effects of a completed attempt.
func (s *Service) afterSubmit(ctx context.Context, sub *models.SubmittedAssessment, submitter *uuid.UUID, name string) {
	if s.archiver != nil {
		if err := s.archiver.EnqueueArchive(ctx, queue.ArchivePayload{AssessmentID: sub.AssessmentID, OrgName: sub.OrgName}); err != nil {
			s.logger.Warn("enqueue snapshot archive failed", zap.Error(err), zap.String("assessment_id", sub.AssessmentID.String()))
		}
	}
	if s.notifier == nil {
		return
	}
	if name == "" {
		name = "A respondent"
	}
	if submitter != nil {
		s.notifier.Notify(ctx, models.NotifyUser(*submitter, "Assessment submitted",
			fmt.Sprintf("Your %s assessment was submitted successfully", sub.Stakeholder), models.NotificationSuccess))
	}
	msg := fmt.Sprintf("%s completed a %s assessment", name, sub.Stakeholder)
	if sub.OrgName != "" {
		s.notifier.Notify(ctx, models.NotifyOrgStaff(sub.OrgName, submitter, "Assessment completed", msg, models.NotificationInfo))
	}
	s.notifier.Notify(ctx, models.NotifySuperAdmins(submitter, "Assessment completed", msg, models.NotificationInfo))
}
