package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/apperr"
	"github.com/pulsecheck/backend/pkg/database"
	"github.com/pulsecheck/backend/pkg/queue"
	"github.com/pulsecheck/backend/pkg/utils"
)

// UserStore is the identity persistence used by the registration flow.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByVerificationToken(ctx context.Context, token string) (*models.User, error)
	UpsertPending(ctx context.Context, p PendingUser) (*models.User, error)
	MarkEmailVerified(ctx context.Context, id uuid.UUID) (*models.User, error)
	CompleteProfile(ctx context.Context, id uuid.UUID, invitationID *uuid.UUID, p Profile) (*models.User, error)
	RefreshVerification(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) (*models.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, p ProfileUpdate) (*models.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetResetToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error
	ResetPassword(ctx context.Context, token, passwordHash string, now time.Time) (bool, error)
	DeleteExpiredIncomplete(ctx context.Context, now time.Time) (int64, error)
}

// InvitationReader loads invitations for registration.
type InvitationReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error)
}

// AssessmentHistory answers recurrence questions for the profile endpoint.
type AssessmentHistory interface {
	HasOpenForUser(ctx context.Context, userID uuid.UUID) (bool, error)
	LatestCompletedAt(ctx context.Context, userID uuid.UUID) (*time.Time, error)
}

// EmailEnqueuer hands emails to the delivery worker.
type EmailEnqueuer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// Notifier emits notification events.
type Notifier interface {
	Notify(ctx context.Context, event models.NotificationEvent)
}

// ServiceConfig holds registration windows and link bases.
type ServiceConfig struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	CooldownMonths  int
	FrontendURL     string
}

// Service implements registration, login and account recovery.
type Service struct {
	users       UserStore
	invitations InvitationReader
	history     AssessmentHistory
	jwt         *JWTService
	emails      EmailEnqueuer
	notifier    Notifier
	cfg         ServiceConfig
	logger      *zap.Logger
	now         func() time.Time
	newToken    func() (string, error)
}

// NewService creates the registration service.
func NewService(users UserStore, invitations InvitationReader, history AssessmentHistory, jwtService *JWTService,
	emails EmailEnqueuer, notifier Notifier, cfg ServiceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:       users,
		invitations: invitations,
		history:     history,
		jwt:         jwtService,
		emails:      emails,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		newToken:    func() (string, error) { return utils.GenerateURLToken(32) },
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RegisterInput is the credential half of registration.
type RegisterInput struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// Register creates an unverified identity bound to the invitation behind session.
// The invitation is re-validated here; acceptance alone proves nothing about now.
func (s *Service) Register(ctx context.Context, session *InviteSessionClaims, in RegisterInput) (*models.User, error) {
	inv, err := s.invitations.GetByID(ctx, session.InvitationID)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("invitation not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load invitation")
	}
	now := s.now()
	switch inv.Status(now) {
	case models.InvitationAccepted:
		return nil, apperr.Gone("invitation already used")
	case models.InvitationExpired:
		return nil, apperr.Expired("invitation expired")
	}
	if inv.Role == models.RoleEmployee {
		return nil, apperr.Validation("employees take the assessment without an account")
	}

	email := models.NormalizeEmail(in.Email)
	if email != models.NormalizeEmail(inv.Email) {
		return nil, apperr.Validation("email does not match invitation")
	}
	if err := validatePassword(in.Password, in.ConfirmPassword); err != nil {
		return nil, err
	}
	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Internal(err, "failed to hash password")
	}
	token, err := s.newToken()
	if err != nil {
		return nil, apperr.Internal(err, "failed to generate verification token")
	}

	user, err := s.users.UpsertPending(ctx, PendingUser{
		Email:                 email,
		PasswordHash:          hash,
		Role:                  inv.Role,
		OrgName:               inv.OrgName,
		InvitedBy:             inv.InvitedBy,
		InvitationID:          inv.ID,
		VerificationToken:     token,
		VerificationExpiresAt: now.Add(s.cfg.VerificationTTL),
	})
	if errors.Is(err, ErrRegistrationConflict) {
		return nil, apperr.Conflict("an account already exists for this email")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to create account")
	}

	s.enqueueEmail(ctx, queue.EmailPayload{
		EmailType:      models.EmailTypeVerification,
		RecipientEmail: user.Email,
		Subject:        "Verify your email",
		Data:           map[string]string{"link": s.cfg.FrontendURL + "/verify-email/" + token},
	})
	s.logger.Info("account registered", zap.String("user_id", user.ID.String()), zap.String("invitation_id", inv.ID.String()))
	return user, nil
}

func validatePassword(password, confirm string) error {
	if len(password) < utils.MinPasswordLength {
		return apperr.Validation("password must be at least %d characters", utils.MinPasswordLength)
	}
	if password != confirm {
		return apperr.Validation("passwords do not match")
	}
	return nil
}

func (s *Service) userByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.NotFound("verification token not found")
	}
	user, err := s.users.GetByVerificationToken(ctx, token)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("verification token not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load account")
	}
	if user.VerificationExpiresAt != nil && s.now().After(*user.VerificationExpiresAt) {
		return nil, apperr.Expired("verification link expired")
	}
	return user, nil
}

// VerifyEmail opens the email gate. Verifying twice is a no-op.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	user, err := s.userByVerificationToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if user.EmailVerified {
		return user, nil
	}
	user, err = s.users.MarkEmailVerified(ctx, user.ID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to verify email")
	}
	return user, nil
}

// ProfileInput is the body of profile completion.
type ProfileInput = Profile

// CompleteProfile finishes registration. It is the terminal step that consumes the invitation.
func (s *Service) CompleteProfile(ctx context.Context, token string, in ProfileInput) (*models.User, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if in.FirstName == "" || in.LastName == "" {
		return nil, apperr.Validation("first name and last name are required")
	}
	user, err := s.userByVerificationToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !user.EmailVerified {
		return nil, apperr.Forbidden("email not verified")
	}
	if user.ProfileCompleted {
		return nil, apperr.Conflict("profile already completed")
	}
	if user.Role != models.RoleAdmin || user.OrgName != "" {
		in.OrgName = ""
	} else {
		org, ok := models.NormalizeOrgName(in.OrgName)
		if !ok {
			return nil, apperr.Validation("invalid organization name")
		}
		if org == "" {
			return nil, apperr.Validation("organization name is required")
		}
		in.OrgName = org
	}

	user, err = s.users.CompleteProfile(ctx, user.ID, user.InvitationID, in)
	switch {
	case errors.Is(err, ErrInvitationConsumed):
		return nil, apperr.Gone("invitation already used")
	case errors.Is(err, ErrProfileCompleted):
		return nil, apperr.Conflict("profile already completed")
	case err != nil:
		return nil, apperr.Internal(err, "failed to complete profile")
	}

	if s.notifier != nil {
		name := user.DisplayName()
		msg := name + " joined " + orgLabel(user.OrgName) + " as " + string(user.Role)
		s.notifier.Notify(ctx, models.NotifySuperAdmins(&user.ID, "New user registered", msg, models.NotificationSuccess))
		if user.OrgName != "" {
			s.notifier.Notify(ctx, models.NotifyOrgStaff(user.OrgName, &user.ID, "New team member", msg, models.NotificationSuccess))
		}
	}
	return user, nil
}

func orgLabel(org string) string {
	if org == "" {
		return "the platform"
	}
	return org
}

// Login authenticates by credentials and issues a session token.
// Both the email and profile gates must be open.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.users.GetByEmail(ctx, models.NormalizeEmail(email))
	if database.IsNoRows(err) {
		return "", nil, apperr.Unauthorized("invalid email or password")
	}
	if err != nil {
		return "", nil, apperr.Internal(err, "failed to load account")
	}
	if !utils.CheckPassword(password, user.Password) {
		return "", nil, apperr.Unauthorized("invalid email or password")
	}
	if !user.EmailVerified {
		return "", nil, apperr.Forbidden("email not verified")
	}
	if !user.ProfileCompleted {
		return "", nil, apperr.Forbidden("profile not completed")
	}
	token, err := s.jwt.Generate(user.ID, user.Email, user.Role, user.OrgName)
	if err != nil {
		return "", nil, apperr.Internal(err, "failed to generate token")
	}
	return token, user, nil
}

// ResendVerification issues a fresh verification link for an account that has not
// finished registration. Unknown and completed accounts succeed silently.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, models.NormalizeEmail(email))
	if database.IsNoRows(err) {
		return nil
	}
	if err != nil {
		return apperr.Internal(err, "failed to load account")
	}
	if user.ProfileCompleted {
		return nil
	}
	token, err := s.newToken()
	if err != nil {
		return apperr.Internal(err, "failed to generate verification token")
	}
	user, err = s.users.RefreshVerification(ctx, user.ID, token, s.now().Add(s.cfg.VerificationTTL))
	if database.IsNoRows(err) {
		return nil
	}
	if err != nil {
		return apperr.Internal(err, "failed to refresh verification")
	}
	s.enqueueEmail(ctx, queue.EmailPayload{
		EmailType:      models.EmailTypeVerification,
		RecipientEmail: user.Email,
		Subject:        "Verify your email",
		Data:           map[string]string{"link": s.cfg.FrontendURL + "/verify-email/" + token},
	})
	return nil
}

// ForgotPassword issues a reset token. Unknown emails succeed silently.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, models.NormalizeEmail(email))
	if database.IsNoRows(err) {
		return nil
	}
	if err != nil {
		return apperr.Internal(err, "failed to load account")
	}
	token, err := s.newToken()
	if err != nil {
		return apperr.Internal(err, "failed to generate reset token")
	}
	if err := s.users.SetResetToken(ctx, user.ID, token, s.now().Add(s.cfg.ResetTTL)); err != nil {
		return apperr.Internal(err, "failed to store reset token")
	}
	s.enqueueEmail(ctx, queue.EmailPayload{
		EmailType:      models.EmailTypePasswordReset,
		RecipientEmail: user.Email,
		Subject:        "Reset your password",
		Data:           map[string]string{"link": s.cfg.FrontendURL + "/reset-password/" + token},
	})
	return nil
}

// ResetPassword replaces the password behind a valid reset token.
func (s *Service) ResetPassword(ctx context.Context, token, password, confirm string) error {
	if err := validatePassword(password, confirm); err != nil {
		return err
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return apperr.Internal(err, "failed to hash password")
	}
	ok, err := s.users.ResetPassword(ctx, token, hash, s.now())
	if err != nil {
		return apperr.Internal(err, "failed to reset password")
	}
	if !ok {
		return apperr.Expired("reset link is invalid or has expired")
	}
	return nil
}

// ChangePassword replaces the caller's password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, id Identity, current, password, confirm string) error {
	user, err := s.loadUser(ctx, id.UserID)
	if err != nil {
		return err
	}
	if !utils.CheckPassword(current, user.Password) {
		return apperr.Unauthorized("current password is incorrect")
	}
	if err := validatePassword(password, confirm); err != nil {
		return err
	}
	if password == current {
		return apperr.Validation("new password must differ from the current one")
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return apperr.Internal(err, "failed to hash password")
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return apperr.Internal(err, "failed to update password")
	}
	s.logger.Info("password changed", zap.String("user_id", user.ID.String()))
	return nil
}

// Profile returns the caller's public profile and notification preferences.
func (s *Service) Profile(ctx context.Context, id Identity) (*models.UserPublic, error) {
	user, err := s.loadUser(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	pub := user.ToPublic()
	return &pub, nil
}

// UpdateProfile edits the caller's personal fields. Role, email and organization are not editable.
func (s *Service) UpdateProfile(ctx context.Context, id Identity, in ProfileUpdate) (*models.UserPublic, error) {
	if in.Empty() {
		return nil, apperr.Validation("no profile fields to update")
	}
	for _, f := range []**string{&in.FirstName, &in.LastName} {
		if *f == nil {
			continue
		}
		v := strings.TrimSpace(**f)
		if v == "" {
			return nil, apperr.Validation("first name and last name cannot be empty")
		}
		*f = &v
	}
	user, err := s.users.UpdateProfile(ctx, id.UserID, in)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to update profile")
	}
	pub := user.ToPublic()
	return &pub, nil
}

func (s *Service) loadUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load user")
	}
	return user, nil
}

// Assessment status values reported by Me.
const (
	AssessmentStatusPending     = "PENDING"
	AssessmentStatusDue         = "DUE"
	AssessmentStatusCompleted   = "COMPLETED"
	AssessmentStatusNotRequired = "NOT_REQUIRED"
)

// DeriveAssessmentStatus classifies whether role owes an assessment at now.
func DeriveAssessmentStatus(role models.Role, hasOpen bool, lastCompleted *time.Time, cooldownMonths int, now time.Time) string {
	if !role.IsOrgStaff() {
		return AssessmentStatusNotRequired
	}
	if hasOpen {
		return AssessmentStatusPending
	}
	if lastCompleted == nil {
		return AssessmentStatusDue
	}
	if now.Before(lastCompleted.AddDate(0, cooldownMonths, 0)) {
		return AssessmentStatusCompleted
	}
	return AssessmentStatusDue
}

// MeResult is the profile returned to a signed-in user.
type MeResult struct {
	User             models.UserPublic `json:"user"`
	AssessmentStatus string            `json:"assessment_status"`
}

// Me returns the caller's profile and assessment status.
func (s *Service) Me(ctx context.Context, id Identity) (*MeResult, error) {
	user, err := s.loadUser(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	status := AssessmentStatusNotRequired
	if user.Role.IsOrgStaff() {
		open, err := s.history.HasOpenForUser(ctx, user.ID)
		if err != nil {
			return nil, apperr.Internal(err, "failed to load assessments")
		}
		last, err := s.history.LatestCompletedAt(ctx, user.ID)
		if err != nil {
			return nil, apperr.Internal(err, "failed to load assessments")
		}
		status = DeriveAssessmentStatus(user.Role, open, last, s.cfg.CooldownMonths, s.now())
	}
	return &MeResult{User: user.ToPublic(), AssessmentStatus: status}, nil
}

// SweepExpired deletes accounts whose verification window closed before completion.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.users.DeleteExpiredIncomplete(ctx, s.now())
	if err != nil {
		return 0, apperr.Internal(err, "failed to sweep expired accounts")
	}
	if n > 0 {
		s.logger.Info("expired accounts removed", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) enqueueEmail(ctx context.Context, payload queue.EmailPayload) {
	if s.emails == nil {
		return
	}
	if err := s.emails.EnqueueEmail(ctx, payload); err != nil {
		s.logger.Warn("enqueue email failed", zap.Error(err), zap.String("email_type", payload.EmailType))
	}
}
