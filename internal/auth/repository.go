package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/database"
)

var (
	// ErrRegistrationConflict means the email belongs to an account that cannot be re-registered.
	ErrRegistrationConflict = errors.New("email already registered")
	// ErrInvitationConsumed means the invitation was used before profile completion committed.
	ErrInvitationConsumed = errors.New("invitation already consumed")
	// ErrProfileCompleted means the profile was completed by a concurrent request.
	ErrProfileCompleted = errors.New("profile already completed")
)

const userColumns = `id, email, password_hash, role, org_name, invited_by, invitation_id,
	first_name, middle_initial, last_name, department, titles, phone_number, country, state, zip_code,
	email_verified, profile_completed, verification_token, verification_expires_at,
	reset_token, reset_expires_at, notify_system, notify_email, created_at, updated_at`

// Repository handles user persistence.
type Repository struct {
	pool database.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool database.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var role, org, verifyToken, resetToken *string
	err := row.Scan(&u.ID, &u.Email, &u.Password, &role, &org, &u.InvitedBy, &u.InvitationID,
		&u.FirstName, &u.MiddleInitial, &u.LastName, &u.Department, &u.Titles, &u.PhoneNumber, &u.Country, &u.State, &u.ZipCode,
		&u.EmailVerified, &u.ProfileCompleted, &verifyToken, &u.VerificationExpiresAt,
		&resetToken, &u.ResetExpiresAt, &u.NotifySystem, &u.NotifyEmail, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if role != nil {
		u.Role = models.Role(*role)
	}
	if org != nil {
		u.OrgName = *org
	}
	if verifyToken != nil {
		u.VerificationToken = *verifyToken
	}
	if resetToken != nil {
		u.ResetToken = *resetToken
	}
	return &u, nil
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail returns a user by email (case-insensitive).
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

// GetByVerificationToken returns the user holding an email verification token.
func (r *Repository) GetByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE verification_token = $1`, token))
}

// PendingUser is the data written by registration before verification and profile completion.
type PendingUser struct {
	Email                 string
	PasswordHash          string
	Role                  models.Role
	OrgName               string
	InvitedBy             uuid.UUID
	InvitationID          uuid.UUID
	VerificationToken     string
	VerificationExpiresAt time.Time
}

// UpsertPending creates an unverified account, or refreshes one that is still incomplete
// and was created from the same invitation. Any other existing account yields ErrRegistrationConflict.
func (r *Repository) UpsertPending(ctx context.Context, p PendingUser) (*models.User, error) {
	q := `INSERT INTO users (email, password_hash, role, org_name, invited_by, invitation_id,
			verification_token, verification_expires_at)
		VALUES (LOWER($1), $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
		ON CONFLICT ((LOWER(email))) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			verification_token = EXCLUDED.verification_token,
			verification_expires_at = EXCLUDED.verification_expires_at,
			email_verified = FALSE,
			updated_at = NOW()
		WHERE users.profile_completed = FALSE AND users.invitation_id = EXCLUDED.invitation_id
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, q, p.Email, p.PasswordHash, string(p.Role), p.OrgName,
		p.InvitedBy, p.InvitationID, p.VerificationToken, p.VerificationExpiresAt))
	if database.IsNoRows(err) {
		return nil, ErrRegistrationConflict
	}
	return u, err
}

// MarkEmailVerified sets email_verified for the user.
func (r *Repository) MarkEmailVerified(ctx context.Context, id uuid.UUID) (*models.User, error) {
	q := `UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1 RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, q, id))
}

// Profile holds the fields written by profile completion.
type Profile struct {
	FirstName     string
	MiddleInitial string
	LastName      string
	Department    string
	Titles        string
	PhoneNumber   string
	Country       string
	State         string
	ZipCode       string
	// OrgName is applied only when the account has no organization yet.
	OrgName string
}

// CompleteProfile writes profile fields and, when invitationID is set, consumes the
// invitation in the same transaction. Expiry is not re-checked here: registration
// already proved the invitation valid. If the invitation was used by someone else,
// nothing is committed and ErrInvitationConsumed is returned.
func (r *Repository) CompleteProfile(ctx context.Context, id uuid.UUID, invitationID *uuid.UUID, p Profile) (*models.User, error) {
	return database.InTx(ctx, r.pool, func(tx pgx.Tx) (*models.User, error) {
		q := `UPDATE users SET first_name = $2, middle_initial = $3, last_name = $4, department = $5, titles = $6,
				phone_number = $7, country = $8, state = $9, zip_code = $10,
				org_name = COALESCE(NULLIF(org_name, ''), NULLIF($11, '')),
				profile_completed = TRUE, verification_token = NULL, updated_at = NOW()
			WHERE id = $1 AND profile_completed = FALSE AND email_verified = TRUE
			RETURNING ` + userColumns
		u, err := scanUser(tx.QueryRow(ctx, q, id, p.FirstName, p.MiddleInitial, p.LastName, p.Department, p.Titles,
			p.PhoneNumber, p.Country, p.State, p.ZipCode, p.OrgName))
		if database.IsNoRows(err) {
			return nil, ErrProfileCompleted
		}
		if err != nil {
			return nil, err
		}
		if invitationID == nil {
			return u, nil
		}
		tag, err := tx.Exec(ctx, `UPDATE invitations SET used = TRUE, updated_at = NOW()
			WHERE id = $1 AND used = FALSE`, *invitationID)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrInvitationConsumed
		}
		return u, nil
	})
}

// RefreshVerification replaces the verification token of an account whose profile is
// still incomplete. Returns pgx.ErrNoRows if no such account exists.
func (r *Repository) RefreshVerification(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) (*models.User, error) {
	q := `UPDATE users SET verification_token = $2, verification_expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND profile_completed = FALSE
		RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, q, id, token, expiresAt))
}

// ProfileUpdate holds optional profile edits. Nil fields are left unchanged.
type ProfileUpdate struct {
	FirstName     *string
	MiddleInitial *string
	LastName      *string
	Department    *string
	Titles        *string
	PhoneNumber   *string
	Country       *string
	State         *string
	ZipCode       *string
}

// Empty reports whether no field is set.
func (p ProfileUpdate) Empty() bool {
	return p.FirstName == nil && p.MiddleInitial == nil && p.LastName == nil && p.Department == nil &&
		p.Titles == nil && p.PhoneNumber == nil && p.Country == nil && p.State == nil && p.ZipCode == nil
}

// UpdateProfile applies the set fields of p to the user.
func (r *Repository) UpdateProfile(ctx context.Context, id uuid.UUID, p ProfileUpdate) (*models.User, error) {
	q := `UPDATE users SET first_name = COALESCE($2, first_name), middle_initial = COALESCE($3, middle_initial),
			last_name = COALESCE($4, last_name), department = COALESCE($5, department), titles = COALESCE($6, titles),
			phone_number = COALESCE($7, phone_number), country = COALESCE($8, country), state = COALESCE($9, state),
			zip_code = COALESCE($10, zip_code), updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, q, id, p.FirstName, p.MiddleInitial, p.LastName, p.Department, p.Titles,
		p.PhoneNumber, p.Country, p.State, p.ZipCode))
}

// UpdatePassword replaces the password hash of the user.
func (r *Repository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SetResetToken stores a password reset token for the user.
func (r *Repository) SetResetToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET reset_token = $2, reset_expires_at = $3, updated_at = NOW() WHERE id = $1`,
		id, token, expiresAt)
	return err
}

// ResetPassword replaces the password of the user holding an unexpired reset token and
// clears the token. Returns false if no such user exists.
func (r *Repository) ResetPassword(ctx context.Context, token, passwordHash string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, reset_token = NULL, reset_expires_at = NULL, updated_at = NOW()
		WHERE reset_token = $1 AND reset_expires_at > $3`, token, passwordHash, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpiredIncomplete removes accounts whose verification window passed before the
// profile was completed. Returns the number of deleted rows.
func (r *Repository) DeleteExpiredIncomplete(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users
		WHERE profile_completed = FALSE AND verification_expires_at IS NOT NULL AND verification_expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// EnsureSuperAdmin creates the bootstrap super admin if no account exists for email.
func (r *Repository) EnsureSuperAdmin(ctx context.Context, email, passwordHash string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO users (email, password_hash, role, first_name, last_name, email_verified, profile_completed)
		VALUES (LOWER($1), $2, 'superAdmin', 'Super', 'Admin', TRUE, TRUE)
		ON CONFLICT ((LOWER(email))) DO NOTHING`, email, passwordHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
