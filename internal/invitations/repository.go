package invitations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/database"
)

var (
	// ErrUserExists means an identity already holds the email.
	ErrUserExists = errors.New("user already registered")
	// ErrAlreadyInvited means an unused, unexpired invitation exists for the email.
	ErrAlreadyInvited = errors.New("already invited")
)

const invitationColumns = `i.id, i.email, i.role, i.org_name, i.invited_by, i.inviter_name, i.token, i.expired_at, i.used, i.created_at, i.updated_at`

// Repository handles invitation persistence.
type Repository struct {
	pool database.Pool
}

// NewRepository creates an invitations repository.
func NewRepository(pool database.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanInvitation(row pgx.Row, extra ...any) (*models.Invitation, error) {
	var inv models.Invitation
	var role string
	dest := append([]any{&inv.ID, &inv.Email, &role, &inv.OrgName, &inv.InvitedBy, &inv.InviterName, &inv.Token,
		&inv.ExpiredAt, &inv.Used, &inv.CreatedAt, &inv.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	inv.Role = models.Role(role)
	return &inv, nil
}

// CreateExclusive inserts inv unless the email already has an identity or an open invitation.
// Concurrent issues for the same email are serialized with a transaction-scoped advisory lock.
func (r *Repository) CreateExclusive(ctx context.Context, inv *models.Invitation, now time.Time) error {
	_, err := database.InTx(ctx, r.pool, func(tx pgx.Tx) (struct{}, error) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext(LOWER($1)))`, inv.Email); err != nil {
			return struct{}{}, err
		}
		var userExists, invited bool
		err := tx.QueryRow(ctx, `SELECT
				EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($1)),
				EXISTS (SELECT 1 FROM invitations WHERE LOWER(email) = LOWER($1) AND used = FALSE AND expired_at >= $2)`,
			inv.Email, now).Scan(&userExists, &invited)
		if err != nil {
			return struct{}{}, err
		}
		if userExists {
			return struct{}{}, ErrUserExists
		}
		if invited {
			return struct{}{}, ErrAlreadyInvited
		}
		const q = `INSERT INTO invitations (email, role, org_name, invited_by, inviter_name, token, expired_at)
			VALUES (LOWER($1), $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at`
		err = tx.QueryRow(ctx, q, inv.Email, string(inv.Role), inv.OrgName, inv.InvitedBy, inv.InviterName, inv.Token, inv.ExpiredAt).
			Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
		return struct{}{}, err
	})
	return err
}

// GetByID returns an invitation by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error) {
	return scanInvitation(r.pool.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations i WHERE i.id = $1`, id))
}

// GetByToken returns an invitation by its token.
func (r *Repository) GetByToken(ctx context.Context, token string) (*models.Invitation, error) {
	return scanInvitation(r.pool.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations i WHERE i.token = $1`, token))
}

// LatestByEmail returns the most recent invitation for email.
func (r *Repository) LatestByEmail(ctx context.Context, email string) (*models.Invitation, error) {
	return scanInvitation(r.pool.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations i
		WHERE LOWER(i.email) = LOWER($1) ORDER BY i.created_at DESC LIMIT 1`, email))
}

// ListByEmail returns every invitation for email, newest first.
func (r *Repository) ListByEmail(ctx context.Context, email string) ([]*models.Invitation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invitationColumns+` FROM invitations i
		WHERE LOWER(i.email) = LOWER($1) ORDER BY i.created_at DESC`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

// DeleteExpired removes the given invitations if they are still unused and expired at now.
// Returns the number of deleted rows.
func (r *Repository) DeleteExpired(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM invitations WHERE id = ANY($1) AND used = FALSE AND expired_at < $2`, ids, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AdminInvitationRow is the latest admin invitation for one email with its organization rollup.
type AdminInvitationRow struct {
	Invitation   *models.Invitation
	AdminOrgName string // org of the registered admin, if any
	TotalUsers   int
}

// ListAdminInvitations returns one row per distinct invited admin email, newest first.
func (r *Repository) ListAdminInvitations(ctx context.Context) ([]AdminInvitationRow, error) {
	const q = `SELECT * FROM (
			SELECT DISTINCT ON (LOWER(i.email)) ` + invitationColumns + `,
				COALESCE(u.org_name, '') AS admin_org,
				CASE WHEN COALESCE(NULLIF(u.org_name, ''), i.org_name) = '' THEN 0
					ELSE (SELECT COUNT(*) FROM invitations x WHERE x.org_name = COALESCE(NULLIF(u.org_name, ''), i.org_name))
				END AS total_users
			FROM invitations i
			LEFT JOIN users u ON LOWER(u.email) = LOWER(i.email) AND u.role = 'admin'
			WHERE i.role = 'admin'
			ORDER BY LOWER(i.email), i.created_at DESC
		) latest
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []AdminInvitationRow
	for rows.Next() {
		var row AdminInvitationRow
		var total int64
		inv, err := scanInvitation(rows, &row.AdminOrgName, &total)
		if err != nil {
			return nil, err
		}
		row.Invitation = inv
		row.TotalUsers = int(total)
		list = append(list, row)
	}
	return list, rows.Err()
}

// IssuedInvitationRow is an invitation with what is known about its invitee.
type IssuedInvitationRow struct {
	Invitation     *models.Invitation
	UserRegistered bool
	UserFirstName  string
	UserLastName   string
	Snapshot       *models.ProfileSnapshot // from the latest attempt bound to the invitation
}

// ListIssuedBy returns invitations issued by inviterID within orgName, newest first.
func (r *Repository) ListIssuedBy(ctx context.Context, inviterID uuid.UUID, orgName string) ([]IssuedInvitationRow, error) {
	const q = `SELECT ` + invitationColumns + `,
			u.id IS NOT NULL, COALESCE(u.first_name, ''), COALESCE(u.last_name, ''),
			(SELECT a.user_details FROM assessments a WHERE a.invitation_id = i.id ORDER BY a.created_at DESC LIMIT 1)
		FROM invitations i
		LEFT JOIN users u ON LOWER(u.email) = LOWER(i.email)
		WHERE i.invited_by = $1 AND i.org_name = $2
		ORDER BY i.created_at DESC`
	rows, err := r.pool.Query(ctx, q, inviterID, orgName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []IssuedInvitationRow
	for rows.Next() {
		row, err := scanIssued(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

func scanIssued(rows pgx.Row, extra ...any) (IssuedInvitationRow, error) {
	var row IssuedInvitationRow
	var details []byte
	dest := append([]any{&row.UserRegistered, &row.UserFirstName, &row.UserLastName, &details}, extra...)
	inv, err := scanInvitation(rows, dest...)
	if err != nil {
		return row, err
	}
	row.Invitation = inv
	if len(details) > 0 {
		var snap models.ProfileSnapshot
		if err := json.Unmarshal(details, &snap); err != nil {
			return row, fmt.Errorf("decode profile snapshot for invitation %s: %w", inv.ID, err)
		}
		row.Snapshot = &snap
	}
	return row, nil
}

// OrgMemberRow is an invitation into an organization with its invitee's assessment progress.
// Progress follows the registered identity when there is one, the invitation otherwise.
type OrgMemberRow struct {
	IssuedInvitationRow
	LastCompletedAt *time.Time
	HasOpen         bool
}

// ListOrgMembers returns every invitation into orgName, newest first.
func (r *Repository) ListOrgMembers(ctx context.Context, orgName string) ([]OrgMemberRow, error) {
	const q = `SELECT ` + invitationColumns + `,
			u.id IS NOT NULL, COALESCE(u.first_name, ''), COALESCE(u.last_name, ''),
			(SELECT a.user_details FROM assessments a WHERE a.invitation_id = i.id ORDER BY a.created_at DESC LIMIT 1),
			(SELECT MAX(a.submitted_at) FROM assessments a
				WHERE a.is_completed AND (a.user_id = u.id OR (u.id IS NULL AND a.invitation_id = i.id))),
			EXISTS (SELECT 1 FROM assessments a
				WHERE NOT a.is_completed AND (a.user_id = u.id OR (u.id IS NULL AND a.invitation_id = i.id)))
		FROM invitations i
		LEFT JOIN users u ON LOWER(u.email) = LOWER(i.email)
		WHERE i.org_name = $1
		ORDER BY i.created_at DESC`
	rows, err := r.pool.Query(ctx, q, orgName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []OrgMemberRow
	for rows.Next() {
		var row OrgMemberRow
		issued, err := scanIssued(rows, &row.LastCompletedAt, &row.HasOpen)
		if err != nil {
			return nil, err
		}
		row.IssuedInvitationRow = issued
		list = append(list, row)
	}
	return list, rows.Err()
}

// OrgAdminRow is the registered admin of an organization with their assessment progress.
type OrgAdminRow struct {
	ID               uuid.UUID
	Email            string
	FirstName        string
	LastName         string
	EmailVerified    bool
	ProfileCompleted bool
	CreatedAt        time.Time
	LastCompletedAt  *time.Time
	HasOpen          bool
}

// GetOrgAdmin returns the earliest admin account of orgName, or pgx.ErrNoRows.
func (r *Repository) GetOrgAdmin(ctx context.Context, orgName string) (*OrgAdminRow, error) {
	const q = `SELECT u.id, u.email, u.first_name, u.last_name, u.email_verified, u.profile_completed, u.created_at,
			(SELECT MAX(a.submitted_at) FROM assessments a WHERE a.user_id = u.id AND a.is_completed),
			EXISTS (SELECT 1 FROM assessments a WHERE a.user_id = u.id AND NOT a.is_completed)
		FROM users u
		WHERE u.org_name = $1 AND u.role = 'admin'
		ORDER BY u.created_at
		LIMIT 1`
	var a OrgAdminRow
	err := r.pool.QueryRow(ctx, q, orgName).Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.EmailVerified,
		&a.ProfileCompleted, &a.CreatedAt, &a.LastCompletedAt, &a.HasOpen)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
