package assessments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/internal/responses"
	"github.com/pulsecheck/backend/pkg/database"
)

var (
	// ErrAlreadyCompleted means another request completed the attempt first.
	ErrAlreadyCompleted = errors.New("assessment already completed")
	// ErrNoResponses means the attempt has no saved responses at completion time.
	ErrNoResponses = errors.New("assessment has no responses")
	// ErrInvitationUsed means the originating invitation was consumed before the submit committed.
	ErrInvitationUsed = errors.New("invitation already used")
)

const assessmentColumns = `id, stakeholder, user_id, employee_email, invitation_id, invited_by, org_name,
	user_details, is_completed, submitted_at, created_at, updated_at`

// Repository handles assessment and snapshot persistence.
type Repository struct {
	pool database.Pool
}

// NewRepository creates an assessments repository.
func NewRepository(pool database.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanAssessment(row pgx.Row) (*models.Assessment, error) {
	var a models.Assessment
	var stakeholder string
	var details []byte
	err := row.Scan(&a.ID, &stakeholder, &a.UserID, &a.EmployeeEmail, &a.InvitationID, &a.InvitedBy, &a.OrgName,
		&details, &a.IsCompleted, &a.SubmittedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Stakeholder = models.Stakeholder(stakeholder)
	if len(details) > 0 {
		var snap models.ProfileSnapshot
		if err := json.Unmarshal(details, &snap); err != nil {
			return nil, err
		}
		a.UserDetails = &snap
	}
	return &a, nil
}

func marshalDetails(s *models.ProfileSnapshot) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// GetByID returns an assessment by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Assessment, error) {
	return scanAssessment(r.pool.QueryRow(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, id))
}

// OpenForUser returns the identity's open attempt.
func (r *Repository) OpenForUser(ctx context.Context, userID uuid.UUID) (*models.Assessment, error) {
	return scanAssessment(r.pool.QueryRow(ctx, `SELECT `+assessmentColumns+` FROM assessments
		WHERE user_id = $1 AND NOT is_completed`, userID))
}

// OpenForInvitation returns the open anonymous attempt bound to an invitation.
func (r *Repository) OpenForInvitation(ctx context.Context, invitationID uuid.UUID) (*models.Assessment, error) {
	return scanAssessment(r.pool.QueryRow(ctx, `SELECT `+assessmentColumns+` FROM assessments
		WHERE invitation_id = $1 AND user_id IS NULL AND NOT is_completed`, invitationID))
}

// HasOpenForUser reports whether the identity has an attempt in progress.
func (r *Repository) HasOpenForUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assessments WHERE user_id = $1 AND NOT is_completed)`,
		userID).Scan(&ok)
	return ok, err
}

// LatestCompletedAt returns when the identity last completed an attempt, or nil.
func (r *Repository) LatestCompletedAt(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	var t *time.Time
	err := r.pool.QueryRow(ctx, `SELECT MAX(submitted_at) FROM assessments WHERE user_id = $1 AND is_completed`,
		userID).Scan(&t)
	return t, err
}

// CreateOpen inserts a draft unless one is already open for the same identity (or
// invitation, for anonymous attempts), in which case the existing draft is returned
// with created=false.
func (r *Repository) CreateOpen(ctx context.Context, a *models.Assessment) (out *models.Assessment, created bool, err error) {
	details, err := marshalDetails(a.UserDetails)
	if err != nil {
		return nil, false, err
	}
	const q = `INSERT INTO assessments (stakeholder, user_id, employee_email, invitation_id, invited_by, org_name, user_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING ` + assessmentColumns
	out, err = scanAssessment(r.pool.QueryRow(ctx, q, string(a.Stakeholder), a.UserID, a.EmployeeEmail,
		a.InvitationID, a.InvitedBy, a.OrgName, details))
	if err == nil {
		return out, true, nil
	}
	if !database.IsNoRows(err) {
		return nil, false, err
	}
	switch {
	case a.UserID != nil:
		out, err = r.OpenForUser(ctx, *a.UserID)
	case a.InvitationID != nil:
		out, err = r.OpenForInvitation(ctx, *a.InvitationID)
	default:
		return nil, false, errors.New("assessment has no owner")
	}
	return out, false, err
}

// CountResponses returns how many responses the attempt has.
func (r *Repository) CountResponses(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM responses WHERE assessment_id = $1`, id).Scan(&n)
	return n, err
}

// ListResponses returns the attempt's responses.
func (r *Repository) ListResponses(ctx context.Context, id uuid.UUID) ([]models.Response, error) {
	return responses.ListFor(ctx, r.pool, id)
}

// Completion describes how an attempt is closed.
type Completion struct {
	AssessmentID uuid.UUID
	SubmittedAt  time.Time
	// UserDetails replaces the attempt's profile snapshot when set.
	UserDetails *models.ProfileSnapshot
	// ConsumeInvitation marks this invitation used in the same transaction.
	ConsumeInvitation *uuid.UUID
}

// Complete closes an open attempt and writes its immutable snapshot in one
// transaction. The snapshot copies the responses as they are at commit time.
func (r *Repository) Complete(ctx context.Context, c Completion) (*models.SubmittedAssessment, error) {
	details, err := marshalDetails(c.UserDetails)
	if err != nil {
		return nil, err
	}
	return database.InTx(ctx, r.pool, func(tx pgx.Tx) (*models.SubmittedAssessment, error) {
		a, err := scanAssessment(tx.QueryRow(ctx, `UPDATE assessments
			SET is_completed = TRUE, submitted_at = $2, user_details = COALESCE($3::jsonb, user_details), updated_at = NOW()
			WHERE id = $1 AND NOT is_completed
			RETURNING `+assessmentColumns, c.AssessmentID, c.SubmittedAt, details))
		if database.IsNoRows(err) {
			return nil, ErrAlreadyCompleted
		}
		if err != nil {
			return nil, err
		}

		list, err := responses.ListFor(ctx, tx, a.ID)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, ErrNoResponses
		}

		if c.ConsumeInvitation != nil {
			tag, err := tx.Exec(ctx, `UPDATE invitations SET used = TRUE, updated_at = NOW() WHERE id = $1 AND used = FALSE`,
				*c.ConsumeInvitation)
			if err != nil {
				return nil, err
			}
			if tag.RowsAffected() == 0 {
				return nil, ErrInvitationUsed
			}
		}

		snap := &models.SubmittedAssessment{
			AssessmentID: a.ID,
			Stakeholder:  a.Stakeholder,
			UserID:       a.UserID,
			InvitationID: a.InvitationID,
			OrgName:      a.OrgName,
			UserDetails:  a.UserDetails,
			Responses:    list,
			SubmittedAt:  c.SubmittedAt,
		}
		payload, err := json.Marshal(list)
		if err != nil {
			return nil, err
		}
		snapDetails, err := marshalDetails(a.UserDetails)
		if err != nil {
			return nil, err
		}
		err = tx.QueryRow(ctx, `INSERT INTO submitted_assessments
				(assessment_id, stakeholder, user_id, invitation_id, org_name, user_details, responses, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (assessment_id) DO NOTHING
			RETURNING id, created_at`,
			a.ID, string(a.Stakeholder), a.UserID, a.InvitationID, a.OrgName, snapDetails, payload, c.SubmittedAt).
			Scan(&snap.ID, &snap.CreatedAt)
		if database.IsNoRows(err) {
			return nil, ErrAlreadyCompleted
		}
		if err != nil {
			return nil, err
		}
		return snap, nil
	})
}

// GetSubmitted returns the snapshot written for an assessment.
func (r *Repository) GetSubmitted(ctx context.Context, assessmentID uuid.UUID) (*models.SubmittedAssessment, error) {
	var s models.SubmittedAssessment
	var stakeholder string
	var details, payload []byte
	err := r.pool.QueryRow(ctx, `SELECT id, assessment_id, stakeholder, user_id, invitation_id, org_name, user_details,
			responses, submitted_at, created_at
		FROM submitted_assessments WHERE assessment_id = $1`, assessmentID).
		Scan(&s.ID, &s.AssessmentID, &stakeholder, &s.UserID, &s.InvitationID, &s.OrgName, &details,
			&payload, &s.SubmittedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Stakeholder = models.Stakeholder(stakeholder)
	if len(details) > 0 {
		s.UserDetails = &models.ProfileSnapshot{}
		if err := json.Unmarshal(details, s.UserDetails); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal(payload, &s.Responses); err != nil {
		return nil, err
	}
	return &s, nil
}
