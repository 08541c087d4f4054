package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stakeholder is the respondent category of an assessment attempt.
type Stakeholder string

const (
	StakeholderLeader   Stakeholder = "leader"
	StakeholderManager  Stakeholder = "manager"
	StakeholderEmployee Stakeholder = "employee"
	StakeholderSelf     Stakeholder = "self"
)

// ParseStakeholder returns the canonical Stakeholder for s (case-insensitive).
func ParseStakeholder(s string) (Stakeholder, bool) {
	switch Stakeholder(strings.ToLower(strings.TrimSpace(s))) {
	case StakeholderLeader:
		return StakeholderLeader, true
	case StakeholderManager:
		return StakeholderManager, true
	case StakeholderEmployee:
		return StakeholderEmployee, true
	case StakeholderSelf:
		return StakeholderSelf, true
	}
	return "", false
}

// AssessmentState is the lifecycle state of an attempt.
type AssessmentState string

const (
	AssessmentDraft     AssessmentState = "DRAFT"
	AssessmentCompleted AssessmentState = "COMPLETED"
)

// Assessment is one survey attempt. Once completed it is immutable.
type Assessment struct {
	ID            uuid.UUID        `json:"id"`
	Stakeholder   Stakeholder      `json:"stakeholder"`
	UserID        *uuid.UUID       `json:"user_id,omitempty"`
	EmployeeEmail string           `json:"employee_email,omitempty"`
	InvitationID  *uuid.UUID       `json:"invitation_id,omitempty"`
	InvitedBy     *uuid.UUID       `json:"invited_by,omitempty"`
	OrgName       string           `json:"org_name,omitempty"`
	UserDetails   *ProfileSnapshot `json:"user_details,omitempty"`
	IsCompleted   bool             `json:"is_completed"`
	SubmittedAt   *time.Time       `json:"submitted_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// State returns the lifecycle state.
func (a *Assessment) State() AssessmentState {
	if a.IsCompleted {
		return AssessmentCompleted
	}
	return AssessmentDraft
}

// OwnedBy reports whether the attempt is bound to userID.
func (a *Assessment) OwnedBy(userID uuid.UUID) bool {
	return a.UserID != nil && *a.UserID == userID
}

// BoundTo reports whether the attempt belongs to the invitation.
func (a *Assessment) BoundTo(invitationID uuid.UUID) bool {
	return a.InvitationID != nil && *a.InvitationID == invitationID
}

// SubmittedAssessment is the immutable snapshot written when an attempt completes.
type SubmittedAssessment struct {
	ID           uuid.UUID        `json:"id"`
	AssessmentID uuid.UUID        `json:"assessment_id"`
	Stakeholder  Stakeholder      `json:"stakeholder"`
	UserID       *uuid.UUID       `json:"user_id,omitempty"`
	InvitationID *uuid.UUID       `json:"invitation_id,omitempty"`
	OrgName      string           `json:"org_name,omitempty"`
	UserDetails  *ProfileSnapshot `json:"user_details,omitempty"`
	Responses    []Response       `json:"responses"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Owner identifies who may act on an attempt: a signed-in identity, or an
// invitation holder for anonymous attempts.
type Owner struct {
	UserID       *uuid.UUID
	InvitationID *uuid.UUID
}

// OwnerUser returns an Owner for a signed-in identity.
func OwnerUser(id uuid.UUID) Owner { return Owner{UserID: &id} }

// OwnerInvitation returns an Owner for an invitation holder.
func OwnerInvitation(id uuid.UUID) Owner { return Owner{InvitationID: &id} }

// IsOwnedBy reports whether o may act on a.
func (a *Assessment) IsOwnedBy(o Owner) bool {
	switch {
	case o.UserID != nil:
		return a.OwnedBy(*o.UserID)
	case o.InvitationID != nil:
		return a.UserID == nil && a.BoundTo(*o.InvitationID)
	default:
		return false
	}
}
