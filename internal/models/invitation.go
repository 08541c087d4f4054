package models

import (
	"time"

	"github.com/google/uuid"
)

// InvitationStatus is derived from (used, expired_at) at read time; it is never stored.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "Pending"
	InvitationAccepted InvitationStatus = "Accepted"
	InvitationExpired  InvitationStatus = "Expired"
)

// DeriveInvitationStatus classifies an invitation. Exactly one status holds for any input.
func DeriveInvitationStatus(used bool, expiredAt, now time.Time) InvitationStatus {
	switch {
	case used:
		return InvitationAccepted
	case now.After(expiredAt):
		return InvitationExpired
	default:
		return InvitationPending
	}
}

// Invitation is an open offer to join an organization under a role.
type Invitation struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
	OrgName     string    `json:"org_name"`
	InvitedBy   uuid.UUID `json:"invited_by"`
	InviterName string    `json:"inviter_name"`
	Token       string    `json:"-"`
	ExpiredAt   time.Time `json:"expired_at"`
	Used        bool      `json:"used"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Status derives the invitation status at now.
func (i *Invitation) Status(now time.Time) InvitationStatus {
	return DeriveInvitationStatus(i.Used, i.ExpiredAt, now)
}
