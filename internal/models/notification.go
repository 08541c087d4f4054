package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification types.
const (
	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"
)

// Notification is an in-app message addressed to one user.
type Notification struct {
	ID          uuid.UUID `json:"id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Type        string    `json:"type"`
	Link        *string   `json:"link"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Audience selects who receives a notification event.
type Audience string

const (
	AudienceUser        Audience = "user"
	AudienceSuperAdmins Audience = "super_admins"
	AudienceOrgStaff    Audience = "org_staff"
)

// NotificationEvent is a request to notify an audience. Fan-out happens asynchronously;
// the excluded actor (if any) never receives its own event.
type NotificationEvent struct {
	Audience    Audience   `json:"audience"`
	RecipientID *uuid.UUID `json:"recipient_id,omitempty"`
	OrgName     string     `json:"org_name,omitempty"`
	ExcludeID   *uuid.UUID `json:"exclude_id,omitempty"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Type        string     `json:"type"`
	Link        *string    `json:"link,omitempty"`
}

// NotifyUser addresses a single recipient.
func NotifyUser(recipient uuid.UUID, title, message, typ string) NotificationEvent {
	return NotificationEvent{Audience: AudienceUser, RecipientID: &recipient, Title: title, Message: message, Type: typ}
}

// NotifySuperAdmins addresses every super admin except exclude.
func NotifySuperAdmins(exclude *uuid.UUID, title, message, typ string) NotificationEvent {
	return NotificationEvent{Audience: AudienceSuperAdmins, ExcludeID: exclude, Title: title, Message: message, Type: typ}
}

// NotifyOrgStaff addresses admins, leaders and managers of orgName except exclude.
func NotifyOrgStaff(orgName string, exclude *uuid.UUID, title, message, typ string) NotificationEvent {
	return NotificationEvent{Audience: AudienceOrgStaff, OrgName: orgName, ExcludeID: exclude, Title: title, Message: message, Type: typ}
}

// WithLink returns a copy of e pointing at link.
func (e NotificationEvent) WithLink(link string) NotificationEvent {
	e.Link = &link
	return e
}
