package models

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Role represents a user role in the platform.
type Role string

const (
	RoleSuperAdmin Role = "superAdmin"
	RoleAdmin      Role = "admin"
	RoleLeader     Role = "leader"
	RoleManager    Role = "manager"
	RoleEmployee   Role = "employee"
)

var roles = []Role{RoleSuperAdmin, RoleAdmin, RoleLeader, RoleManager, RoleEmployee}

// ParseRole returns the canonical Role for s (case-insensitive). Unknown values are rejected.
func ParseRole(s string) (Role, bool) {
	s = strings.TrimSpace(s)
	for _, r := range roles {
		if strings.EqualFold(s, string(r)) {
			return r, true
		}
	}
	return "", false
}

// CanInvite reports whether a user holding r may invite someone into target.
// Super admins may only invite organization admins; admins only their subordinates.
func (r Role) CanInvite(target Role) bool {
	switch r {
	case RoleSuperAdmin:
		return target == RoleAdmin
	case RoleAdmin:
		return target == RoleLeader || target == RoleManager || target == RoleEmployee
	default:
		return false
	}
}

// InvitableRoles lists the roles r may grant.
func (r Role) InvitableRoles() []Role {
	var out []Role
	for _, t := range roles {
		if r.CanInvite(t) {
			out = append(out, t)
		}
	}
	return out
}

// IsOrgStaff reports whether r receives organization-level notifications.
func (r Role) IsOrgStaff() bool {
	return r == RoleAdmin || r == RoleLeader || r == RoleManager
}

// NotificationPreferences controls delivery channels. In-app defaults on, email defaults off.
type NotificationPreferences struct {
	System bool `json:"system"`
	Email  bool `json:"email"`
}

// User represents a platform identity.
type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	Password      string     `json:"-"`
	Role          Role       `json:"role,omitempty"`
	OrgName       string     `json:"org_name,omitempty"`
	InvitedBy     *uuid.UUID `json:"invited_by,omitempty"`
	InvitationID  *uuid.UUID `json:"-"`
	FirstName     string     `json:"first_name"`
	MiddleInitial string     `json:"middle_initial"`
	LastName      string     `json:"last_name"`
	Department    string     `json:"department"`
	Titles        string     `json:"titles"`
	PhoneNumber   string     `json:"phone_number"`
	Country       string     `json:"country"`
	State         string     `json:"state"`
	ZipCode       string     `json:"zip_code"`

	EmailVerified    bool `json:"email_verified"`
	ProfileCompleted bool `json:"profile_completed"`

	VerificationToken     string     `json:"-"`
	VerificationExpiresAt *time.Time `json:"-"`
	ResetToken            string     `json:"-"`
	ResetExpiresAt        *time.Time `json:"-"`

	NotifySystem *bool `json:"-"`
	NotifyEmail  *bool `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Preferences returns the effective notification preferences with defaults applied.
func (u *User) Preferences() NotificationPreferences {
	p := NotificationPreferences{System: true, Email: false}
	if u.NotifySystem != nil {
		p.System = *u.NotifySystem
	}
	if u.NotifyEmail != nil {
		p.Email = *u.NotifyEmail
	}
	return p
}

// DisplayName joins first and last name.
func (u *User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// CanAuthenticate reports whether both account gates are open.
func (u *User) CanAuthenticate() bool {
	return u.EmailVerified && u.ProfileCompleted
}

// ProfileSnapshot is the sanitized respondent profile frozen onto an assessment.
type ProfileSnapshot struct {
	UserID     *uuid.UUID `json:"id,omitempty"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Email      string     `json:"email"`
	Department string     `json:"department"`
	Role       Role       `json:"role,omitempty"`
}

// DisplayName joins first and last name.
func (s ProfileSnapshot) DisplayName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// Snapshot strips credentials and internal fields from u.
func (u *User) Snapshot() ProfileSnapshot {
	id := u.ID
	return ProfileSnapshot{
		UserID:     &id,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Email:      u.Email,
		Department: u.Department,
		Role:       u.Role,
	}
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID               uuid.UUID               `json:"id"`
	Email            string                  `json:"email"`
	FirstName        string                  `json:"first_name"`
	MiddleInitial    string                  `json:"middle_initial"`
	LastName         string                  `json:"last_name"`
	Role             Role                    `json:"role"`
	OrgName          string                  `json:"org_name"`
	Department       string                  `json:"department"`
	Titles           string                  `json:"titles"`
	PhoneNumber      string                  `json:"phone_number"`
	Country          string                  `json:"country"`
	State            string                  `json:"state"`
	ZipCode          string                  `json:"zip_code"`
	ProfileCompleted bool                    `json:"profile_completed"`
	Preferences      NotificationPreferences `json:"notification_preferences"`
	CreatedAt        time.Time               `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:               u.ID,
		Email:            u.Email,
		FirstName:        u.FirstName,
		MiddleInitial:    u.MiddleInitial,
		LastName:         u.LastName,
		Role:             u.Role,
		OrgName:          u.OrgName,
		Department:       u.Department,
		Titles:           u.Titles,
		PhoneNumber:      u.PhoneNumber,
		Country:          u.Country,
		State:            u.State,
		ZipCode:          u.ZipCode,
		ProfileCompleted: u.ProfileCompleted,
		Preferences:      u.Preferences(),
		CreatedAt:        u.CreatedAt,
	}
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MaxOrgNameLength bounds organization names.
const MaxOrgNameLength = 120

// NormalizeOrgName trims name and rejects control characters and overlong names.
// Organization names end up in email subjects.
func NormalizeOrgName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxOrgNameLength {
		return "", false
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", false
		}
	}
	return name, true
}
