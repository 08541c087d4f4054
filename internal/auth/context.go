package auth

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pulsecheck/backend/internal/models"
)

// Gin context keys set by the authentication middleware.
const (
	ContextUserID        = "user_id"
	ContextUserRole      = "user_role"
	ContextUserEmail     = "user_email"
	ContextUserOrg       = "user_org"
	ContextInviteSession = "invite_session"
)

// SetIdentity stores id in the gin context.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(ContextUserID, id.UserID)
	c.Set(ContextUserRole, string(id.Role))
	c.Set(ContextUserEmail, id.Email)
	c.Set(ContextUserOrg, id.OrgName)
}

// IdentityFrom returns the identity stored by SetIdentity. Handlers using it must run behind the JWT middleware.
func IdentityFrom(c *gin.Context) Identity {
	return Identity{
		UserID:  c.MustGet(ContextUserID).(uuid.UUID),
		Email:   c.GetString(ContextUserEmail),
		Role:    models.Role(c.GetString(ContextUserRole)),
		OrgName: c.GetString(ContextUserOrg),
	}
}

// InviteSessionFrom returns the invite-session claims stored by the invite-session middleware.
func InviteSessionFrom(c *gin.Context) *InviteSessionClaims {
	return c.MustGet(ContextInviteSession).(*InviteSessionClaims)
}
