package auth

import (
	"github.com/google/uuid"

	"github.com/pulsecheck/backend/internal/models"
)

// Identity is the authenticated principal of a session.
type Identity struct {
	UserID  uuid.UUID
	Email   string
	Role    models.Role
	OrgName string
}

// Owner returns the assessment owner for the identity.
func (i Identity) Owner() models.Owner {
	return models.OwnerUser(i.UserID)
}
