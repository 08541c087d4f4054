package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/pulsecheck/backend/internal/auth"
	"github.com/pulsecheck/backend/pkg/response"
)

// HeaderInviteSession carries the artifact returned by invitation acceptance.
const HeaderInviteSession = "X-Invite-Session"

// InviteSession validates the invite-session header and stores its claims in context.
func InviteSession(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(HeaderInviteSession)
		if token == "" {
			response.Unauthorized(c, "missing invitation session")
			c.Abort()
			return
		}
		claims, err := jwtService.ValidateInviteSession(token)
		if err != nil {
			msg := "invalid invitation session"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "invitation session expired"
			}
			response.Unauthorized(c, msg)
			c.Abort()
			return
		}
		c.Set(auth.ContextInviteSession, claims)
		c.Next()
	}
}
