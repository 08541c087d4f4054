package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pulsecheck/backend/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Token purposes. A token signed for one purpose never validates for another.
const (
	PurposeSession       = "session"
	PurposeInvitation    = "invitation"
	PurposeInviteSession = "invite"
)

// Claims holds session JWT claims.
type Claims struct {
	UserID  uuid.UUID `json:"user_id"`
	Email   string    `json:"email"`
	Role    string    `json:"role"`
	OrgName string    `json:"org_name,omitempty"`
	Purpose string    `json:"purpose"`
	jwt.RegisteredClaims
}

// Identity returns the authenticated principal carried by the claims.
func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email, Role: models.Role(c.Role), OrgName: c.OrgName}
}

// InvitationClaims are embedded in the token mailed to an invitee.
type InvitationClaims struct {
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	InviterID   uuid.UUID `json:"inviter_id"`
	InviterName string    `json:"inviter_name"`
	OrgName     string    `json:"org_name"`
	Purpose     string    `json:"purpose"`
	jwt.RegisteredClaims
}

// InviteSessionClaims scope a short-lived session to one accepted invitation.
type InviteSessionClaims struct {
	InvitationID uuid.UUID `json:"invitation_id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	OrgName      string    `json:"org_name"`
	Purpose      string    `json:"purpose"`
	jwt.RegisteredClaims
}

// JWTService handles token generation and validation.
type JWTService struct {
	secret []byte
	expire time.Duration
	now    func() time.Time
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		expire: time.Duration(expireHours) * time.Hour,
		now:    time.Now,
	}
}

// WithClock replaces the time source used for issuing and validating tokens.
func (s *JWTService) WithClock(now func() time.Time) *JWTService {
	s.now = now
	return s
}

func (s *JWTService) registered(expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ID:        uuid.New().String(),
	}
}

func (s *JWTService) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTService) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// Generate creates a new session JWT for the user.
func (s *JWTService) Generate(userID uuid.UUID, email string, role models.Role, orgName string) (string, error) {
	return s.sign(Claims{
		UserID:           userID,
		Email:            email,
		Role:             string(role),
		OrgName:          orgName,
		Purpose:          PurposeSession,
		RegisteredClaims: s.registered(s.now().Add(s.expire)),
	})
}

// Validate parses and validates a session JWT, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeSession || claims.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignInvitation mints the token mailed to an invitee. It expires at expiresAt.
func (s *JWTService) SignInvitation(c InvitationClaims, expiresAt time.Time) (string, error) {
	c.Purpose = PurposeInvitation
	c.RegisteredClaims = s.registered(expiresAt)
	return s.sign(c)
}

// ParseInvitation verifies an invitation token and validates its claim schema:
// a non-empty email and an invitable role.
func (s *JWTService) ParseInvitation(tokenString string) (*InvitationClaims, error) {
	claims := &InvitationClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeInvitation || strings.TrimSpace(claims.Email) == "" {
		return nil, ErrInvalidToken
	}
	role, ok := models.ParseRole(claims.Role)
	if !ok || role == models.RoleSuperAdmin {
		return nil, ErrInvalidToken
	}
	claims.Role = string(role)
	return claims, nil
}

// SignInviteSession issues the artifact returned by invitation acceptance.
func (s *JWTService) SignInviteSession(inv *models.Invitation, ttl time.Duration) (string, error) {
	return s.sign(InviteSessionClaims{
		InvitationID:     inv.ID,
		Email:            inv.Email,
		Role:             string(inv.Role),
		OrgName:          inv.OrgName,
		Purpose:          PurposeInviteSession,
		RegisteredClaims: s.registered(s.now().Add(ttl)),
	})
}

// ValidateInviteSession parses an invite-session token.
func (s *JWTService) ValidateInviteSession(tokenString string) (*InviteSessionClaims, error) {
	claims := &InviteSessionClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeInviteSession || claims.InvitationID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
