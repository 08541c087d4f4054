package auth

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/response"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// CompleteProfileRequest is the body for POST /auth/complete-profile.
type CompleteProfileRequest struct {
	Token         string `json:"token" binding:"required"`
	FirstName     string `json:"first_name" binding:"required"`
	MiddleInitial string `json:"middle_initial"`
	LastName      string `json:"last_name" binding:"required"`
	Department    string `json:"department"`
	Titles        string `json:"titles"`
	PhoneNumber   string `json:"phone_number"`
	Country       string `json:"country"`
	State         string `json:"state"`
	ZipCode       string `json:"zip_code"`
	OrgName       string `json:"org_name"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// ForgotPasswordRequest is the body for POST /auth/forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ResetPasswordRequest is the body for POST /auth/reset-password.
type ResetPasswordRequest struct {
	Token           string `json:"token" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// ResendVerificationRequest is the body for POST /auth/resend-verification-email.
type ResendVerificationRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ChangePasswordRequest is the body for POST /auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// UpdateProfileRequest is the body for PATCH /auth/update-profile. Omitted fields are unchanged.
type UpdateProfileRequest struct {
	FirstName     *string `json:"first_name"`
	MiddleInitial *string `json:"middle_initial"`
	LastName      *string `json:"last_name"`
	Department    *string `json:"department"`
	Titles        *string `json:"titles"`
	PhoneNumber   *string `json:"phone_number"`
	Country       *string `json:"country"`
	State         *string `json:"state"`
	ZipCode       *string `json:"zip_code"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register handles POST /auth/register. Requires an invite session (see middleware.InviteSession).
func (h *Handler) Register(c *gin.Context) {
	session := InviteSessionFrom(c)
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	user, err := h.svc.Register(c.Request.Context(), session, RegisterInput{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{
		"message": "verification email sent",
		"user":    user.ToPublic(),
	})
}

// VerifyEmail handles GET /auth/verify-email/:token.
func (h *Handler) VerifyEmail(c *gin.Context) {
	user, err := h.svc.VerifyEmail(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"message":           "email verified",
		"profile_completed": user.ProfileCompleted,
	})
}

// CompleteProfile handles POST /auth/complete-profile.
func (h *Handler) CompleteProfile(c *gin.Context) {
	var req CompleteProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	user, err := h.svc.CompleteProfile(c.Request.Context(), req.Token, ProfileInput{
		FirstName:     req.FirstName,
		MiddleInitial: req.MiddleInitial,
		LastName:      req.LastName,
		Department:    req.Department,
		Titles:        req.Titles,
		PhoneNumber:   req.PhoneNumber,
		Country:       req.Country,
		State:         req.State,
		ZipCode:       req.ZipCode,
		OrgName:       req.OrgName,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, user.ToPublic())
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	token, user, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// ForgotPassword handles POST /auth/forgot-password. The reply never reveals whether the email exists.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.svc.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "if the account exists, a reset link has been sent"})
}

// ResetPassword handles POST /auth/reset-password.
func (h *Handler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.svc.ResetPassword(c.Request.Context(), req.Token, req.Password, req.ConfirmPassword); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "password updated"})
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	res, err := h.svc.Me(c.Request.Context(), IdentityFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// ResendVerification handles POST /auth/resend-verification-email.
func (h *Handler) ResendVerification(c *gin.Context) {
	var req ResendVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.svc.ResendVerification(c.Request.Context(), req.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "if the account is pending verification, a new link has been sent"})
}

// ChangePassword handles POST /auth/change-password.
func (h *Handler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	err := h.svc.ChangePassword(c.Request.Context(), IdentityFrom(c), req.CurrentPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "password updated"})
}

// MyProfile handles GET /auth/my-profile.
func (h *Handler) MyProfile(c *gin.Context) {
	profile, err := h.svc.Profile(c.Request.Context(), IdentityFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, profile)
}

// UpdateProfile handles PATCH /auth/update-profile.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	profile, err := h.svc.UpdateProfile(c.Request.Context(), IdentityFrom(c), ProfileUpdate(req))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, profile)
}
