package notifications

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pulsecheck/backend/internal/auth"
	"github.com/pulsecheck/backend/pkg/response"
)

// PreferencesRequest is the body for PUT /notifications/preferences. Omitted flags are left unchanged.
type PreferencesRequest struct {
	System *bool `json:"system"`
	Email  *bool `json:"email"`
}

// Handler handles notification HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a notifications handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// List handles GET /notifications.
func (h *Handler) List(c *gin.Context) {
	inbox, err := h.svc.List(c.Request.Context(), auth.IdentityFrom(c).UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, inbox)
}

// MarkRead handles PATCH /notifications/:id/read.
func (h *Handler) MarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}
	if err := h.svc.MarkRead(c.Request.Context(), auth.IdentityFrom(c).UserID, id); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "marked as read"})
}

// MarkAllRead handles PATCH /notifications/read-all.
func (h *Handler) MarkAllRead(c *gin.Context) {
	n, err := h.svc.MarkAllRead(c.Request.Context(), auth.IdentityFrom(c).UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "all marked as read", "updated": n})
}

// Clear handles DELETE /notifications.
func (h *Handler) Clear(c *gin.Context) {
	n, err := h.svc.Clear(c.Request.Context(), auth.IdentityFrom(c).UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "notifications cleared", "deleted": n})
}

// UpdatePreferences handles PUT /notifications/preferences.
func (h *Handler) UpdatePreferences(c *gin.Context) {
	var req PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	prefs, err := h.svc.UpdatePreferences(c.Request.Context(), auth.IdentityFrom(c).UserID, req.System, req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "notification preferences updated", "preferences": prefs})
}
