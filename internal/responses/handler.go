package responses

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsecheck/backend/internal/auth"
	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/response"
)

// SaveRequest is the body for POST /responses.
type SaveRequest struct {
	AssessmentID uuid.UUID `json:"assessment_id" binding:"required"`
	Responses    []Answer  `json:"responses" binding:"required,min=1"`
}

// EmployeeSaveRequest is the body for POST /employee/assessments/:id/responses.
type EmployeeSaveRequest struct {
	Responses []Answer `json:"responses" binding:"required,min=1"`
}

// Handler handles response HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a responses handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Save handles POST /responses.
func (h *Handler) Save(c *gin.Context) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.save(c, req.AssessmentID, auth.IdentityFrom(c).Owner(), req.Responses)
}

// SaveEmployee handles POST /employee/assessments/:id/responses.
func (h *Handler) SaveEmployee(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid assessment id")
		return
	}
	var req EmployeeSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.save(c, id, models.OwnerInvitation(auth.InviteSessionFrom(c).InvitationID), req.Responses)
}

func (h *Handler) save(c *gin.Context, id uuid.UUID, owner models.Owner, answers []Answer) {
	saved, err := h.svc.Save(c.Request.Context(), id, owner, answers)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"responses": saved})
}

// List handles GET /assessments/:id/responses.
func (h *Handler) List(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid assessment id")
		return
	}
	list, err := h.svc.List(c.Request.Context(), id, auth.IdentityFrom(c).Owner())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"responses": list})
}
