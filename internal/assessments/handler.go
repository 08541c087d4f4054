package assessments

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsecheck/backend/internal/auth"
	"github.com/pulsecheck/backend/pkg/response"
)

// StartRequest is the body for POST /assessments/start.
type StartRequest struct {
	Stakeholder string `json:"stakeholder" binding:"required"`
}

// Handler handles assessment HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an assessments handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Start handles POST /assessments/start.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Start(c.Request.Context(), auth.IdentityFrom(c), req.Stakeholder)
	if err != nil {
		response.Error(c, err)
		return
	}
	started(c, res)
}

// Get handles GET /assessments/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := assessmentID(c)
	if !ok {
		return
	}
	detail, err := h.svc.Get(c.Request.Context(), id, auth.IdentityFrom(c).Owner())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, detail)
}

// Submit handles POST /assessments/:id/submit.
func (h *Handler) Submit(c *gin.Context) {
	id, ok := assessmentID(c)
	if !ok {
		return
	}
	sub, err := h.svc.Submit(c.Request.Context(), id, auth.IdentityFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "assessment submitted", "submitted_assessment": sub})
}

// StartEmployee handles POST /employee/assessments/start.
func (h *Handler) StartEmployee(c *gin.Context) {
	res, err := h.svc.StartEmployee(c.Request.Context(), auth.InviteSessionFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	started(c, res)
}

// SubmitEmployee handles POST /employee/assessments/:id/submit.
func (h *Handler) SubmitEmployee(c *gin.Context) {
	id, ok := assessmentID(c)
	if !ok {
		return
	}
	var req EmployeeDetails
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sub, err := h.svc.SubmitEmployee(c.Request.Context(), id, auth.InviteSessionFrom(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "assessment submitted", "submitted_assessment": sub})
}

func started(c *gin.Context, res *StartResult) {
	if res.Resumed {
		response.OK(c, res)
		return
	}
	response.Created(c, res)
}

func assessmentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid assessment id")
		return uuid.Nil, false
	}
	return id, true
}
