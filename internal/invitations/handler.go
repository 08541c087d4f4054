package invitations

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulsecheck/backend/internal/auth"
	"github.com/pulsecheck/backend/pkg/apperr"
	"github.com/pulsecheck/backend/pkg/response"
)

// IssueRequest is the body for POST /invitations.
type IssueRequest struct {
	Email   string `json:"email" binding:"required,email"`
	Role    string `json:"role" binding:"required"`
	OrgName string `json:"org_name"`
}

// BulkRequest is the body for POST /invitations/bulk.
type BulkRequest struct {
	OrgName string    `json:"org_name"`
	Rows    []BulkRow `json:"rows" binding:"required,min=1,max=500,dive"`
}

// Handler handles invitation HTTP endpoints.
type Handler struct {
	svc         *Service
	frontendURL string
	logger      *zap.Logger
}

// NewHandler creates an invitations handler. frontendURL is where browsers are sent after accepting.
func NewHandler(svc *Service, frontendURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, frontendURL: frontendURL, logger: logger}
}

// Issue handles POST /invitations.
func (h *Handler) Issue(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	inv, err := h.svc.Issue(c.Request.Context(), auth.IdentityFrom(c), IssueInput{Email: req.Email, Role: req.Role, OrgName: req.OrgName})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{
		"message":    "invitation sent",
		"invitation": inv,
	})
}

// IssueBulk handles POST /invitations/bulk.
func (h *Handler) IssueBulk(c *gin.Context) {
	var req BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.IssueBulk(c.Request.Context(), auth.IdentityFrom(c), req.OrgName, req.Rows)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// List handles GET /invitations.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), auth.IdentityFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Delete handles DELETE /invitations/:id. The parameter may be an invitation id or an email.
func (h *Handler) Delete(c *gin.Context) {
	n, err := h.svc.Delete(c.Request.Context(), auth.IdentityFrom(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "expired invitation deleted", "deleted": n})
}

// OrgDetails handles GET /organizations/:orgName.
func (h *Handler) OrgDetails(c *gin.Context) {
	details, err := h.svc.OrgDetails(c.Request.Context(), auth.IdentityFrom(c), c.Param("orgName"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, details)
}

// Accept handles GET /auth/invite/:token. API clients get JSON; browsers following the
// mailed link are redirected to the frontend with the session or an error code.
func (h *Handler) Accept(c *gin.Context) {
	res, err := h.svc.Accept(c.Request.Context(), c.Param("token"))
	if !wantsRedirect(c) {
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, res)
		return
	}
	if err != nil {
		h.logger.Info("invitation link rejected", zap.String("kind", string(apperr.KindOf(err))))
		c.Redirect(http.StatusFound, h.frontendURL+"/login?error="+redirectError(err))
		return
	}
	path := "/register"
	if res.Next == NextAssessment {
		path = "/employee-assessment"
	}
	c.Redirect(http.StatusFound, h.frontendURL+path+"?session="+url.QueryEscape(res.SessionToken))
}

func wantsRedirect(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}

func redirectError(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindGone:
		return "already_used"
	case apperr.KindExpired:
		return "expired_token"
	default:
		return "invalid_token"
	}
}
