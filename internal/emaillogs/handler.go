package emaillogs

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/response"
)

// Handler handles email log HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates an email logs handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ParseFilter reads ?recipient=&status=&limit= from the query string.
func ParseFilter(c *gin.Context) (Filter, bool) {
	f := Filter{Recipient: c.Query("recipient"), Status: c.Query("status")}
	switch f.Status {
	case "", models.EmailLogStatusPending, models.EmailLogStatusSent, models.EmailLogStatusFailed:
	default:
		return f, false
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return f, false
		}
		f.Limit = n
	}
	return f, true
}

// List handles GET /email-logs. Call after RequireRole(superAdmin).
func (h *Handler) List(c *gin.Context) {
	f, ok := ParseFilter(c)
	if !ok {
		response.BadRequest(c, "invalid filter")
		return
	}
	logs, err := h.repo.List(c.Request.Context(), f)
	if err != nil {
		response.Internal(c, "failed to load email logs")
		return
	}
	response.OK(c, logs)
}
