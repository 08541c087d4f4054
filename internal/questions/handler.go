package questions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/database"
	"github.com/pulsecheck/backend/pkg/response"
)

// CreateRequest is the body for POST /questions.
type CreateRequest struct {
	Code              string  `json:"question_code" binding:"required"`
	Stem              string  `json:"question_stem" binding:"required"`
	Stakeholder       string  `json:"stakeholder" binding:"required"`
	Domain            string  `json:"domain"`
	Subdomain         string  `json:"subdomain"`
	QuestionType      string  `json:"question_type"`
	Scale             string  `json:"scale" binding:"required"`
	OptionA           string  `json:"option_a"`
	OptionB           string  `json:"option_b"`
	HigherValueOption string  `json:"higher_value_option"`
	SubdomainWeight   float64 `json:"subdomain_weight"`
}

// Question converts the request into a catalog entry, validating scale-specific fields.
func (req CreateRequest) Question() (*models.Question, error) {
	q := &models.Question{
		Code:              strings.TrimSpace(req.Code),
		Stem:              strings.TrimSpace(req.Stem),
		Stakeholder:       strings.ToLower(strings.TrimSpace(req.Stakeholder)),
		Domain:            req.Domain,
		Subdomain:         req.Subdomain,
		QuestionType:      req.QuestionType,
		Scale:             models.Scale(strings.ToUpper(strings.TrimSpace(req.Scale))),
		SubdomainWeight:   req.SubdomainWeight,
		OptionA:           strings.TrimSpace(req.OptionA),
		OptionB:           strings.TrimSpace(req.OptionB),
		HigherValueOption: strings.TrimSpace(req.HigherValueOption),
	}
	if _, ok := models.ParseStakeholder(q.Stakeholder); !ok {
		return nil, errors.New("unknown stakeholder")
	}
	if q.SubdomainWeight == 0 {
		q.SubdomainWeight = 1
	}
	switch q.Scale {
	case models.ScaleNumeric:
		q.OptionA, q.OptionB, q.HigherValueOption = "", "", ""
	case models.ScaleForcedChoice:
		if q.OptionA == "" || q.OptionB == "" || q.OptionA == q.OptionB {
			return nil, errors.New("forced choice questions need two distinct options")
		}
		if q.HigherValueOption != q.OptionA && q.HigherValueOption != q.OptionB {
			return nil, errors.New("higher_value_option must be option_a or option_b")
		}
	default:
		return nil, errors.New("unknown scale")
	}
	return q, nil
}

// CreateManyRequest is the body for POST /questions/multiple.
type CreateManyRequest struct {
	Questions []CreateRequest `json:"questions" binding:"required,min=1,max=200,dive"`
}

// Store is the catalog persistence used by the handler.
type Store interface {
	ListByStakeholder(ctx context.Context, stakeholder string) ([]*models.Question, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error)
	Create(ctx context.Context, q *models.Question) error
	CreateMany(ctx context.Context, qs []*models.Question) error
	Update(ctx context.Context, id uuid.UUID, q *models.Question) (*models.Question, error)
	SoftDelete(ctx context.Context, id uuid.UUID) (bool, error)
}

// Handler handles question catalog endpoints.
type Handler struct {
	repo   Store
	logger *zap.Logger
}

// NewHandler creates a questions handler.
func NewHandler(repo Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /questions?stakeholder=.
func (h *Handler) List(c *gin.Context) {
	stakeholder := c.Query("stakeholder")
	if stakeholder != "" {
		if _, ok := models.ParseStakeholder(stakeholder); !ok {
			response.BadRequest(c, "invalid stakeholder")
			return
		}
	}
	list, err := h.repo.ListByStakeholder(c.Request.Context(), stakeholder)
	if err != nil {
		h.logger.Error("list questions failed", zap.Error(err))
		response.Internal(c, "failed to list questions")
		return
	}
	if list == nil {
		list = []*models.Question{}
	}
	response.OK(c, gin.H{"questions": list})
}

// Get handles GET /questions/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	q, err := h.repo.GetByID(c.Request.Context(), id)
	if database.IsNoRows(err) {
		response.NotFound(c, "question not found")
		return
	}
	if err != nil {
		h.logger.Error("get question failed", zap.Error(err))
		response.Internal(c, "failed to load question")
		return
	}
	response.OK(c, q)
}

// Create handles POST /questions (super admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q, err := req.Question()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.repo.Create(c.Request.Context(), q); err != nil {
		if database.IsUniqueViolation(err) {
			response.BadRequest(c, "question_code already exists")
			return
		}
		h.logger.Error("create question failed", zap.Error(err))
		response.Internal(c, "failed to create question")
		return
	}
	response.Created(c, q)
}

// CreateMany handles POST /questions/multiple (super admin). The batch is stored atomically.
func (h *Handler) CreateMany(c *gin.Context) {
	var req CreateManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	qs := make([]*models.Question, 0, len(req.Questions))
	seen := make(map[string]bool, len(req.Questions))
	for i, item := range req.Questions {
		q, err := item.Question()
		if err != nil {
			response.BadRequest(c, fmt.Sprintf("question %d: %s", i, err.Error()))
			return
		}
		if seen[q.Code] {
			response.BadRequest(c, fmt.Sprintf("question %d: duplicate question_code %s", i, q.Code))
			return
		}
		seen[q.Code] = true
		qs = append(qs, q)
	}
	if err := h.repo.CreateMany(c.Request.Context(), qs); err != nil {
		if database.IsUniqueViolation(err) {
			response.BadRequest(c, "question_code already exists")
			return
		}
		h.logger.Error("create questions failed", zap.Error(err), zap.Int("count", len(qs)))
		response.Internal(c, "failed to create questions")
		return
	}
	response.Created(c, gin.H{"count": len(qs), "questions": qs})
}

// Update handles PUT /questions/:id (super admin). The body replaces every editable field.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q, err := req.Question()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	updated, err := h.repo.Update(c.Request.Context(), id, q)
	switch {
	case database.IsNoRows(err):
		response.NotFound(c, "question not found")
		return
	case database.IsUniqueViolation(err):
		response.BadRequest(c, "question_code already exists")
		return
	case err != nil:
		h.logger.Error("update question failed", zap.Error(err), zap.String("question_id", id.String()))
		response.Internal(c, "failed to update question")
		return
	}
	response.OK(c, updated)
}

// Delete handles DELETE /questions/:id (super admin).
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	ok, err := h.repo.SoftDelete(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("delete question failed", zap.Error(err))
		response.Internal(c, "failed to delete question")
		return
	}
	if !ok {
		response.NotFound(c, "question not found")
		return
	}
	response.NoContent(c)
}
