package responses

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/apperr"
	"github.com/pulsecheck/backend/pkg/database"
)

// MaxBatch bounds the number of answers accepted in one save.
const MaxBatch = 200

// Store persists responses.
type Store interface {
	SaveBatch(ctx context.Context, assessmentID uuid.UUID, batch []*models.Response) ([]models.Response, error)
	List(ctx context.Context, assessmentID uuid.UUID) ([]models.Response, error)
}

// AttemptReader loads the assessment a batch belongs to.
type AttemptReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Assessment, error)
}

// QuestionLookup is the read-only question catalog.
type QuestionLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error)
}

// Service implements response validation and autosave.
type Service struct {
	store     Store
	attempts  AttemptReader
	questions QuestionLookup
	logger    *zap.Logger
}

// NewService creates the responses service.
func NewService(store Store, attempts AttemptReader, questions QuestionLookup, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, attempts: attempts, questions: questions, logger: logger}
}

// Save validates the whole batch and then writes it atomically. Any invalid answer
// rejects the batch and nothing is written. Answering the same question again
// overwrites the previous response.
func (s *Service) Save(ctx context.Context, assessmentID uuid.UUID, owner models.Owner, answers []Answer) ([]models.Response, error) {
	if len(answers) == 0 {
		return nil, apperr.Validation("no responses provided")
	}
	if len(answers) > MaxBatch {
		return nil, apperr.Validation("at most %d responses per request", MaxBatch)
	}
	if _, err := s.openAttempt(ctx, assessmentID, owner); err != nil {
		return nil, err
	}

	// Later answers to the same question win.
	index := make(map[uuid.UUID]int, len(answers))
	batch := make([]*models.Response, 0, len(answers))
	for _, a := range answers {
		if a.QuestionID == uuid.Nil {
			return nil, apperr.Validation("question_id is required")
		}
		q, err := s.questions.GetByID(ctx, a.QuestionID)
		if database.IsNoRows(err) {
			return nil, apperr.NotFound("question %s not found", a.QuestionID)
		}
		if err != nil {
			return nil, apperr.Internal(err, "failed to load question")
		}
		resp, err := Derive(q, assessmentID, a)
		if err != nil {
			return nil, err
		}
		if i, ok := index[a.QuestionID]; ok {
			batch[i] = resp
			continue
		}
		index[a.QuestionID] = len(batch)
		batch = append(batch, resp)
	}

	saved, err := s.store.SaveBatch(ctx, assessmentID, batch)
	switch {
	case database.IsNoRows(err):
		return nil, apperr.NotFound("assessment not found")
	case errors.Is(err, ErrAssessmentClosed):
		return nil, apperr.AlreadyCompleted("assessment already submitted")
	case err != nil:
		return nil, apperr.Internal(err, "failed to save responses")
	}
	s.logger.Debug("responses saved", zap.String("assessment_id", assessmentID.String()), zap.Int("count", len(saved)))
	return saved, nil
}

// List returns the saved responses of an attempt owned by owner.
func (s *Service) List(ctx context.Context, assessmentID uuid.UUID, owner models.Owner) ([]models.Response, error) {
	a, err := s.attempts.GetByID(ctx, assessmentID)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("assessment not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load assessment")
	}
	if !a.IsOwnedBy(owner) {
		return nil, apperr.Forbidden("not your assessment")
	}
	list, err := s.store.List(ctx, assessmentID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list responses")
	}
	return list, nil
}

func (s *Service) openAttempt(ctx context.Context, id uuid.UUID, owner models.Owner) (*models.Assessment, error) {
	a, err := s.attempts.GetByID(ctx, id)
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("assessment not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load assessment")
	}
	if !a.IsOwnedBy(owner) {
		return nil, apperr.Forbidden("not your assessment")
	}
	if a.IsCompleted {
		return nil, apperr.AlreadyCompleted("assessment already submitted")
	}
	return a, nil
}
