package responses

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/database"
)

// ErrAssessmentClosed means the attempt was completed before the batch committed.
var ErrAssessmentClosed = errors.New("assessment already completed")

const responseColumns = `id, assessment_id, question_id, question_code, question_stem, stakeholder, domain, subdomain,
	question_type, scale, value, selected_option, higher_value_option, value_direction, comment, subdomain_weight,
	created_at, updated_at`

// Repository handles response persistence.
type Repository struct {
	pool database.Pool
}

// NewRepository creates a responses repository.
func NewRepository(pool database.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanResponse(row pgx.Row) (models.Response, error) {
	var r models.Response
	var scale string
	var dir *string
	err := row.Scan(&r.ID, &r.AssessmentID, &r.QuestionID, &r.QuestionCode, &r.QuestionStem, &r.Stakeholder,
		&r.Domain, &r.Subdomain, &r.QuestionType, &scale, &r.Value, &r.SelectedOption, &r.HigherValueOption,
		&dir, &r.Comment, &r.SubdomainWeight, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	r.Scale = models.Scale(scale)
	if dir != nil {
		d := models.Direction(*dir)
		r.ValueDirection = &d
	}
	return r, nil
}

// ListFor returns the responses of an assessment ordered by question code. It runs on
// q so callers can read inside their own transaction.
func ListFor(ctx context.Context, q database.Querier, assessmentID uuid.UUID) ([]models.Response, error) {
	rows, err := q.Query(ctx, `SELECT `+responseColumns+` FROM responses
		WHERE assessment_id = $1 ORDER BY question_code, created_at`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Response{}
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// List returns the responses of an assessment.
func (r *Repository) List(ctx context.Context, assessmentID uuid.UUID) ([]models.Response, error) {
	return ListFor(ctx, r.pool, assessmentID)
}

// SaveBatch upserts every response of the batch in one transaction, keyed by
// (assessment_id, question_id). The assessment row is share-locked so a concurrent
// submit either sees the whole batch or none of it. Returns pgx.ErrNoRows if the
// assessment does not exist and ErrAssessmentClosed if it is completed.
func (r *Repository) SaveBatch(ctx context.Context, assessmentID uuid.UUID, batch []*models.Response) ([]models.Response, error) {
	return database.InTx(ctx, r.pool, func(tx pgx.Tx) ([]models.Response, error) {
		var completed bool
		if err := tx.QueryRow(ctx, `SELECT is_completed FROM assessments WHERE id = $1 FOR SHARE`, assessmentID).
			Scan(&completed); err != nil {
			return nil, err
		}
		if completed {
			return nil, ErrAssessmentClosed
		}

		const q = `INSERT INTO responses (assessment_id, question_id, question_code, question_stem, stakeholder, domain,
				subdomain, question_type, scale, value, selected_option, higher_value_option, value_direction, comment,
				subdomain_weight)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (assessment_id, question_id) DO UPDATE SET
				question_code = EXCLUDED.question_code, question_stem = EXCLUDED.question_stem,
				stakeholder = EXCLUDED.stakeholder, domain = EXCLUDED.domain, subdomain = EXCLUDED.subdomain,
				question_type = EXCLUDED.question_type, scale = EXCLUDED.scale, value = EXCLUDED.value,
				selected_option = EXCLUDED.selected_option, higher_value_option = EXCLUDED.higher_value_option,
				value_direction = EXCLUDED.value_direction, comment = EXCLUDED.comment,
				subdomain_weight = EXCLUDED.subdomain_weight, updated_at = NOW()
			RETURNING ` + responseColumns
		out := make([]models.Response, 0, len(batch))
		for _, resp := range batch {
			var dir *string
			if resp.ValueDirection != nil {
				d := string(*resp.ValueDirection)
				dir = &d
			}
			saved, err := scanResponse(tx.QueryRow(ctx, q, assessmentID, resp.QuestionID, resp.QuestionCode,
				resp.QuestionStem, resp.Stakeholder, resp.Domain, resp.Subdomain, resp.QuestionType, string(resp.Scale),
				resp.Value, resp.SelectedOption, resp.HigherValueOption, dir, resp.Comment, resp.SubdomainWeight))
			if err != nil {
				return nil, err
			}
			out = append(out, saved)
		}
		return out, nil
	})
}
