package questions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/database"
)

const questionColumns = `id, question_code, question_stem, stakeholder, domain, subdomain, question_type, scale,
	option_a, option_b, higher_value_option, subdomain_weight, is_deleted, created_at, updated_at`

// Repository handles question persistence.
type Repository struct {
	pool database.Pool
}

// NewRepository creates a questions repository.
func NewRepository(pool database.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanQuestion(row pgx.Row) (*models.Question, error) {
	var q models.Question
	var scale string
	err := row.Scan(&q.ID, &q.Code, &q.Stem, &q.Stakeholder, &q.Domain, &q.Subdomain, &q.QuestionType, &scale,
		&q.OptionA, &q.OptionB, &q.HigherValueOption, &q.SubdomainWeight, &q.IsDeleted, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	q.Scale = models.Scale(scale)
	return &q, nil
}

// Create inserts a new question.
func (r *Repository) Create(ctx context.Context, q *models.Question) error {
	return insert(ctx, r.pool, q)
}

// CreateMany inserts all questions or none of them.
func (r *Repository) CreateMany(ctx context.Context, qs []*models.Question) error {
	_, err := database.InTx(ctx, r.pool, func(tx pgx.Tx) (struct{}, error) {
		for _, q := range qs {
			if err := insert(ctx, tx, q); err != nil {
				return struct{}{}, fmt.Errorf("question %s: %w", q.Code, err)
			}
		}
		return struct{}{}, nil
	})
	return err
}

func insert(ctx context.Context, db database.Querier, q *models.Question) error {
	const query = `INSERT INTO questions (question_code, question_stem, stakeholder, domain, subdomain, question_type,
			scale, option_a, option_b, higher_value_option, subdomain_weight)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`
	return db.QueryRow(ctx, query, q.Code, q.Stem, q.Stakeholder, q.Domain, q.Subdomain, q.QuestionType,
		string(q.Scale), q.OptionA, q.OptionB, q.HigherValueOption, q.SubdomainWeight).
		Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
}

// Update replaces the editable fields of a live question and returns the stored row.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, q *models.Question) (*models.Question, error) {
	const query = `UPDATE questions SET question_code = $2, question_stem = $3, stakeholder = $4, domain = $5,
			subdomain = $6, question_type = $7, scale = $8, option_a = $9, option_b = $10,
			higher_value_option = $11, subdomain_weight = $12, updated_at = NOW()
		WHERE id = $1 AND NOT is_deleted
		RETURNING ` + questionColumns
	return scanQuestion(r.pool.QueryRow(ctx, query, id, q.Code, q.Stem, q.Stakeholder, q.Domain, q.Subdomain,
		q.QuestionType, string(q.Scale), q.OptionA, q.OptionB, q.HigherValueOption, q.SubdomainWeight))
}

// GetByID returns a live question by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	return scanQuestion(r.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1 AND NOT is_deleted`, id))
}

// ListByStakeholder returns live questions ordered by code. An empty stakeholder lists all.
func (r *Repository) ListByStakeholder(ctx context.Context, stakeholder string) ([]*models.Question, error) {
	const query = `SELECT ` + questionColumns + ` FROM questions
		WHERE NOT is_deleted AND ($1 = '' OR LOWER(stakeholder) = LOWER($1))
		ORDER BY question_code`
	rows, err := r.pool.Query(ctx, query, stakeholder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, q)
	}
	return list, rows.Err()
}

// SoftDelete hides a question from the catalog. Saved responses keep their denormalized copy.
func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE questions SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1 AND NOT is_deleted`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
