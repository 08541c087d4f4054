package emaillogs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/database"
)

const logColumns = `id, job_id, email_type, recipient_email, subject, status, attempts, sent_at, error_message, created_at`

func scanLog(row pgx.Row) (*models.EmailLog, error) {
	var el models.EmailLog
	if err := row.Scan(&el.ID, &el.JobID, &el.EmailType, &el.RecipientEmail, &el.Subject, &el.Status,
		&el.Attempts, &el.SentAt, &el.ErrorMessage, &el.CreatedAt); err != nil {
		return nil, err
	}
	return &el, nil
}

// Repository handles email_logs persistence.
type Repository struct {
	pool database.Pool
}

// NewRepository creates an email logs repository.
func NewRepository(pool database.Pool) *Repository {
	return &Repository{pool: pool}
}

// Begin records a delivery attempt for jobID. The first attempt inserts a pending row;
// retries of the same job reuse it and bump attempts.
func (r *Repository) Begin(ctx context.Context, jobID, emailType, recipient, subject string) (*models.EmailLog, error) {
	q := `INSERT INTO email_logs (job_id, email_type, recipient_email, subject, status, attempts)
		VALUES ($1, $2, $3, $4, 'pending', 1)
		ON CONFLICT (job_id) DO UPDATE SET attempts = email_logs.attempts + 1, status = 'pending'
		RETURNING ` + logColumns
	return scanLog(r.pool.QueryRow(ctx, q, jobID, emailType, recipient, subject))
}

// MarkSent finalizes a log as delivered.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE email_logs SET status = 'sent', sent_at = $2, error_message = '' WHERE id = $1`, id, at)
	return err
}

// MarkFailed records the delivery error of the latest attempt.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `UPDATE email_logs SET status = 'failed', error_message = $2 WHERE id = $1`, id, reason)
	return err
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Recipient string
	Status    string
	Limit     int
}

// List returns email logs, newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]*models.EmailLog, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	q := `SELECT ` + logColumns + ` FROM email_logs
		WHERE ($1 = '' OR LOWER(recipient_email) = LOWER($1)) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, q, f.Recipient, f.Status, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.EmailLog{}
	for rows.Next() {
		el, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, el)
	}
	return list, rows.Err()
}
