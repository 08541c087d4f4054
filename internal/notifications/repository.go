package notifications

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/database"
)

// ListLimit is how many notifications List returns.
const ListLimit = 50

// Recipient is a resolved audience member with their delivery preferences.
type Recipient struct {
	ID          uuid.UUID
	Email       string
	Preferences models.NotificationPreferences
}

// Repository handles notification persistence and audience resolution.
type Repository struct {
	pool database.Pool
}

// NewRepository creates a notifications repository.
func NewRepository(pool database.Pool) *Repository {
	return &Repository{pool: pool}
}

// Recipients resolves the audience of e, minus the excluded actor.
func (r *Repository) Recipients(ctx context.Context, e models.NotificationEvent) ([]Recipient, error) {
	const base = `SELECT id, email, notify_system, notify_email FROM users WHERE `
	var (
		rows pgx.Rows
		err  error
	)
	switch e.Audience {
	case models.AudienceUser:
		if e.RecipientID == nil {
			return nil, nil
		}
		rows, err = r.pool.Query(ctx, base+`id = $1`, *e.RecipientID)
	case models.AudienceSuperAdmins:
		rows, err = r.pool.Query(ctx, base+`role = 'superAdmin' AND ($1::uuid IS NULL OR id <> $1)`, e.ExcludeID)
	case models.AudienceOrgStaff:
		if e.OrgName == "" {
			return nil, nil
		}
		rows, err = r.pool.Query(ctx, base+`org_name = $1 AND role IN ('admin', 'leader', 'manager')
			AND ($2::uuid IS NULL OR id <> $2)`, e.OrgName, e.ExcludeID)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Recipient
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.NotifySystem, &u.NotifyEmail); err != nil {
			return nil, err
		}
		out = append(out, Recipient{ID: u.ID, Email: u.Email, Preferences: u.Preferences()})
	}
	return out, rows.Err()
}

// CreateMany inserts all notifications in one transaction, filling IDs and timestamps.
func (r *Repository) CreateMany(ctx context.Context, list []*models.Notification) error {
	if len(list) == 0 {
		return nil
	}
	_, err := database.InTx(ctx, r.pool, func(tx pgx.Tx) (struct{}, error) {
		for _, n := range list {
			err := tx.QueryRow(ctx, `INSERT INTO notifications (recipient_id, title, message, type, link)
				VALUES ($1, $2, $3, $4, $5) RETURNING id, is_read, created_at`,
				n.RecipientID, n.Title, n.Message, n.Type, n.Link).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
			if err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}

// List returns the latest notifications of a recipient, newest first.
func (r *Repository) List(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.Notification, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, recipient_id, title, message, type, link, is_read, created_at
		FROM notifications WHERE recipient_id = $1 ORDER BY created_at DESC LIMIT $2`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Message, &n.Type, &n.Link, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// UnreadCount returns how many unread notifications a recipient has.
func (r *Repository) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND NOT is_read`,
		recipientID).Scan(&n)
	return n, err
}

// MarkRead marks one of the recipient's notifications read. Returns false if the
// notification does not exist or belongs to someone else.
func (r *Repository) MarkRead(ctx context.Context, id, recipientID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND recipient_id = $2`,
		id, recipientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkAllRead marks every unread notification of the recipient read.
func (r *Repository) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND NOT is_read`,
		recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Clear deletes every notification of the recipient.
func (r *Repository) Clear(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE recipient_id = $1`, recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpdatePreferences sets the provided preference flags and returns the effective preferences.
func (r *Repository) UpdatePreferences(ctx context.Context, userID uuid.UUID, system, email *bool) (models.NotificationPreferences, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `UPDATE users SET notify_system = COALESCE($2, notify_system),
			notify_email = COALESCE($3, notify_email), updated_at = NOW()
		WHERE id = $1 RETURNING notify_system, notify_email`, userID, system, email).
		Scan(&u.NotifySystem, &u.NotifyEmail)
	if err != nil {
		return models.NotificationPreferences{}, err
	}
	return u.Preferences(), nil
}
