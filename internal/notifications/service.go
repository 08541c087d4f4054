package notifications

import (
	"context"

	"github.com/google/uuid"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/apperr"
	"github.com/pulsecheck/backend/pkg/database"
)

// Store serves a recipient's notification queries.
type Store interface {
	List(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, recipientID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, id, recipientID uuid.UUID) (bool, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
	Clear(ctx context.Context, recipientID uuid.UUID) (int64, error)
	UpdatePreferences(ctx context.Context, userID uuid.UUID, system, email *bool) (models.NotificationPreferences, error)
}

// Service implements notification queries for the signed-in user.
type Service struct {
	store Store
}

// NewService creates the notifications service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Inbox is the latest notifications plus the unread count.
type Inbox struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

// List returns the latest notifications of userID.
func (s *Service) List(ctx context.Context, userID uuid.UUID) (*Inbox, error) {
	list, err := s.store.List(ctx, userID, ListLimit)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list notifications")
	}
	unread, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to count notifications")
	}
	return &Inbox{Notifications: list, Unread: unread}, nil
}

// MarkRead marks one of userID's notifications read.
func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	ok, err := s.store.MarkRead(ctx, id, userID)
	if err != nil {
		return apperr.Internal(err, "failed to update notification")
	}
	if !ok {
		return apperr.NotFound("notification not found")
	}
	return nil
}

// MarkAllRead marks all of userID's notifications read.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, apperr.Internal(err, "failed to update notifications")
	}
	return n, nil
}

// Clear deletes all of userID's notifications.
func (s *Service) Clear(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.store.Clear(ctx, userID)
	if err != nil {
		return 0, apperr.Internal(err, "failed to clear notifications")
	}
	return n, nil
}

// UpdatePreferences changes the flags that are set and returns the effective preferences.
func (s *Service) UpdatePreferences(ctx context.Context, userID uuid.UUID, system, email *bool) (models.NotificationPreferences, error) {
	if system == nil && email == nil {
		return models.NotificationPreferences{}, apperr.Validation("nothing to update")
	}
	prefs, err := s.store.UpdatePreferences(ctx, userID, system, email)
	if database.IsNoRows(err) {
		return prefs, apperr.NotFound("user not found")
	}
	if err != nil {
		return prefs, apperr.Internal(err, "failed to update preferences")
	}
	return prefs, nil
}
