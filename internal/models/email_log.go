package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailType is the template kind of an outbound email.
const (
	EmailTypeInvitation    = "invitation"
	EmailTypeVerification  = "verification"
	EmailTypePasswordReset = "password_reset"
	EmailTypeNotification  = "notification"
)

// EmailLogStatus for delivery.
const (
	EmailLogStatusPending = "pending"
	EmailLogStatusSent    = "sent"
	EmailLogStatusFailed  = "failed"
)

// EmailLog records outbound emails.
type EmailLog struct {
	ID             uuid.UUID  `json:"id"`
	JobID          string     `json:"job_id"`
	EmailType      string     `json:"email_type"`
	RecipientEmail string     `json:"recipient_email"`
	Subject        string     `json:"subject,omitempty"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
