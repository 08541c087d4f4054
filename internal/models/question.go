package models

import (
	"time"

	"github.com/google/uuid"
)

// Scale is the answer format of a question.
type Scale string

const (
	ScaleNumeric      Scale = "SCALE_1_5"
	ScaleForcedChoice Scale = "FORCED_CHOICE"
)

// QuestionTypeCalibration marks numeric questions regardless of declared scale.
const QuestionTypeCalibration = "Calibration"

// Question is a catalog entry answered by assessments.
type Question struct {
	ID                uuid.UUID `json:"id"`
	Code              string    `json:"question_code"`
	Stem              string    `json:"question_stem"`
	Stakeholder       string    `json:"stakeholder"`
	Domain            string    `json:"domain"`
	Subdomain         string    `json:"subdomain"`
	QuestionType      string    `json:"question_type"`
	Scale             Scale     `json:"scale"`
	OptionA           string    `json:"option_a,omitempty"`
	OptionB           string    `json:"option_b,omitempty"`
	HigherValueOption string    `json:"higher_value_option,omitempty"`
	SubdomainWeight   float64   `json:"subdomain_weight"`
	IsDeleted         bool      `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsNumeric reports whether answers are validated on the 1..5 scale.
func (q *Question) IsNumeric() bool {
	return q.Scale == ScaleNumeric || q.QuestionType == QuestionTypeCalibration
}

// IsForcedChoice reports whether answers pick one of two options.
func (q *Question) IsForcedChoice() bool {
	return !q.IsNumeric() && q.Scale == ScaleForcedChoice
}
