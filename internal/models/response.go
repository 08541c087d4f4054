package models

import (
	"time"

	"github.com/google/uuid"
)

// Direction tells whether a forced-choice answer matched the higher-value option.
type Direction string

const (
	DirectionHigher Direction = "HIGHER"
	DirectionLower  Direction = "LOWER"
)

// Response is one answer to one question within one attempt.
// Question metadata is denormalized at write time.
type Response struct {
	ID                uuid.UUID  `json:"id"`
	AssessmentID      uuid.UUID  `json:"assessment_id"`
	QuestionID        uuid.UUID  `json:"question_id"`
	QuestionCode      string     `json:"question_code"`
	QuestionStem      string     `json:"question_stem"`
	Stakeholder       string     `json:"stakeholder"`
	Domain            string     `json:"domain"`
	Subdomain         string     `json:"subdomain"`
	QuestionType      string     `json:"question_type"`
	Scale             Scale      `json:"scale"`
	Value             *int       `json:"value"`
	SelectedOption    *string    `json:"selected_option"`
	HigherValueOption *string    `json:"higher_value_option"`
	ValueDirection    *Direction `json:"value_direction"`
	Comment           *string    `json:"comment"`
	SubdomainWeight   float64    `json:"subdomain_weight"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
