// Package responses validates raw answers against the question catalog and
// persists them as autosaved responses of an open assessment.
package responses

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/apperr"
)

// Rule names reported in validation error details.
const (
	RuleCommentLowScore    = "comment_required_low_score"
	RuleCommentHigherValue = "comment_required_higher_value"
	RuleValueRange         = "value_out_of_range"
	RuleUnknownOption      = "unknown_option"
)

// Numeric answers are on a 1..5 scale; anything up to LowScoreMax needs a comment.
const (
	MinValue    = 1
	MaxValue    = 5
	LowScoreMax = 3
)

// Answer is one raw answer as submitted by the client. Answer holds a JSON number
// for numeric questions and a JSON string for forced-choice questions.
type Answer struct {
	QuestionID uuid.UUID       `json:"question_id"`
	Answer     json.RawMessage `json:"answer"`
	Comment    *string         `json:"comment"`
}

// Derive validates a against q and returns the response to store, with question
// metadata copied from q. The returned response has no ID or timestamps yet.
func Derive(q *models.Question, assessmentID uuid.UUID, a Answer) (*models.Response, error) {
	r := &models.Response{
		AssessmentID:    assessmentID,
		QuestionID:      q.ID,
		QuestionCode:    q.Code,
		QuestionStem:    q.Stem,
		Stakeholder:     q.Stakeholder,
		Domain:          q.Domain,
		Subdomain:       q.Subdomain,
		QuestionType:    q.QuestionType,
		Scale:           q.Scale,
		SubdomainWeight: q.SubdomainWeight,
	}
	num, str, isNum, isStr := decodeAnswer(a.Answer)

	switch {
	case q.IsNumeric():
		v, ok := integral(num)
		if !isNum || !ok || v < MinValue || v > MaxValue {
			return nil, ruleError(q, RuleValueRange, "answer to %s must be an integer between %d and %d", q.Code, MinValue, MaxValue)
		}
		r.Value = &v
		if v <= LowScoreMax {
			if blank(a.Comment) {
				return nil, ruleError(q, RuleCommentLowScore, "a comment is required for answers of %d or lower (%s)", LowScoreMax, q.Code)
			}
			r.Comment = a.Comment
		}

	case q.IsForcedChoice():
		if !isStr || (str != q.OptionA && str != q.OptionB) {
			return nil, ruleError(q, RuleUnknownOption, "answer to %s must be one of its options", q.Code)
		}
		hv := q.HigherValueOption
		r.SelectedOption = &str
		r.HigherValueOption = &hv
		dir := models.DirectionLower
		if str == hv {
			dir = models.DirectionHigher
			if blank(a.Comment) {
				return nil, ruleError(q, RuleCommentHigherValue, "a comment is required when choosing the higher value option (%s)", q.Code)
			}
			r.Comment = a.Comment
		}
		r.ValueDirection = &dir

	default:
		switch {
		case isNum:
			v, ok := integral(num)
			if !ok {
				return nil, ruleError(q, RuleValueRange, "answer to %s must be an integer", q.Code)
			}
			r.Value = &v
		case isStr:
			r.SelectedOption = &str
		default:
			return nil, apperr.Validation("answer to %s is missing", q.Code).With("question_id", q.ID)
		}
		r.Comment = a.Comment
	}
	return r, nil
}

func ruleError(q *models.Question, rule, format string, args ...any) *apperr.Error {
	return apperr.Validation(format, args...).With("rule", rule).With("question_id", q.ID)
}

func decodeAnswer(raw json.RawMessage) (num float64, str string, isNum, isStr bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, "", false, false
	}
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &str); err == nil {
			return 0, str, false, true
		}
		return 0, "", false, false
	}
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, "", true, false
	}
	return 0, "", false, false
}

func integral(f float64) (int, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return int(f), true
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
