package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("attempt not found")))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))

	wrapped := fmt.Errorf("outer: %w", Conflict("duplicate"))
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindConflict))
	assert.False(t, Is(nil, KindConflict))
}

func TestTooSoonCarriesRemainingDays(t *testing.T) {
	err := TooSoon(12)
	require.Equal(t, KindTooSoon, err.Kind)
	assert.Equal(t, 12, err.Details["remaining_days"])
	assert.Contains(t, err.Message, "12 day")
}

func TestWithDoesNotMutateOriginal(t *testing.T) {
	base := Validation("comment required")
	derived := base.With("rule", "comment_required_low_score")
	assert.Nil(t, base.Details)
	assert.Equal(t, "comment_required_low_score", derived.Details["rule"])
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(cause, "failed to load invitation")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to load invitation", err.Message)
}
