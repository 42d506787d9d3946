package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("bad amount %d", -1)))
	assert.Equal(t, KindNotFound, KindOf(NotFound("missing")))
	assert.Equal(t, KindSelfApproval, KindOf(SelfApproval("own request")))
	assert.Equal(t, KindConflict, KindOf(Conflict("busy")))
	assert.Equal(t, Kind(""), KindOf(fmt.Errorf("plain failure")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("handler: %w", InvalidTransition("cannot approve from %s", "COMPLETED"))
	assert.Equal(t, KindInvalidTransition, KindOf(err))
	assert.True(t, Is(err, KindInvalidTransition))
	assert.False(t, Is(err, KindValidation))
}

func TestErrorMessage(t *testing.T) {
	err := Validation("amount must be positive")
	assert.Equal(t, "VALIDATION: amount must be positive", err.Error())
}
