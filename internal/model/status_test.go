package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefundStatusTransitionsHelpers(t *testing.T) {
	assert.True(t, RefundRequested.Approvable())
	assert.True(t, RefundPendingApproval.Approvable())
	assert.False(t, RefundApproved.Approvable())
	assert.False(t, RefundCompleted.Approvable())

	// An approved refund can still be rejected before processing starts.
	assert.True(t, RefundApproved.Rejectable())
	assert.False(t, RefundProcessing.Rejectable())

	for _, s := range []RefundStatus{RefundCompleted, RefundRejected, RefundFailed, RefundCancelled} {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	for _, s := range []RefundStatus{RefundRequested, RefundPendingApproval, RefundApproved, RefundProcessing} {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestReversalStatusTerminal(t *testing.T) {
	for _, s := range []ReversalStatus{ReversalCompleted, ReversalFailed, ReversalCancelled} {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	assert.False(t, ReversalPending.IsTerminal())
	assert.False(t, ReversalInProgress.IsTerminal())
}

func TestTopUpStatusHelpers(t *testing.T) {
	assert.True(t, TopUpPending.Approvable())
	assert.True(t, TopUpPendingApproval.Approvable())
	assert.False(t, TopUpCompleted.Approvable())

	for _, s := range []TopUpStatus{TopUpCompleted, TopUpRejected, TopUpFailed, TopUpCancelled} {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
}
