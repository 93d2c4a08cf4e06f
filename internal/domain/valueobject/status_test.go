package valueobject

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to ProjectStatus
		want     bool
	}{
		{ProjectStatusPendingPayment, ProjectStatusEscrowed, true},
		{ProjectStatusPendingPayment, ProjectStatusCancelled, true},
		{ProjectStatusEscrowed, ProjectStatusDisputed, true},
		{ProjectStatusEscrowed, ProjectStatusCompleted, true},
		{ProjectStatusDisputed, ProjectStatusRefunded, true},
		{ProjectStatusCompleted, ProjectStatusRefunded, true},
		{ProjectStatusEscrowed, ProjectStatusPendingPayment, false},
		{ProjectStatusCancelled, ProjectStatusEscrowed, false},
		{ProjectStatusRefunded, ProjectStatusCompleted, false},
		{ProjectStatusCompleted, ProjectStatusDisputed, false},
		{ProjectStatusPendingPayment, ProjectStatusDisputed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPayoutStatus_PartialOrder(t *testing.T) {
	assert.True(t, PayoutStatusPending.CanTransitionTo(PayoutStatusProcessing))
	assert.True(t, PayoutStatusProcessing.CanTransitionTo(PayoutStatusCompleted))
	assert.True(t, PayoutStatusPending.CanTransitionTo(PayoutStatusCompleted))
	assert.False(t, PayoutStatusCompleted.CanTransitionTo(PayoutStatusProcessing))
	assert.False(t, PayoutStatusFailed.CanTransitionTo(PayoutStatusCompleted))
	assert.True(t, PayoutStatusCompleted.IsRegression(PayoutStatusRefunded))
	assert.False(t, PayoutStatusProcessing.IsRegression(PayoutStatusFailed))
}

func TestPayoutStatusFromTransferState(t *testing.T) {
	cases := map[string]PayoutStatus{
		"incoming_payment_waiting": PayoutStatusProcessing,
		"processing":               PayoutStatusProcessing,
		"outgoing_payment_sent":    PayoutStatusCompleted,
		"bounced_back":             PayoutStatusFailed,
		"funds_refunded":           PayoutStatusFailed,
		"charged_back":             PayoutStatusRefunded,
		"cancelled":                PayoutStatusCancelled,
	}
	for state, want := range cases {
		got, known := PayoutStatusFromTransferState(state)
		assert.True(t, known, state)
		assert.Equal(t, want, got, state)
	}

	got, known := PayoutStatusFromTransferState("waiting_recipient_input_to_proceed")
	assert.False(t, known)
	assert.Equal(t, PayoutStatusProcessing, got)
}

func TestDisputeOutcome(t *testing.T) {
	_, err := NewDisputeOutcome("half")
	assert.Error(t, err)

	o, err := NewDisputeOutcome("split")
	assert.NoError(t, err)
	assert.Equal(t, DisputeStatusResolvedSplit, o.ResolvedStatus())
	assert.Equal(t, ProjectStatusCompleted, o.ProjectStatus())
	assert.Equal(t, ProjectStatusRefunded, DisputeOutcomeRefund.ProjectStatus())
}
