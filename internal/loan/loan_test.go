package loan

import (
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingState() ApplicationState {
	return ApplicationState{
		Step:   StepAwaitingPhoneForPayment,
		Fields: Fields{FullName: "Jane Doe", IDNumber: "12345678", PhoneNumber: "0712345678", LoanAmount: 5000, Reason: "School Fees"},
		Payment: &Payment{
			Reference: "KOP-42-1700000000000",
			Status:    PaymentPending,
		},
	}
}

func TestResolveConfirmedCompletesApplication(t *testing.T) {
	st := pendingState()
	at := time.Unix(1700000100, 0)

	changed := st.Resolve(Resolution{
		Reference:     "KOP-42-1700000000000",
		Status:        PaymentConfirmed,
		TransactionID: pointer.ToString("QWE123"),
		At:            at,
	})
	require.True(t, changed)
	assert.Equal(t, StepCompleted, st.Step)
	assert.Equal(t, Fields{}, st.Fields)
	require.NotNil(t, st.Payment)
	assert.Equal(t, PaymentConfirmed, st.Payment.Status)
	assert.Equal(t, "QWE123", pointer.GetString(st.Payment.TransactionID))
	assert.Equal(t, at, *st.Payment.ResolvedAt)
}

func TestResolveFailedKeepsFields(t *testing.T) {
	st := pendingState()
	require.True(t, st.Resolve(Resolution{Reference: "KOP-42-1700000000000", Status: PaymentFailed}))
	assert.Equal(t, StepAwaitingPhoneForPayment, st.Step)
	assert.Equal(t, "Jane Doe", st.Fields.FullName)
	assert.Equal(t, PaymentFailed, st.Payment.Status)
}

func TestResolveIsIdempotent(t *testing.T) {
	st := pendingState()
	require.True(t, st.Resolve(Resolution{Reference: "KOP-42-1700000000000", Status: PaymentFailed}))
	assert.False(t, st.Resolve(Resolution{Reference: "KOP-42-1700000000000", Status: PaymentConfirmed}))
	assert.Equal(t, PaymentFailed, st.Payment.Status)
}

func TestResolveIgnoresPendingAndForeignReferences(t *testing.T) {
	st := pendingState()
	assert.False(t, st.Resolve(Resolution{Reference: "KOP-42-1700000000000", Status: PaymentPending}))
	assert.False(t, st.Resolve(Resolution{Reference: "KOP-42-1", Status: PaymentConfirmed}))

	empty := NewState()
	assert.False(t, empty.Resolve(Resolution{Reference: "KOP-42-1", Status: PaymentConfirmed}))
}

func TestCloneDoesNotAlias(t *testing.T) {
	st := pendingState()
	st.Payment.TransactionID = pointer.ToString("A")
	cp := st.Clone()
	cp.Payment.Status = PaymentFailed
	*cp.Payment.TransactionID = "B"

	assert.Equal(t, PaymentPending, st.Payment.Status)
	assert.Equal(t, "A", *st.Payment.TransactionID)
}

func TestStepKnownAndDefault(t *testing.T) {
	assert.True(t, StepConfirmingDetails.Known())
	assert.False(t, Step("awaiting_pet_name").Known())

	var st ApplicationState
	st.Normalize()
	assert.Equal(t, StepIdle, st.Step)
	assert.Equal(t, StepIdle, NewState().Step)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "5000", FormatAmount(5000))
	assert.Equal(t, "1500.5", FormatAmount(1500.5))
}

func TestAwaitingOutcomeEndsWhenPollExhausted(t *testing.T) {
	st := pendingState()
	assert.True(t, st.AwaitingOutcome())

	st.Payment.PollExhausted = true
	assert.True(t, st.PaymentPending())
	assert.False(t, st.AwaitingOutcome())

	require.True(t, st.Resolve(Resolution{Reference: "KOP-42-1700000000000", Status: PaymentConfirmed}))
	assert.False(t, st.PaymentPending())
	assert.False(t, NewState().AwaitingOutcome())
}
