package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kopakash/loanbot/internal/loan"
	"github.com/kopakash/loanbot/internal/store"
)

func newInitiator(t *testing.T) (*Initiator, *MockGateway, store.Store) {
	t.Helper()
	gw := &MockGateway{}
	t.Cleanup(func() { gw.AssertExpectations(t) })
	st := store.NewMemory()
	return NewInitiator(st, gw, mustMinter(t)), gw, st
}

func acceptCharge(gw *MockGateway) *mock.Call {
	return gw.On("Charge", mock.Anything, mock.AnythingOfType("payment.ChargeRequest")).
		Return(ChargeResult{ProviderReference: "PH-1", Status: loan.PaymentPending}, nil)
}

func TestInitiateRecordsPendingPayment(t *testing.T) {
	in, gw, st := newInitiator(t)
	acceptCharge(gw).Once()
	atPaymentStep(t, st)
	ctx := context.Background()

	pay, err := in.Initiate(ctx, InitiateRequest{
		UserID: testUser, ChatID: 99, Phone: " 0712345678 ", Amount: 120, CustomerName: "Jane Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, loan.PaymentPending, pay.Status)
	assert.Equal(t, "PH-1", pay.ProviderReference)

	uid, err := ParseReference("KOP", pay.Reference)
	require.NoError(t, err)
	assert.Equal(t, testUser, uid)

	gw.AssertCalled(t, "Charge", mock.Anything, ChargeRequest{
		Reference: pay.Reference, Phone: "0712345678", Amount: 120, CustomerName: "Jane Doe",
	})

	got, err := st.Get(ctx, testUser)
	require.NoError(t, err)
	require.NotNil(t, got.Payment)
	assert.Equal(t, pay.Reference, got.Payment.Reference)
	assert.Equal(t, int64(99), got.Payment.ChatID)
	assert.Equal(t, submittedFields(), got.Fields)
}

func TestInitiateClassifiesGatewayErrors(t *testing.T) {
	cases := map[string]struct {
		err  error
		kind FailureKind
	}{
		"insufficient": {fmt.Errorf("payhero: %w", ErrInsufficientBalance), FailureInsufficientBalance},
		"generic":      {errors.New("boom"), FailureGeneric},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in, gw, st := newInitiator(t)
			gw.On("Charge", mock.Anything, mock.Anything).Return(ChargeResult{}, tc.err).Once()
			atPaymentStep(t, st)
			before, err := st.Get(context.Background(), testUser)
			require.NoError(t, err)

			_, err = in.Initiate(context.Background(), InitiateRequest{UserID: testUser, Phone: "0712345678", Amount: 120})
			var ierr *InitiationError
			require.ErrorAs(t, err, &ierr)
			assert.Equal(t, tc.kind, ierr.Kind)
			assert.ErrorIs(t, err, tc.err)

			after, err := st.Get(context.Background(), testUser)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestInitiatePreconditions(t *testing.T) {
	ctx := context.Background()

	in, gw, st := newInitiator(t)
	_, err := in.Initiate(ctx, InitiateRequest{UserID: testUser, Phone: "  ", Amount: 120})
	require.ErrorIs(t, err, ErrNoPhoneNumber)

	_, err = in.Initiate(ctx, InitiateRequest{UserID: testUser, Phone: "0712345678", Amount: 120})
	require.ErrorIs(t, err, ErrNotAwaitingPayment)

	withPending(t, st, in.minter, "")
	_, err = in.Initiate(ctx, InitiateRequest{UserID: testUser, Phone: "0712345678", Amount: 120})
	require.ErrorIs(t, err, ErrPaymentInProgress)

	gw.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

func TestInitiateAfterFailureMintsNewReference(t *testing.T) {
	in, gw, st := newInitiator(t)
	acceptCharge(gw).Once()
	ctx := context.Background()
	first := withPending(t, st, in.minter, "")
	_, _, err := st.Update(ctx, testUser, func(s *loan.ApplicationState) (bool, error) {
		return s.Resolve(loan.Resolution{Reference: first, Status: loan.PaymentFailed}), nil
	})
	require.NoError(t, err)

	pay, err := in.Initiate(ctx, InitiateRequest{UserID: testUser, Phone: "0712345678", Amount: 120})
	require.NoError(t, err)
	assert.NotEqual(t, first, pay.Reference)
}

func TestInitiateAfterExhaustedPollReplacesPayment(t *testing.T) {
	in, gw, st := newInitiator(t)
	acceptCharge(gw).Once()
	ctx := context.Background()
	stale := withPending(t, st, in.minter, "")
	_, _, err := st.Update(ctx, testUser, func(s *loan.ApplicationState) (bool, error) {
		s.Payment.PollExhausted = true
		return true, nil
	})
	require.NoError(t, err)

	pay, err := in.Initiate(ctx, InitiateRequest{UserID: testUser, Phone: "0712345678", Amount: 120})
	require.NoError(t, err)
	assert.NotEqual(t, stale, pay.Reference)

	got, err := st.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, pay.Reference, got.Payment.Reference)
	assert.False(t, got.Payment.PollExhausted)

	// The abandoned charge no longer names the user's payment.
	rec := NewReconciler(st, gw, &recordingNotifier{}, in.minter, ReconcilerOptions{Interval: time.Hour, Attempts: 1})
	defer func() { _ = rec.Close() }()
	out, err := rec.Observe(ctx, Observation{Reference: stale, Status: loan.PaymentConfirmed})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, out)
}

func TestInitiateSkipsRecordWhenApplicationAbandoned(t *testing.T) {
	in, gw, st := newInitiator(t)
	ctx := context.Background()
	acceptCharge(gw).Run(func(mock.Arguments) {
		// The user restarts while the gateway is still answering.
		require.NoError(t, st.Set(ctx, testUser, loan.NewState()))
	}).Once()
	atPaymentStep(t, st)

	_, err := in.Initiate(ctx, InitiateRequest{UserID: testUser, Phone: "0712345678", Amount: 120})
	require.ErrorIs(t, err, ErrNotAwaitingPayment)

	got, err := st.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, loan.NewState(), got)
}
