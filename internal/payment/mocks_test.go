package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kopakash/loanbot/internal/loan"
	"github.com/kopakash/loanbot/internal/store"
)

const testUser int64 = 7001

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ChargeResult), args.Error(1)
}

func (m *MockGateway) Status(ctx context.Context, reference string) (StatusResult, error) {
	args := m.Called(ctx, reference)
	return args.Get(0).(StatusResult), args.Error(1)
}

func pendingStatus() StatusResult { return StatusResult{Status: loan.PaymentPending} }

func confirmed(tx string) StatusResult {
	return StatusResult{Status: loan.PaymentConfirmed, TransactionID: pointer.ToString(tx)}
}

// recordingNotifier keeps notices in arrival order.
type recordingNotifier struct {
	mu           sync.Mutex
	events       []string
	confirmed    []Notice
	failed       []Notice
	stillPending []Notice
}

func (n *recordingNotifier) PaymentConfirmed(_ context.Context, x Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, "confirmed")
	n.confirmed = append(n.confirmed, x)
	return nil
}

func (n *recordingNotifier) PaymentFailed(_ context.Context, x Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, "failed")
	n.failed = append(n.failed, x)
	return nil
}

func (n *recordingNotifier) PaymentStillPending(_ context.Context, x Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, "still_pending")
	n.stillPending = append(n.stillPending, x)
	return nil
}

func (n *recordingNotifier) counts() (confirmed, failed, pending int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.confirmed), len(n.failed), len(n.stillPending)
}

func (n *recordingNotifier) order() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

// hookedStore runs beforeUpdate ahead of every Update.
type hookedStore struct {
	store.Store
	beforeUpdate func()
}

func (s *hookedStore) Update(ctx context.Context, userID int64, fn store.UpdateFunc) (loan.ApplicationState, bool, error) {
	if s.beforeUpdate != nil {
		s.beforeUpdate()
	}
	return s.Store.Update(ctx, userID, fn)
}

var errGatewayDown = errors.New("gateway down")

func submittedFields() loan.Fields {
	return loan.Fields{
		FullName:    "Jane Doe",
		IDNumber:    "12345678",
		PhoneNumber: "0712345678",
		LoanAmount:  5000,
		Reason:      "School Fees",
	}
}

func atPaymentStep(t *testing.T, st store.Store) {
	t.Helper()
	require.NoError(t, st.Set(context.Background(), testUser, loan.ApplicationState{
		Step:   loan.StepAwaitingPhoneForPayment,
		Fields: submittedFields(),
	}))
}

// withPending stores a pending payment and returns its reference.
func withPending(t *testing.T, st store.Store, m *Minter, providerRef string) string {
	t.Helper()
	ref := m.Mint(testUser)
	require.NoError(t, st.Set(context.Background(), testUser, loan.ApplicationState{
		Step:   loan.StepAwaitingPhoneForPayment,
		Fields: submittedFields(),
		Payment: &loan.Payment{
			Reference:         ref,
			ProviderReference: providerRef,
			Status:            loan.PaymentPending,
			ChatID:            testUser,
			Phone:             "0712345678",
			Amount:            120,
			InitiatedAt:       time.Now(),
		},
	}))
	return ref
}

func mustMinter(t *testing.T) *Minter {
	t.Helper()
	m, err := NewMinter("KOP")
	require.NoError(t, err)
	return m
}
