package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kopakash/loanbot/internal/loan"
	"github.com/kopakash/loanbot/internal/store"
)

type harness struct {
	store    store.Store
	gateway  *MockGateway
	notifier *recordingNotifier
	minter   *Minter
	rec      *Reconciler
}

func newHarness(t *testing.T, interval time.Duration, attempts int) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemory(),
		gateway:  &MockGateway{},
		notifier: &recordingNotifier{},
		minter:   mustMinter(t),
	}
	h.rec = NewReconciler(h.store, h.gateway, h.notifier, h.minter, ReconcilerOptions{
		Interval: interval,
		Attempts: attempts,
	})
	t.Cleanup(func() {
		_ = h.rec.Close()
		h.gateway.AssertExpectations(t)
	})
	return h
}

func (h *harness) state(t *testing.T) loan.ApplicationState {
	t.Helper()
	st, err := h.store.Get(context.Background(), testUser)
	require.NoError(t, err)
	return st
}

func TestWebhookConfirmationCompletesOnce(t *testing.T) {
	h := newHarness(t, time.Hour, 1)
	ref := withPending(t, h.store, h.minter, "")
	ctx := context.Background()
	obs := Observation{Reference: ref, Status: loan.PaymentConfirmed, TransactionID: pointer.ToString("QKL123")}

	out, err := h.rec.Observe(ctx, obs)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	out, err = h.rec.Observe(ctx, obs)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	c, f, p := h.notifier.counts()
	assert.Equal(t, 1, c)
	assert.Zero(t, f)
	assert.Zero(t, p)

	n := h.notifier.confirmed[0]
	assert.Equal(t, submittedFields(), n.Fields)
	assert.Equal(t, "QKL123", pointer.GetString(n.TransactionID))
	assert.Equal(t, SourceWebhook, n.Source)
	assert.Equal(t, testUser, n.ChatID)

	st := h.state(t)
	assert.Equal(t, loan.StepCompleted, st.Step)
	assert.Equal(t, loan.Fields{}, st.Fields)
	assert.Equal(t, loan.PaymentConfirmed, st.Payment.Status)

	done, err := h.store.HasCompleted(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, int64(1), h.rec.Stats().Confirmed)
}

func TestWebhookFailureAllowsRetry(t *testing.T) {
	h := newHarness(t, time.Hour, 1)
	ref := withPending(t, h.store, h.minter, "")

	out, err := h.rec.Observe(context.Background(), Observation{Reference: ref, Status: loan.PaymentFailed})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	st := h.state(t)
	assert.Equal(t, loan.PaymentFailed, st.Payment.Status)
	assert.Equal(t, loan.StepAwaitingPhoneForPayment, st.Step)
	assert.Equal(t, submittedFields(), st.Fields)

	done, err := h.store.HasCompleted(context.Background(), testUser)
	require.NoError(t, err)
	assert.False(t, done)
	_, f, _ := h.notifier.counts()
	assert.Equal(t, 1, f)
}

func TestWebhookInterimAndUnknown(t *testing.T) {
	h := newHarness(t, time.Hour, 1)
	ref := withPending(t, h.store, h.minter, "")
	ctx := context.Background()
	before := h.state(t)

	out, err := h.rec.Observe(ctx, Observation{Reference: ref, Status: loan.PaymentPending})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInterim, out)

	out, err = h.rec.Observe(ctx, Observation{Reference: h.minter.Mint(testUser), Status: loan.PaymentConfirmed})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, out)

	_, err = h.rec.Observe(ctx, Observation{Reference: "garbage", Status: loan.PaymentConfirmed})
	require.ErrorIs(t, err, ErrUnresolvedReference)

	assert.Equal(t, before, h.state(t))
	c, f, p := h.notifier.counts()
	assert.Zero(t, c+f+p)
}

func TestConflictingConcurrentObservationsHaveOneWinner(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newHarness(t, time.Hour, 1)
		ref := withPending(t, h.store, h.minter, "")

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
		)
		for i := 0; i < 16; i++ {
			status := loan.PaymentConfirmed
			if i%2 == 1 {
				status = loan.PaymentFailed
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := h.rec.Observe(context.Background(), Observation{Reference: ref, Status: status})
				assert.NoError(t, err)
			}()
		}
		close(start)
		wg.Wait()

		c, f, _ := h.notifier.counts()
		require.Equal(t, 1, c+f, "round %d", round)
		st := h.state(t)
		if c == 1 {
			assert.Equal(t, loan.PaymentConfirmed, st.Payment.Status)
		} else {
			assert.Equal(t, loan.PaymentFailed, st.Payment.Status)
		}
	}
}

func TestFixedArrivalOrderIsDeterministic(t *testing.T) {
	h := newHarness(t, time.Hour, 1)
	ref := withPending(t, h.store, h.minter, "")
	ctx := context.Background()

	_, err := h.rec.Observe(ctx, Observation{Reference: ref, Status: loan.PaymentFailed})
	require.NoError(t, err)
	out, err := h.rec.Observe(ctx, Observation{Reference: ref, Status: loan.PaymentConfirmed})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Equal(t, loan.PaymentFailed, h.state(t).Payment.Status)
}

func TestPollConfirmsAfterInconclusiveTicks(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond, 10)
	h.gateway.On("Status", mock.Anything, "PH-1").Return(StatusResult{}, errGatewayDown).Once()
	h.gateway.On("Status", mock.Anything, "PH-1").Return(pendingStatus(), nil).Once()
	h.gateway.On("Status", mock.Anything, "PH-1").Return(confirmed("QKL999"), nil).Once()
	ref := withPending(t, h.store, h.minter, "PH-1")

	h.rec.Track(testUser, ref)
	require.Eventually(t, func() bool {
		c, _, _ := h.notifier.counts()
		return c == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.rec.Stats().ActivePolls == 0 }, time.Second, 5*time.Millisecond)

	h.gateway.AssertNumberOfCalls(t, "Status", 3)
	assert.Equal(t, SourcePoll, h.notifier.confirmed[0].Source)
	assert.Equal(t, loan.StepCompleted, h.state(t).Step)
}

func TestPollChecksStateBeforeQuerying(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, 5)
	ref := withPending(t, h.store, h.minter, "")
	// Resolved out of band, so the poll must not notice it via the gateway.
	_, _, err := h.store.Update(context.Background(), testUser, func(s *loan.ApplicationState) (bool, error) {
		return s.Resolve(loan.Resolution{Reference: ref, Status: loan.PaymentConfirmed}), nil
	})
	require.NoError(t, err)

	h.rec.Track(testUser, ref)
	require.Eventually(t, func() bool { return h.rec.Stats().ActivePolls == 0 }, time.Second, 5*time.Millisecond)
	h.gateway.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
	c, f, p := h.notifier.counts()
	assert.Zero(t, c+f+p)
}

func TestWebhookCancelsPoll(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond, 100)
	ref := withPending(t, h.store, h.minter, "")
	h.rec.Track(testUser, ref)
	require.Equal(t, 1, h.rec.Stats().ActivePolls)

	_, err := h.rec.Observe(context.Background(), Observation{Reference: ref, Status: loan.PaymentConfirmed})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.rec.Stats().ActivePolls == 0 }, time.Second, 5*time.Millisecond)

	c, _, p := h.notifier.counts()
	assert.Equal(t, 1, c)
	assert.Zero(t, p)
	h.gateway.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
}

func TestPollExhaustionLeavesPendingAndNotifiesOnce(t *testing.T) {
	h := newHarness(t, 2*time.Millisecond, 4)
	ref := withPending(t, h.store, h.minter, "")
	h.gateway.On("Status", mock.Anything, ref).Return(StatusResult{}, errGatewayDown).Once()
	h.gateway.On("Status", mock.Anything, ref).Return(pendingStatus(), nil).Times(3)

	h.rec.Track(testUser, ref)
	require.Eventually(t, func() bool { return h.rec.Stats().ActivePolls == 0 }, 2*time.Second, 5*time.Millisecond)

	h.gateway.AssertNumberOfCalls(t, "Status", 4)
	c, f, p := h.notifier.counts()
	assert.Zero(t, c+f)
	assert.Equal(t, 1, p)
	st := h.state(t)
	assert.Equal(t, loan.PaymentPending, st.Payment.Status)
	assert.True(t, st.Payment.PollExhausted)
	assert.Equal(t, int64(1), h.rec.Stats().StillPending)

	// A second exhaustion for the same reference stays quiet.
	h.rec.stillPending(context.Background(), testUser, ref)
	_, _, p = h.notifier.counts()
	assert.Equal(t, 1, p)

	// A late callback still lands after the poll gave up.
	out, err := h.rec.Observe(context.Background(), Observation{Reference: ref, Status: loan.PaymentConfirmed})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
}

func TestTrackIgnoresDuplicatesAndClose(t *testing.T) {
	h := newHarness(t, time.Hour, 3)
	ref := withPending(t, h.store, h.minter, "")
	h.rec.Track(testUser, ref)
	h.rec.Track(testUser, ref)
	assert.Equal(t, 1, h.rec.Stats().ActivePolls)
	assert.Equal(t, int64(1), h.rec.Stats().Initiated)

	require.NoError(t, h.rec.Close())
	assert.Zero(t, h.rec.Stats().ActivePolls)

	h.rec.Track(testUser, h.minter.Mint(testUser))
	assert.Zero(t, h.rec.Stats().ActivePolls)
}

func TestSubmitObservesInBackground(t *testing.T) {
	h := newHarness(t, time.Hour, 1)
	ref := withPending(t, h.store, h.minter, "")
	ctx, cancel := context.WithCancel(context.Background())
	h.rec.Submit(ctx, Observation{Reference: ref, Status: loan.PaymentConfirmed})
	cancel()

	require.Eventually(t, func() bool {
		c, _, _ := h.notifier.counts()
		return c == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPollAndCallbackRaceHaveOneWinner(t *testing.T) {
	for round := 0; round < 10; round++ {
		h := newHarness(t, time.Millisecond, 1)
		ref := withPending(t, h.store, h.minter, "")
		entered := make(chan struct{})
		release := make(chan struct{})
		h.gateway.On("Status", mock.Anything, ref).Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).Return(StatusResult{Status: loan.PaymentFailed}, nil).Once()

		h.rec.Track(testUser, ref)
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("poll never queried the gateway")
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.rec.Observe(context.Background(), Observation{Reference: ref, Status: loan.PaymentConfirmed})
			assert.NoError(t, err)
		}()
		close(release)
		wg.Wait()
		require.Eventually(t, func() bool { return h.rec.Stats().ActivePolls == 0 }, time.Second, time.Millisecond)

		c, f, p := h.notifier.counts()
		require.Equal(t, 1, c+f, "round %d", round)
		assert.Zero(t, p, "round %d", round)
		if c == 1 {
			assert.Equal(t, loan.PaymentConfirmed, h.state(t).Payment.Status)
		} else {
			assert.Equal(t, loan.PaymentFailed, h.state(t).Payment.Status)
		}
	}
}

func TestStillPendingNoticePrecedesContendingCallback(t *testing.T) {
	mem := store.NewMemory()
	hooked := &hookedStore{Store: mem}
	notifier := &recordingNotifier{}
	minter := mustMinter(t)
	rec := NewReconciler(hooked, &MockGateway{}, notifier, minter, ReconcilerOptions{Interval: time.Hour, Attempts: 1})
	t.Cleanup(func() { _ = rec.Close() })
	ref := withPending(t, mem, minter, "")
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		once sync.Once
	)
	hooked.beforeUpdate = func() {
		once.Do(func() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := rec.Observe(ctx, Observation{Reference: ref, Status: loan.PaymentConfirmed})
				assert.NoError(t, err)
				assert.Equal(t, OutcomeApplied, out)
			}()
			// Give the callback time to contend for the user.
			time.Sleep(20 * time.Millisecond)
		})
	}

	rec.stillPending(ctx, testUser, ref)
	wg.Wait()

	assert.Equal(t, []string{"still_pending", "confirmed"}, notifier.order())
	st, err := mem.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, loan.PaymentConfirmed, st.Payment.Status)
}

func TestStillPendingSkippedAfterCallback(t *testing.T) {
	h := newHarness(t, time.Hour, 1)
	ref := withPending(t, h.store, h.minter, "")
	ctx := context.Background()

	_, err := h.rec.Observe(ctx, Observation{Reference: ref, Status: loan.PaymentConfirmed})
	require.NoError(t, err)
	h.rec.stillPending(ctx, testUser, ref)

	assert.Equal(t, []string{"confirmed"}, h.notifier.order())
	assert.False(t, h.state(t).Payment.PollExhausted)
	assert.Zero(t, h.rec.Stats().StillPending)
}
