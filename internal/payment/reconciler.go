package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kopakash/loanbot/core/logger"
	"github.com/kopakash/loanbot/internal/loan"
	"github.com/kopakash/loanbot/internal/store"
)

const (
	recComponent = "payment.reconcile"
	userStripes  = 64
)

// Outcome reports what an observation did.
type Outcome int

const (
	// OutcomeApplied means this observation committed the terminal status.
	OutcomeApplied Outcome = iota
	// OutcomeDuplicate means the payment was already terminal.
	OutcomeDuplicate
	// OutcomeInterim means the provider reported a non-terminal status.
	OutcomeInterim
	// OutcomeUnknown means no payment with that reference exists for the user.
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeInterim:
		return "interim"
	}
	return "unknown"
}

// ReconcilerOptions bound the status poll.
type ReconcilerOptions struct {
	Interval time.Duration
	Attempts int
}

// Reconciler resolves pending payments exactly once. Callbacks and poll
// ticks both go through a single compare-and-set on the user's state; only
// the caller that moves the payment out of Pending notifies the user.
type Reconciler struct {
	store    store.Store
	gateway  Gateway
	notifier Notifier
	minter   *Minter
	opts     ReconcilerOptions

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	polls  map[string]context.CancelFunc
	closed bool

	// users orders the state change and the notice of each user's payment
	// events, so a notice never contradicts one already sent.
	users [userStripes]sync.Mutex

	stats counters
}

// NewReconciler wires a Reconciler. Close must be called to stop its polls.
func NewReconciler(st store.Store, gw Gateway, n Notifier, minter *Minter, opts ReconcilerOptions) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 24
	}
	base, stop := context.WithCancel(context.Background())
	return &Reconciler{
		store:    st,
		gateway:  gw,
		notifier: n,
		minter:   minter,
		opts:     opts,
		base:     base,
		stop:     stop,
		polls:    make(map[string]context.CancelFunc),
	}
}

// Track starts the status poll for a freshly initiated payment.
func (r *Reconciler) Track(userID int64, reference string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, ok := r.polls[reference]; ok {
		return
	}
	ctx, cancel := context.WithCancel(logger.WithReference(r.base, reference))
	r.polls[reference] = cancel
	r.stats.initiated.Add(1)
	activePolls.Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(reference)
		r.poll(ctx, userID, reference)
	}()
}

func (r *Reconciler) release(reference string) {
	r.mu.Lock()
	cancel, ok := r.polls[reference]
	delete(r.polls, reference)
	r.mu.Unlock()
	if ok {
		cancel()
		activePolls.Dec()
	}
}

func (r *Reconciler) poll(ctx context.Context, userID int64, ref string) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := r.store.Get(ctx, userID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, recComponent, "poll.load",
				slog.String("status", "fail"),
				slog.Int64("user_id", userID),
				slog.Int("attempt", attempt),
				slog.String("err", err.Error()),
			)
			continue
		}
		if st.Payment == nil || st.Payment.Reference != ref || st.Payment.Status.Terminal() {
			logger.Debug(ctx, recComponent, "poll.stop",
				slog.String("status", "skip"),
				slog.Int64("user_id", userID),
				slog.Int("attempt", attempt),
				slog.String("reason", "already_resolved"),
			)
			return
		}

		lookup := ref
		if st.Payment.ProviderReference != "" {
			lookup = st.Payment.ProviderReference
		}
		res, err := r.gateway.Status(ctx, lookup)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			pollQueriesTotal.WithLabelValues("error").Inc()
			logger.Warn(ctx, recComponent, "poll.query",
				slog.String("status", "retry"),
				slog.Int64("user_id", userID),
				slog.Int("attempt", attempt),
				slog.String("err", err.Error()),
			)
			continue
		}
		if !res.Status.Terminal() {
			pollQueriesTotal.WithLabelValues("pending").Inc()
			logger.Debug(ctx, recComponent, "poll.query",
				slog.String("status", "ok"),
				slog.Int64("user_id", userID),
				slog.Int("attempt", attempt),
				slog.String("payment_status", string(res.Status)),
			)
			continue
		}
		pollQueriesTotal.WithLabelValues("terminal").Inc()
		if _, err := r.resolve(ctx, userID, Observation{
			Reference:     ref,
			Status:        res.Status,
			TransactionID: res.TransactionID,
		}, SourcePoll); err != nil {
			logger.Error(ctx, recComponent, "poll.resolve",
				slog.String("status", "fail"),
				slog.Int64("user_id", userID),
				slog.String("err", err.Error()),
			)
		}
		return
	}

	if ctx.Err() != nil {
		return
	}
	r.stillPending(ctx, userID, ref)
}

// stillPending marks the payment as no longer polled and tells the user.
// It is a no-op when a callback resolved the payment first.
func (r *Reconciler) stillPending(ctx context.Context, userID int64, ref string) {
	unlock := r.lockUser(userID)
	defer unlock()

	var n Notice
	_, changed, err := r.store.Update(ctx, userID, func(st *loan.ApplicationState) (bool, error) {
		p := st.Payment
		if p == nil || p.Reference != ref || p.Status != loan.PaymentPending || p.PollExhausted {
			return false, nil
		}
		p.PollExhausted = true
		n = noticeFrom(userID, *st, SourcePoll)
		return true, nil
	})
	if err != nil {
		logger.Warn(ctx, recComponent, "poll.exhausted",
			slog.String("status", "fail"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return
	}
	if !changed {
		logger.Debug(ctx, recComponent, "poll.exhausted",
			slog.String("status", "skip"),
			slog.Int64("user_id", userID),
			slog.String("reason", "already_resolved"),
		)
		return
	}
	r.stats.stillPending.Add(1)
	stillPendingTotal.Inc()
	logger.Info(ctx, recComponent, "poll.exhausted",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
		slog.Int("attempts", r.opts.Attempts),
		slog.String("payment_status", string(loan.PaymentPending)),
	)
	if err := r.notifier.PaymentStillPending(context.WithoutCancel(ctx), n); err != nil {
		logger.Warn(ctx, recComponent, "notify.still_pending",
			slog.String("status", "fail"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
	}
}

func (r *Reconciler) lockUser(userID int64) func() {
	mu := &r.users[uint64(userID)%userStripes]
	mu.Lock()
	return mu.Unlock
}

// Observe applies a provider callback. The user is taken from the reference.
// Errors wrapping ErrUnresolvedReference mean the callback names no user.
func (r *Reconciler) Observe(ctx context.Context, obs Observation) (Outcome, error) {
	userID, err := r.minter.Parse(obs.Reference)
	if err != nil {
		r.stats.ignored.Add(1)
		ignoredTotal.WithLabelValues(SourceWebhook, "unresolved").Inc()
		return OutcomeUnknown, err
	}
	ctx = logger.WithReference(ctx, obs.Reference)
	if !obs.Status.Terminal() {
		ignoredTotal.WithLabelValues(SourceWebhook, "interim").Inc()
		logger.Debug(ctx, recComponent, "webhook.interim",
			slog.String("status", "skip"),
			slog.Int64("user_id", userID),
			slog.String("payment_status", string(obs.Status)),
		)
		return OutcomeInterim, nil
	}
	return r.resolve(ctx, userID, obs, SourceWebhook)
}

// Submit runs Observe in the background, detached from the caller's context.
// Used by the callback endpoint so the provider is acknowledged at once.
func (r *Reconciler) Submit(ctx context.Context, obs Observation) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		outcome, err := r.Observe(ctx, obs)
		if err != nil {
			level := slog.LevelError
			if errors.Is(err, ErrUnresolvedReference) {
				level = slog.LevelWarn
			}
			logger.Event(ctx, recComponent, level, "webhook.observe",
				slog.String("status", "fail"),
				slog.String("reference", obs.Reference),
				slog.String("err", err.Error()),
			)
			return
		}
		logger.Debug(ctx, recComponent, "webhook.observe",
			slog.String("status", "ok"),
			slog.String("outcome", outcome.String()),
		)
	}()
}

func (r *Reconciler) resolve(ctx context.Context, userID int64, obs Observation, source string) (Outcome, error) {
	unlock := r.lockUser(userID)
	defer unlock()

	outcome := OutcomeUnknown
	var n Notice
	_, changed, err := r.store.Update(ctx, userID, func(st *loan.ApplicationState) (bool, error) {
		outcome = OutcomeUnknown
		if st.Payment == nil || st.Payment.Reference != obs.Reference {
			return false, nil
		}
		if st.Payment.Status.Terminal() {
			outcome = OutcomeDuplicate
			return false, nil
		}
		submitted := st.Fields
		if !st.Resolve(loan.Resolution{
			Reference:     obs.Reference,
			Status:        obs.Status,
			TransactionID: obs.TransactionID,
		}) {
			outcome = OutcomeInterim
			return false, nil
		}
		outcome = OutcomeApplied
		n = noticeFrom(userID, *st, source)
		n.Fields = submitted
		return true, nil
	})
	if err != nil {
		return OutcomeUnknown, fmt.Errorf("payment: resolve %s: %w", obs.Reference, err)
	}
	if !changed {
		if outcome != OutcomeInterim {
			r.stats.ignored.Add(1)
			ignoredTotal.WithLabelValues(source, outcome.String()).Inc()
		}
		logger.Debug(ctx, recComponent, "resolve.noop",
			slog.String("status", "skip"),
			slog.Int64("user_id", userID),
			slog.String("source", source),
			slog.String("outcome", outcome.String()),
		)
		return outcome, nil
	}

	r.cancelPoll(obs.Reference)
	resolutionsTotal.WithLabelValues(source, string(obs.Status)).Inc()
	logger.Info(ctx, recComponent, "resolve.commit",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
		slog.Int64("chat_id", n.ChatID),
		slog.String("source", source),
		slog.String("payment_status", string(obs.Status)),
	)

	// The poll context is already cancelled when the poll itself wins.
	nctx := context.WithoutCancel(ctx)
	if obs.Status == loan.PaymentConfirmed {
		r.stats.confirmed.Add(1)
		if err := r.store.MarkCompleted(nctx, userID); err != nil {
			logger.Error(nctx, recComponent, "resolve.mark_completed",
				slog.String("status", "fail"),
				slog.Int64("user_id", userID),
				slog.String("err", err.Error()),
			)
		}
		err = r.notifier.PaymentConfirmed(nctx, n)
	} else {
		r.stats.failed.Add(1)
		err = r.notifier.PaymentFailed(nctx, n)
	}
	if err != nil {
		logger.Warn(nctx, recComponent, "notify",
			slog.String("status", "fail"),
			slog.Int64("user_id", userID),
			slog.String("payment_status", string(obs.Status)),
			slog.String("err", err.Error()),
		)
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) cancelPoll(reference string) {
	r.mu.Lock()
	cancel, ok := r.polls[reference]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func noticeFrom(userID int64, st loan.ApplicationState, source string) Notice {
	n := Notice{UserID: userID, Fields: st.Fields, Source: source}
	if p := st.Payment; p != nil {
		n.ChatID = p.ChatID
		n.Reference = p.Reference
		n.Amount = p.Amount
		n.TransactionID = p.TransactionID
	}
	if n.ChatID == 0 {
		n.ChatID = userID
	}
	return n
}

// Stats returns the current counters.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	active := len(r.polls)
	r.mu.Unlock()
	return Stats{
		Initiated:    r.stats.initiated.Load(),
		Confirmed:    r.stats.confirmed.Load(),
		Failed:       r.stats.failed.Load(),
		StillPending: r.stats.stillPending.Load(),
		Ignored:      r.stats.ignored.Load(),
		ActivePolls:  active,
	}
}

// Close cancels every running poll and waits for in-flight work.
func (r *Reconciler) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stop()
	r.wg.Wait()
	return nil
}
