package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kopakash/loanbot/core/logger"
	"github.com/kopakash/loanbot/internal/loan"
	"github.com/kopakash/loanbot/internal/store"
)

// InitiateRequest describes a processing-fee charge for one user.
type InitiateRequest struct {
	UserID int64
	ChatID int64
	Phone  string
	Amount float64
	// CustomerName is passed to the gateway for its dashboard.
	CustomerName string
}

// Initiator sends charges and records the resulting pending payment.
type Initiator struct {
	store   store.Store
	gateway Gateway
	minter  *Minter
	now     func() time.Time

	inflight sync.Map // userID -> struct{}
}

// NewInitiator wires an Initiator.
func NewInitiator(st store.Store, gw Gateway, minter *Minter) *Initiator {
	return &Initiator{store: st, gateway: gw, minter: minter, now: time.Now}
}

// Initiate charges req.Amount to req.Phone. On success the user's state holds
// a Pending payment under a fresh reference, which is returned. Gateway
// failures come back as *InitiationError and leave the state untouched.
func (i *Initiator) Initiate(ctx context.Context, req InitiateRequest) (loan.Payment, error) {
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return loan.Payment{}, ErrNoPhoneNumber
	}
	if req.Amount <= 0 {
		return loan.Payment{}, fmt.Errorf("payment: amount must be > 0")
	}
	if _, busy := i.inflight.LoadOrStore(req.UserID, struct{}{}); busy {
		return loan.Payment{}, ErrPaymentInProgress
	}
	defer i.inflight.Delete(req.UserID)

	st, err := i.store.Get(ctx, req.UserID)
	if err != nil {
		return loan.Payment{}, fmt.Errorf("payment: load state: %w", err)
	}
	if st.AwaitingOutcome() {
		return loan.Payment{}, ErrPaymentInProgress
	}
	if st.Step != loan.StepAwaitingPhoneForPayment {
		return loan.Payment{}, ErrNotAwaitingPayment
	}

	ref := i.minter.Mint(req.UserID)
	ctx = logger.WithReference(ctx, ref)
	start := i.now()
	res, err := i.gateway.Charge(ctx, ChargeRequest{
		Reference:    ref,
		Phone:        phone,
		Amount:       req.Amount,
		CustomerName: req.CustomerName,
	})
	if err != nil {
		ierr := &InitiationError{Kind: classify(err), Err: err}
		initiationsTotal.WithLabelValues(ierr.Kind.String()).Inc()
		logger.Warn(ctx, "payment.init", "payment.charge",
			slog.String("status", "fail"),
			slog.Int64("user_id", req.UserID),
			slog.String("phone", logger.MaskPhone(phone)),
			slog.String("err_code", ierr.Code()),
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
		return loan.Payment{}, ierr
	}
	if res.Status.Terminal() {
		// Gateways acknowledge charges as queued; a terminal answer here is
		// still reconciled through the normal paths.
		logger.Warn(ctx, "payment.init", "payment.charge.unexpected_status",
			slog.Int64("user_id", req.UserID),
			slog.String("payment_status", string(res.Status)),
		)
	}

	pay := loan.Payment{
		Reference:         ref,
		ProviderReference: res.ProviderReference,
		Status:            loan.PaymentPending,
		ChatID:            req.ChatID,
		Phone:             phone,
		Amount:            req.Amount,
		InitiatedAt:       i.now(),
	}
	// The dialog may have moved on during the gateway round-trip. A payment
	// is only recorded on the application it was charged for.
	_, _, err = i.store.Update(ctx, req.UserID, func(st *loan.ApplicationState) (bool, error) {
		if st.AwaitingOutcome() {
			return false, ErrPaymentInProgress
		}
		if st.Step != loan.StepAwaitingPhoneForPayment {
			return false, ErrNotAwaitingPayment
		}
		p := pay
		st.Payment = &p
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentInProgress) || errors.Is(err, ErrNotAwaitingPayment) {
			logger.Error(ctx, "payment.init", "payment.record",
				slog.String("status", "fail"),
				slog.Int64("user_id", req.UserID),
				slog.String("err_code", recordErrCode(err)),
				slog.String("err", err.Error()),
			)
			return loan.Payment{}, err
		}
		return loan.Payment{}, fmt.Errorf("payment: record payment: %w", err)
	}

	initiationsTotal.WithLabelValues("ok").Inc()
	logger.Info(ctx, "payment.init", "payment.charge",
		slog.String("status", "ok"),
		slog.Int64("user_id", req.UserID),
		slog.Int64("chat_id", req.ChatID),
		slog.String("phone", logger.MaskPhone(phone)),
		slog.String("provider_reference", res.ProviderReference),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return pay, nil
}

func recordErrCode(err error) string {
	if errors.Is(err, ErrNotAwaitingPayment) {
		return "APPLICATION_ABANDONED"
	}
	return "PAYMENT_IN_PROGRESS"
}
