// Package application drives the loan application dialog: one field per
// message, a confirm/restart gate, and the hand-off to payment.
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kopakash/loanbot/core/logger"
	"github.com/kopakash/loanbot/internal/loan"
	"github.com/kopakash/loanbot/internal/store"
)

const component = "loan.fsm"

// Keyboard names the inline keyboard a reply should carry.
type Keyboard int

const (
	KeyboardNone Keyboard = iota
	KeyboardMainMenu
	KeyboardApply
	KeyboardConfirm
	// KeyboardPayment offers paying with the phone number on file.
	KeyboardPayment
)

// Reply is the message to send back to the user.
type Reply struct {
	Text     string
	Markdown bool
	Keyboard Keyboard
}

// ActionKind tells the caller what to do after sending the reply.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionInitiatePayment
)

// Action is a follow-up the machine cannot perform itself.
type Action struct {
	Kind  ActionKind
	Phone string
}

// Result of a single dialog step. Rejected carries a *ValidationError or
// ErrDuplicateApplication when the input was refused; State is then unchanged.
type Result struct {
	Reply    Reply
	State    loan.ApplicationState
	Action   Action
	Rejected error
}

func (r *Result) reject(err error, text string) {
	r.Rejected = err
	r.Reply = Reply{Text: text}
}

// Machine is safe for concurrent use; all writes go through store.Update.
type Machine struct {
	store  store.Store
	policy Policy
}

// NewMachine validates policy and returns a Machine bound to st.
func NewMachine(st store.Store, policy Policy) (*Machine, error) {
	if st == nil {
		return nil, fmt.Errorf("application: store is required")
	}
	if policy.MinAmount <= 0 || policy.MaxAmount < policy.MinAmount {
		return nil, fmt.Errorf("application: invalid amount bounds [%v, %v]", policy.MinAmount, policy.MaxAmount)
	}
	if policy.MinReasonLength <= 0 {
		policy.MinReasonLength = 3
	}
	return &Machine{store: st, policy: policy}, nil
}

// Policy returns the effective policy.
func (m *Machine) Policy() Policy { return m.policy }

// Begin handles the loan-request intent.
func (m *Machine) Begin(ctx context.Context, userID int64) (Result, error) {
	done, err := m.store.HasCompleted(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("application: check completed: %w", err)
	}
	if done {
		st, err := m.store.Get(ctx, userID)
		if err != nil {
			return Result{}, fmt.Errorf("application: load state: %w", err)
		}
		res := Result{State: st}
		res.reject(ErrDuplicateApplication, TextDuplicate)
		logger.Info(ctx, component, "fsm.begin",
			slog.String("status", "skip"),
			slog.Int64("user_id", userID),
			slog.String("reason", "already_completed"),
		)
		return res, nil
	}

	var res Result
	st, changed, err := m.store.Update(ctx, userID, func(st *loan.ApplicationState) (bool, error) {
		res = Result{}
		if st.AwaitingOutcome() {
			res.Reply = Reply{Text: TextInProgress}
			return false, nil
		}
		*st = loan.NewState()
		st.Step = loan.StepAwaitingFullName
		res.Reply = Reply{Text: TextAskFullName}
		return true, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("application: begin: %w", err)
	}
	res.State = st
	if changed {
		logTransition(ctx, userID, loan.StepIdle, st.Step)
	}
	return res, nil
}

// HandleInput applies one free-text message to the current step.
func (m *Machine) HandleInput(ctx context.Context, userID int64, raw string) (Result, error) {
	var (
		res  Result
		from loan.Step
	)
	st, changed, err := m.store.Update(ctx, userID, func(st *loan.ApplicationState) (bool, error) {
		res = Result{}
		from = st.Step
		return m.apply(st, raw, &res), nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("application: handle input: %w", err)
	}
	res.State = st
	switch {
	case changed:
		logTransition(ctx, userID, from, st.Step)
	case res.Rejected != nil:
		logger.Debug(ctx, component, "fsm.rejected",
			slog.String("status", "skip"),
			slog.Int64("user_id", userID),
			slog.String("step", string(from)),
			slog.String("err", res.Rejected.Error()),
		)
	}
	return res, nil
}

func (m *Machine) apply(st *loan.ApplicationState, raw string, res *Result) bool {
	if st.AwaitingOutcome() {
		res.Reply = Reply{Text: TextInProgress}
		return false
	}
	switch st.Step {
	case loan.StepAwaitingFullName:
		name, err := ValidateFullName(raw)
		if err != nil {
			res.reject(err, TextBadFullName)
			return false
		}
		st.Fields.FullName = name
		st.Step = loan.StepAwaitingIDNumber
		res.Reply = Reply{Text: TextFullNameOK}
	case loan.StepAwaitingIDNumber:
		id, err := ValidateIDNumber(raw)
		if err != nil {
			res.reject(err, TextBadIDNumber)
			return false
		}
		st.Fields.IDNumber = id
		st.Step = loan.StepAwaitingPhone
		res.Reply = Reply{Text: TextIDNumberOK}
	case loan.StepAwaitingPhone:
		phone, err := ValidatePhone(raw)
		if err != nil {
			res.reject(err, TextBadPhone)
			return false
		}
		st.Fields.PhoneNumber = phone
		st.Step = loan.StepAwaitingAmount
		res.Reply = Reply{Text: TextPhoneOK}
	case loan.StepAwaitingAmount:
		amount, err := m.policy.ValidateAmount(raw)
		if err != nil {
			res.reject(err, badAmountText(m.policy))
			return false
		}
		st.Fields.LoanAmount = amount
		st.Step = loan.StepAwaitingReason
		res.Reply = Reply{Text: TextAmountOK}
	case loan.StepAwaitingReason:
		reason, err := m.policy.ValidateReason(raw)
		if err != nil {
			res.reject(err, badReasonText(m.policy))
			return false
		}
		st.Fields.Reason = reason
		st.Step = loan.StepConfirmingDetails
		res.Reply = Reply{Text: SummaryText(st.Fields), Markdown: true, Keyboard: KeyboardConfirm}
	case loan.StepConfirmingDetails:
		res.Reply = Reply{Text: TextConfirmFirst, Keyboard: KeyboardConfirm}
		return false
	case loan.StepAwaitingPhoneForPayment:
		phone, err := ValidatePhone(raw)
		if err != nil {
			res.reject(err, TextBadPayPhone)
			return false
		}
		res.Reply = Reply{Text: TextPayPhoneOK}
		res.Action = Action{Kind: ActionInitiatePayment, Phone: phone}
		return false
	default:
		// Idle, Completed, or a step this build does not know.
		res.Reply = Reply{Text: TextNeutral, Keyboard: KeyboardApply}
		return false
	}
	return true
}

// Confirm accepts the summary and moves to the payment step.
func (m *Machine) Confirm(ctx context.Context, userID int64) (Result, error) {
	var res Result
	st, changed, err := m.store.Update(ctx, userID, func(st *loan.ApplicationState) (bool, error) {
		res = Result{}
		if st.Step != loan.StepConfirmingDetails {
			res.Reply = m.promptFor(*st)
			return false, nil
		}
		st.Step = loan.StepAwaitingPhoneForPayment
		res.Reply = m.payPrompt(st.Fields.PhoneNumber)
		return true, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("application: confirm: %w", err)
	}
	res.State = st
	if changed {
		logTransition(ctx, userID, loan.StepConfirmingDetails, st.Step)
	}
	return res, nil
}

// Restart drops the application and returns to Idle. It is refused while a
// charge awaits its outcome so the confirmation has somewhere to land.
func (m *Machine) Restart(ctx context.Context, userID int64) (Result, error) {
	var res Result
	st, changed, err := m.store.Update(ctx, userID, func(cur *loan.ApplicationState) (bool, error) {
		res = Result{}
		if cur.AwaitingOutcome() {
			res.Reply = Reply{Text: TextInProgress}
			return false, nil
		}
		from := cur.Step
		*cur = loan.NewState()
		res.Reply = Reply{Text: TextRestarted, Keyboard: KeyboardApply}
		return from != loan.StepIdle, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("application: restart: %w", err)
	}
	res.State = st
	if changed {
		logger.Info(ctx, component, "fsm.restart",
			slog.String("status", "ok"),
			slog.Int64("user_id", userID),
		)
	}
	return res, nil
}

// PayWithPhoneOnFile asks for a charge to the number collected in the dialog.
func (m *Machine) PayWithPhoneOnFile(ctx context.Context, userID int64) (Result, error) {
	st, err := m.store.Get(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("application: load state: %w", err)
	}
	res := Result{State: st}
	switch {
	case st.Step != loan.StepAwaitingPhoneForPayment:
		res.Reply = m.promptFor(st)
	case st.AwaitingOutcome():
		res.Reply = Reply{Text: TextInProgress}
	case st.Fields.PhoneNumber == "":
		res.Reply = Reply{Text: TextNeedPhone}
	default:
		res.Action = Action{Kind: ActionInitiatePayment, Phone: st.Fields.PhoneNumber}
	}
	return res, nil
}

// Prompt repeats what the user is expected to do next.
func (m *Machine) Prompt(ctx context.Context, userID int64) (Result, error) {
	st, err := m.store.Get(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("application: load state: %w", err)
	}
	return Result{State: st, Reply: m.promptFor(st)}, nil
}

func (m *Machine) promptFor(st loan.ApplicationState) Reply {
	if st.AwaitingOutcome() {
		return Reply{Text: TextInProgress}
	}
	switch st.Step {
	case loan.StepAwaitingFullName:
		return Reply{Text: TextAskFullName}
	case loan.StepAwaitingIDNumber:
		return Reply{Text: TextFullNameOK}
	case loan.StepAwaitingPhone:
		return Reply{Text: TextIDNumberOK}
	case loan.StepAwaitingAmount:
		return Reply{Text: TextPhoneOK}
	case loan.StepAwaitingReason:
		return Reply{Text: TextAmountOK}
	case loan.StepConfirmingDetails:
		return Reply{Text: SummaryText(st.Fields), Markdown: true, Keyboard: KeyboardConfirm}
	case loan.StepAwaitingPhoneForPayment:
		return m.payPrompt(st.Fields.PhoneNumber)
	}
	return Reply{Text: TextNeutral, Keyboard: KeyboardApply}
}

func (m *Machine) payPrompt(phone string) Reply {
	r := Reply{Text: payPromptText(m.policy.Fee, phone)}
	if phone != "" {
		r.Keyboard = KeyboardPayment
	}
	return r
}

func logTransition(ctx context.Context, userID int64, from, to loan.Step) {
	logger.Info(ctx, component, "fsm.advance",
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}
