package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPhoneNumber means the caller must collect a number before initiating.
	ErrNoPhoneNumber = errors.New("payment: no phone number on file")
	// ErrPaymentInProgress is returned while a charge for the user is pending or being requested.
	ErrPaymentInProgress = errors.New("payment: payment already in progress")
	// ErrNotAwaitingPayment is returned when the application is not at the payment step.
	ErrNotAwaitingPayment = errors.New("payment: application is not awaiting payment")
	// ErrUnresolvedReference marks callbacks whose reference does not name a user.
	ErrUnresolvedReference = errors.New("payment: unresolved reference")
	// ErrInsufficientBalance is wrapped by gateways when the payer cannot cover the charge.
	ErrInsufficientBalance = errors.New("payment: insufficient balance")
)

// FailureKind classifies a failed initiation.
type FailureKind int

const (
	FailureGeneric FailureKind = iota
	FailureInsufficientBalance
)

func (k FailureKind) String() string {
	if k == FailureInsufficientBalance {
		return "insufficient_balance"
	}
	return "generic"
}

// InitiationError is returned when the gateway refused or failed a charge.
// The user's payment record is untouched and a retry is allowed.
type InitiationError struct {
	Kind FailureKind
	Err  error
}

func (e *InitiationError) Error() string {
	return fmt.Sprintf("payment initiation failed (%s): %v", e.Kind, e.Err)
}

func (e *InitiationError) Unwrap() error { return e.Err }

// Code is used as err_code in handler logs.
func (e *InitiationError) Code() string { return "payment_" + e.Kind.String() }

func classify(err error) FailureKind {
	if errors.Is(err, ErrInsufficientBalance) {
		return FailureInsufficientBalance
	}
	return FailureGeneric
}
