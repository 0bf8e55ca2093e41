// Package payment charges the processing fee and reconciles its outcome from
// two unordered sources: gateway callbacks and a bounded status poll.
package payment

import (
	"context"

	"github.com/kopakash/loanbot/internal/loan"
)

// ChargeRequest asks the gateway to push a payment prompt to a phone.
type ChargeRequest struct {
	Reference    string
	Phone        string
	Amount       float64
	CustomerName string
}

// ChargeResult is the gateway's acknowledgement of a charge.
type ChargeResult struct {
	// ProviderReference is the gateway's id for the charge; may be empty.
	ProviderReference string
	Status            loan.PaymentStatus
}

// StatusResult is a normalized status query answer.
type StatusResult struct {
	Status        loan.PaymentStatus
	TransactionID *string
}

// Gateway is the payment provider seen by this package. Status takes the
// provider reference when one was returned by Charge, else the external one.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Status(ctx context.Context, reference string) (StatusResult, error)
}

// Observation is a provider notification already mapped to the status enum.
type Observation struct {
	Reference     string
	Status        loan.PaymentStatus
	TransactionID *string
}

// Notice carries what a user-facing notification needs. Fields are the
// answers as submitted, captured before completion clears them.
type Notice struct {
	UserID        int64
	ChatID        int64
	Reference     string
	Amount        float64
	TransactionID *string
	Fields        loan.Fields
	Source        string
}

// Notifier delivers payment outcomes to the user.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, n Notice) error
	PaymentFailed(ctx context.Context, n Notice) error
	PaymentStillPending(ctx context.Context, n Notice) error
}
