// Package loan holds the per-user application state shared by the
// conversation, payment, and storage layers.
package loan

import (
	"strconv"
	"time"
)

// Step is the position of a user in the application dialog.
type Step string

const (
	StepIdle                    Step = "idle"
	StepAwaitingFullName        Step = "awaiting_full_name"
	StepAwaitingIDNumber        Step = "awaiting_id_number"
	StepAwaitingPhone           Step = "awaiting_phone"
	StepAwaitingAmount          Step = "awaiting_amount"
	StepAwaitingReason          Step = "awaiting_reason"
	StepConfirmingDetails       Step = "confirming_details"
	StepAwaitingPhoneForPayment Step = "awaiting_phone_for_payment"
	StepCompleted               Step = "completed"
)

// Known reports whether s is one of the declared steps.
func (s Step) Known() bool {
	switch s {
	case StepIdle, StepAwaitingFullName, StepAwaitingIDNumber, StepAwaitingPhone,
		StepAwaitingAmount, StepAwaitingReason, StepConfirmingDetails,
		StepAwaitingPhoneForPayment, StepCompleted:
		return true
	}
	return false
}

// Fields are the answers collected so far. Zero values mean "not yet given".
type Fields struct {
	FullName    string  `json:"full_name,omitempty"`
	IDNumber    string  `json:"id_number,omitempty"`
	PhoneNumber string  `json:"phone_number,omitempty"`
	LoanAmount  float64 `json:"loan_amount,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// PaymentStatus is the normalized gateway status.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentConfirmed || s == PaymentFailed
}

// Payment tracks the processing-fee charge for one application.
type Payment struct {
	Reference string `json:"reference"`
	// ProviderReference is the gateway's own id for the charge, when it returns one.
	ProviderReference string        `json:"provider_reference,omitempty"`
	Status            PaymentStatus `json:"status"`
	TransactionID     *string       `json:"transaction_id,omitempty"`
	ChatID            int64         `json:"chat_id"`
	Phone             string        `json:"phone"`
	Amount            float64       `json:"amount"`
	InitiatedAt       time.Time     `json:"initiated_at"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty"`
	// PollExhausted is set once the status poll gave up on a still-pending
	// charge. A late callback may still resolve it.
	PollExhausted bool `json:"poll_exhausted,omitempty"`
}

// ApplicationState is the full per-user record. The zero value is not valid;
// use NewState, which yields the Idle default.
type ApplicationState struct {
	Step    Step     `json:"step"`
	Fields  Fields   `json:"fields"`
	Payment *Payment `json:"payment,omitempty"`
}

// NewState returns the default state for a user with no record.
func NewState() ApplicationState {
	return ApplicationState{Step: StepIdle}
}

// Normalize fills the Idle default for states decoded from older or empty records.
func (s *ApplicationState) Normalize() {
	if s.Step == "" {
		s.Step = StepIdle
	}
}

// Clone returns a deep copy so callers can mutate without aliasing stored data.
func (s ApplicationState) Clone() ApplicationState {
	out := s
	if s.Payment != nil {
		p := *s.Payment
		if s.Payment.TransactionID != nil {
			tx := *s.Payment.TransactionID
			p.TransactionID = &tx
		}
		if s.Payment.ResolvedAt != nil {
			at := *s.Payment.ResolvedAt
			p.ResolvedAt = &at
		}
		out.Payment = &p
	}
	return out
}

// PaymentPending reports whether a charge is in flight.
func (s ApplicationState) PaymentPending() bool {
	return s.Payment != nil && s.Payment.Status == PaymentPending
}

// AwaitingOutcome reports whether a pending charge still holds the dialog.
// After the poll is exhausted the user may restart, re-apply or charge again.
func (s ApplicationState) AwaitingOutcome() bool {
	return s.PaymentPending() && !s.Payment.PollExhausted
}

// Resolution is a terminal observation for a payment.
type Resolution struct {
	Reference     string
	Status        PaymentStatus
	TransactionID *string
	At            time.Time
}

// Resolve applies r when the payment for r.Reference is still pending.
// It reports whether the state changed. A confirmed payment also completes
// the application and drops the collected fields; the payment is kept.
func (s *ApplicationState) Resolve(r Resolution) bool {
	if s.Payment == nil || s.Payment.Reference != r.Reference {
		return false
	}
	if s.Payment.Status.Terminal() || !r.Status.Terminal() {
		return false
	}
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	s.Payment.Status = r.Status
	s.Payment.ResolvedAt = &at
	if r.TransactionID != nil {
		tx := *r.TransactionID
		s.Payment.TransactionID = &tx
	}
	if r.Status == PaymentConfirmed {
		s.Step = StepCompleted
		s.Fields = Fields{}
	}
	return true
}

// FormatAmount renders a shilling amount without trailing zeros.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
