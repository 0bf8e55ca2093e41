package payhero

import (
	"strings"

	"github.com/kopakash/loanbot/internal/loan"
)

// MapStatus folds PayHero's status vocabulary into the payment enum.
// Anything unrecognized is treated as still pending.
func MapStatus(raw string) loan.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "successful", "completed", "complete", "paid":
		return loan.PaymentConfirmed
	case "failed", "failure", "cancelled", "canceled", "timeout", "rejected", "reversed":
		return loan.PaymentFailed
	}
	return loan.PaymentPending
}

// mapResultCode interprets an M-Pesa result code: 0 is success, anything else failure.
func mapResultCode(code int) loan.PaymentStatus {
	if code == 0 {
		return loan.PaymentConfirmed
	}
	return loan.PaymentFailed
}
