package application

import (
	"fmt"
	"strings"

	"github.com/kopakash/loanbot/core/telegram/format"
	"github.com/kopakash/loanbot/internal/loan"
)

const (
	TextAskFullName  = "📋 Please enter your Full Name (as per your National ID)."
	TextBadFullName  = "⚠️ Please provide your full name (e.g., John Doe)."
	TextFullNameOK   = "✅ Full Name recorded. Now, please enter your National ID Number."
	TextBadIDNumber  = "⚠️ Please enter a valid Kenyan National ID Number (7-9 digits)."
	TextIDNumberOK   = "✅ ID Number recorded. Now, enter your Phone Number (registered with M-Pesa)."
	TextBadPhone     = "⚠️ Please enter a valid Kenyan phone number (e.g., 0712345678 or +254712345678)."
	TextPhoneOK      = "✅ Phone Number recorded. How much would you like to borrow? (Enter an amount in KSH, e.g., 5000)"
	TextAmountOK     = "✅ Loan Amount recorded. What is the reason for this loan? (e.g., Business, Emergency, School Fees)"
	TextNeutral      = "⚠️ Please start a loan application using the \"Apply for a Loan\" button."
	TextRestarted    = "🔄 Loan application restarted. Use the button to apply again."
	TextDuplicate    = "⚠️ You have already submitted a loan application. We will contact you once it has been reviewed."
	TextInProgress   = "⏳ Your payment is being processed. Please complete the M-Pesa prompt on your phone and wait for confirmation."
	TextNeedPhone    = "⚠️ We need your phone number to process the payment. Please enter your M-Pesa registered phone number (e.g., 0712345678)."
	TextBadPayPhone  = "⚠️ Please enter a valid Kenyan phone number (e.g., 0712345678, 0112345678, or +254712345678)."
	TextPayPhoneOK   = "✅ Phone number recorded. Initiating payment..."
	TextConfirmFirst = "Please confirm or restart your application using the buttons above."
)

func badAmountText(p Policy) string {
	return fmt.Sprintf("⚠️ Please enter a valid loan amount between KSH %s and KSH %s.",
		loan.FormatAmount(p.MinAmount), loan.FormatAmount(p.MaxAmount))
}

func badReasonText(p Policy) string {
	return fmt.Sprintf("⚠️ Please provide a valid reason for the loan (at least %d characters).", p.MinReasonLength)
}

// SummaryText renders the confirmation summary in legacy Markdown.
func SummaryText(f loan.Fields) string {
	var b strings.Builder
	b.WriteString("📌 *Please confirm your loan application details:*\n\n")
	fmt.Fprintf(&b, "🔹 *Full Name:* %s\n", format.MD(f.FullName))
	fmt.Fprintf(&b, "🔹 *National ID:* %s\n", format.MD(f.IDNumber))
	fmt.Fprintf(&b, "🔹 *Phone Number:* %s\n", format.MD(f.PhoneNumber))
	fmt.Fprintf(&b, "🔹 *Loan Amount:* KSH %s\n", loan.FormatAmount(f.LoanAmount))
	fmt.Fprintf(&b, "🔹 *Reason:* %s\n\n", format.MD(f.Reason))
	b.WriteString("Do you confirm this application?")
	return b.String()
}

func payPromptText(fee float64, phone string) string {
	if phone == "" {
		return fmt.Sprintf("💳 A processing fee of KSH %s is required to submit your application.\n%s",
			loan.FormatAmount(fee), TextNeedPhone)
	}
	return fmt.Sprintf("💳 A processing fee of KSH %s is required to submit your application.\n"+
		"Tap the button to pay with %s, or reply with another M-Pesa registered number.",
		loan.FormatAmount(fee), phone)
}
