package bot

import (
	"fmt"

	"github.com/kopakash/loanbot/core/telegram/format"
	"github.com/kopakash/loanbot/internal/loan"
)

const (
	textWelcome = "Welcome to KOPAKASH LOANS! How can we assist you today?"
	textHelp    = "Use the buttons below to get started or learn more:"

	textRequirements = "📋 *Loan Requirements – Kopakash*\n\n" +
		"✅ Be a Kenyan Citizen with a valid National ID\n" +
		"✅ Be 18 years or older\n" +
		"✅ Have an active M-Pesa account\n" +
		"✅ Have a registered phone number\n" +
		"✅ Have a stable income source"

	textUnknownCallback = "Unsupported action"
	textUnknownDocument = "⚠️ Documents are not accepted here. Use the buttons to continue."
	textAdminOnly       = "⛔ This command is for administrators only."
	textRateLimited     = "⏳ Too many requests. Please slow down."
	textInitFailed      = "⚠️ Failed to initiate STK Push. Try again or contact support."
	textNoBalance       = "⚠️ The M-Pesa prompt could not be sent: insufficient balance. Top up and tap retry."
	textStillPending    = "⏳ We have not received a final answer for your payment yet. " +
		"If you completed the M-Pesa prompt, you will be notified as soon as it is confirmed. " +
		"Otherwise you can send the prompt again or start over."
	textPDFFailed = "⚠️ Error generating confirmation PDF. Your application was submitted, " +
		"but please contact support if you need the document."
)

func termsText(fee float64) string {
	return "📌 *Loan Repayment & Terms – Kopakash*\n\n" +
		"🔹 *Loan Duration & Repayment*\n" +
		"- All loans must be repaid within *30 days*.\n" +
		"- Early repayments are allowed without penalties.\n\n" +
		"🔹 *Interest Rates & Fees*\n" +
		"- The loan attracts an interest rate of *10% per month*, in compliance with the Central Bank of Kenya (CBK) regulations.\n" +
		"- A processing fee of *KSH " + loan.FormatAmount(fee) + "* applies and must be paid before loan disbursement.\n\n" +
		"🔹 *Taxes & Government Deductions*\n" +
		"- In accordance with Kenyan tax laws, all applicable taxes (such as excise duty on loan fees) will be deducted.\n" +
		"- Loans are subject to excise duty at *20% on processing fees*, as per the Kenya Revenue Authority (KRA) regulations.\n\n" +
		"🔹 *Penalties & Late Fees*\n" +
		"- Late payments will incur a penalty of *5% per week* after the due date.\n" +
		"- Failure to repay may result in negative credit listing (CRB reporting) and legal action.\n\n" +
		"🔹 *Repayment Method*\n" +
		"- All repayments should be made via *M-Pesa Paybill*, using your *ID Number* as the account reference.\n\n" +
		"⚠ *Important Notice:*\n" +
		"Failure to repay on time may affect your ability to access future loans and could result in legal recovery actions."
}

func stkSentText(fee float64) string {
	return fmt.Sprintf("✅ STK Push initiated! Check your phone and enter your M-Pesa PIN to pay KSH %s.", loan.FormatAmount(fee))
}

func txOrNA(tx *string) string {
	if tx == nil || *tx == "" {
		return "N/A"
	}
	return *tx
}

func confirmedText(amount float64, tx *string) string {
	return fmt.Sprintf("🎉 Payment of KSH %s confirmed! Transaction ID: %s. Your loan application is now being processed.",
		loan.FormatAmount(amount), txOrNA(tx))
}

func failedText(tx *string) string {
	return fmt.Sprintf("⚠️ Payment failed. Please try again or contact support. Transaction ID: %s", txOrNA(tx))
}

func documentCaption(f loan.Fields) string {
	return fmt.Sprintf("🎉 Your loan request for *KSH %s* (%s) has been submitted. See attached PDF for details.",
		loan.FormatAmount(f.LoanAmount), format.MD(f.Reason))
}
