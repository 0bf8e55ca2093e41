package bot

import (
	"github.com/kopakash/loanbot/core/telegram/keyboard"
	"github.com/kopakash/loanbot/internal/application"

	tele "gopkg.in/telebot.v4"
)

// Callback keys. They double as the button's unique so the callback router
// can resolve them without a payload.
const (
	cbRequestLoan       = "request_loan"
	cbConfirmLoan       = "confirm_loan"
	cbRestartLoan       = "restart_loan"
	cbPayStkPush        = "pay_stk_push"
	cbCheckRequirements = "check_requirements"
	cbLoanTerms         = "loan_terms"
	cbStart             = "start"
	cbHelp              = "help"
)

var btnApply = keyboard.InlineBtn{Text: "📌 Apply for a Loan", Unique: cbRequestLoan}

func mainMenuKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtons([]keyboard.InlineBtn{
		btnApply,
		{Text: "ℹ️ Check Loan Requirements", Unique: cbCheckRequirements},
		{Text: "💰 Loan Repayment & Terms", Unique: cbLoanTerms},
	})
}

func applyKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtons([]keyboard.InlineBtn{btnApply})
}

func applyNowKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtons([]keyboard.InlineBtn{{Text: "📌 Apply Now", Unique: cbRequestLoan}})
}

func confirmKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtons([]keyboard.InlineBtn{
		{Text: "✅ Yes, Confirm", Unique: cbConfirmLoan},
		{Text: "❌ No, Restart", Unique: cbRestartLoan},
	})
}

func paymentKeyboard(phone string) *tele.ReplyMarkup {
	return keyboard.InlineButtons([]keyboard.InlineBtn{
		{Text: "📲 Pay with " + phone, Unique: cbPayStkPush},
		{Text: "❌ Cancel and restart", Unique: cbRestartLoan},
	})
}

func retryKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "🔁 Retry payment", Unique: cbPayStkPush},
		{Text: "❌ Restart", Unique: cbRestartLoan},
	})
}

// markupFor maps the machine's keyboard hint to inline buttons. phone is
// the number on file, used by the payment keyboard.
func markupFor(k application.Keyboard, phone string) *tele.ReplyMarkup {
	switch k {
	case application.KeyboardMainMenu:
		return mainMenuKeyboard()
	case application.KeyboardApply:
		return applyKeyboard()
	case application.KeyboardConfirm:
		return confirmKeyboard()
	case application.KeyboardPayment:
		if phone == "" {
			return nil
		}
		return paymentKeyboard(phone)
	}
	return nil
}
