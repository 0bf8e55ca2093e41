// Package bot binds the loan dialog and the payment flow to Telegram updates.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kopakash/loanbot/core/logger"
	tg "github.com/kopakash/loanbot/core/telegram"
	"github.com/kopakash/loanbot/core/telegram/commands"
	tghelpers "github.com/kopakash/loanbot/core/telegram/helpers"
	"github.com/kopakash/loanbot/core/telegram/middleware"
	"github.com/kopakash/loanbot/core/telegram/router"
	"github.com/kopakash/loanbot/core/telegram/ui"
	"github.com/kopakash/loanbot/internal/application"
	"github.com/kopakash/loanbot/internal/loan"
	"github.com/kopakash/loanbot/internal/payment"
	"github.com/kopakash/loanbot/internal/store"

	tele "gopkg.in/telebot.v4"
)

const component = "loan.bot"

// Initiator starts a processing-fee charge.
type Initiator interface {
	Initiate(ctx context.Context, req payment.InitiateRequest) (loan.Payment, error)
}

// Tracker begins confirmation polling for a pending reference.
type Tracker interface {
	Track(userID int64, reference string)
}

// StatsSource reports reconciliation counters for /stats.
type StatsSource interface {
	Stats() payment.Stats
}

// Deps are the collaborators of Handlers.
type Deps struct {
	Machine   *application.Machine
	Store     store.Store
	Initiator Initiator
	Tracker   Tracker
	Stats     StatsSource
	// Fee is the processing fee charged once the details are confirmed.
	Fee float64
}

// Handlers implements the command, callback and text handlers of the bot.
// It also satisfies router.Dialog, middleware.StateGetter and ui.FallbackProvider.
type Handlers struct {
	machine   *application.Machine
	store     store.Store
	initiator Initiator
	tracker   Tracker
	stats     StatsSource
	fee       float64
}

var (
	_ router.Dialog          = (*Handlers)(nil)
	_ middleware.StateGetter = (*Handlers)(nil)
	_ ui.FallbackProvider    = (*Handlers)(nil)
)

// NewHandlers validates deps.
func NewHandlers(d Deps) (*Handlers, error) {
	switch {
	case d.Machine == nil:
		return nil, fmt.Errorf("bot: machine is required")
	case d.Store == nil:
		return nil, fmt.Errorf("bot: store is required")
	case d.Initiator == nil || d.Tracker == nil:
		return nil, fmt.Errorf("bot: payment initiator and tracker are required")
	case d.Fee <= 0:
		return nil, fmt.Errorf("bot: fee must be > 0")
	}
	return &Handlers{
		machine:   d.Machine,
		store:     d.Store,
		initiator: d.Initiator,
		tracker:   d.Tracker,
		stats:     d.Stats,
		fee:       d.Fee,
	}, nil
}

// Register adds the bot's commands and callbacks to reg.
func (h *Handlers) Register(reg *tg.Registry) error {
	reg.RegisterCommand("/start", commands.Command{Handler: h.start, Description: "Open the main menu", Aliases: []string{"menu"}})
	reg.RegisterCommand("/help", commands.Command{Handler: h.help, Description: "Show what the bot can do"})
	reg.RegisterCommand("/apply", commands.Command{Handler: h.begin, Description: "Start a loan application", Aliases: []string{"loan"}})
	reg.RegisterCommand("/restart", commands.Command{Handler: h.restart, Description: "Discard the current application"})
	if h.stats != nil {
		reg.RegisterCommand("/stats", commands.Command{Handler: h.showStats, Description: "Payment counters", AdminOnly: true, Hidden: true})
	}

	atConfirm := middleware.State(h, h.prompt, string(loan.StepConfirmingDetails))
	atPayment := middleware.State(h, h.prompt, string(loan.StepAwaitingPhoneForPayment))

	callbacks := map[string]tele.HandlerFunc{
		cbRequestLoan:       h.begin,
		cbConfirmLoan:       atConfirm(h.confirm),
		cbRestartLoan:       h.restart,
		cbPayStkPush:        atPayment(h.payWithPhoneOnFile),
		cbCheckRequirements: h.requirements,
		cbLoanTerms:         h.terms,
		cbStart:             h.start,
		cbHelp:              h.help,
	}
	for key, handler := range callbacks {
		if err := reg.RegisterCallback(key, handler); err != nil {
			return fmt.Errorf("bot: %w", err)
		}
	}
	reg.SetCallbackNotFound(h.UnknownCallback())
	return nil
}

// Routes builds the command, text and callback routes for reg.
func (h *Handlers) Routes(reg *tg.Registry, adminID int64) []tg.Route {
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID:       adminID,
		OnAdminReject: h.adminRejected,
	})
	routes = append(routes, router.TextRoutes(h, reg, router.TextOptions{
		UnknownText:     h.UnknownText(),
		UnknownDocument: h.UnknownDocument(),
	})...)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{
		NotFound: h.UnknownCallback(),
	}))
	return routes
}

// InProgress reports whether free text from the sender belongs to the dialog.
// A failing store counts as in progress so ManagerHandler surfaces the error.
func (h *Handlers) InProgress(c tele.Context) bool {
	st, err := h.store.Get(tghelpers.BuildContext(c), tghelpers.SenderID(c))
	if err != nil {
		return true
	}
	return st.Step != loan.StepIdle && st.Step != loan.StepCompleted
}

// ManagerHandler feeds the message text to the dialog.
func (h *Handlers) ManagerHandler(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	res, err := h.machine.HandleInput(ctx, tghelpers.SenderID(c), c.Text())
	if err != nil {
		return err
	}
	return h.respond(c, res)
}

// CurrentStep implements middleware.StateGetter.
func (h *Handlers) CurrentStep(c tele.Context) (string, error) {
	st, err := h.store.Get(tghelpers.BuildContext(c), tghelpers.SenderID(c))
	if err != nil {
		return "", err
	}
	return string(st.Step), nil
}

// UnknownText answers with the dialog's neutral prompt.
func (h *Handlers) UnknownText() tele.HandlerFunc { return h.ManagerHandler }

// UnknownDocument refuses uploads.
func (h *Handlers) UnknownDocument() tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.SendText(c, textUnknownDocument, &tele.SendOptions{ReplyMarkup: applyKeyboard()})
	}
}

// UnknownCallback shows the main menu. The callback itself was already
// answered by the router.
func (h *Handlers) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		logger.Debug(tghelpers.BuildContext(c), component, "callback.unknown",
			slog.String("status", "skip"),
			slog.Int64("user_id", tghelpers.SenderID(c)),
		)
		return tghelpers.SendText(c, textHelp, &tele.SendOptions{ReplyMarkup: mainMenuKeyboard()})
	}
}

// RateLimited is the rate limiter's reply.
func (h *Handlers) RateLimited() tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.SendText(c, textRateLimited)
	}
}

func (h *Handlers) adminRejected(c tele.Context) error {
	return tghelpers.SendText(c, textAdminOnly)
}

func (h *Handlers) start(c tele.Context) error {
	return tghelpers.SendText(c, textWelcome, &tele.SendOptions{ReplyMarkup: mainMenuKeyboard()})
}

func (h *Handlers) help(c tele.Context) error {
	return tghelpers.SendText(c, textHelp, &tele.SendOptions{ReplyMarkup: mainMenuKeyboard()})
}

func (h *Handlers) requirements(c tele.Context) error {
	return tghelpers.SendMD(c, textRequirements, applyNowKeyboard())
}

func (h *Handlers) terms(c tele.Context) error {
	return tghelpers.SendMD(c, termsText(h.fee), applyNowKeyboard())
}

func (h *Handlers) begin(c tele.Context) error {
	res, err := h.machine.Begin(tghelpers.BuildContext(c), tghelpers.SenderID(c))
	if err != nil {
		return err
	}
	return h.respond(c, res)
}

func (h *Handlers) confirm(c tele.Context) error {
	res, err := h.machine.Confirm(tghelpers.BuildContext(c), tghelpers.SenderID(c))
	if err != nil {
		return err
	}
	return h.respond(c, res)
}

func (h *Handlers) restart(c tele.Context) error {
	res, err := h.machine.Restart(tghelpers.BuildContext(c), tghelpers.SenderID(c))
	if err != nil {
		return err
	}
	return h.respond(c, res)
}

func (h *Handlers) payWithPhoneOnFile(c tele.Context) error {
	res, err := h.machine.PayWithPhoneOnFile(tghelpers.BuildContext(c), tghelpers.SenderID(c))
	if err != nil {
		return err
	}
	return h.respond(c, res)
}

// prompt repeats the question for the user's current step.
func (h *Handlers) prompt(c tele.Context) error {
	res, err := h.machine.Prompt(tghelpers.BuildContext(c), tghelpers.SenderID(c))
	if err != nil {
		return err
	}
	return h.respond(c, res)
}

func (h *Handlers) showStats(c tele.Context) error {
	s := h.stats.Stats()
	text := fmt.Sprintf("📊 Payments\nInitiated: %d\nConfirmed: %d\nFailed: %d\nStill pending: %d\nIgnored observations: %d\nActive polls: %d",
		s.Initiated, s.Confirmed, s.Failed, s.StillPending, s.Ignored, s.ActivePolls)
	return tghelpers.SendText(c, text)
}

func (h *Handlers) respond(c tele.Context, res application.Result) error {
	if err := h.reply(c, res.Reply, res.State); err != nil {
		return err
	}
	if res.Action.Kind == application.ActionInitiatePayment {
		return h.initiate(c, res.State, res.Action.Phone)
	}
	return nil
}

func (h *Handlers) reply(c tele.Context, r application.Reply, st loan.ApplicationState) error {
	if r.Text == "" {
		return nil
	}
	markup := markupFor(r.Keyboard, st.Fields.PhoneNumber)
	if r.Markdown {
		return tghelpers.SendMD(c, r.Text, markup)
	}
	if markup != nil {
		return tghelpers.SendText(c, r.Text, &tele.SendOptions{ReplyMarkup: markup})
	}
	return tghelpers.SendText(c, r.Text)
}

// initiate charges the fee to phone and starts polling for the outcome.
func (h *Handlers) initiate(c tele.Context, st loan.ApplicationState, phone string) error {
	ctx := tghelpers.BuildContext(c)
	userID := tghelpers.SenderID(c)
	pay, err := h.initiator.Initiate(ctx, payment.InitiateRequest{
		UserID:       userID,
		ChatID:       tghelpers.ChatID(c),
		Phone:        phone,
		Amount:       h.fee,
		CustomerName: st.Fields.FullName,
	})

	var ierr *payment.InitiationError
	switch {
	case err == nil:
		h.tracker.Track(userID, pay.Reference)
		return tghelpers.SendText(c, stkSentText(h.fee))
	case errors.Is(err, payment.ErrPaymentInProgress):
		return tghelpers.SendText(c, application.TextInProgress)
	case errors.Is(err, payment.ErrNoPhoneNumber):
		return tghelpers.SendText(c, application.TextNeedPhone)
	case errors.Is(err, payment.ErrNotAwaitingPayment):
		return h.prompt(c)
	case errors.As(err, &ierr):
		text := textInitFailed
		if ierr.Kind == payment.FailureInsufficientBalance {
			text = textNoBalance
		}
		return tghelpers.SendText(c, text, &tele.SendOptions{ReplyMarkup: retryKeyboard()})
	}
	return err
}
