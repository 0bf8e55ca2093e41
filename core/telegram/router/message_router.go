package router

import (
	"time"

	tg "github.com/kopakash/loanbot/core/telegram"
	"github.com/kopakash/loanbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Dialog is a multi-step conversation that owns free text while active.
type Dialog interface {
	// InProgress reports whether the sender of c is mid-dialog.
	InProgress(c tele.Context) bool
	ManagerHandler(c tele.Context) error
}

// TextOptions controls fallback behaviour for text/document updates.
type TextOptions struct {
	UnknownText     tele.HandlerFunc
	UnknownDocument tele.HandlerFunc
}

// TextRoutes builds the OnText and OnDocument routes. Text goes to an active
// dialog first, then to a command typed without its slash, then to the
// registry fallback and finally to UnknownText. Documents are never part of
// a dialog.
func TextRoutes(dialog Dialog, reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()

		if dialog != nil && dialog.InProgress(c) {
			return handleWithSummary(c, "dialog", start, "", "", func() error {
				return dialog.ManagerHandler(c)
			})
		}

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return handleWithSummary(c, normalizeHandlerName(key), start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", start, "", "", func() error {
					return fb(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, "", "", func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	docHandler := func(c tele.Context) error {
		start := time.Now()
		if opts.UnknownDocument == nil {
			logHandlerSummary(c, "unexpected_document", start, "skip", "ok", nil)
			return nil
		}
		return handleWithSummary(c, "unexpected_document", start, "", "", func() error {
			return opts.UnknownDocument(c)
		})
	}

	return []tg.Route{
		{
			Endpoint: tele.OnText,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
		},
		{
			Endpoint: tele.OnDocument,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(docHandler)),
		},
	}
}
