package middleware

import (
	"github.com/kopakash/loanbot/core/logger"
	tghelpers "github.com/kopakash/loanbot/core/telegram/helpers"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// StateGetter is the minimal interface required from a conversation store.
type StateGetter interface {
	CurrentStep(c tele.Context) (string, error)
}

// State returns a middleware that lets the update through only when the user
// is in one of the expected steps. Otherwise onSkip runs (when set).
func State(mgr StateGetter, onSkip tele.HandlerFunc, expected ...string) tele.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(expected))
	for _, st := range expected {
		allowed[st] = struct{}{}
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			ctx := tghelpers.BuildContext(c)
			current, err := mgr.CurrentStep(c)
			if err != nil {
				return err
			}
			if _, ok := allowed[current]; ok {
				logger.Debug(ctx, "tg", "fsm.match",
					slog.String("status", "ok"),
					slog.String("step", current),
				)
				return next(c)
			}
			logger.Debug(ctx, "tg", "fsm.skip",
				slog.String("status", "skip"),
				slog.String("step", current),
			)
			if onSkip != nil {
				return onSkip(c)
			}
			return nil
		}
	}
}
